package zone

import (
	"fmt"
	"time"
)

// Check cadence bounds. MinCheckInterval is the poll period of a zone's
// watcher; MaxCheckInterval caps how stale membership may grow when no
// trigger hint arrives at all.
const (
	DefaultMinCheckInterval = 200 * time.Millisecond
	DefaultMaxCheckInterval = time.Second
)

// Debounce gates reconciliation passes. A pass runs when a trigger hint
// is pending or when MaxInterval has elapsed since the last completed
// pass. The watcher ticker runs at MinInterval, so consecutive passes for
// one zone are never closer together than that.
type Debounce struct {
	MinInterval time.Duration `json:"min_interval"`
	MaxInterval time.Duration `json:"max_interval"`
}

// Normalize validates the intervals and applies defaults for any unset
// values.
func (d Debounce) Normalize() (Debounce, error) {
	out := d

	if out.MinInterval == 0 {
		out.MinInterval = DefaultMinCheckInterval
	}
	if out.MaxInterval == 0 {
		out.MaxInterval = DefaultMaxCheckInterval
	}

	if out.MinInterval < 0 || out.MaxInterval < 0 {
		return out, fmt.Errorf("negative check interval: min=%v max=%v", out.MinInterval, out.MaxInterval)
	}
	if out.MinInterval > out.MaxInterval {
		return out, fmt.Errorf("min check interval %v exceeds max %v", out.MinInterval, out.MaxInterval)
	}

	return out, nil
}

// Due reports whether a pass should run now, given the pending hint flag
// and the completion time of the last pass.
func (d Debounce) Due(pending bool, now, lastChecked time.Time) bool {
	return pending || now.Sub(lastChecked) >= d.MaxInterval
}
