package zone

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultDwellHistoryLimit caps the dwell samples retained per zone for
// percentile reporting.
const DefaultDwellHistoryLimit = 1000

// zoneEntry holds all per-zone reconciliation state. The membership set
// is replaced wholesale under mu, so readers observe the set wholly
// before or wholly after a pass, never mid-update. passMu serializes
// passes: at most one reconcile runs per zone at a time.
type zoneEntry struct {
	zone    Zone
	watcher *watcher
	display DisplaySink

	pending atomic.Bool

	passMu sync.Mutex

	mu           sync.RWMutex
	closed       bool
	members      MemberSet
	lastChecked  time.Time
	cancels      []func()
	enteredAt    map[MemberID]time.Time
	dwell        []float64
	dwellCap     int
	peakCount    int
	totalEntered int64
	totalLeft    int64
}

// Summary reports a zone's occupancy statistics. Dwell percentiles are in
// seconds over the retained samples; with no completed visits they are
// zero.
type Summary struct {
	ZoneID       string  `json:"zone_id"`
	Name         string  `json:"name"`
	Count        int     `json:"count"`
	PeakCount    int     `json:"peak_count"`
	TotalEntered int64   `json:"total_entered"`
	TotalLeft    int64   `json:"total_left"`
	DwellP50     float64 `json:"dwell_p50_seconds"`
	DwellP85     float64 `json:"dwell_p85_seconds"`
	DwellP95     float64 `json:"dwell_p95_seconds"`
}

// reconcile runs one pass for the entry: query the oracle for every
// region, union the results, diff against the previous set, and on any
// change replace the set and report the transitions. The pending hint is
// consumed at the start of the pass and re-armed if the oracle fails, so
// a failed pass retries on the next tick with state untouched.
func (r *Registry) reconcile(ctx context.Context, e *zoneEntry) (Delta, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.pending.Store(false)

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return Delta{}, ErrZoneNotRegistered
	}
	prev := e.members.Clone()
	e.mu.RUnlock()

	next := make(MemberSet)
	for _, region := range e.zone.Regions {
		ids, err := r.oracle.Overlapping(ctx, region)
		if err != nil {
			e.pending.Store(true)
			return Delta{}, fmt.Errorf("overlap query zone %s region %s: %w", e.zone.ID, region, err)
		}
		for _, id := range ids {
			next.Add(id)
		}
	}

	now := r.clock.Now()
	delta := Diff(prev, next)

	e.mu.Lock()
	if e.closed {
		// Disposed while the pass was in flight: discard the result.
		e.mu.Unlock()
		return Delta{}, ErrZoneNotRegistered
	}
	e.lastChecked = now
	if delta.Empty() {
		e.mu.Unlock()
		return Delta{}, nil
	}
	e.members = next
	for _, id := range delta.Added {
		e.enteredAt[id] = now
		e.totalEntered++
	}
	for _, id := range delta.Removed {
		if enteredAt, ok := e.enteredAt[id]; ok {
			e.pushDwell(now.Sub(enteredAt).Seconds())
			delete(e.enteredAt, id)
		}
		e.totalLeft++
	}
	if n := len(e.members); n > e.peakCount {
		e.peakCount = n
	}
	e.mu.Unlock()

	for _, id := range delta.Added {
		r.bus.Emit(e.zone.ID, Entered, id)
	}
	for _, id := range delta.Removed {
		r.bus.Emit(e.zone.ID, Left, id)
	}

	r.journalDelta(e.zone.ID, delta, now)
	e.refreshDisplay()

	return delta, nil
}

// pushDwell appends a dwell sample, keeping the newest dwellCap entries.
// Caller holds e.mu.
func (e *zoneEntry) pushDwell(seconds float64) {
	e.dwell = append(e.dwell, seconds)
	if len(e.dwell) > e.dwellCap {
		e.dwell = e.dwell[len(e.dwell)-e.dwellCap:]
	}
}

// refreshDisplay renders the newline-joined sorted member list into the
// zone's display sink. Render failures are logged and swallowed.
func (e *zoneEntry) refreshDisplay() {
	if e.display == nil {
		return
	}

	e.mu.RLock()
	members := e.members.Members()
	e.mu.RUnlock()

	lines := make([]string, len(members))
	for i, id := range members {
		lines[i] = string(id)
	}
	if err := e.display.SetText(strings.Join(lines, "\n")); err != nil {
		Logf("zone %s: display refresh: %v", e.zone.ID, err)
	}
}

// journalDelta records each transition of the pass to the configured
// transition log. Journal failures are logged and never fail the pass.
func (r *Registry) journalDelta(zoneID string, d Delta, at time.Time) {
	if r.journal == nil {
		return
	}
	for _, id := range d.Added {
		if err := r.journal.Record(zoneID, Entered, id, at); err != nil {
			Logf("zone %s: journal entered %s: %v", zoneID, id, err)
		}
	}
	for _, id := range d.Removed {
		if err := r.journal.Record(zoneID, Left, id, at); err != nil {
			Logf("zone %s: journal left %s: %v", zoneID, id, err)
		}
	}
}

// Summary returns the zone's occupancy statistics.
func (r *Registry) Summary(zoneID string) (Summary, error) {
	e, err := r.entry(zoneID)
	if err != nil {
		return Summary{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Summary{
		ZoneID:       e.zone.ID,
		Name:         e.zone.Name,
		Count:        len(e.members),
		PeakCount:    e.peakCount,
		TotalEntered: e.totalEntered,
		TotalLeft:    e.totalLeft,
	}
	if len(e.dwell) > 0 {
		samples := append([]float64(nil), e.dwell...)
		sort.Float64s(samples)
		s.DwellP50 = stat.Quantile(0.50, stat.Empirical, samples, nil)
		s.DwellP85 = stat.Quantile(0.85, stat.Empirical, samples, nil)
		s.DwellP95 = stat.Quantile(0.95, stat.Empirical, samples, nil)
	}
	return s, nil
}
