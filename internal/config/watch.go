// Package config loads the optional zone watcher configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/occupancy.report/internal/zone"
)

// WatchConfig holds the tunable parameters of the zone watcher. All
// fields are pointers so a partial JSON file only overrides what it
// names; the Get* methods fall back to defaults for unset fields.
type WatchConfig struct {
	// Reconciliation cadence
	MinCheckInterval *string `json:"min_check_interval,omitempty"` // duration string like "200ms"
	MaxCheckInterval *string `json:"max_check_interval,omitempty"` // duration string like "1s"

	// Trigger filtering
	MemberMarker *string `json:"member_marker,omitempty"`

	// Dwell statistics
	HistoryLimit *int `json:"history_limit,omitempty"`

	// Persistence
	SnapshotInterval *string `json:"snapshot_interval,omitempty"` // duration string like "30s"

	// Logging
	LogEvents *bool `json:"log_events,omitempty"`
}

// Helper functions to create pointers
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyWatchConfig returns a WatchConfig with all fields unset.
func EmptyWatchConfig() *WatchConfig {
	return &WatchConfig{}
}

// LoadWatchConfig loads a WatchConfig from a JSON file. The file must
// have a .json extension and be under the max file size. Fields
// omitted from the JSON keep their defaults, so partial configs are
// safe.
func LoadWatchConfig(path string) (*WatchConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyWatchConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *WatchConfig) Validate() error {
	if c.MinCheckInterval != nil && *c.MinCheckInterval != "" {
		if _, err := time.ParseDuration(*c.MinCheckInterval); err != nil {
			return fmt.Errorf("invalid min_check_interval '%s': %w", *c.MinCheckInterval, err)
		}
	}

	if c.MaxCheckInterval != nil && *c.MaxCheckInterval != "" {
		if _, err := time.ParseDuration(*c.MaxCheckInterval); err != nil {
			return fmt.Errorf("invalid max_check_interval '%s': %w", *c.MaxCheckInterval, err)
		}
	}

	if min, max := c.GetMinCheckInterval(), c.GetMaxCheckInterval(); min > max {
		return fmt.Errorf("min_check_interval %v exceeds max_check_interval %v", min, max)
	}

	if c.MemberMarker != nil && *c.MemberMarker == "" {
		return fmt.Errorf("member_marker must not be empty")
	}

	if c.HistoryLimit != nil && *c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be positive, got %d", *c.HistoryLimit)
	}

	if c.SnapshotInterval != nil && *c.SnapshotInterval != "" {
		if _, err := time.ParseDuration(*c.SnapshotInterval); err != nil {
			return fmt.Errorf("invalid snapshot_interval '%s': %w", *c.SnapshotInterval, err)
		}
	}

	return nil
}

// GetMinCheckInterval parses and returns the MinCheckInterval as a
// time.Duration.
func (c *WatchConfig) GetMinCheckInterval() time.Duration {
	if c.MinCheckInterval == nil || *c.MinCheckInterval == "" {
		return zone.DefaultMinCheckInterval
	}
	d, err := time.ParseDuration(*c.MinCheckInterval)
	if err != nil {
		return zone.DefaultMinCheckInterval
	}
	return d
}

// GetMaxCheckInterval parses and returns the MaxCheckInterval as a
// time.Duration.
func (c *WatchConfig) GetMaxCheckInterval() time.Duration {
	if c.MaxCheckInterval == nil || *c.MaxCheckInterval == "" {
		return zone.DefaultMaxCheckInterval
	}
	d, err := time.ParseDuration(*c.MaxCheckInterval)
	if err != nil {
		return zone.DefaultMaxCheckInterval
	}
	return d
}

// GetMemberMarker returns the member_marker value or the default.
func (c *WatchConfig) GetMemberMarker() string {
	if c.MemberMarker == nil || *c.MemberMarker == "" {
		return zone.DefaultMemberMarker
	}
	return *c.MemberMarker
}

// GetHistoryLimit returns the history_limit value or the default.
func (c *WatchConfig) GetHistoryLimit() int {
	if c.HistoryLimit == nil {
		return zone.DefaultDwellHistoryLimit
	}
	return *c.HistoryLimit
}

// GetSnapshotInterval parses and returns the SnapshotInterval as a
// time.Duration.
func (c *WatchConfig) GetSnapshotInterval() time.Duration {
	if c.SnapshotInterval == nil || *c.SnapshotInterval == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SnapshotInterval)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetLogEvents returns the log_events value or the default.
func (c *WatchConfig) GetLogEvents() bool {
	if c.LogEvents == nil {
		return false // default: event logging disabled
	}
	return *c.LogEvents
}

// Debounce builds the zone.Debounce settings from the configured
// check intervals.
func (c *WatchConfig) Debounce() zone.Debounce {
	return zone.Debounce{
		MinInterval: c.GetMinCheckInterval(),
		MaxInterval: c.GetMaxCheckInterval(),
	}
}
