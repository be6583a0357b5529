package zonedb

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/zone"
)

// ErrNoSnapshot is returned by LoadSnapshot when a zone has never been
// snapshotted.
var ErrNoSnapshot = errors.New("zonedb: no snapshot for zone")

// Snapshot is the persisted membership of one zone at a point in time.
type Snapshot struct {
	ZoneID  string         `json:"zone_id"`
	Members zone.MemberSet `json:"members"`
	TakenAt time.Time      `json:"taken_at"`
}

// SaveSnapshot stores the current membership of a zone, replacing any
// previous snapshot for the same zone.
func (db *DB) SaveSnapshot(zoneID string, members zone.MemberSet, takenAt time.Time) error {
	encoded, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot members: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO zone_snapshots (zone_id, members, taken_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT (zone_id) DO UPDATE SET
			members = excluded.members,
			taken_at_ms = excluded.taken_at_ms
	`, zoneID, string(encoded), takenAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot returns the stored membership of a zone, or
// ErrNoSnapshot when none exists.
func (db *DB) LoadSnapshot(zoneID string) (*Snapshot, error) {
	var (
		encoded   string
		takenAtMs int64
	)

	err := db.QueryRow(`
		SELECT members, taken_at_ms
		FROM zone_snapshots
		WHERE zone_id = ?
	`, zoneID).Scan(&encoded, &takenAtMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var members zone.MemberSet
	if err := json.Unmarshal([]byte(encoded), &members); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot members: %w", err)
	}

	return &Snapshot{
		ZoneID:  zoneID,
		Members: members,
		TakenAt: time.UnixMilli(takenAtMs).UTC(),
	}, nil
}
