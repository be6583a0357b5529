package zonedb

import (
	"time"

	"github.com/banshee-data/occupancy.report/internal/zone"
)

// Recorder journals zone transitions into the zone_events table. It
// satisfies zone.TransitionLog so a registry can be wired directly to
// the database.
type Recorder struct {
	db *DB
}

var _ zone.TransitionLog = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to db.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// Record implements zone.TransitionLog.
func (r *Recorder) Record(zoneID string, dir zone.Direction, member zone.MemberID, at time.Time) error {
	ev := TransitionEvent{
		ZoneID:     zoneID,
		Direction:  dir,
		MemberID:   member,
		OccurredAt: at,
	}
	return r.db.RecordTransition(&ev)
}
