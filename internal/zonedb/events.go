package zonedb

import (
	"fmt"
	"time"

	"github.com/banshee-data/occupancy.report/internal/zone"
	"github.com/google/uuid"
)

// TransitionEvent is one enter or exit recorded for a zone member.
type TransitionEvent struct {
	ID         string         `json:"id"`
	ZoneID     string         `json:"zone_id"`
	Direction  zone.Direction `json:"direction"`
	MemberID   zone.MemberID  `json:"member_id"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// EventQuery narrows ListEvents. Zero-valued fields are ignored.
type EventQuery struct {
	ZoneID    string
	Direction zone.Direction
	Since     time.Time
	Limit     int
}

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// RecordTransition inserts one transition event. An ID is assigned
// when the event does not carry one.
func (db *DB) RecordTransition(ev *TransitionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	_, err := db.Exec(`
		INSERT INTO zone_events (id, zone_id, direction, member_id, occurred_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`,
		ev.ID,
		ev.ZoneID,
		string(ev.Direction),
		string(ev.MemberID),
		ev.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	return nil
}

// ListEvents returns transition events newest first, filtered by the
// query. The limit defaults to 100 and is capped at 1000.
func (db *DB) ListEvents(q EventQuery) ([]TransitionEvent, error) {
	query := `
		SELECT id, zone_id, direction, member_id, occurred_at_ms
		FROM zone_events
		WHERE 1=1
	`
	var args []interface{}

	if q.ZoneID != "" {
		query += " AND zone_id = ?"
		args = append(args, q.ZoneID)
	}
	if q.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(q.Direction))
	}
	if !q.Since.IsZero() {
		query += " AND occurred_at_ms >= ?"
		args = append(args, q.Since.UnixMilli())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	query += " ORDER BY occurred_at_ms DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []TransitionEvent
	for rows.Next() {
		var (
			ev           TransitionEvent
			direction    string
			memberID     string
			occurredAtMs int64
		)

		if err := rows.Scan(&ev.ID, &ev.ZoneID, &direction, &memberID, &occurredAtMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.Direction = zone.Direction(direction)
		ev.MemberID = zone.MemberID(memberID)
		ev.OccurredAt = time.UnixMilli(occurredAtMs).UTC()

		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventCounts returns the total number of enter and exit events
// recorded for a zone.
func (db *DB) EventCounts(zoneID string) (entered, left int64, err error) {
	err = db.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'entered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'left' THEN 1 ELSE 0 END), 0)
		FROM zone_events
		WHERE zone_id = ?
	`, zoneID).Scan(&entered, &left)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count events: %w", err)
	}

	return entered, left, nil
}

// OccupancyPoint is the occupancy of a zone at the end of one bucket.
type OccupancyPoint struct {
	Bucket    time.Time `json:"bucket"`
	Occupancy int       `json:"occupancy"`
}

// OccupancySeries replays the event journal into an occupancy count
// per bucket over [from, to). Events before the window seed the
// starting occupancy, and buckets without events carry the previous
// value forward.
func (db *DB) OccupancySeries(zoneID string, from, to time.Time, bucket time.Duration) ([]OccupancyPoint, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket must be positive, got %v", bucket)
	}
	if !to.After(from) {
		return nil, fmt.Errorf("window end %v is not after start %v", to, from)
	}

	var baseline int
	err := db.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN direction = 'entered' THEN 1 ELSE -1 END), 0)
		FROM zone_events
		WHERE zone_id = ? AND occurred_at_ms < ?
	`, zoneID, from.UnixMilli()).Scan(&baseline)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy baseline: %w", err)
	}

	rows, err := db.Query(`
		SELECT direction, occurred_at_ms
		FROM zone_events
		WHERE zone_id = ? AND occurred_at_ms >= ? AND occurred_at_ms < ?
		ORDER BY occurred_at_ms ASC
	`, zoneID, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy events: %w", err)
	}
	defer rows.Close()

	type change struct {
		at    int64
		delta int
	}
	var changes []change
	for rows.Next() {
		var (
			direction    string
			occurredAtMs int64
		)
		if err := rows.Scan(&direction, &occurredAtMs); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy event: %w", err)
		}
		delta := 1
		if zone.Direction(direction) == zone.Left {
			delta = -1
		}
		changes = append(changes, change{at: occurredAtMs, delta: delta})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating occupancy events: %w", err)
	}

	var points []OccupancyPoint
	occupancy := baseline
	i := 0
	for start := from; start.Before(to); start = start.Add(bucket) {
		end := start.Add(bucket)
		if end.After(to) {
			end = to
		}
		for i < len(changes) && changes[i].at < end.UnixMilli() {
			occupancy += changes[i].delta
			i++
		}
		points = append(points, OccupancyPoint{Bucket: start.UTC(), Occupancy: occupancy})
	}

	return points, nil
}
