// Package zone tracks which members of a dynamic population are inside
// named spatial zones. Contact triggers from the scene are treated as
// hints only: membership is reconciled against an authoritative overlap
// oracle on a debounced cadence, and each real transition is reported
// exactly once.
package zone

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MemberID identifies one member of the tracked population.
type MemberID string

// RegionID identifies one collision region in the scene.
type RegionID string

// Zone is a named watch area made of one or more collision regions. A
// member overlapping any region is inside the zone; overlapping several
// regions at once still counts once.
type Zone struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Regions []RegionID `json:"regions"`
}

// Validate reports whether the zone is well formed enough to register.
func (z Zone) Validate() error {
	if z.ID == "" {
		return errors.New("zone id is required")
	}
	if len(z.Regions) == 0 {
		return fmt.Errorf("zone %q has no regions", z.ID)
	}
	return nil
}

// Direction distinguishes the two membership transitions.
type Direction string

const (
	// Entered fires when a member joins a zone's membership set.
	Entered Direction = "entered"
	// Left fires when a member drops out of a zone's membership set.
	Left Direction = "left"
)

// DefaultMemberMarker is the contact part name identifying a population
// member's root. Contacts carrying any other marker are ignored.
const DefaultMemberMarker = "member-root"

// Contact is a trigger hint: some part of a scene object touched or
// stopped touching a region. Marker names the touching part; Owner is the
// member that part belongs to, empty when it belongs to no tracked member.
type Contact struct {
	Marker string
	Owner  MemberID
}

// OverlapOracle answers authoritative overlap queries for one region.
// Results may repeat a member and carry no ordering guarantee. A query
// error is transient: callers retry on the next pass.
type OverlapOracle interface {
	Overlapping(ctx context.Context, region RegionID) ([]MemberID, error)
}

// TriggerSource delivers contact hints for a region. The returned cancel
// function detaches the callback; it must be safe to call once.
type TriggerSource interface {
	Watch(region RegionID, fn func(Contact)) (cancel func(), err error)
}

// RegionHider removes a region from view without affecting collision.
type RegionHider interface {
	Hide(region RegionID) error
}

// DisplaySink renders a zone's member list somewhere visible.
type DisplaySink interface {
	SetText(text string) error
}

// TransitionLog records membership transitions durably. Failures are
// logged by the registry and never disturb reconciliation.
type TransitionLog interface {
	Record(zoneID string, dir Direction, member MemberID, at time.Time) error
}

var (
	// ErrZoneNotRegistered is returned for operations on unknown or
	// already disposed zones.
	ErrZoneNotRegistered = errors.New("zone not registered")

	// ErrZoneAlreadyRegistered is returned when registering a zone ID
	// that is still live. Dispose it first.
	ErrZoneAlreadyRegistered = errors.New("zone already registered")

	// ErrRegistryClosed is returned for any operation after Close.
	ErrRegistryClosed = errors.New("zone registry closed")
)
