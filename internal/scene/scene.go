// Package scene is an in-process spatial world: axis-aligned
// rectangular regions and point members. It implements the zone
// registry's collaborator interfaces (overlap oracle, trigger source,
// region hider) so a complete watcher can run against it in the demo
// binary and in tests.
package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/occupancy.report/internal/zone"
	"github.com/google/uuid"
)

// Rect is an axis-aligned rectangle. Both bounds are inclusive.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// Contains reports whether the point (x, y) lies inside the rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

type point struct {
	x, y float64
}

type regionState struct {
	rect     Rect
	hidden   bool
	watchers map[string]func(zone.Contact)
}

// Scene tracks regions and member positions under one lock. Trigger
// callbacks fire outside the lock whenever a member's containment in a
// region changes, mirroring how a physics engine reports contacts: as
// hints, with no guarantee of one callback per real transition.
type Scene struct {
	marker string

	mu      sync.RWMutex
	regions map[zone.RegionID]*regionState
	members map[zone.MemberID]point
}

var (
	_ zone.OverlapOracle = (*Scene)(nil)
	_ zone.TriggerSource = (*Scene)(nil)
	_ zone.RegionHider   = (*Scene)(nil)
)

// New returns an empty scene. Contacts for tracked members carry
// marker; pass "" for the default member marker.
func New(marker string) *Scene {
	if marker == "" {
		marker = zone.DefaultMemberMarker
	}
	return &Scene{
		marker:  marker,
		regions: make(map[zone.RegionID]*regionState),
		members: make(map[zone.MemberID]point),
	}
}

// AddRegion places a new collision region.
func (s *Scene) AddRegion(id zone.RegionID, rect Rect) error {
	if id == "" {
		return fmt.Errorf("region id is required")
	}
	if rect.MaxX < rect.MinX || rect.MaxY < rect.MinY {
		return fmt.Errorf("region %s has inverted bounds", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.regions[id]; ok {
		return fmt.Errorf("region %s already exists", id)
	}
	s.regions[id] = &regionState{
		rect:     rect,
		watchers: make(map[string]func(zone.Contact)),
	}
	return nil
}

// Upsert places a member at (x, y), adding it to the scene if new.
// Watchers of every region whose containment changed are notified.
func (s *Scene) Upsert(member zone.MemberID, x, y float64) {
	s.mu.Lock()

	prev, existed := s.members[member]
	s.members[member] = point{x: x, y: y}

	var fire []func(zone.Contact)
	for _, reg := range s.regions {
		wasIn := existed && reg.rect.Contains(prev.x, prev.y)
		isIn := reg.rect.Contains(x, y)
		if wasIn != isIn {
			fire = append(fire, snapshotWatchers(reg)...)
		}
	}
	s.mu.Unlock()

	contact := zone.Contact{Marker: s.marker, Owner: member}
	for _, fn := range fire {
		fn(contact)
	}
}

// Remove deletes a member from the scene, notifying watchers of the
// regions it was inside.
func (s *Scene) Remove(member zone.MemberID) {
	s.mu.Lock()

	prev, existed := s.members[member]
	if !existed {
		s.mu.Unlock()
		return
	}
	delete(s.members, member)

	var fire []func(zone.Contact)
	for _, reg := range s.regions {
		if reg.rect.Contains(prev.x, prev.y) {
			fire = append(fire, snapshotWatchers(reg)...)
		}
	}
	s.mu.Unlock()

	contact := zone.Contact{Marker: s.marker, Owner: member}
	for _, fn := range fire {
		fn(contact)
	}
}

// Position returns a member's current location.
func (s *Scene) Position(member zone.MemberID) (x, y float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.members[member]
	return p.x, p.y, ok
}

// Overlapping implements zone.OverlapOracle. Members are reported
// sorted. Hidden regions still collide; hiding is display-only.
func (s *Scene) Overlapping(ctx context.Context, region zone.RegionID) ([]zone.MemberID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regions[region]
	if !ok {
		return nil, fmt.Errorf("unknown region %s", region)
	}

	var inside []zone.MemberID
	for member, p := range s.members {
		if reg.rect.Contains(p.x, p.y) {
			inside = append(inside, member)
		}
	}
	sort.Slice(inside, func(i, j int) bool { return inside[i] < inside[j] })
	return inside, nil
}

// Watch implements zone.TriggerSource.
func (s *Scene) Watch(region zone.RegionID, fn func(zone.Contact)) (cancel func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[region]
	if !ok {
		return nil, fmt.Errorf("unknown region %s", region)
	}

	handle := uuid.New().String()
	reg.watchers[handle] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(reg.watchers, handle)
	}, nil
}

// Hide implements zone.RegionHider.
func (s *Scene) Hide(region zone.RegionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.regions[region]
	if !ok {
		return fmt.Errorf("unknown region %s", region)
	}
	reg.hidden = true
	return nil
}

// Hidden reports whether a region has been hidden.
func (s *Scene) Hidden(region zone.RegionID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reg, ok := s.regions[region]
	return ok && reg.hidden
}

// InjectNoise fires a region's watchers with spurious contacts: a
// foreign marker, the member marker with no owner, and, when the scene
// holds members, a member-marker contact for a member that has not
// moved. The first two exercise trigger filtering; the last arms a
// reconciliation pass that observes no membership change.
func (s *Scene) InjectNoise(region zone.RegionID) error {
	s.mu.RLock()
	reg, ok := s.regions[region]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("unknown region %s", region)
	}
	fire := snapshotWatchers(reg)
	var owner zone.MemberID
	for member := range s.members {
		if owner == "" || member < owner {
			owner = member
		}
	}
	s.mu.RUnlock()

	for _, fn := range fire {
		fn(zone.Contact{Marker: "debris", Owner: ""})
		fn(zone.Contact{Marker: s.marker, Owner: ""})
		if owner != "" {
			fn(zone.Contact{Marker: s.marker, Owner: owner})
		}
	}
	return nil
}

func snapshotWatchers(reg *regionState) []func(zone.Contact) {
	fns := make([]func(zone.Contact), 0, len(reg.watchers))
	for _, fn := range reg.watchers {
		fns = append(fns, fn)
	}
	return fns
}
