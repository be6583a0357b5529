package zone

import (
	"sync"

	"github.com/google/uuid"
)

// Callback receives the member that entered or left a zone. Callbacks run
// synchronously on the goroutine completing the reconciliation pass;
// membership reads made inside a callback already see the updated set.
type Callback func(member MemberID)

// Subscription identifies one registered callback.
type Subscription struct {
	ID     string
	ZoneID string
	Dir    Direction
}

type busKey struct {
	zoneID string
	dir    Direction
}

// Bus fans membership transitions out to subscribers keyed by zone and
// direction. Delivery is synchronous and panic-isolated per subscriber.
type Bus struct {
	mu     sync.Mutex
	closed bool
	subs   map[busKey]map[string]Callback
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[busKey]map[string]Callback)}
}

// Subscribe registers cb for the zone and direction and returns its
// handle. Subscribing on a closed bus returns a handle that never fires.
func (b *Bus) Subscribe(zoneID string, dir Direction, cb Callback) Subscription {
	sub := Subscription{ID: uuid.New().String(), ZoneID: zoneID, Dir: dir}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return sub
	}
	key := busKey{zoneID: zoneID, dir: dir}
	if b.subs[key] == nil {
		b.subs[key] = make(map[string]Callback)
	}
	b.subs[key][sub.ID] = cb
	return sub
}

// Unsubscribe removes the subscription. Unknown handles are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := busKey{zoneID: sub.ZoneID, dir: sub.Dir}
	if m, ok := b.subs[key]; ok {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(b.subs, key)
		}
	}
}

// DropZone removes every subscription for the zone, both directions.
func (b *Bus) DropZone(zoneID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, busKey{zoneID: zoneID, dir: Entered})
	delete(b.subs, busKey{zoneID: zoneID, dir: Left})
}

// Emit delivers the transition to every subscriber of the zone and
// direction, synchronously, in the caller's goroutine. Callbacks run
// outside the bus lock, so a callback may subscribe or unsubscribe.
// Delivery order across distinct subscribers is unspecified.
func (b *Bus) Emit(zoneID string, dir Direction, member MemberID) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	var cbs []Callback
	if m := b.subs[busKey{zoneID: zoneID, dir: dir}]; len(m) > 0 {
		cbs = make([]Callback, 0, len(m))
		for _, cb := range m {
			cbs = append(cbs, cb)
		}
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		deliver(cb, zoneID, dir, member)
	}
}

// deliver runs one callback, containing panics so a broken subscriber
// cannot abort the pass or starve its peers.
func deliver(cb Callback, zoneID string, dir Direction, member MemberID) {
	defer func() {
		if r := recover(); r != nil {
			Logf("zone %s: %s subscriber panic for member %s: %v", zoneID, dir, member, r)
		}
	}()
	cb(member)
}

// Close drops every subscription. Emit and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[busKey]map[string]Callback)
}
