package zone

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// Config wires a Registry to its scene collaborators. Oracle is the only
// required field.
type Config struct {
	// Oracle answers authoritative overlap queries.
	Oracle OverlapOracle

	// Triggers delivers contact hints. Optional: without a trigger
	// source zones reconcile on the MaxInterval cadence alone.
	Triggers TriggerSource

	// Hider hides regions at registration when WatchOptions.Hidden is
	// set. Optional.
	Hider RegionHider

	// Journal records transitions durably. Optional.
	Journal TransitionLog

	// Clock drives polling and timestamps. Nil means the real clock.
	Clock timeutil.Clock

	// Debounce bounds the reconciliation cadence. Zero fields take the
	// package defaults.
	Debounce Debounce

	// MemberMarker is the contact part name identifying a member root.
	// Empty means DefaultMemberMarker.
	MemberMarker string

	// DwellHistoryLimit caps retained dwell samples per zone. Zero
	// means DefaultDwellHistoryLimit.
	DwellHistoryLimit int
}

// WatchOptions tunes one zone registration. The zero value watches a
// visible zone with no event logging and no display.
type WatchOptions struct {
	// Hidden hides the zone's regions from view at registration.
	Hidden bool

	// LogEvents logs every transition together with the updated count.
	LogEvents bool

	// Display receives the rendered member list after every change and
	// once at registration.
	Display DisplaySink
}

// Registry owns the reconciliation state and poll goroutine for every
// registered zone.
type Registry struct {
	oracle   OverlapOracle
	triggers TriggerSource
	hider    RegionHider
	journal  TransitionLog
	clock    timeutil.Clock
	debounce Debounce
	marker   string
	dwellCap int
	bus      *Bus

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	zones  map[string]*zoneEntry
}

// New builds a Registry from the config.
func New(cfg Config) (*Registry, error) {
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("zone registry requires an overlap oracle")
	}

	debounce, err := cfg.Debounce.Normalize()
	if err != nil {
		return nil, fmt.Errorf("zone registry debounce: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	marker := cfg.MemberMarker
	if marker == "" {
		marker = DefaultMemberMarker
	}
	dwellCap := cfg.DwellHistoryLimit
	if dwellCap <= 0 {
		dwellCap = DefaultDwellHistoryLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		oracle:   cfg.Oracle,
		triggers: cfg.Triggers,
		hider:    cfg.Hider,
		journal:  cfg.Journal,
		clock:    clock,
		debounce: debounce,
		marker:   marker,
		dwellCap: dwellCap,
		bus:      NewBus(),
		ctx:      ctx,
		cancel:   cancel,
		zones:    make(map[string]*zoneEntry),
	}, nil
}

// Register starts watching a zone: hides its regions if requested, wires
// trigger hints for every region, renders the initial (empty) display,
// and launches the poll goroutine. The first pass reports every member
// already inside the regions as entered.
func (r *Registry) Register(z Zone, opts WatchOptions) error {
	if err := z.Validate(); err != nil {
		return fmt.Errorf("register zone: %w", err)
	}

	e := &zoneEntry{
		zone:      z,
		display:   opts.Display,
		members:   make(MemberSet),
		enteredAt: make(map[MemberID]time.Time),
		dwellCap:  r.dwellCap,
	}
	e.watcher = newWatcher(r, e)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.zones[z.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register zone %q: %w", z.ID, ErrZoneAlreadyRegistered)
	}
	r.zones[z.ID] = e
	r.mu.Unlock()

	if opts.Hidden && r.hider != nil {
		for _, region := range z.Regions {
			if err := r.hider.Hide(region); err != nil {
				Logf("zone %s: hide region %s: %v", z.ID, region, err)
			}
		}
	}

	if r.triggers != nil {
		for _, region := range z.Regions {
			cancel, err := r.triggers.Watch(region, func(c Contact) {
				if c.Marker != r.marker || c.Owner == "" {
					return
				}
				e.pending.Store(true)
			})
			if err != nil {
				r.unwire(z.ID, e)
				return fmt.Errorf("watch region %s for zone %q: %w", region, z.ID, err)
			}
			e.mu.Lock()
			e.cancels = append(e.cancels, cancel)
			e.mu.Unlock()
		}
	}

	if opts.LogEvents {
		r.bus.Subscribe(z.ID, Entered, func(m MemberID) {
			n, _ := r.Count(z.ID)
			Logf("zone %s: %s entered (count=%d)", z.ID, m, n)
		})
		r.bus.Subscribe(z.ID, Left, func(m MemberID) {
			n, _ := r.Count(z.ID)
			Logf("zone %s: %s left (count=%d)", z.ID, m, n)
		})
	}

	e.refreshDisplay()
	e.watcher.Start(r.ctx)
	return nil
}

// unwire rolls a failed registration back: the entry is removed, closed,
// and its trigger watches cancelled.
func (r *Registry) unwire(zoneID string, e *zoneEntry) {
	r.mu.Lock()
	delete(r.zones, zoneID)
	r.mu.Unlock()

	e.mu.Lock()
	e.closed = true
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}
}

// Dispose stops watching the zone: the poll goroutine halts, trigger
// watches are cancelled, subscriptions drop, and any in-flight pass is
// discarded. Disposing an unknown zone returns ErrZoneNotRegistered.
func (r *Registry) Dispose(zoneID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	e, ok := r.zones[zoneID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("dispose zone %q: %w", zoneID, ErrZoneNotRegistered)
	}
	delete(r.zones, zoneID)
	r.mu.Unlock()

	e.mu.Lock()
	e.closed = true
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		if cancel != nil {
			cancel()
		}
	}

	e.watcher.Stop()
	r.bus.DropZone(zoneID)
	return nil
}

// entry resolves a live zone entry.
func (r *Registry) entry(zoneID string) (*zoneEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	e, ok := r.zones[zoneID]
	if !ok {
		return nil, fmt.Errorf("zone %q: %w", zoneID, ErrZoneNotRegistered)
	}
	return e, nil
}

// Members returns the zone's current members sorted lexically. The read
// observes the authoritative set wholly before or wholly after any
// concurrent pass.
func (r *Registry) Members(zoneID string) ([]MemberID, error) {
	e, err := r.entry(zoneID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.members.Members(), nil
}

// Count returns the zone's current member count. At every instant the
// count equals the length of Members.
func (r *Registry) Count(zoneID string) (int, error) {
	e, err := r.entry(zoneID)
	if err != nil {
		return 0, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.members), nil
}

// Zones lists the registered zones sorted by ID.
func (r *Registry) Zones() []Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Zone, 0, len(r.zones))
	for _, e := range r.zones {
		out = append(out, e.zone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnEntered subscribes cb to the zone's entered transitions.
func (r *Registry) OnEntered(zoneID string, cb Callback) (Subscription, error) {
	if _, err := r.entry(zoneID); err != nil {
		return Subscription{}, err
	}
	return r.bus.Subscribe(zoneID, Entered, cb), nil
}

// OnLeft subscribes cb to the zone's left transitions.
func (r *Registry) OnLeft(zoneID string, cb Callback) (Subscription, error) {
	if _, err := r.entry(zoneID); err != nil {
		return Subscription{}, err
	}
	return r.bus.Subscribe(zoneID, Left, cb), nil
}

// Unsubscribe removes a subscription returned by OnEntered or OnLeft.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.bus.Unsubscribe(sub)
}

// ReconcileNow forces a pass for the zone regardless of the debounce gate
// and returns the delta it produced.
func (r *Registry) ReconcileNow(zoneID string) (Delta, error) {
	e, err := r.entry(zoneID)
	if err != nil {
		return Delta{}, err
	}
	return r.reconcile(r.ctx, e)
}

// Close disposes every zone and shuts the bus down. The registry cannot
// be reused afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	r.closed = true
	entries := make([]*zoneEntry, 0, len(r.zones))
	for _, e := range r.zones {
		entries = append(entries, e)
	}
	r.zones = make(map[string]*zoneEntry)
	r.mu.Unlock()

	r.cancel()

	for _, e := range entries {
		e.mu.Lock()
		e.closed = true
		cancels := e.cancels
		e.cancels = nil
		e.mu.Unlock()

		for _, cancel := range cancels {
			if cancel != nil {
				cancel()
			}
		}
		e.watcher.Stop()
	}

	r.bus.Close()
	return nil
}
