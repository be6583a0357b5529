package zone

import (
	"context"
	"errors"
	"sync"
)

// watcher drives periodic reconciliation for one registered zone. It
// wakes at the debounce MinInterval and runs a pass whenever the gate is
// due. Trigger hints never run a pass inline; they only arm the pending
// flag the next tick observes.
type watcher struct {
	registry *Registry
	entry    *zoneEntry

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newWatcher(r *Registry, e *zoneEntry) *watcher {
	return &watcher{registry: r, entry: e}
}

// Start launches the poll goroutine. Starting a running watcher is a
// no-op.
func (w *watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	go w.run(ctx, w.stopCh, w.doneCh)
}

// Stop halts the poll goroutine and waits for it to exit. Stopping a
// stopped watcher is a no-op.
func (w *watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
}

// IsRunning reports whether the poll goroutine is live.
func (w *watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *watcher) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	r := w.registry
	e := w.entry
	ticker := r.clock.NewTicker(r.debounce.MinInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case now := <-ticker.C():
			e.mu.RLock()
			last := e.lastChecked
			e.mu.RUnlock()

			if !r.debounce.Due(e.pending.Load(), now, last) {
				continue
			}
			if _, err := r.reconcile(ctx, e); err != nil && !errors.Is(err, ErrZoneNotRegistered) {
				Logf("zone %s: reconcile: %v", e.zone.ID, err)
			}
		}
	}
}
