package zone

import (
	"context"
	"sync"
	"testing"
	"time"
)

// scriptOracle is a scriptable OverlapOracle. Tests place members into
// regions or arm per-region failures; unset regions read empty.
type scriptOracle struct {
	mu       sync.Mutex
	byRegion map[RegionID][]MemberID
	errs     map[RegionID]error
	queries  int
	gate     chan struct{}
}

func newScriptOracle() *scriptOracle {
	return &scriptOracle{
		byRegion: make(map[RegionID][]MemberID),
		errs:     make(map[RegionID]error),
	}
}

func (o *scriptOracle) place(region RegionID, ids ...MemberID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byRegion[region] = ids
}

func (o *scriptOracle) fail(region RegionID, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.errs, region)
		return
	}
	o.errs[region] = err
}

// setGate makes Overlapping block until the channel is closed.
func (o *scriptOracle) setGate(gate chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gate = gate
}

func (o *scriptOracle) queryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queries
}

func (o *scriptOracle) Overlapping(ctx context.Context, region RegionID) ([]MemberID, error) {
	o.mu.Lock()
	o.queries++
	gate := o.gate
	err := o.errs[region]
	ids := append([]MemberID(nil), o.byRegion[region]...)
	o.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// fakeTriggers records Watch registrations and lets tests fire contacts.
type fakeTriggers struct {
	mu        sync.Mutex
	watchers  map[RegionID][]func(Contact)
	failOn    RegionID
	watchErr  error
	cancelled int
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{watchers: make(map[RegionID][]func(Contact))}
}

func (f *fakeTriggers) Watch(region RegionID, fn func(Contact)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watchErr != nil && region == f.failOn {
		return nil, f.watchErr
	}
	f.watchers[region] = append(f.watchers[region], fn)
	return func() {
		f.mu.Lock()
		f.cancelled++
		f.mu.Unlock()
	}, nil
}

func (f *fakeTriggers) fire(region RegionID, c Contact) {
	f.mu.Lock()
	fns := append([]func(Contact){}, f.watchers[region]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func (f *fakeTriggers) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// fakeHider records hidden regions.
type fakeHider struct {
	mu     sync.Mutex
	hidden []RegionID
	err    error
}

func (h *fakeHider) Hide(region RegionID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hidden = append(h.hidden, region)
	return h.err
}

func (h *fakeHider) hiddenRegions() []RegionID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RegionID(nil), h.hidden...)
}

// recordSink captures display renders.
type recordSink struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (s *recordSink) SetText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return s.err
}

func (s *recordSink) renders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// memoryJournal captures transition records.
type journalRecord struct {
	zoneID string
	dir    Direction
	member MemberID
	at     time.Time
}

type memoryJournal struct {
	mu   sync.Mutex
	recs []journalRecord
	err  error
}

func (j *memoryJournal) Record(zoneID string, dir Direction, member MemberID, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs = append(j.recs, journalRecord{zoneID: zoneID, dir: dir, member: member, at: at})
	return j.err
}

func (j *memoryJournal) records() []journalRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journalRecord(nil), j.recs...)
}

// eventLog collects delivered transitions as "direction:member" strings.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(dir Direction, m MemberID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, string(dir)+":"+string(m))
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// muteLogs silences package logging for the test.
func muteLogs(t *testing.T) {
	t.Helper()
	prev := SetLogger(nil)
	t.Cleanup(func() { SetLogger(prev) })
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
