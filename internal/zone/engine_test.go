package zone

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// newTestRegistry builds a registry on a manual clock so passes only run
// when a test calls ReconcileNow.
func newTestRegistry(t *testing.T, cfg Config) (*Registry, *timeutil.ManualClock) {
	t.Helper()
	clock := timeutil.NewManualClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg.Clock = clock
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, clock
}

func TestReconcile_FirstPassReportsOccupants(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice", "bob")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events := &eventLog{}
	if _, err := r.OnEntered("z1", func(m MemberID) { events.add(Entered, m) }); err != nil {
		t.Fatalf("OnEntered: %v", err)
	}

	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}

	want := Delta{Added: []MemberID{"alice", "bob"}}
	if diff := cmp.Diff(want, delta); diff != "" {
		t.Errorf("delta mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"entered:alice", "entered:bob"}, events.list()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	n, err := r.Count("z1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestReconcile_UnionAcrossRegions(t *testing.T) {
	oracle := newScriptOracle()
	// Alice straddles both regions of the zone; she must count once.
	oracle.place("r1", "alice")
	oracle.place("r2", "alice", "bob")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1", "r2"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}

	want := Delta{Added: []MemberID{"alice", "bob"}}
	if diff := cmp.Diff(want, delta); diff != "" {
		t.Errorf("delta mismatch (-want +got):\n%s", diff)
	}

	members, err := r.Members("z1")
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if diff := cmp.Diff([]MemberID{"alice", "bob"}, members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_ExactlyOnce(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events := &eventLog{}
	r.OnEntered("z1", func(m MemberID) { events.add(Entered, m) })

	for i := 0; i < 3; i++ {
		if _, err := r.ReconcileNow("z1"); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	if got := events.list(); len(got) != 1 {
		t.Errorf("entered events = %v, want exactly one", got)
	}
}

func TestReconcile_NoChange_NoSideEffects(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	journal := &memoryJournal{}
	sink := &recordSink{}
	r, _ := newTestRegistry(t, Config{Oracle: oracle, Journal: journal})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{Display: sink}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	journalBefore := len(journal.records())
	rendersBefore := len(sink.renders())

	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if !delta.Empty() {
		t.Errorf("delta = %+v, want empty", delta)
	}
	if got := len(journal.records()); got != journalBefore {
		t.Errorf("no-op pass wrote %d journal records", got-journalBefore)
	}
	if got := len(sink.renders()); got != rendersBefore {
		t.Errorf("no-op pass refreshed display %d times", got-rendersBefore)
	}
}

func TestReconcile_FlapCoalesced(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	triggers := newFakeTriggers()
	r, _ := newTestRegistry(t, Config{Oracle: oracle, Triggers: triggers})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	events := &eventLog{}
	r.OnEntered("z1", func(m MemberID) { events.add(Entered, m) })
	r.OnLeft("z1", func(m MemberID) { events.add(Left, m) })

	// Alice steps out and back in between passes. The triggers fire but
	// the oracle sees the same membership, so the pass observes nothing.
	triggers.fire("r1", Contact{Marker: DefaultMemberMarker, Owner: "alice"})
	triggers.fire("r1", Contact{Marker: DefaultMemberMarker, Owner: "alice"})

	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}

	if !delta.Empty() {
		t.Errorf("delta = %+v, want empty", delta)
	}
	if got := events.list(); len(got) != 0 {
		t.Errorf("flap produced events %v, want none", got)
	}
}

func TestReconcile_EnteredBeforeLeft(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	events := &eventLog{}
	r.OnEntered("z1", func(m MemberID) { events.add(Entered, m) })
	r.OnLeft("z1", func(m MemberID) { events.add(Left, m) })

	// Alice swaps out for carol in a single pass.
	oracle.place("r1", "carol")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("swap pass: %v", err)
	}

	want := []string{"entered:carol", "left:alice"}
	if diff := cmp.Diff(want, events.list()); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_CountInsideCallback(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice", "bob")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Counts observed inside callbacks must reflect the replaced set.
	var enteredCounts, leftCounts []int
	r.OnEntered("z1", func(MemberID) {
		n, _ := r.Count("z1")
		enteredCounts = append(enteredCounts, n)
	})
	r.OnLeft("z1", func(MemberID) {
		n, _ := r.Count("z1")
		leftCounts = append(leftCounts, n)
	})

	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("enter pass: %v", err)
	}
	oracle.place("r1")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("leave pass: %v", err)
	}

	if diff := cmp.Diff([]int{2, 2}, enteredCounts); diff != "" {
		t.Errorf("entered counts (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0}, leftCounts); diff != "" {
		t.Errorf("left counts (-want +got):\n%s", diff)
	}
}

func TestReconcile_OracleFailure_StateUnchanged(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	events := &eventLog{}
	r.OnLeft("z1", func(m MemberID) { events.add(Left, m) })

	sensorErr := errors.New("sensor offline")
	oracle.fail("r1", sensorErr)

	_, err := r.ReconcileNow("z1")
	if !errors.Is(err, sensorErr) {
		t.Fatalf("error = %v, want wrapped sensor error", err)
	}

	// Membership is untouched and nothing was emitted.
	members, _ := r.Members("z1")
	if diff := cmp.Diff([]MemberID{"alice"}, members); diff != "" {
		t.Errorf("members after failed pass (-want +got):\n%s", diff)
	}
	if got := events.list(); len(got) != 0 {
		t.Errorf("failed pass emitted %v", got)
	}

	// The pending flag is re-armed so the next tick retries.
	e, err := r.entry("z1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if !e.pending.Load() {
		t.Error("pending not re-armed after oracle failure")
	}

	// A healed oracle reconciles normally.
	oracle.fail("r1", nil)
	oracle.place("r1")
	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("healed pass: %v", err)
	}
	if diff := cmp.Diff(Delta{Removed: []MemberID{"alice"}}, delta); diff != "" {
		t.Errorf("healed delta (-want +got):\n%s", diff)
	}
}

func TestReconcile_PendingConsumedByPass(t *testing.T) {
	oracle := newScriptOracle()
	triggers := newFakeTriggers()
	r, _ := newTestRegistry(t, Config{Oracle: oracle, Triggers: triggers})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e, err := r.entry("z1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}

	triggers.fire("r1", Contact{Marker: DefaultMemberMarker, Owner: "alice"})
	if !e.pending.Load() {
		t.Fatal("trigger did not arm pending")
	}

	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if e.pending.Load() {
		t.Error("pass did not consume the pending flag")
	}
}

func TestReconcile_DisposedMidPass(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	journal := &memoryJournal{}
	r, _ := newTestRegistry(t, Config{Oracle: oracle, Journal: journal})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	gate := make(chan struct{})
	oracle.setGate(gate)

	type result struct {
		delta Delta
		err   error
	}
	resCh := make(chan result, 1)
	go func() {
		d, err := r.ReconcileNow("z1")
		resCh <- result{delta: d, err: err}
	}()

	waitUntil(t, time.Second, "oracle query to start", func() bool {
		return oracle.queryCount() >= 1
	})

	if err := r.Dispose("z1"); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	close(gate)

	res := <-resCh
	if !errors.Is(res.err, ErrZoneNotRegistered) {
		t.Errorf("in-flight pass error = %v, want ErrZoneNotRegistered", res.err)
	}
	if !res.delta.Empty() {
		t.Errorf("in-flight pass delta = %+v, want discarded", res.delta)
	}
	if got := journal.records(); len(got) != 0 {
		t.Errorf("discarded pass wrote %d journal records", len(got))
	}
}

func TestReconcile_JournalRecords(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	journal := &memoryJournal{}
	r, clock := newTestRegistry(t, Config{Oracle: oracle, Journal: journal})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	enterAt := clock.Now()
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("enter pass: %v", err)
	}

	clock.Set(enterAt.Add(5 * time.Second))
	oracle.place("r1")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("leave pass: %v", err)
	}

	recs := journal.records()
	if len(recs) != 2 {
		t.Fatalf("journal has %d records, want 2", len(recs))
	}
	if recs[0].dir != Entered || recs[0].member != "alice" || !recs[0].at.Equal(enterAt) {
		t.Errorf("first record = %+v, want entered alice at %v", recs[0], enterAt)
	}
	if recs[1].dir != Left || recs[1].member != "alice" {
		t.Errorf("second record = %+v, want left alice", recs[1])
	}
}

func TestReconcile_JournalFailure_PassSucceeds(t *testing.T) {
	muteLogs(t)

	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	journal := &memoryJournal{err: errors.New("disk full")}
	r, _ := newTestRegistry(t, Config{Oracle: oracle, Journal: journal})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	delta, err := r.ReconcileNow("z1")
	if err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}
	if delta.Empty() {
		t.Error("pass should have reported alice despite the journal failure")
	}

	n, _ := r.Count("z1")
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestReconcile_DisplayRefresh(t *testing.T) {
	oracle := newScriptOracle()
	sink := &recordSink{}
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{Display: sink}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	oracle.place("r1", "bob", "alice")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("enter pass: %v", err)
	}

	oracle.place("r1", "alice")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("leave pass: %v", err)
	}

	want := []string{"", "alice\nbob", "alice"}
	if diff := cmp.Diff(want, sink.renders()); diff != "" {
		t.Errorf("renders mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcile_DisplayFailure_PassSucceeds(t *testing.T) {
	muteLogs(t)

	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	sink := &recordSink{err: errors.New("screen detached")}
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{Display: sink}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("ReconcileNow: %v", err)
	}

	n, _ := r.Count("z1")
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestSummary_Dwell(t *testing.T) {
	oracle := newScriptOracle()
	oracle.place("r1", "alice")
	r, clock := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Name: "Checkout", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("enter pass: %v", err)
	}

	clock.Set(clock.Now().Add(10 * time.Second))
	oracle.place("r1")
	if _, err := r.ReconcileNow("z1"); err != nil {
		t.Fatalf("leave pass: %v", err)
	}

	sum, err := r.Summary("z1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.ZoneID != "z1" || sum.Name != "Checkout" {
		t.Errorf("identity = %s/%s, want z1/Checkout", sum.ZoneID, sum.Name)
	}
	if sum.Count != 0 || sum.PeakCount != 1 {
		t.Errorf("count=%d peak=%d, want 0/1", sum.Count, sum.PeakCount)
	}
	if sum.TotalEntered != 1 || sum.TotalLeft != 1 {
		t.Errorf("totals = %d/%d, want 1/1", sum.TotalEntered, sum.TotalLeft)
	}
	if sum.DwellP50 != 10 || sum.DwellP85 != 10 || sum.DwellP95 != 10 {
		t.Errorf("dwell percentiles = %v/%v/%v, want 10s each",
			sum.DwellP50, sum.DwellP85, sum.DwellP95)
	}
}

func TestSummary_EmptyZone(t *testing.T) {
	oracle := newScriptOracle()
	r, _ := newTestRegistry(t, Config{Oracle: oracle})

	if err := r.Register(Zone{ID: "z1", Regions: []RegionID{"r1"}}, WatchOptions{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	sum, err := r.Summary("z1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.Count != 0 || sum.PeakCount != 0 || sum.DwellP50 != 0 {
		t.Errorf("empty zone summary = %+v, want zeros", sum)
	}
}
