// Package testutil provides shared test helpers for exercising zone
// registries and HTTP handlers.
package testutil

import (
	"testing"
	"time"

	"github.com/banshee-data/occupancy.report/internal/zone"
)

// AssertStatusCode checks that the response status code matches want.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// WaitForCount polls the registry until zoneID holds want members or
// two seconds pass. Reconciliation runs on its own goroutine, so tests
// that drive a live scene settle on the count instead of sleeping for a
// fixed interval.
func WaitForCount(t *testing.T, reg *zone.Registry, zoneID string, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if n, err := reg.Count(zoneID); err == nil && n == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	n, err := reg.Count(zoneID)
	t.Fatalf("Timed out waiting for count %d in %s (last count %d, err %v)", want, zoneID, n, err)
}
