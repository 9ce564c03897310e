package prom

import "testing"

func TestAdapterSnapshotTracksHitsAndMisses(t *testing.T) {
	a := New(nil, "crabcache_test", "store", nil)
	a.Hit()
	a.Hit()
	a.Miss()
	a.AdmissionRejected()
	a.Expired()

	snap := a.Snapshot()
	if snap.Hits != 2 || snap.Misses != 1 || snap.AdmissionRejected != 1 || snap.Expired != 1 {
		t.Fatalf("Snapshot() = %+v, want {2 1 1 1}", snap)
	}
}

func TestAdapterSizeUpdatesGauges(t *testing.T) {
	a := New(nil, "crabcache_test", "size", nil)
	a.Size(4096, 10)
	// Size doesn't feed Snapshot directly (callers read it off store.Index),
	// this just guards against a panic from the gauge wiring.
}
