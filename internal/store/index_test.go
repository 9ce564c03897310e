package store

import (
	"testing"
	"time"
)

func newTestIndex(t *testing.T, shards int, perShardBytes int64) *Index {
	t.Helper()
	return NewIndex(Options{
		NumShards:             shards,
		PerShardCapacityBytes: perShardBytes,
		CapacityHint:          32,
	})
}

func TestIndexSetGetDelete(t *testing.T) {
	idx := newTestIndex(t, 4, 4096)

	stored, err := idx.Set([]byte("a"), []byte("1"), 0)
	if err != nil || !stored {
		t.Fatalf("Set: stored=%v err=%v", stored, err)
	}

	v, ok := idx.Get([]byte("a"))
	if !ok || string(v) != "1" {
		t.Fatalf("Get: v=%q ok=%v", v, ok)
	}

	if !idx.Delete([]byte("a")) {
		t.Fatal("Delete should report the key existed")
	}
	if _, ok := idx.Get([]byte("a")); ok {
		t.Fatal("Get after Delete should miss")
	}
}

func TestIndexRoutesDeterministically(t *testing.T) {
	idx := newTestIndex(t, 8, 4096)
	key := []byte("stable-routing-key")

	first := idx.shardFor(key)
	for i := 0; i < 100; i++ {
		if idx.shardFor(key) != first {
			t.Fatal("shardFor must route the same key to the same shard every time")
		}
	}
}

func TestIndexOversizeEntryRejected(t *testing.T) {
	idx := newTestIndex(t, 2, 64)

	stored, err := idx.Set([]byte("k"), make([]byte, 1024), 0)
	if stored || err != ErrKeyTooLarge {
		t.Fatalf("expected ErrKeyTooLarge, got stored=%v err=%v", stored, err)
	}
}

func TestIndexLenAndUsedBytesAggregateAcrossShards(t *testing.T) {
	idx := newTestIndex(t, 4, 4096)

	for i := 0; i < 20; i++ {
		key := []byte{byte(i)}
		if _, err := idx.Set(key, []byte("value"), 0); err != nil {
			t.Fatalf("Set(%d): %v", i, err)
		}
	}

	if got := idx.Len(); got != 20 {
		t.Fatalf("Len() = %d, want 20", got)
	}
	if idx.UsedBytes() <= 0 {
		t.Fatal("UsedBytes() should reflect the inserted entries")
	}
}

func TestIndexSweepExpiredRemovesPastDeadline(t *testing.T) {
	idx := newTestIndex(t, 1, 4096)

	idx.Set([]byte("expired"), []byte("v"), 100)
	idx.Set([]byte("alive"), []byte("v"), 0)

	examined, removed := idx.SweepExpired(200, 5*time.Millisecond)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if examined < removed {
		t.Fatalf("examined (%d) should be >= removed (%d)", examined, removed)
	}

	if _, ok := idx.Get([]byte("expired")); ok {
		t.Fatal("swept key should no longer be resident")
	}
	if _, ok := idx.Get([]byte("alive")); !ok {
		t.Fatal("non-expired key must survive the sweep")
	}
}
