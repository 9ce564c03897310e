package wal

import (
	"context"
	"testing"

	"github.com/crabcache/crabcache/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WALDir = t.TempDir()
	cfg.WALSegmentBytes = 4096
	cfg.WALQueueCapacity = 8
	return cfg
}

func TestWALAppendAndRecover(t *testing.T) {
	cfg := testConfig(t)

	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Recover(nil); err != nil {
		t.Fatalf("Recover (empty dir): %v", err)
	}

	batch := []Record{
		{Op: OpSet, Key: []byte("a"), Value: []byte("1")},
		{Op: OpSet, Key: []byte("b"), Value: []byte("2")},
	}
	if err := w.AppendBatch(context.Background(), batch); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if batch[0].LSN == 0 || batch[1].LSN <= batch[0].LSN {
		t.Fatalf("expected monotonically assigned lsns, got %d then %d", batch[0].LSN, batch[1].LSN)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w2, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var replayed []Record
	if err := w2.Recover(func(r Record) error {
		replayed = append(replayed, r)
		return nil
	}); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("replayed %d records, want 2", len(replayed))
	}
	if string(replayed[0].Key) != "a" || string(replayed[1].Key) != "b" {
		t.Fatalf("replay order wrong: %+v", replayed)
	}
}

func TestWALQueueOverload(t *testing.T) {
	cfg := testConfig(t)
	cfg.WALQueueCapacity = 1

	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer w.Close()
	if err := w.Recover(nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	// Exhaust the single queue slot manually to simulate an in-flight batch.
	if !w.queue.TryAcquire(1) {
		t.Fatal("expected to acquire the only queue slot")
	}
	defer w.queue.Release(1)

	err = w.AppendBatch(context.Background(), []Record{{Op: OpSet, Key: []byte("k"), Value: []byte("v")}})
	if err != ErrOverloaded {
		t.Fatalf("err = %v, want ErrOverloaded", err)
	}
}

func TestWALSegmentRotation(t *testing.T) {
	cfg := testConfig(t)
	cfg.WALSegmentBytes = 80 // small enough that a handful of records rotate

	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Recover(nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	for i := 0; i < 20; i++ {
		rec := []Record{{Op: OpSet, Key: []byte("key"), Value: []byte("value-bytes")}}
		if err := w.AppendBatch(context.Background(), rec); err != nil {
			t.Fatalf("AppendBatch %d: %v", i, err)
		}
	}
	w.Close()

	segments, err := listSegments(cfg.WALDir)
	if err != nil {
		t.Fatalf("listSegments: %v", err)
	}
	if len(segments) < 2 {
		t.Fatalf("expected rotation to produce multiple segments, got %d", len(segments))
	}
}

func TestWALAppendAfterCloseFails(t *testing.T) {
	cfg := testConfig(t)
	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Recover(nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	w.Close()

	err = w.AppendBatch(context.Background(), []Record{{Op: OpSet, Key: []byte("k"), Value: []byte("v")}})
	if err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
