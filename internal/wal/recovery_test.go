package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestWALRecoveryStopsAtCorruptRecord verifies the truncation-at-first-corrupt-record
// rule: recovery replays every valid record up to (not including) the
// first corrupt one, and discards the remainder of that segment.
func TestWALRecoveryStopsAtCorruptRecord(t *testing.T) {
	cfg := testConfig(t)

	w, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Recover(nil); err != nil {
		t.Fatalf("Recover (empty): %v", err)
	}

	good := []Record{{Op: OpSet, Key: []byte("good"), Value: []byte("1")}}
	if err := w.AppendBatch(context.Background(), good); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	bad := Record{Op: OpSet, Key: []byte("bad"), Value: []byte("2")}
	encoded := Encode(bad)
	encoded[len(encoded)-1] ^= 0xFF
	if _, err := w.file.Write(encoded); err != nil {
		t.Fatalf("write corrupt bytes: %v", err)
	}
	w.file.Sync()
	w.Close()

	segments, err := listSegments(cfg.WALDir)
	if err != nil || len(segments) != 1 {
		t.Fatalf("listSegments: %v (%d)", err, len(segments))
	}
	sizeBeforeRecover, _ := os.Stat(segments[0])

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

	if len(replayed) != 1 || string(replayed[0].Key) != "good" {
		t.Fatalf("replayed = %+v, want only the good record", replayed)
	}

	info, err := os.Stat(segments[0])
	if err != nil {
		t.Fatalf("stat after recover: %v", err)
	}
	if info.Size() >= sizeBeforeRecover.Size() {
		t.Fatalf("segment should have been truncated past the corrupt record: before=%d after=%d",
			sizeBeforeRecover.Size(), info.Size())
	}

	// The WAL must still be appendable after a truncating recovery.
	more := []Record{{Op: OpSet, Key: []byte("after"), Value: []byte("3")}}
	if err := w2.AppendBatch(context.Background(), more); err != nil {
		t.Fatalf("AppendBatch after recovery: %v", err)
	}
	w2.Close()

	path := filepath.Join(cfg.WALDir, segmentFileName(1))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected segment file to exist: %v", err)
	}
}
