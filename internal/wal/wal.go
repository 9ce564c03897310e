package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/crabcache/crabcache/internal/config"
)

// ErrOverloaded is returned when the bounded WAL queue is full (spec §4.4:
// "if the WAL queue is full... new mutation batches are rejected with
// ERROR: overloaded until drained; reads are not affected").
var ErrOverloaded = errors.New("wal: overloaded")

// ErrClosed is returned by AppendBatch after Close.
var ErrClosed = errors.New("wal: closed")

// Metrics exposes the WAL-level observability hooks, implemented by
// internal/metrics/prom.Adapter. NoopMetrics is used when none is set.
type Metrics interface {
	WALBatch()
	WALFsync()
	WALOverloaded()
}

// NoopMetrics discards every call.
type NoopMetrics struct{}

func (NoopMetrics) WALBatch()      {}
func (NoopMetrics) WALFsync()      {}
func (NoopMetrics) WALOverloaded() {}

// WAL is CrabCache's segmented, group-committed write-ahead log (spec
// §4.5). One WAL instance owns one directory of ascending-lsn segment
// files and a single active segment open for append.
type WAL struct {
	dir           string
	segmentBytes  int64
	syncPolicy    config.SyncPolicy
	flushInterval time.Duration
	log           *zap.Logger

	group   *GroupCommit
	queue   *semaphore.Weighted
	metrics Metrics

	file              *os.File
	fileSize          int64
	firstLSNInSegment uint64
	nextLSN           uint64

	closed atomic.Bool
	stopCh chan struct{}
}

// Open prepares dir for writing but does not yet determine the next lsn to
// assign — call Recover first so replay can observe every prior record.
func Open(cfg config.Config, log *zap.Logger) (*WAL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	w := &WAL{
		dir:           cfg.WALDir,
		segmentBytes:  cfg.WALSegmentBytes,
		syncPolicy:    cfg.WALSyncPolicy,
		flushInterval: time.Duration(cfg.WALAsyncFlushIntervalMS) * time.Millisecond,
		log:           log,
		queue:         semaphore.NewWeighted(int64(cfg.WALQueueCapacity)),
		nextLSN:       1,
		stopCh:        make(chan struct{}),
		metrics:       NoopMetrics{},
	}
	w.group = NewGroupCommit(func() error {
		err := w.file.Sync()
		if err == nil {
			w.metrics.WALFsync()
		}
		return err
	})
	return w, nil
}

// Recover scans every segment in dir in ascending lsn order, replaying
// each valid record to apply and stopping at the first corrupt or
// truncated one (spec §4.5 recovery). It leaves the WAL positioned to
// append after the last valid record, opening a fresh segment if dir was
// empty.
func (w *WAL) Recover(apply func(Record) error) error {
	segments, err := listSegments(w.dir)
	if err != nil {
		return fmt.Errorf("wal: list segments: %w", err)
	}

	var lastLSN uint64
	var lastSegment string
	for _, path := range segments {
		n, stoppedEarly, err := w.replaySegment(path, apply, &lastLSN)
		if err != nil {
			return err
		}
		lastSegment = path
		if stoppedEarly {
			w.log.Warn("wal: truncating segment at first invalid record",
				zap.String("segment", path), zap.Int64("valid_bytes", n))
			if err := truncateTo(path, n); err != nil {
				return fmt.Errorf("wal: truncate %s: %w", path, err)
			}
			break
		}
	}

	if lastLSN > 0 {
		w.nextLSN = lastLSN + 1
	}

	if lastSegment != "" {
		f, err := os.OpenFile(lastSegment, os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("wal: reopen %s: %w", lastSegment, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("wal: stat %s: %w", lastSegment, err)
		}
		w.file = f
		w.fileSize = info.Size()
		w.firstLSNInSegment = segmentFirstLSN(lastSegment)
		return nil
	}

	return w.openFreshSegment(w.nextLSN)
}

func (w *WAL) replaySegment(path string, apply func(Record) error, lastLSN *uint64) (validBytes int64, stoppedEarly bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, fmt.Errorf("wal: open %s: %w", path, err)
	}
	defer f.Close()

	var offset int64
	for {
		rec, n, rerr := ReadRecord(f)
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && n == 0 {
				return offset, false, nil
			}
			// CRC mismatch, malformed length, or a record cut short: this
			// and everything after it in the segment is discarded (spec §4.5).
			return offset, true, nil
		}
		offset += int64(n)
		*lastLSN = rec.LSN
		if apply != nil {
			if err := apply(rec); err != nil {
				return offset, false, fmt.Errorf("wal: replay lsn %d: %w", rec.LSN, err)
			}
		}
	}
}

// SetMetrics wires a Metrics implementation after construction, since the
// caller typically builds the prometheus adapter after Open (it also feeds
// the store.Index and executor). Safe to call before the WAL has handled
// any traffic; not safe to call concurrently with AppendBatch.
func (w *WAL) SetMetrics(m Metrics) {
	if m == nil {
		m = NoopMetrics{}
	}
	w.metrics = m
}

// AppendBatch assigns contiguous LSNs to ops (mutating them in place),
// writes them as one contiguous group, and applies the configured sync
// policy once for the whole batch (spec §4.4's group-commit contract).
func (w *WAL) AppendBatch(ctx context.Context, ops []Record) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !w.queue.TryAcquire(1) {
		w.metrics.WALOverloaded()
		return ErrOverloaded
	}
	defer w.queue.Release(1)
	w.metrics.WALBatch()

	nowMS := time.Now().UnixMilli()
	writeFn := func() error {
		firstLSN := w.nextLSN
		for i := range ops {
			ops[i].LSN = w.nextLSN
			ops[i].TimestampMS = nowMS
			w.nextLSN++
		}
		var buf []byte
		for _, rec := range ops {
			buf = AppendEncoded(buf, rec)
		}
		if err := w.rotateIfNeeded(int64(len(buf)), firstLSN); err != nil {
			return err
		}
		n, err := w.file.Write(buf)
		w.fileSize += int64(n)
		return err
	}

	switch w.syncPolicy {
	case config.SyncAlways:
		return w.group.CommitBatch(writeFn)
	default:
		return w.group.WriteOnly(writeFn)
	}
}

// RunAsyncFlusher drives the periodic fsync for the async sync policy
// until ctx is canceled. It is a no-op for sync/none policies.
func (w *WAL) RunAsyncFlusher(ctx context.Context) {
	if w.syncPolicy != config.SyncAsync {
		return
	}
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if err := w.group.SyncNow(); err != nil {
				w.log.Error("wal async flush failed", zap.Error(err))
			}
		}
	}
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.stopCh)
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

func (w *WAL) rotateIfNeeded(incoming int64, firstLSN uint64) error {
	if w.file != nil && w.fileSize+incoming <= w.segmentBytes {
		return nil
	}
	return w.openFreshSegment(firstLSN)
}

func (w *WAL) openFreshSegment(firstLSN uint64) error {
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: sync before rotate: %w", err)
		}
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("wal: close before rotate: %w", err)
		}
	}
	f, err := openSegmentForAppend(w.dir, firstLSN)
	if err != nil {
		return fmt.Errorf("wal: open segment: %w", err)
	}
	w.file = f
	w.fileSize = 0
	w.firstLSNInSegment = firstLSN
	return nil
}

func truncateTo(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}
