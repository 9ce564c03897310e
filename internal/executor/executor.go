// Package executor turns a decoded batch of commands into a batch of
// responses: it splits mutations from reads, appends every mutation in the
// batch to the write-ahead log as one contiguous group before applying any
// of them, and runs the (WAL-independent) reads concurrently with that WAL
// round trip (spec §4.4's pipeline: "split batch into mutations and reads;
// append mutations to WAL as one group; apply mutations to shards; run
// reads concurrently; emit responses in original order"), grounded on the
// teacher's cache package call pattern generalized from single-key
// operations to batched ones.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/crabcache/crabcache/internal/codec"
	"github.com/crabcache/crabcache/internal/config"
	"github.com/crabcache/crabcache/internal/metrics"
	"github.com/crabcache/crabcache/internal/store"
	"github.com/crabcache/crabcache/internal/wal"
)

// Executor wires the wire codec's Command/Response types to the shard
// index and the write-ahead log.
type Executor struct {
	index *store.Index
	log   *wal.WAL // nil when the WAL is disabled (spec §6 wal_enabled=false)
	clock store.Clock

	maxBatchSize  int
	maxBatchBytes int

	metrics     store.Metrics
	snapshotter metrics.Snapshotter
	logger      *zap.Logger

	// readOnly is set once an unrecoverable WAL write failure occurs
	// (spec §4.4: "a failed WAL write is fatal for the batch and flips
	// the server into a read-only mode until restarted").
	readOnly atomic.Bool
}

// New builds an Executor. w may be nil if cfg.WALEnabled is false. snap may
// be nil, in which case CMD_STATS always reports zero for the per-op
// counters it can't otherwise derive from the index directly.
func New(index *store.Index, w *wal.WAL, cfg config.Config, storeMetrics store.Metrics, snap metrics.Snapshotter, logger *zap.Logger) *Executor {
	if storeMetrics == nil {
		storeMetrics = store.NoopMetrics{}
	}
	if snap == nil {
		snap = metrics.NoopSnapshotter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := store.Clock(store.SystemClock)
	return &Executor{
		index:         index,
		log:           w,
		clock:         clock,
		maxBatchSize:  cfg.MaxBatchSize,
		maxBatchBytes: cfg.MaxBatchBytes,
		metrics:       storeMetrics,
		snapshotter:   snap,
		logger:        logger,
	}
}

// ReadOnly reports whether a prior WAL failure has put the executor into
// read-only mode.
func (ex *Executor) ReadOnly() bool {
	return ex.readOnly.Load()
}

// readOnlyTransitioner is implemented by internal/metrics/prom.Adapter;
// the store.Metrics interface itself has no notion of read-only mode
// since that state belongs to the executor, not the store.
type readOnlyTransitioner interface {
	WALReadOnlyTransition()
}

// ErrBatchTooLarge marks a decoded batch that exceeds max_batch_size or
// max_batch_bytes (spec §6). Unlike an admission rejection or a WAL
// failure, this is unrecoverable for the connection: the caller
// (internal/server) closes it rather than handing the batch to Execute.
var ErrBatchTooLarge = fmt.Errorf("executor: batch exceeds configured limits")

// CheckBatchLimits reports ErrBatchTooLarge if cmds would exceed
// maxSize commands or maxBytes of combined key+value payload. Call this
// before Execute; Execute itself assumes the batch already fits.
func CheckBatchLimits(cmds []codec.Command, maxSize, maxBytes int) error {
	if len(cmds) > maxSize {
		return ErrBatchTooLarge
	}
	size := 0
	for _, c := range cmds {
		size += len(c.Key) + len(c.Value)
		if size > maxBytes {
			return ErrBatchTooLarge
		}
	}
	return nil
}

// MaxBatchSize and MaxBatchBytes expose the configured limits so callers
// building a batch (internal/server) can enforce CheckBatchLimits with the
// same bounds Execute was constructed with.
func (ex *Executor) MaxBatchSize() int  { return ex.maxBatchSize }
func (ex *Executor) MaxBatchBytes() int { return ex.maxBatchBytes }

// Execute runs cmds and returns one Response per Command, in order, plus
// fatal=true if this call just discovered a WAL write failure (distinct
// from an already-read-only executor, or a merely overloaded queue) — the
// spec's "the connection is closed" for the batch that witnessed the
// failure (spec §4.4), as opposed to every later batch on other
// connections, which simply gets read-only ERROR responses. cmds that
// already carry a parse error (codec.Command.Err != nil) are turned
// directly into RespError without being routed anywhere. The caller must
// have already checked CheckBatchLimits.
func (ex *Executor) Execute(ctx context.Context, cmds []codec.Command) (responses []codec.Response, fatal bool) {
	responses = make([]codec.Response, len(cmds))

	var mutIdx []int
	var records []wal.Record
	for i, c := range cmds {
		if c.Err != nil {
			responses[i] = codec.Response{Kind: codec.RespError, Message: c.Err.Error()}
			continue
		}
		if rec, ok := ex.toRecord(c); ok {
			mutIdx = append(mutIdx, i)
			records = append(records, rec)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ex.runReads(cmds, 0, responses)
	}()

	fatal = ex.runMutations(ctx, cmds, 0, mutIdx, records, responses)
	wg.Wait()

	return responses, fatal
}

// toRecord builds the WAL record a mutation command would produce, or
// reports ok=false for commands that are not mutations (or already errored).
func (ex *Executor) toRecord(c codec.Command) (wal.Record, bool) {
	switch c.Kind {
	case codec.KindPut:
		return wal.Record{Op: wal.OpSet, Key: c.Key, Value: c.Value, ExpiresAtMS: ex.expiresAt(c.TTLSeconds)}, true
	case codec.KindDel:
		return wal.Record{Op: wal.OpDelete, Key: c.Key}, true
	case codec.KindExpire:
		return wal.Record{Op: wal.OpExpire, Key: c.Key, ExpiresAtMS: ex.expiresAt(c.TTLSeconds)}, true
	default:
		return wal.Record{}, false
	}
}

func (ex *Executor) expiresAt(ttlSeconds uint32) int64 {
	if ttlSeconds == 0 {
		return 0
	}
	return ex.clock.NowMillis() + int64(ttlSeconds)*1000
}

// runMutations appends every mutation in the chunk to the WAL as a single
// group, then applies each one to the shard index in original order. It
// reports fatal=true only when this call is the one that newly discovered
// a WAL write failure.
func (ex *Executor) runMutations(ctx context.Context, cmds []codec.Command, offset int, mutIdx []int, records []wal.Record, responses []codec.Response) (fatal bool) {
	if len(mutIdx) == 0 {
		return false
	}

	if ex.readOnly.Load() {
		ex.failMutations(mutIdx, offset, responses, "durability")
		return false
	}

	if ex.log != nil {
		if err := ex.log.AppendBatch(ctx, records); err != nil {
			switch err {
			case wal.ErrOverloaded:
				ex.failMutations(mutIdx, offset, responses, "overloaded")
				return false
			default:
				ex.readOnly.Store(true)
				ex.logger.Error("wal append failed, entering read-only mode", zap.Error(err))
				if r, ok := ex.metrics.(readOnlyTransitioner); ok {
					r.WALReadOnlyTransition()
				}
				ex.failMutations(mutIdx, offset, responses, "durability")
				return true
			}
		}
	}

	for j, i := range mutIdx {
		responses[offset+i] = ex.applyMutation(cmds[i], records[j])
	}
	return false
}

func (ex *Executor) failMutations(mutIdx []int, offset int, responses []codec.Response, message string) {
	for _, i := range mutIdx {
		responses[offset+i] = codec.Response{Kind: codec.RespError, Message: message}
	}
}

func (ex *Executor) applyMutation(c codec.Command, rec wal.Record) codec.Response {
	switch c.Kind {
	case codec.KindPut:
		stored, err := ex.index.Set(c.Key, c.Value, rec.ExpiresAtMS)
		if err != nil {
			return codec.Response{Kind: codec.RespError, Message: err.Error()}
		}
		if !stored {
			// Rejected by the admission filter, not an error: the write
			// simply didn't displace anything colder (spec §4.2).
			return codec.Response{Kind: codec.RespError, Message: "rejected"}
		}
		return codec.Response{Kind: codec.RespOK}

	case codec.KindDel:
		if !ex.index.Delete(c.Key) {
			return codec.Response{Kind: codec.RespNull}
		}
		return codec.Response{Kind: codec.RespOK}

	case codec.KindExpire:
		if !ex.index.Expire(c.Key, rec.ExpiresAtMS) {
			// Absent or already-expired key: a normal result, not an error
			// (spec §7, §8).
			return codec.Response{Kind: codec.RespNull}
		}
		return codec.Response{Kind: codec.RespOK}

	default:
		return codec.Response{Kind: codec.RespError, Message: "internal: not a mutation"}
	}
}

// runReads serves PING/GET/STATS directly against the index, independent
// of the WAL round trip happening concurrently in runMutations.
func (ex *Executor) runReads(cmds []codec.Command, offset int, responses []codec.Response) {
	for i, c := range cmds {
		if c.Err != nil {
			continue
		}
		switch c.Kind {
		case codec.KindPing:
			responses[offset+i] = codec.Response{Kind: codec.RespPong}
		case codec.KindGet:
			if v, ok := ex.index.Get(c.Key); ok {
				responses[offset+i] = codec.Response{Kind: codec.RespValue, Value: v}
			} else {
				responses[offset+i] = codec.Response{Kind: codec.RespNull}
			}
		case codec.KindStats:
			responses[offset+i] = codec.Response{Kind: codec.RespStats, Message: ex.statsLine()}
		}
	}
}

func (ex *Executor) statsLine() string {
	c := ex.snapshotter.Snapshot()
	return metrics.Render(metrics.Source{
		Entries:    ex.index.Len(),
		UsedBytes:  ex.index.UsedBytes(),
		NumShards:  ex.index.NumShards(),
		Hits:       c.Hits,
		Misses:     c.Misses,
		Rejected:   c.AdmissionRejected,
		Expired:    c.Expired,
		ReadOnly:   ex.readOnly.Load(),
		ShardSizes: ex.index.ShardSizes(),
	})
}
