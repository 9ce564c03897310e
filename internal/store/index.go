// Package store implements CrabCache's sharded key/value index: per-shard
// maps with intrusive MRU/LRU lists, byte-based capacity accounting, and
// TinyLFU admission gating, adapted from the cache package
// (_examples/IvanBrykalov-shardcache/cache) generalized from a generic
// library cache to a fixed []byte/[]byte keyspace.
package store

import (
	"errors"
	"time"

	"github.com/crabcache/crabcache/internal/util"
)

// ErrKeyTooLarge is returned by Set when a key/value pair's size_cost alone
// exceeds a single shard's capacity and could never be admitted regardless
// of eviction (spec §4.1 edge case).
var ErrKeyTooLarge = errors.New("store: entry size exceeds shard capacity")

// Index is the sharded key/value store: it owns N independent shards and
// routes every key to exactly one via a hash of the key (spec §4.1).
type Index struct {
	shards []*shard
	mask   uint64
}

// Options configures an Index's construction.
type Options struct {
	NumShards             int
	PerShardCapacityBytes int64
	CapacityHint          int // expected resident keys per shard, sizes the admission sketch
	Metrics               Metrics
	Clock                 Clock
}

// NewIndex builds an Index with opt.NumShards shards, each individually
// capacity-bounded to opt.PerShardCapacityBytes. NumShards must be a power
// of two; config.Validate enforces this before NewIndex is ever called.
func NewIndex(opt Options) *Index {
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Clock == nil {
		opt.Clock = SystemClock
	}
	if opt.CapacityHint <= 0 {
		opt.CapacityHint = 1024
	}

	shards := make([]*shard, opt.NumShards)
	for i := range shards {
		shards[i] = newShard(opt.PerShardCapacityBytes, opt.CapacityHint, opt.Metrics, opt.Clock)
	}
	return &Index{
		shards: shards,
		mask:   uint64(opt.NumShards - 1),
	}
}

// Get looks up key, routing to its shard and promoting on hit.
func (idx *Index) Get(key []byte) ([]byte, bool) {
	return idx.shardFor(key).Get(key)
}

// Set inserts or updates key with an absolute expiresAtMS deadline (0 means
// no TTL). It reports whether the write was stored, rejected by the
// admission filter, or rejected for being larger than a shard can ever hold.
func (idx *Index) Set(key, value []byte, expiresAtMS int64) (stored bool, err error) {
	switch idx.shardFor(key).Set(key, value, expiresAtMS) {
	case setStored:
		return true, nil
	case setTooLarge:
		return false, ErrKeyTooLarge
	default: // setRejectedByAdmission
		return false, nil
	}
}

// Restore inserts or updates key unconditionally, bypassing admission
// gating, for replaying a WAL record during startup recovery (spec §4.5).
// Only a key/value pair too large for its shard to ever hold can still
// fail it.
func (idx *Index) Restore(key, value []byte, expiresAtMS int64) error {
	if idx.shardFor(key).Restore(key, value, expiresAtMS) == setTooLarge {
		return ErrKeyTooLarge
	}
	return nil
}

// Expire updates key's TTL in place, leaving its value untouched. Reports
// whether the key existed and had not already expired.
func (idx *Index) Expire(key []byte, expiresAtMS int64) bool {
	return idx.shardFor(key).Expire(key, expiresAtMS)
}

// Delete removes key explicitly. Returns true if it existed (and had not
// already lazily expired).
func (idx *Index) Delete(key []byte) bool {
	return idx.shardFor(key).Delete(key)
}

// Len returns the total resident entry count across every shard.
func (idx *Index) Len() int {
	total := 0
	for _, s := range idx.shards {
		total += s.Len()
	}
	return total
}

// UsedBytes returns the total byte accounting across every shard.
func (idx *Index) UsedBytes() int64 {
	var total int64
	for _, s := range idx.shards {
		total += s.UsedBytes()
	}
	return total
}

// ShardSizes returns the entry count of every shard, in shard-index order,
// for the CMD_STATS payload's per-shard item counts (spec §6).
func (idx *Index) ShardSizes() []int {
	sizes := make([]int, len(idx.shards))
	for i, s := range idx.shards {
		sizes[i] = s.Len()
	}
	return sizes
}

// NumShards returns the shard count the Index was constructed with.
func (idx *Index) NumShards() int { return len(idx.shards) }

// SweepExpired runs one TTL sweep tick across every shard, spending at most
// perShardBudget of wall-clock time per shard (spec §4.3). Called by
// internal/ttl.Sweeper.
func (idx *Index) SweepExpired(nowMS int64, perShardBudget time.Duration) (examined, removed int) {
	for _, s := range idx.shards {
		e, r := s.SweepExpired(nowMS, perShardBudget)
		examined += e
		removed += r
	}
	return examined, removed
}

// shardFor routes key to its owning shard via hash & (N-1) (spec §4.1).
func (idx *Index) shardFor(key []byte) *shard {
	h := util.KeyHash(key)
	return idx.shards[h&idx.mask]
}
