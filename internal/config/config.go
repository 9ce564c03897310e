// Package config defines CrabCache's runtime configuration: the knobs
// enumerated below plus the defaults that make a bare startup yield a
// working, durable cache.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/crabcache/crabcache/internal/util"
)

// SyncPolicy controls when the WAL acknowledges a durable write.
type SyncPolicy int

const (
	// SyncAlways fsyncs before acknowledging the batch. Strongest durability.
	SyncAlways SyncPolicy = iota
	// SyncAsync acknowledges once bytes reach OS buffers; a flusher fsyncs
	// at a bounded interval.
	SyncAsync
	// SyncNone never fsyncs. Tests only.
	SyncNone
)

// String implements fmt.Stringer for log lines and STATS payloads.
func (p SyncPolicy) String() string {
	switch p {
	case SyncAlways:
		return "sync"
	case SyncAsync:
		return "async"
	case SyncNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseSyncPolicy parses the config string form ("sync", "async", "none").
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	switch s {
	case "sync":
		return SyncAlways, nil
	case "async":
		return SyncAsync, nil
	case "none":
		return SyncNone, nil
	default:
		return SyncAlways, fmt.Errorf("config: unknown wal sync policy %q (want sync|async|none)", s)
	}
}

// Config bundles every knob recognized by the core, per spec §6.
type Config struct {
	ListenAddr string

	NumShards             int
	PerShardCapacityBytes int64
	MaxKeyLen             int
	MaxValueLen           int

	TTLSweepIntervalMS   int
	TTLSweepBudgetPerTick time.Duration

	MaxBatchSize  int
	MaxBatchBytes int

	WALEnabled               bool
	WALDir                   string
	WALSegmentBytes          int64
	WALSyncPolicy            SyncPolicy
	WALAsyncFlushIntervalMS  int
	WALQueueCapacity         int

	IdleTimeoutMS     int
	OutboundBufferBytes int
}

// Default returns a Config whose values satisfy "a bare startup yields a
// working cache with durable WAL" (spec §6).
func Default() Config {
	return Config{
		ListenAddr: "127.0.0.1:7000",

		NumShards:             64,
		PerShardCapacityBytes: 16 << 20, // 16 MiB/shard => 1 GiB total at 64 shards
		MaxKeyLen:             1024,
		MaxValueLen:           1 << 20, // 1 MiB

		TTLSweepIntervalMS:    1000,
		TTLSweepBudgetPerTick: 2 * time.Millisecond,

		MaxBatchSize:  1024,
		MaxBatchBytes: 4 << 20,

		WALEnabled:              true,
		WALDir:                  "crabcache-data",
		WALSegmentBytes:         64 << 20,
		WALSyncPolicy:           SyncAlways,
		WALAsyncFlushIntervalMS: 100,
		WALQueueCapacity:        4096,

		IdleTimeoutMS:       0, // disabled by default
		OutboundBufferBytes: 1 << 20,
	}
}

// Validate checks invariants the rest of the core assumes hold (power-of-two
// shard count, positive sizes, etc). It does not open files or sockets.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.NumShards <= 0 || !util.IsPowerOfTwo(uint64(c.NumShards)) {
		return fmt.Errorf("config: num_shards must be a power of two, got %d", c.NumShards)
	}
	if c.PerShardCapacityBytes <= 0 {
		return fmt.Errorf("config: per_shard_capacity_bytes must be > 0")
	}
	if c.MaxKeyLen <= 0 {
		return fmt.Errorf("config: max_key_len must be > 0")
	}
	if c.MaxValueLen < 0 {
		return fmt.Errorf("config: max_value_len must be >= 0")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("config: max_batch_size must be > 0")
	}
	if c.MaxBatchBytes <= 0 {
		return fmt.Errorf("config: max_batch_bytes must be > 0")
	}
	if c.WALEnabled {
		if c.WALDir == "" {
			return fmt.Errorf("config: wal_dir must not be empty when wal_enabled")
		}
		if c.WALSegmentBytes <= 0 {
			return fmt.Errorf("config: wal_segment_bytes must be > 0")
		}
		if c.WALQueueCapacity <= 0 {
			return fmt.Errorf("config: wal_queue_capacity must be > 0")
		}
	}
	if c.OutboundBufferBytes <= 0 {
		return fmt.Errorf("config: outbound_buffer_bytes must be > 0")
	}
	return nil
}

// RegisterFlags binds Config fields to flag.FlagSet in the style of the
// teacher's cmd/bench flag set: one flag per tunable, defaults pre-seeded.
// Call ResolveFlags after fs.Parse to turn the sync-policy string into a
// SyncPolicy value.
func (c *Config) RegisterFlags(fs *flag.FlagSet) *string {
	if c.ListenAddr == "" {
		*c = Default()
	}

	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "TCP listen address")
	fs.IntVar(&c.NumShards, "shards", c.NumShards, "number of shards (power of two)")
	fs.Int64Var(&c.PerShardCapacityBytes, "shard-capacity-bytes", c.PerShardCapacityBytes, "per-shard capacity in bytes")
	fs.IntVar(&c.MaxKeyLen, "max-key-len", c.MaxKeyLen, "maximum key length in bytes")
	fs.IntVar(&c.MaxValueLen, "max-value-len", c.MaxValueLen, "maximum value length in bytes")
	fs.IntVar(&c.TTLSweepIntervalMS, "ttl-sweep-interval-ms", c.TTLSweepIntervalMS, "TTL sweeper tick interval")
	fs.DurationVar(&c.TTLSweepBudgetPerTick, "ttl-sweep-budget", c.TTLSweepBudgetPerTick, "TTL sweeper wall-clock budget per shard per tick")
	fs.IntVar(&c.MaxBatchSize, "max-batch-size", c.MaxBatchSize, "maximum commands per pipelined batch")
	fs.IntVar(&c.MaxBatchBytes, "max-batch-bytes", c.MaxBatchBytes, "maximum bytes per pipelined batch")
	fs.BoolVar(&c.WALEnabled, "wal", c.WALEnabled, "enable the write-ahead log")
	fs.StringVar(&c.WALDir, "wal-dir", c.WALDir, "WAL segment directory")
	fs.Int64Var(&c.WALSegmentBytes, "wal-segment-bytes", c.WALSegmentBytes, "WAL segment rotation size")
	fs.IntVar(&c.WALAsyncFlushIntervalMS, "wal-async-flush-interval-ms", c.WALAsyncFlushIntervalMS, "fsync interval under async policy")
	fs.IntVar(&c.WALQueueCapacity, "wal-queue-capacity", c.WALQueueCapacity, "bound on pending WAL batches")
	fs.IntVar(&c.IdleTimeoutMS, "idle-timeout-ms", c.IdleTimeoutMS, "idle connection timeout (0=disabled)")
	fs.IntVar(&c.OutboundBufferBytes, "outbound-buffer-bytes", c.OutboundBufferBytes, "per-connection outbound buffer bound")

	policy := fs.String("wal-sync-policy", c.WALSyncPolicy.String(), "wal sync policy: sync|async|none")
	return policy
}

// ResolveFlags parses the string returned by RegisterFlags into c.WALSyncPolicy.
// Call after fs.Parse.
func (c *Config) ResolveFlags(policy *string) error {
	p, err := ParseSyncPolicy(*policy)
	if err != nil {
		return err
	}
	c.WALSyncPolicy = p
	return nil
}
