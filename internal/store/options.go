package store

import "time"

// EvictReason explains why an entry left a shard, grounded on
// cache/options.go's EvictReason enum, narrowed to the reasons CrabCache's
// spec actually distinguishes (no cost-based eviction: capacity is the only
// non-TTL eviction cause here, admission itself is a rejection, not an
// eviction of a resident key).
type EvictReason int

const (
	// EvictCapacity — the LRU tail was evicted to admit a newcomer that won
	// the admission filter's comparison.
	EvictCapacity EvictReason = iota
	// EvictTTL — removed lazily or by the sweeper because its TTL elapsed.
	EvictTTL
	// EvictExplicit — removed by a client DEL.
	EvictExplicit
)

// String renders the reason the way the metrics adapter's label values do.
func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictTTL:
		return "ttl"
	case EvictExplicit:
		return "explicit"
	default:
		return "unknown"
	}
}

// Clock provides the monotonic millisecond time source shards use for TTL
// comparisons. Swappable in tests, grounded on cache.Clock
// (cache/options.go), narrowed to milliseconds per spec §4.3
// ("TTLs accepted from clients are seconds; internal representation is
// milliseconds").
type Clock interface {
	NowMillis() int64
}

// systemClock is the default Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// SystemClock is the production Clock used when no override is supplied.
var SystemClock Clock = systemClock{}
