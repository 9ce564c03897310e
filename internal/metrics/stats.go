// Package metrics renders CrabCache's CMD_STATS payload: a deterministic
// key=value document, not JSON, so the wire payload itself stays
// dependency-free even though the counters behind it are backed by the
// internal Prometheus registry (internal/metrics/prom). Schema is not
// mandated beyond a fixed minimal field set; this
// is that fixed set.
package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Counters is a point-in-time read of the per-op counters a CMD_STATS
// payload must carry (spec §6). internal/metrics/prom.Adapter produces
// these from its mirrored atomics; NoopSnapshotter produces a zero value
// when no metrics sink is wired.
type Counters struct {
	Hits, Misses, AdmissionRejected, Expired uint64
}

// Snapshotter is the narrow read side of a metrics sink that Render needs;
// internal/metrics/prom.Adapter implements it without this package
// depending on Prometheus.
type Snapshotter interface {
	Snapshot() Counters
}

// NoopSnapshotter always reports zero counters, for executors built
// without a metrics sink.
type NoopSnapshotter struct{}

func (NoopSnapshotter) Snapshot() Counters { return Counters{} }

// Source supplies the fields a STATS payload must carry, combining a
// Counters snapshot with the store.Index facts the caller already has on
// hand (internal/executor holds the *store.Index directly, so it reads
// Entries/UsedBytes/NumShards/ShardSizes off that rather than round
// tripping them through a metrics sink).
type Source struct {
	Entries    int
	UsedBytes  int64
	NumShards  int
	Hits       uint64
	Misses     uint64
	Rejected   uint64
	Expired    uint64
	ReadOnly   bool
	ShardSizes []int // per-shard entry counts, in shard index order
}

// Render produces the STATS payload: space-separated key=value pairs in a
// fixed, alphabetically-stable field order so scripts parsing it don't
// need to handle field reordering across versions.
func Render(s Source) string {
	total := s.Hits + s.Misses
	hitRatio := 0.0
	if total > 0 {
		hitRatio = float64(s.Hits) / float64(total)
	}

	fields := map[string]string{
		"entries":            fmt.Sprintf("%d", s.Entries),
		"used_bytes":         fmt.Sprintf("%d", s.UsedBytes),
		"shards":             fmt.Sprintf("%d", s.NumShards),
		"hits":               fmt.Sprintf("%d", s.Hits),
		"misses":             fmt.Sprintf("%d", s.Misses),
		"hit_ratio":          fmt.Sprintf("%.4f", hitRatio),
		"admission_rejected": fmt.Sprintf("%d", s.Rejected),
		"expired":            fmt.Sprintf("%d", s.Expired),
		"read_only":          fmt.Sprintf("%t", s.ReadOnly),
		"shard_sizes":        shardSizesField(s.ShardSizes),
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, " ")
}

func shardSizesField(sizes []int) string {
	if len(sizes) == 0 {
		return "-"
	}
	parts := make([]string, len(sizes))
	for i, n := range sizes {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return strings.Join(parts, ",")
}
