// Package ttl runs the background sweep that reclaims expired entries the
// store's lazy (on-access) expiration never happens to touch (spec §4.3).
// Lookups remain correct without the sweeper — it is a hint that keeps
// idle, never-read keys from lingering in memory indefinitely, not a
// source of truth.
package ttl

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Index is the subset of store.Index the sweeper needs, kept narrow so
// this package doesn't import internal/store and tests can fake it.
type Index interface {
	SweepExpired(nowMS int64, perShardBudget time.Duration) (examined, removed int)
}

// Clock supplies the sweeper's notion of "now", overridable in tests.
type Clock func() int64

// Sweeper periodically reclaims expired entries across every shard, each
// tick bounded to a wall-clock budget per shard so a large keyspace never
// turns a sweep into a latency spike for concurrent client operations.
type Sweeper struct {
	index  Index
	clock  Clock
	log    *zap.Logger
	tick   time.Duration
	budget time.Duration
}

// New builds a Sweeper. tick is the interval between sweep passes; budget
// is the maximum wall-clock time spent per shard per pass.
func New(index Index, tick, budget time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		index:  index,
		clock:  func() int64 { return time.Now().UnixMilli() },
		log:    log,
		tick:   tick,
		budget: budget,
	}
}

// Run drives the sweep loop until ctx is canceled. It is meant to be
// launched as one goroutine per process (the Index already fans the sweep
// out across its own shards internally).
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	start := time.Now()
	examined, removed := s.index.SweepExpired(s.clock(), s.budget)
	if removed > 0 {
		s.log.Debug("ttl sweep",
			zap.Int("examined", examined),
			zap.Int("removed", removed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
