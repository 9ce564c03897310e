// Command crabcached runs the CrabCache server: it loads configuration,
// recovers the write-ahead log into a fresh shard index, and serves the
// text/binary wire protocol over TCP until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crabcache/crabcache/internal/config"
	"github.com/crabcache/crabcache/internal/executor"
	"github.com/crabcache/crabcache/internal/metrics/prom"
	"github.com/crabcache/crabcache/internal/server"
	"github.com/crabcache/crabcache/internal/store"
	"github.com/crabcache/crabcache/internal/ttl"
	"github.com/crabcache/crabcache/internal/wal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "crabcached:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	fs := flag.NewFlagSet("crabcached", flag.ExitOnError)
	syncPolicy := cfg.RegisterFlags(fs)
	devLog := fs.Bool("dev-log", false, "use zap's human-readable development encoder instead of JSON")
	fs.Parse(os.Args[1:])

	if err := cfg.ResolveFlags(syncPolicy); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := newLogger(*devLog)
	if err != nil {
		return fmt.Errorf("crabcached: build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("received signal, shutting down", zap.String("signal", s.String()))
		cancel()
	}()

	storeMetrics := prom.New(nil, "crabcache", "store", nil)

	idx := store.NewIndex(store.Options{
		NumShards:             cfg.NumShards,
		PerShardCapacityBytes: cfg.PerShardCapacityBytes,
		Metrics:               storeMetrics,
	})

	var w *wal.WAL
	if cfg.WALEnabled {
		w, err = wal.Open(cfg, log.Named("wal"))
		if err != nil {
			return fmt.Errorf("crabcached: open wal: %w", err)
		}
		w.SetMetrics(storeMetrics)
		defer w.Close()

		replayed := 0
		if err := w.Recover(func(rec wal.Record) error {
			replayed++
			return applyRecovered(idx, rec)
		}); err != nil {
			return fmt.Errorf("crabcached: wal recovery: %w", err)
		}
		log.Info("wal recovery complete", zap.Int("records_replayed", replayed))

		go w.RunAsyncFlusher(ctx)
	}

	ex := executor.New(idx, w, cfg, storeMetrics, storeMetrics, log.Named("executor"))

	sweeper := ttl.New(idx, time.Duration(cfg.TTLSweepIntervalMS)*time.Millisecond, cfg.TTLSweepBudgetPerTick, log.Named("ttl"))
	go sweeper.Run(ctx)

	srv := server.New(cfg, ex, log.Named("server"))
	log.Info("starting crabcached",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Int("shards", cfg.NumShards),
		zap.Bool("wal_enabled", cfg.WALEnabled),
		zap.String("wal_sync_policy", cfg.WALSyncPolicy.String()),
	)
	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("crabcached: serve: %w", err)
	}
	return nil
}

// applyRecovered replays one WAL record into idx during startup recovery.
// OpSet goes through Index.Restore rather than Index.Set: a record in the
// log already implies the write was accepted once, so replay must bypass
// admission denial instead of re-running it against a cold sketch (spec
// §4.5; see also the durability invariant in spec §8 — a PUT acknowledged
// before a crash must not silently vanish on restart because the shard it
// lands in happens to be near capacity during replay).
func applyRecovered(idx *store.Index, rec wal.Record) error {
	switch rec.Op {
	case wal.OpSet:
		return idx.Restore(rec.Key, rec.Value, rec.ExpiresAtMS)
	case wal.OpDelete:
		idx.Delete(rec.Key)
		return nil
	case wal.OpExpire:
		idx.Expire(rec.Key, rec.ExpiresAtMS)
		return nil
	default:
		return fmt.Errorf("crabcached: unknown wal op %d at lsn %d", rec.Op, rec.LSN)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
