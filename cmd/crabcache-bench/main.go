// Command crabcache-bench drives a synthetic Zipf-skewed workload against
// a running crabcached instance over its text wire dialect, adapted from
// the prior cmd/bench (worker pool, per-worker rand.Rand/rand.Zipf,
// atomic counters, final report) generalized from in-process cache calls
// to network round trips.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		addr     = flag.String("addr", "127.0.0.1:7000", "crabcached TCP address")
		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 100_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries over one connection before the timed run (0 = keys/2)")
		valSize = flag.Int("valsize", 32, "value size in bytes")
	)
	flag.Parse()

	if err := run(*addr, *workers, *duration, *readPct, *keys, *zipfS, *zipfV, *seed, *preload, *valSize); err != nil {
		fmt.Println("crabcache-bench:", err)
	}
}

func run(addr string, workers int, duration time.Duration, readPct, keys int, zipfS, zipfV float64, seed int64, preload, valSize int) error {
	if workers <= 0 {
		workers = 1
	}
	if preload == 0 {
		preload = keys / 2
	}
	value := make([]byte, valSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}

	if err := preloadKeys(addr, preload, value); err != nil {
		return fmt.Errorf("preload: %w", err)
	}

	keysMax := uint64(keys - 1)
	var reads, writes, hits, misses, errs, total uint64

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for id := 0; id < workers; id++ {
		go func(id int) {
			defer wg.Done()
			worker(ctx, addr, id, seed, zipfS, zipfV, keysMax, readPct, value,
				&reads, &writes, &hits, &misses, &errs, &total)
		}(id)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	errsN := atomic.LoadUint64(&errs)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}

	fmt.Printf("addr=%s workers=%d keys=%d dur=%v seed=%d\n", addr, workers, keys, elapsed, seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  errors=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, errsN)
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, missesN, hitRate)
	return nil
}

// preloadKeys fills the keyspace over a single connection before the timed
// run, giving the admission filter and LRU lists a realistic warm state
// (grounded on the prior cmd/bench preload step).
func preloadKeys(addr string, n int, value []byte) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	r := bufio.NewReader(conn)
	for i := 0; i < n; i++ {
		if _, err := fmt.Fprintf(conn, "PUT k:%d %s\n", i, value); err != nil {
			return err
		}
		if _, err := r.ReadString('\n'); err != nil {
			return err
		}
	}
	return nil
}

func worker(ctx context.Context, addr string, id int, seed int64, zipfS, zipfV float64, keysMax uint64, readPct int, value []byte,
	reads, writes, hits, misses, errs, total *uint64) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		atomic.AddUint64(errs, 1)
		return
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	localR := rand.New(rand.NewSource(seed + int64(id)*9973))
	localZipf := rand.NewZipf(localR, zipfS, zipfV, keysMax)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		atomic.AddUint64(total, 1)
		key := localZipf.Uint64()

		if int(localR.Int31n(100)) < readPct {
			atomic.AddUint64(reads, 1)
			if _, err := fmt.Fprintf(conn, "GET k:%d\n", key); err != nil {
				atomic.AddUint64(errs, 1)
				return
			}
			line, err := r.ReadString('\n')
			if err != nil {
				atomic.AddUint64(errs, 1)
				return
			}
			if line == "NULL\n" {
				atomic.AddUint64(misses, 1)
			} else {
				atomic.AddUint64(hits, 1)
			}
		} else {
			atomic.AddUint64(writes, 1)
			if _, err := fmt.Fprintf(conn, "PUT k:%d %s\n", key, value); err != nil {
				atomic.AddUint64(errs, 1)
				return
			}
			if _, err := r.ReadString('\n'); err != nil {
				atomic.AddUint64(errs, 1)
				return
			}
		}
	}
}
