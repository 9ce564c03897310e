package store

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// TestRaceMixedWorkload drives concurrent Set/Get/Delete across a shared
// Index and must pass under `go test -race`, grounded on
// cache/race_test.go's TestRace_Basic adapted to the fixed []byte keyspace.
func TestRaceMixedWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping race workload in -short mode")
	}

	idx := NewIndex(Options{
		NumShards:             32,
		PerShardCapacityBytes: 1 << 20,
		CapacityHint:          256,
	})

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 5000
	deadline := time.Now().Add(200 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)*9973 + 17))
			for time.Now().Before(deadline) {
				key := []byte("k:" + strconv.Itoa(r.Intn(keyspace)))
				switch r.Intn(10) {
				case 0:
					idx.Delete(key)
				case 1, 2:
					idx.Set(key, []byte("x"), 0)
				default:
					idx.Get(key)
				}
			}
		}(w)
	}
	wg.Wait()
}
