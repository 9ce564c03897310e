package ttl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeIndex struct {
	calls  atomic.Int64
	remove int
}

func (f *fakeIndex) SweepExpired(nowMS int64, budget time.Duration) (examined, removed int) {
	f.calls.Add(1)
	return 10, f.remove
}

func TestSweeperRunsUntilCanceled(t *testing.T) {
	idx := &fakeIndex{remove: 3}
	s := New(idx, 5*time.Millisecond, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	s.Run(ctx)

	if idx.calls.Load() == 0 {
		t.Fatal("sweeper should have invoked SweepExpired at least once")
	}
}

func TestSweeperStopsPromptlyOnCancel(t *testing.T) {
	idx := &fakeIndex{}
	s := New(idx, time.Hour, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancel")
	}
}
