package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingStore struct{ sweeps atomic.Int64 }

func (c *countingStore) Sweep() int {
	c.sweeps.Add(1)
	return 0
}

func TestSweeperRejectsBadSpec(t *testing.T) {
	if _, err := NewSweeper(&countingStore{}, "not a cron"); err == nil {
		t.Fatal("want parse error")
	}
}

func TestSweeperFiresOnSchedule(t *testing.T) {
	store := &countingStore{}
	sweeper, err := NewSweeper(store, "* * * * * * *") // every second
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)
	if store.sweeps.Load() < 1 {
		t.Error("sweeper never fired")
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	sweeper, err := NewSweeper(&countingStore{}, "0 0 * * *")
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
