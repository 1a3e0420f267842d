package session

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestSweeperStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := NewStore()
	sweeper := NewSweeper(store, time.Hour, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestSweeperEvictsIdleSessions(t *testing.T) {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	storeNow := base
	store := NewStore().WithClock(func() time.Time { return storeNow })
	store.GetOrCreate(1, "Idle", "", "")

	sweeper := NewSweeper(store, time.Hour, time.Millisecond, nil)
	sweeper.clock = func() time.Time { return base.Add(2 * time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		sweeper.Run(ctx)
	}()

	deadline := time.After(time.Second)
	for store.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("expected idle session evicted")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
