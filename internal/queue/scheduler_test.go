package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsPeriodicJobs(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	var runs atomic.Int64
	sched := NewScheduler(pool, nil)
	sched.Register(PeriodicJob{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Lane:     LaneMaintenanceLow,
		Run: func(ctx context.Context) (any, error) {
			runs.Add(1)
			return nil, nil
		},
	})
	sched.Start(ctx)

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("job ran %d times, want at least 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	sched.Stop()
}

func TestSchedulerSkipsZeroInterval(t *testing.T) {
	pool := NewPool(PoolConfig{Workers: 1})
	sched := NewScheduler(pool, nil)

	var runs atomic.Int64
	sched.Register(PeriodicJob{
		Name: "never",
		Run: func(ctx context.Context) (any, error) {
			runs.Add(1)
			return nil, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	time.Sleep(30 * time.Millisecond)
	sched.Stop()
	if runs.Load() != 0 {
		t.Errorf("zero-interval job ran %d times", runs.Load())
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	sched := NewScheduler(NewPool(PoolConfig{Workers: 1}), nil)
	sched.Stop()
	sched.Stop()
}
