package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	base := 30 * time.Second
	ceiling := 3600 * time.Second

	assert.Equal(t, 30*time.Second, Backoff(base, 0, ceiling))
	assert.Equal(t, 60*time.Second, Backoff(base, 1, ceiling))
	assert.Equal(t, 960*time.Second, Backoff(base, 5, ceiling))
	// Exponent caps at 5 even as failures keep climbing.
	assert.Equal(t, 960*time.Second, Backoff(base, 9, ceiling))
	// Result caps at the ceiling.
	assert.Equal(t, ceiling, Backoff(20*time.Minute, 5, ceiling))
}

func TestSchedulerRunsTasks(t *testing.T) {
	s := New(10*time.Millisecond, time.Hour, time.Second)
	var runs atomic.Int64
	s.Register(Task{
		Name:     "counter",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, runs.Load(), int64(3))

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, runs.Load(), stats[0].Runs)
	assert.Zero(t, stats[0].Failures)
}

func TestSchedulerBacksOffFailingTask(t *testing.T) {
	s := New(5*time.Millisecond, time.Hour, time.Second)
	var runs atomic.Int64
	s.Register(Task{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	// 10ms, then 20ms, 40ms, 80ms... far fewer runs than a healthy task
	// would manage in the window.
	assert.LessOrEqual(t, runs.Load(), int64(6))
	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, stats[0].Runs, stats[0].Failures)
	assert.Error(t, stats[0].LastErr)
}

func TestSchedulerSkipsRunningTask(t *testing.T) {
	s := New(5*time.Millisecond, time.Hour, time.Second)
	var concurrent, max atomic.Int64
	s.Register(Task{
		Name:     "slow",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			cur := concurrent.Add(1)
			defer concurrent.Add(-1)
			for {
				old := max.Load()
				if cur <= old || max.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	assert.Equal(t, int64(1), max.Load())
}

func TestSchedulerRecoversFromPanic(t *testing.T) {
	s := New(5*time.Millisecond, time.Hour, time.Second)
	var runs atomic.Int64
	s.Register(Task{
		Name:     "panicky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			panic("kaboom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NotPanics(t, func() { _ = s.Run(ctx) })
	assert.GreaterOrEqual(t, runs.Load(), int64(1))
	assert.GreaterOrEqual(t, s.Stats()[0].Failures, int64(1))
}

func TestSchedulerDrainsInFlightTasks(t *testing.T) {
	s := New(5*time.Millisecond, time.Hour, time.Second)
	var finished atomic.Bool
	s.Register(Task{
		Name:     "inflight",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)
	// Run only returns after the in-flight task completed.
	assert.True(t, finished.Load())
}

func TestRegisterRejectsInvalidTask(t *testing.T) {
	s := New(time.Second, time.Hour, time.Second)
	s.Register(Task{Name: "no-run", Interval: time.Second})
	s.Register(Task{Name: "no-interval", Run: func(ctx context.Context) error { return nil }})
	assert.Empty(t, s.Stats())
}
