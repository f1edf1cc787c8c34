package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestLocalLock_TryAcquire(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()

	release, acquired, err := lock.TryAcquire(ctx, "task", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NotNil(t, release)

	// Contending acquisition is skipped, not blocked.
	_, acquired, err = lock.TryAcquire(ctx, "task", time.Minute)
	require.NoError(t, err)
	require.False(t, acquired)

	// A different task name is independent.
	release2, acquired, err := lock.TryAcquire(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	release2()

	release()

	_, acquired, err = lock.TryAcquire(ctx, "task", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestScheduler_RunsTaskOnInterval(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	sched := New(NewLocalLock(), time.Minute, 2*time.Minute, log)

	var runs atomic.Int32
	sched.Register(Task{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	// One immediate run plus several ticks.
	require.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestScheduler_TaskErrorDoesNotEscape(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	sched := New(NewLocalLock(), time.Minute, 2*time.Minute, log)

	var runs atomic.Int32
	sched.Register(Task{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	// Failures are logged and the next tick retries.
	require.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestScheduler_TaskPanicIsRecovered(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	sched := New(NewLocalLock(), time.Minute, 2*time.Minute, log)

	var runs atomic.Int32
	sched.Register(Task{
		Name:     "panicking",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	require.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestScheduler_SharedLockKeyPreventsOverlap(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	sched := New(NewLocalLock(), time.Minute, 2*time.Minute, log)

	var concurrent, peak atomic.Int32
	run := func(ctx context.Context) error {
		now := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		return nil
	}

	sched.Register(Task{Name: "a", LockKey: "shared", Interval: 5 * time.Millisecond, Run: run})
	sched.Register(Task{Name: "b", LockKey: "shared", Interval: 5 * time.Millisecond, Run: run})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	require.Equal(t, int32(1), peak.Load())
}

func TestScheduler_HardTimeoutCancelsTask(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	sched := New(NewLocalLock(), 5*time.Millisecond, 20*time.Millisecond, log)

	var sawDeadline atomic.Bool
	sched.Register(Task{
		Name:     "stuck",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			sawDeadline.Store(true)
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sched.Start(ctx)

	require.True(t, sawDeadline.Load())
}
