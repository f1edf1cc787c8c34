package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/lockwatch/lockwatch/internal/logger"
)

// Task is a periodically scheduled unit of work. Runs for the same task never
// overlap, across the fleet when a distributed lock is configured.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string

	// LockKey keys the single-runner lock. Tasks sharing a key never overlap;
	// empty means the task name.
	LockKey string

	// Interval is the scheduling cadence.
	Interval time.Duration

	// Run does the work. The context carries the hard time limit.
	Run func(ctx context.Context) error
}

func (t *Task) lockKey() string {
	if t.LockKey != "" {
		return t.LockKey
	}
	return t.Name
}

// Scheduler drives registered tasks on their cadence. No error or panic ever
// escapes a scheduled invocation; failures are logged and the next tick
// retries.
type Scheduler struct {
	lock RunnerLock
	log  *logger.Logger

	softTimeout time.Duration
	hardTimeout time.Duration

	tasks []Task
}

// New creates a Scheduler. softTimeout only warns; hardTimeout cancels the
// task context and bounds a stuck run.
func New(lock RunnerLock, softTimeout, hardTimeout time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		lock:        lock,
		log:         log.WithComponent("scheduler"),
		softTimeout: softTimeout,
		hardTimeout: hardTimeout,
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(task Task) {
	s.tasks = append(s.tasks, task)
	s.log.Infof("registered periodic task %s (every %s)", task.Name, task.Interval)
}

// Start runs all registered tasks until the context is cancelled. Each task
// fires once immediately, then on its interval.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, task := range s.tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()

			ticker := time.NewTicker(task.Interval)
			defer ticker.Stop()

			s.runTask(ctx, task)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runTask(ctx, task)
				}
			}
		}(task)
	}

	wg.Wait()
}

// runTask executes one invocation under the single-runner lock and the time
// limits.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	release, acquired, err := s.lock.TryAcquire(ctx, task.lockKey(), s.hardTimeout)
	if err != nil {
		s.log.Errorw("failed to acquire task lock", "task", task.Name, "error", err)
		TaskErrorInc(task.Name)
		return
	}
	if !acquired {
		// Another runner holds the lock; skip silently.
		s.log.Debugw("task lock contended, skipping run", "task", task.Name)
		TaskSkippedInc(task.Name)
		return
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, s.hardTimeout)
	defer cancel()

	start := time.Now()
	softWarn := time.AfterFunc(s.softTimeout, func() {
		s.log.Warnw("task exceeded soft time limit", "task", task.Name, "soft_timeout", s.softTimeout)
	})
	defer softWarn.Stop()

	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("task panicked", "task", task.Name, "panic", r)
			TaskErrorInc(task.Name)
		}
	}()

	TaskRunInc(task.Name)
	if err := task.Run(runCtx); err != nil {
		s.log.Errorw("task failed", "task", task.Name, "error", err, "elapsed", time.Since(start))
		TaskErrorInc(task.Name)
		return
	}

	s.log.Debugw("task finished", "task", task.Name, "elapsed", time.Since(start))
}
