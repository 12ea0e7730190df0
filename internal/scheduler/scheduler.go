// Package scheduler runs the engine's periodic maintenance tasks: order
// reconciliation, position sync, health and consistency checks.
package scheduler

import (
	"context"
	"sync"
	"time"

	"talon/internal/logger"
)

// Task is a named periodic job. Run errors push the task into exponential
// backoff; a success resets it to its normal interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type taskState struct {
	Task
	running  bool
	nextRun  time.Time
	errCount int
	runs     int64
	failures int64
	lastErr  error
	lastRun  time.Time
}

// TaskStats is a point-in-time view of one task.
type TaskStats struct {
	Name     string
	Runs     int64
	Failures int64
	LastRun  time.Time
	NextRun  time.Time
	LastErr  error
}

type Scheduler struct {
	tick           time.Duration
	backoffCeiling time.Duration
	drainTimeout   time.Duration

	mu    sync.Mutex
	tasks []*taskState
	wg    sync.WaitGroup
}

func New(tick, backoffCeiling, drainTimeout time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 5 * time.Second
	}
	if backoffCeiling <= 0 {
		backoffCeiling = time.Hour
	}
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Scheduler{tick: tick, backoffCeiling: backoffCeiling, drainTimeout: drainTimeout}
}

// Register adds a task. The first run happens on the first tick after start.
func (s *Scheduler) Register(t Task) {
	if t.Run == nil || t.Interval <= 0 {
		logger.Warnf("scheduler: ignoring invalid task %q", t.Name)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &taskState{Task: t, nextRun: time.Now()})
	logger.Infof("scheduler: registered task %q interval=%s", t.Name, t.Interval)
}

// Run drives the tick loop until ctx is cancelled, then waits for in-flight
// tasks to drain. Each due task runs in its own goroutine so one slow task
// cannot delay the rest.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.Infof("scheduler: started tick=%s ceiling=%s", s.tick, s.backoffCeiling)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case <-ticker.C:
			s.launchDue(ctx)
		}
	}
}

func (s *Scheduler) launchDue(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.tasks {
		if st.running || now.Before(st.nextRun) {
			continue
		}
		st.running = true
		s.wg.Add(1)
		go s.runTask(ctx, st)
	}
}

func (s *Scheduler) runTask(ctx context.Context, st *taskState) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("scheduler: task %q panicked: %v", st.Name, r)
			s.finish(st, nil, true)
		}
	}()

	start := time.Now()
	err := st.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.Warnf("scheduler: task %q failed after %s: %v",
			st.Name, time.Since(start).Round(time.Millisecond), err)
	}
	s.finish(st, err, false)
}

func (s *Scheduler) finish(st *taskState, err error, panicked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.running = false
	st.runs++
	st.lastRun = time.Now()
	if err != nil || panicked {
		st.failures++
		st.errCount++
		st.lastErr = err
		st.nextRun = st.lastRun.Add(Backoff(st.Interval, st.errCount, s.backoffCeiling))
		return
	}
	st.errCount = 0
	st.lastErr = nil
	st.nextRun = st.lastRun.Add(st.Interval)
}

// Backoff doubles the base interval per consecutive failure, with the
// exponent capped at 5 and the result capped at ceiling.
func Backoff(base time.Duration, errCount int, ceiling time.Duration) time.Duration {
	if errCount < 0 {
		errCount = 0
	}
	if errCount > 5 {
		errCount = 5
	}
	d := base * time.Duration(1<<errCount)
	if d > ceiling {
		return ceiling
	}
	return d
}

func (s *Scheduler) drain() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("scheduler: all tasks drained")
	case <-time.After(s.drainTimeout):
		logger.Warnf("scheduler: drain timed out after %s", s.drainTimeout)
	}
}

func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, st := range s.tasks {
		out = append(out, TaskStats{
			Name:     st.Name,
			Runs:     st.runs,
			Failures: st.failures,
			LastRun:  st.lastRun,
			NextRun:  st.nextRun,
			LastErr:  st.lastErr,
		})
	}
	return out
}
