// Package scheduler runs a fixed set of named periodic tasks. Each task has
// its own interval and a single-slot busy flag: a firing that arrives while
// the previous run of the same task is still in progress is dropped and
// counted, never queued. Different tasks run independently of one another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/timeutil"
)

// TaskFunc is one invocation of a periodic task. A returned error is logged
// and counted; it does not stop the schedule.
type TaskFunc func(ctx context.Context) error

// State is the scheduler lifecycle: Stopped, then Running, then Stopped again.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

var (
	ErrRunning       = errors.New("scheduler already running")
	ErrDuplicateTask = errors.New("duplicate task name")
)

// Option configures a task at registration.
type Option func(*task)

// WithRunOnStart fires the task once as soon as Run starts, before the first
// interval elapses.
func WithRunOnStart() Option {
	return func(t *task) { t.runOnStart = true }
}

// WithTimeout bounds each run of the task. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(t *task) { t.timeout = d }
}

type task struct {
	name       string
	interval   time.Duration
	fn         TaskFunc
	runOnStart bool
	timeout    time.Duration

	busy     atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	panics   atomic.Int64

	mu           sync.Mutex
	lastStart    time.Time
	lastDuration time.Duration
	lastErr      string
}

// TaskStats is a snapshot of one task's counters.
type TaskStats struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Running      bool          `json:"running"`
	Runs         int64         `json:"runs"`
	Skipped      int64         `json:"skipped"`
	Failures     int64         `json:"failures"`
	Panics       int64         `json:"panics"`
	LastStart    time.Time     `json:"last_start,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// Scheduler owns the periodic tasks.
type Scheduler struct {
	clock timeutil.Clock

	mu    sync.Mutex
	tasks []*task
	state atomic.Int32
}

// New returns a stopped scheduler driven by clock. A nil clock uses real time.
func New(clock timeutil.Clock) *Scheduler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{clock: clock}
}

// Add registers a task. Tasks cannot be added while the scheduler runs.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc, opts ...Option) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive, got %v", name, interval)
	}
	if fn == nil {
		return fmt.Errorf("task %s: nil function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == Running {
		return ErrRunning
	}
	for _, t := range s.tasks {
		if t.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
		}
	}
	t := &task{name: name, interval: interval, fn: fn}
	for _, opt := range opts {
		opt(t)
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// State reports whether the scheduler is running.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run starts every task and blocks until ctx is cancelled. No new runs start
// after cancellation; runs already in progress are allowed to finish (with
// their own context left uncancelled) before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return ErrRunning
	}
	defer s.state.Store(int32(Stopped))

	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	var loops, inflight sync.WaitGroup
	for _, t := range tasks {
		loops.Add(1)
		go func(t *task) {
			defer loops.Done()
			s.loop(ctx, t, &inflight)
		}(t)
	}
	monitoring.Logf("scheduler: running %d tasks", len(tasks))

	<-ctx.Done()
	loops.Wait()
	monitoring.Logf("scheduler: stopping, waiting for in-flight runs")
	inflight.Wait()
	monitoring.Logf("scheduler: stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t *task, inflight *sync.WaitGroup) {
	ticker := s.clock.NewTicker(t.interval)
	defer ticker.Stop()

	if t.runOnStart {
		s.fire(ctx, t, inflight)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.fire(ctx, t, inflight)
		}
	}
}

// fire starts one run unless the previous run is still going.
func (s *Scheduler) fire(ctx context.Context, t *task, inflight *sync.WaitGroup) {
	if !t.busy.CompareAndSwap(false, true) {
		n := t.skipped.Add(1)
		monitoring.Logf("warning: scheduler: %s still running, skipped firing (%d skipped so far)", t.name, n)
		return
	}
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer t.busy.Store(false)
		s.invoke(context.WithoutCancel(ctx), t)
	}()
}

func (s *Scheduler) invoke(ctx context.Context, t *task) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := s.clock.Now()
	err := safeCall(ctx, t)
	elapsed := s.clock.Since(start)

	t.runs.Add(1)
	t.mu.Lock()
	t.lastStart = start
	t.lastDuration = elapsed
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		t.failures.Add(1)
		monitoring.Logf("error: scheduler: %s failed after %v: %v", t.name, elapsed, err)
	}
}

type panicError struct {
	value interface{}
}

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// safeCall runs the task, converting a panic into an error so one bad run
// cannot take the process down.
func safeCall(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			monitoring.Logf("error: scheduler: %s panicked: %v\n%s", t.name, r, debug.Stack())
			err = panicError{value: r}
		}
	}()
	return t.fn(ctx)
}

// Stats returns a snapshot of every task, sorted by name.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	out := make([]TaskStats, 0, len(tasks))
	for _, t := range tasks {
		t.mu.Lock()
		st := TaskStats{
			Name:         t.name,
			Interval:     t.interval,
			Running:      t.busy.Load(),
			Runs:         t.runs.Load(),
			Skipped:      t.skipped.Load(),
			Failures:     t.failures.Load(),
			Panics:       t.panics.Load(),
			LastStart:    t.lastStart,
			LastDuration: t.lastDuration,
			LastError:    t.lastErr,
		}
		t.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TaskStats returns the snapshot for one task.
func (s *Scheduler) TaskStats(name string) (TaskStats, bool) {
	for _, st := range s.Stats() {
		if st.Name == name {
			return st, true
		}
	}
	return TaskStats{}, false
}
