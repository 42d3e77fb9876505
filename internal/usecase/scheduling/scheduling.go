package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task names used by the server.
const (
	TaskEngineCheck = "engine_check"
	TaskNetworkIdle = "network_idle"
)

// taskTimeout bounds a single run of a task.
const taskTimeout = 5 * time.Minute

// Task is a named job run on a schedule.
type Task struct {
	Name     string
	Schedule string // cron expression ("0 3 * * *", "@daily") or interval ("10m")
	Run      func(ctx context.Context) error
	// RunOnStart also runs the task once as soon as the scheduler starts.
	RunOnStart bool
}

// TaskStatus is a snapshot of one task.
type TaskStatus struct {
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule"`
	Runs      int           `json:"runs"`
	Skipped   int           `json:"skipped"`
	Running   bool          `json:"running"`
	LastRun   *time.Time    `json:"last_run,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	LastError string        `json:"last_error,omitempty"`
	NextRun   *time.Time    `json:"next_run,omitempty"`
}

type taskState struct {
	task   Task
	entry  cron.EntryID
	status TaskStatus
}

// Scheduler runs tasks on cron schedules or fixed intervals. A task never
// overlaps with itself: a tick that finds it still running is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*taskState
	order  []string
	ctx    context.Context // nil while stopped
	cancel context.CancelFunc
	inline sync.WaitGroup // RunOnStart runs
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		logger: logger,
		tasks:  make(map[string]*taskState),
	}
}

// Add registers task. Names must be unique.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return errors.New("scheduler: task needs a name and a run function")
	}
	schedule, err := ParseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: task %s: %w", task.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.Name]; ok {
		return fmt.Errorf("scheduler: task %s already exists", task.Name)
	}
	st := &taskState{
		task:   task,
		status: TaskStatus{Name: task.Name, Schedule: task.Schedule},
	}
	st.entry = s.cron.Schedule(schedule, cron.FuncJob(func() { s.run(st) }))
	s.tasks[task.Name] = st
	s.order = append(s.order, task.Name)

	s.logger.Info("task scheduled", "task", task.Name, "schedule", task.Schedule, "run_on_start", task.RunOnStart)
	return nil
}

// Start begins firing tasks and kicks off the RunOnStart ones. Tasks run
// with a child of ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	var onStart []*taskState
	for _, name := range s.order {
		if st := s.tasks[name]; st.task.RunOnStart {
			onStart = append(onStart, st)
		}
	}
	s.mu.Unlock()

	s.cron.Start()
	for _, st := range onStart {
		s.inline.Add(1)
		go func() {
			defer s.inline.Done()
			s.run(st)
		}()
	}
	return nil
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.inline.Wait()
}

// Status reports every task in the order it was added.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	out := make([]TaskStatus, 0, len(s.order))
	entries := make([]cron.EntryID, 0, len(s.order))
	for _, name := range s.order {
		st := s.tasks[name]
		out = append(out, st.status)
		entries = append(entries, st.entry)
	}
	running := s.ctx != nil
	s.mu.Unlock()

	if running {
		for i, id := range entries {
			if next := s.cron.Entry(id).Next; !next.IsZero() {
				out[i].NextRun = &next
			}
		}
	}
	return out
}

// StatusOf reports one task by name.
func (s *Scheduler) StatusOf(name string) (TaskStatus, bool) {
	for _, st := range s.Status() {
		if st.Name == name {
			return st, true
		}
	}
	return TaskStatus{}, false
}

func (s *Scheduler) run(st *taskState) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || st.status.Running {
		if ctx != nil {
			st.status.Skipped++
		}
		s.mu.Unlock()
		s.logger.Debug("task skipped", "task", st.task.Name, "stopped", ctx == nil)
		return
	}
	st.status.Running = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	start := time.Now()
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			s.logger.Error("task panicked", "task", st.task.Name, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
		}
		elapsed := time.Since(start)

		s.mu.Lock()
		st.status.Running = false
		st.status.Runs++
		st.status.LastRun = &start
		st.status.Duration = elapsed
		st.status.LastError = ""
		if err != nil {
			st.status.LastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("task failed", "task", st.task.Name, "error", err, "duration", elapsed)
			return
		}
		s.logger.Info("task completed", "task", st.task.Name, "duration", elapsed)
	}()
	err = st.task.Run(ctx)
}

// ParseSchedule accepts a standard cron expression or descriptor, or a
// positive Go duration used as a fixed interval.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	if sched, err := cron.ParseStandard(spec); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q is neither a cron expression nor a duration", spec)
	}
	if d <= 0 {
		return nil, fmt.Errorf("schedule %q must be positive", spec)
	}
	return interval(d), nil
}

// interval fires every d. cron.Every rounds to whole seconds.
type interval time.Duration

func (d interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// cronLogger routes cron's own logging to slog.
type cronLogger struct{ logger *slog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
