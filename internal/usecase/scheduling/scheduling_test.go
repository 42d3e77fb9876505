package scheduling

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metasearch/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startScheduler(t *testing.T, tasks ...Task) *Scheduler {
	t.Helper()
	s := NewScheduler(newTestLogger())
	for _, task := range tasks {
		require.NoError(t, s.Add(task))
	}
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func statusOf(t *testing.T, s *Scheduler, name string) TaskStatus {
	t.Helper()
	st, ok := s.StatusOf(name)
	require.True(t, ok, "task %s not found", name)
	return st
}

func TestSchedulerRunsNetworkIdleOnInterval(t *testing.T) {
	var closes atomic.Int32
	s := startScheduler(t, Task{
		Name:     TaskNetworkIdle,
		Schedule: "20ms",
		Run: func(context.Context) error {
			closes.Add(1)
			return nil
		},
	})

	assert.Eventually(t, func() bool { return closes.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	st := statusOf(t, s, TaskNetworkIdle)
	assert.GreaterOrEqual(t, st.Runs, 1)
	assert.Empty(t, st.LastError)
	require.NotNil(t, st.LastRun)
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.After(*st.LastRun))
}

func TestSchedulerEngineCheckRunsOnStart(t *testing.T) {
	engine := &fakeEngine{name: "searx", err: domain.ErrConnect}
	checker := NewChecker([]Checkable{engine}, "time", newTestLogger())

	s := startScheduler(t, Task{
		Name:       TaskEngineCheck,
		Schedule:   "@every 24h",
		Run:        checker.Action,
		RunOnStart: true,
	})

	assert.Eventually(t, func() bool { return statusOf(t, s, TaskEngineCheck).Runs == 1 }, 2*time.Second, 5*time.Millisecond)

	last := checker.Last()
	require.Len(t, last, 1)
	assert.Equal(t, "searx", last[0].Engine)
	assert.Equal(t, domain.CodeConnect, last[0].Code)

	st := statusOf(t, s, TaskEngineCheck)
	assert.Contains(t, st.LastError, "1 of 1 engines failed")
	require.NotNil(t, st.NextRun)
	assert.True(t, st.NextRun.After(time.Now().Add(23*time.Hour)), "next check is a day away")
}

func TestSchedulerEngineCheckRefreshesResults(t *testing.T) {
	engine := &fakeEngine{name: "searx", results: 4}
	checker := NewChecker([]Checkable{engine}, "time", newTestLogger())

	s := startScheduler(t, Task{Name: TaskEngineCheck, Schedule: "30ms", Run: checker.Action})

	assert.Eventually(t, func() bool { return engine.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	last := checker.Last()
	require.Len(t, last, 1)
	assert.True(t, last[0].OK)
	assert.Equal(t, 4, last[0].Results)
	assert.Empty(t, statusOf(t, s, TaskEngineCheck).LastError)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	s := startScheduler(t, Task{
		Name:     TaskEngineCheck,
		Schedule: "10ms",
		Run: func(ctx context.Context) error {
			started.Add(1)
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		},
	})

	assert.Eventually(t, func() bool { return statusOf(t, s, TaskEngineCheck).Skipped >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, started.Load())
	assert.True(t, statusOf(t, s, TaskEngineCheck).Running)
	close(release)

	assert.Eventually(t, func() bool { return statusOf(t, s, TaskEngineCheck).Runs >= 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerRecordsPanics(t *testing.T) {
	s := startScheduler(t, Task{
		Name:       TaskNetworkIdle,
		Schedule:   "@hourly",
		RunOnStart: true,
		Run:        func(context.Context) error { panic("pool gone") },
	})

	assert.Eventually(t, func() bool { return statusOf(t, s, TaskNetworkIdle).Runs == 1 }, 2*time.Second, 5*time.Millisecond)
	st := statusOf(t, s, TaskNetworkIdle)
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, "panic: pool gone")
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	entered := make(chan struct{})
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Add(Task{
		Name:       TaskEngineCheck,
		Schedule:   "@daily",
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
	}))
	require.NoError(t, s.Start(context.Background()))
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	st := statusOf(t, s, TaskEngineCheck)
	assert.Contains(t, st.LastError, context.Canceled.Error())
	assert.Nil(t, st.NextRun, "a stopped scheduler has no next run")
}

func TestSchedulerAddRejectsBadTasks(t *testing.T) {
	noop := func(context.Context) error { return nil }
	s := NewScheduler(newTestLogger())
	require.NoError(t, s.Add(Task{Name: TaskNetworkIdle, Schedule: "10m", Run: noop}))

	tests := []struct {
		name string
		task Task
		want string
	}{
		{"duplicate", Task{Name: TaskNetworkIdle, Schedule: "5m", Run: noop}, "already exists"},
		{"bad schedule", Task{Name: "x", Schedule: "every tuesday", Run: noop}, "neither a cron expression nor a duration"},
		{"negative interval", Task{Name: "x", Schedule: "-1m", Run: noop}, "must be positive"},
		{"no run", Task{Name: "x", Schedule: "5m"}, "run function"},
		{"no name", Task{Schedule: "5m", Run: noop}, "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, s.Add(tt.task), tt.want)
		})
	}
	assert.Len(t, s.Status(), 1)
}

func TestSchedulerLifecycle(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.Stop()

	require.NoError(t, s.Add(Task{Name: TaskNetworkIdle, Schedule: "10m", Run: func(context.Context) error { return nil }}))
	st := statusOf(t, s, TaskNetworkIdle)
	assert.Nil(t, st.NextRun)
	assert.Zero(t, st.Runs)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NotNil(t, statusOf(t, s, TaskNetworkIdle).NextRun)

	s.Stop()
	s.Stop()
	_, ok := s.StatusOf("missing")
	assert.False(t, ok)
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		spec string
		next time.Time
	}{
		{"*/15 * * * *", time.Date(2025, 3, 10, 12, 15, 0, 0, time.UTC)},
		{"@daily", time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)},
		{"@every 24h", base.Add(24 * time.Hour)},
		{"10m", base.Add(10 * time.Minute)},
		{"250ms", base.Add(250 * time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			sched, err := ParseSchedule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.next, sched.Next(base).UTC())
		})
	}

	for _, bad := range []string{"", "soon", "0s", "* * *"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}
