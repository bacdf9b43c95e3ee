// ABOUTME: Tests for task lifecycle, cron evaluation, tick claiming and run recording
// ABOUTME: Uses the memory stores with a fixed clock and a scripted runner

package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/audit"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	sched *Scheduler
	store *MemoryStore
	audit *audit.Log
	clock *testClock
	runs  *atomic.Int32
}

func setupScheduler(t *testing.T, runner Runner) *fixture {
	t.Helper()
	return setupSchedulerWithStore(t, runner, nil)
}

// setupSchedulerWithStore lets a test wrap the memory store the scheduler
// writes through.
func setupSchedulerWithStore(t *testing.T, runner Runner, wrap func(*MemoryStore) Store) *fixture {
	t.Helper()

	var runs atomic.Int32
	if runner == nil {
		runner = RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
			return RunOutput{Text: "done"}, nil
		})
	}
	counting := RunnerFunc(func(ctx context.Context, task *Task) (RunOutput, error) {
		runs.Add(1)
		return runner.RunTask(ctx, task)
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog, err := audit.NewLog(context.Background(), audit.NewMemoryStore(), logger)
	require.NoError(t, err)
	t.Cleanup(auditLog.Close)

	clock := &testClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
	store := NewMemoryStore()
	var backing Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	known := map[string]bool{"orchestrator": true, "research": true, "scheduler": true, "device": true}

	s, err := New(Config{Location: time.UTC}, backing, counting, auditLog, logger,
		WithClock(clock.Now),
		WithRoleCheck(func(r string) bool { return known[r] }),
	)
	require.NoError(t, err)

	return &fixture{sched: s, store: store, audit: auditLog, clock: clock, runs: &runs}
}

func validDef() Definition {
	return Definition{
		Name:           "digest",
		CronExpression: "0 */2 * * *",
		Agent:          "research",
		Prompt:         "Summarize the news",
	}
}

func TestCreate_ComputesNextEvenHour(t *testing.T) {
	f := setupScheduler(t, nil)

	task, err := f.sched.Create(context.Background(), validDef())
	require.NoError(t, err)

	require.NotNil(t, task.NextRun)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), *task.NextRun)
	assert.True(t, task.Enabled)
	assert.NotEmpty(t, task.ID)
	assert.Nil(t, task.LastRun)

	stored, err := f.store.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, task.ID, stored[0].ID)
}

func TestCreate_NextRunAcrossDayBoundary(t *testing.T) {
	f := setupScheduler(t, nil)
	f.clock.Set(time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC))

	task, err := f.sched.Create(context.Background(), validDef())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), *task.NextRun)
}

func TestCreate_Validation(t *testing.T) {
	f := setupScheduler(t, nil)

	tests := []struct {
		name   string
		mutate func(*Definition)
		want   error
	}{
		{"bad cron", func(d *Definition) { d.CronExpression = "every tuesday" }, ErrInvalidSchedule},
		{"six fields", func(d *Definition) { d.CronExpression = "0 0 */2 * * *" }, ErrInvalidSchedule},
		{"out of range", func(d *Definition) { d.CronExpression = "61 * * * *" }, ErrInvalidSchedule},
		{"unknown agent", func(d *Definition) { d.Agent = "wizard" }, ErrUnknownAgent},
		{"empty name", func(d *Definition) { d.Name = "  " }, ErrInvalidTask},
		{"empty prompt", func(d *Definition) { d.Prompt = "" }, ErrInvalidTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			tt.mutate(&def)
			_, err := f.sched.Create(context.Background(), def)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.sched.List())
}

func TestCreate_CronSyntax(t *testing.T) {
	f := setupScheduler(t, nil)
	for _, expr := range []string{"*/5 * * * *", "0 9 * * 1-5", "15,45 8-18 * * *", "0 0 1 */3 *"} {
		def := validDef()
		def.CronExpression = expr
		_, err := f.sched.Create(context.Background(), def)
		assert.NoError(t, err, expr)
	}
}

func TestCreateFromTemplate(t *testing.T) {
	f := setupScheduler(t, nil)

	task, err := f.sched.CreateFromTemplate(context.Background(), "research-digest")
	require.NoError(t, err)
	assert.Equal(t, "research", task.Agent)
	assert.Equal(t, "0 */2 * * *", task.CronExpression)

	_, err = f.sched.CreateFromTemplate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTemplate)
}

func TestTick_SameNowRunsAtMostOnce(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()

	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	now := *task.NextRun
	assert.Equal(t, 1, f.sched.Tick(ctx, now))
	assert.Equal(t, 0, f.sched.Tick(ctx, now))
	assert.Equal(t, int32(1), f.runs.Load())

	got, err := f.sched.Get(task.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRun.After(now))
	assert.Equal(t, now.Add(2*time.Hour), *got.NextRun)
	require.Len(t, got.Results, 1)
	assert.Equal(t, TriggerSchedule, got.Results[0].Trigger)
	assert.False(t, got.Running)
}

func TestTick_NotDueYet(t *testing.T) {
	f := setupScheduler(t, nil)
	task, err := f.sched.Create(context.Background(), validDef())
	require.NoError(t, err)

	assert.Equal(t, 0, f.sched.Tick(context.Background(), task.NextRun.Add(-time.Second)))
}

func TestTick_MissedWindowsCatchUpOnce(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	late := task.NextRun.Add(7*time.Hour + 10*time.Minute)
	assert.Equal(t, 1, f.sched.Tick(ctx, late))

	got, _ := f.sched.Get(task.ID)
	assert.Equal(t, time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC), *got.NextRun)
	assert.Equal(t, int32(1), f.runs.Load())
}

func TestTick_SkipsDisabledAndRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f := setupScheduler(t, RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
		started <- struct{}{}
		<-release
		return RunOutput{Text: "slow"}, nil
	}))
	ctx := context.Background()

	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_, _ = f.sched.RunNow(ctx, task.ID)
		close(done)
	}()
	<-started

	assert.Equal(t, 0, f.sched.Tick(ctx, task.NextRun.Add(time.Minute)), "running task must not be claimed")
	_, err = f.sched.RunNow(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskRunning)

	close(release)
	<-done

	_, err = f.sched.Toggle(ctx, task.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.sched.Tick(ctx, task.NextRun.Add(time.Minute)))
}

func TestRunNow_WritesOneAuditEntry(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)
	_, err = f.sched.Toggle(ctx, task.ID, false)
	require.NoError(t, err)

	res, err := f.sched.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusExecuted, res.Status)
	assert.Equal(t, "done", res.Output)
	assert.Equal(t, TriggerManual, res.Trigger)

	entries, err := f.audit.Query(ctx, 0, audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionTaskRun, entries[0].Action)
	assert.Equal(t, "research", entries[0].Agent)
	assert.Contains(t, entries[0].Detail, task.ID)

	got, _ := f.sched.Get(task.ID)
	require.NotNil(t, got.LastRun)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRun)

	stored, _ := f.store.ListTasks(ctx)
	require.Len(t, stored[0].Results, 1)
}

func TestRunNow_Statuses(t *testing.T) {
	tests := []struct {
		name   string
		runner Runner
		want   audit.Status
	}{
		{"failed", RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
			return RunOutput{}, errors.New("model down")
		}), audit.StatusFailed},
		{"pending tools", RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
			return RunOutput{Text: "I would search", Tools: []string{"web_search"}}, nil
		}), audit.StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupScheduler(t, tt.runner)
			ctx := context.Background()
			task, err := f.sched.Create(ctx, validDef())
			require.NoError(t, err)

			res, err := f.sched.RunNow(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)

			stats := f.audit.Stats()
			assert.Equal(t, 1, stats.Total)
		})
	}
}

func TestRunNow_UnknownTask(t *testing.T) {
	f := setupScheduler(t, nil)
	_, err := f.sched.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunNow_DetachedFromCallerContext(t *testing.T) {
	f := setupScheduler(t, RunnerFunc(func(ctx context.Context, _ *Task) (RunOutput, error) {
		return RunOutput{Text: "ok"}, ctx.Err()
	}))
	task, err := f.sched.Create(context.Background(), validDef())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.sched.RunNow(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.StatusExecuted, res.Status)
}

func TestToggle_ReenableRecomputesFromNow(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	_, err = f.sched.Toggle(ctx, task.ID, false)
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, 3, 20, 13, 5, 0, 0, time.UTC))
	got, err := f.sched.Toggle(ctx, task.ID, true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC), *got.NextRun)

	_, err = f.sched.Toggle(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	require.NoError(t, f.sched.Delete(ctx, task.ID))
	require.NoError(t, f.sched.Delete(ctx, task.ID))

	_, err = f.sched.Get(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	stored, _ := f.store.ListTasks(ctx)
	assert.Empty(t, stored)
}

func TestResultsBounded(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	for i := 0; i < DefaultMaxResults+5; i++ {
		_, err := f.sched.RunNow(ctx, task.ID)
		require.NoError(t, err)
	}

	got, _ := f.sched.Get(task.ID)
	assert.Len(t, got.Results, DefaultMaxResults)
	stored, _ := f.store.ListTasks(ctx)
	assert.Len(t, stored[0].Results, DefaultMaxResults)
	assert.Equal(t, DefaultMaxResults+5, f.audit.Stats().Total)
}

func TestLoad_RestoresTasks(t *testing.T) {
	f := setupScheduler(t, nil)
	ctx := context.Background()
	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	broken := &Task{ID: "broken", Name: "broken", CronExpression: "nonsense", Agent: "research",
		Prompt: "x", Enabled: true, CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.SaveTask(ctx, broken))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s2, err := New(Config{Location: time.UTC}, f.store, RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
		return RunOutput{}, nil
	}), f.audit, logger, WithClock(f.clock.Now))
	require.NoError(t, err)
	require.NoError(t, s2.Load(ctx))

	list := s2.List()
	require.Len(t, list, 2)

	got, err := s2.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, *task.NextRun, *got.NextRun)

	b, err := s2.Get("broken")
	require.NoError(t, err)
	assert.False(t, b.Enabled)

	_, err = s2.Toggle(ctx, "broken", true)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog, err := audit.NewLog(context.Background(), audit.NewMemoryStore(), logger)
	require.NoError(t, err)
	defer auditLog.Close()

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC) // 08:00 EDT
	s, err := New(Config{Location: loc}, NewMemoryStore(), RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
		return RunOutput{}, nil
	}), auditLog, logger, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	def := validDef()
	def.CronExpression = "0 9 * * *"
	task, err := s.Create(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC), *task.NextRun)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := setupScheduler(t, nil)
	f.sched.cfg.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDefaultTemplates(t *testing.T) {
	defs, err := DefaultTemplates()
	require.NoError(t, err)
	require.NotEmpty(t, defs)
	for _, d := range defs {
		assert.NotEmpty(t, d.Prompt, d.Name)
		assert.NotEmpty(t, d.Agent, d.Name)
	}

	_, err = ParseTemplates([]byte("- name: a\n  cron: \"bad\"\n"))
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	_, err = ParseTemplates([]byte("- name: a\n  cron: \"* * * * *\"\n- name: a\n  cron: \"* * * * *\"\n"))
	assert.ErrorIs(t, err, ErrInvalidTask)
}

// hookedStore calls onSave once, from inside the first SaveTask after arm.
type hookedStore struct {
	*MemoryStore
	armed  atomic.Bool
	onSave func(t *Task)
}

func (h *hookedStore) SaveTask(ctx context.Context, t *Task) error {
	if h.armed.CompareAndSwap(true, false) {
		h.onSave(t)
	}
	return h.MemoryStore.SaveTask(ctx, t)
}

// withHook builds a wrap func and returns the store it wraps with.
func withHook(hooked **hookedStore) func(*MemoryStore) Store {
	return func(m *MemoryStore) Store {
		*hooked = &hookedStore{MemoryStore: m}
		return *hooked
	}
}

func TestTick_DeleteWhileClaimingStaysDeleted(t *testing.T) {
	var hooked *hookedStore
	f := setupSchedulerWithStore(t, nil, withHook(&hooked))
	ctx := context.Background()

	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	deleted := make(chan error, 1)
	hooked.onSave = func(*Task) {
		go func() { deleted <- f.sched.Delete(ctx, task.ID) }()
		// Give Delete time to reach the store before the claim write lands.
		time.Sleep(20 * time.Millisecond)
	}
	hooked.armed.Store(true)

	f.sched.Tick(ctx, *task.NextRun)
	require.NoError(t, <-deleted)
	f.sched.runs.Wait()

	_, err = f.sched.Get(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	stored, err := f.store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, f.sched.Load(ctx))
	assert.Empty(t, f.sched.List())
}

func TestTick_ToggleWhileClaimingKeepsLatestState(t *testing.T) {
	var hooked *hookedStore
	f := setupSchedulerWithStore(t, nil, withHook(&hooked))
	ctx := context.Background()

	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	toggled := make(chan error, 1)
	hooked.onSave = func(*Task) {
		go func() {
			_, err := f.sched.Toggle(ctx, task.ID, false)
			toggled <- err
		}()
		time.Sleep(20 * time.Millisecond)
	}
	hooked.armed.Store(true)

	due := *task.NextRun
	assert.Equal(t, 1, f.sched.Tick(ctx, due))
	require.NoError(t, <-toggled)
	f.sched.runs.Wait()

	got, err := f.sched.Get(task.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Nil(t, got.NextRun)
	require.NotNil(t, got.LastRun)

	stored, err := f.store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Enabled)
	assert.Nil(t, stored[0].NextRun)
	require.NotNil(t, stored[0].LastRun)
	assert.Equal(t, *got.LastRun, *stored[0].LastRun)
	assert.Len(t, stored[0].Results, 1)
}

func TestRunNow_DeleteDuringRunLeavesNothingStored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := setupScheduler(t, RunnerFunc(func(context.Context, *Task) (RunOutput, error) {
		close(started)
		<-release
		return RunOutput{Text: "late"}, nil
	}))
	ctx := context.Background()

	task, err := f.sched.Create(ctx, validDef())
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() {
		res, _ := f.sched.RunNow(ctx, task.ID)
		done <- res
	}()
	<-started
	require.NoError(t, f.sched.Delete(ctx, task.ID))
	close(release)

	res := <-done
	assert.Equal(t, audit.StatusExecuted, res.Status)

	stored, err := f.store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
