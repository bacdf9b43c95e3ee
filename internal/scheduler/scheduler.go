// ABOUTME: Scheduler owns the task collection, claims due tasks on each tick and records runs
// ABOUTME: mu guards in-memory state only; writeMu orders store writes so a deleted task stays deleted

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/2389/switchboard-gateway/internal/audit"
)

// Scheduler defaults
const (
	DefaultPollInterval = 30 * time.Second
	DefaultRunTimeout   = 2 * time.Minute
	DefaultMaxResults   = 20
)

// RunOutput is what a Runner produced for one run.
type RunOutput struct {
	Text string
	// Tools lists tool calls the model asked for. They are recorded, not run.
	Tools []string
}

// Runner executes a task's prompt with its agent.
type Runner interface {
	RunTask(ctx context.Context, t *Task) (RunOutput, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, t *Task) (RunOutput, error)

// RunTask implements Runner.
func (f RunnerFunc) RunTask(ctx context.Context, t *Task) (RunOutput, error) { return f(ctx, t) }

// AuditAppender is the slice of audit.Log the scheduler writes to.
type AuditAppender interface {
	Append(ctx context.Context, e *audit.Entry) error
}

// Config holds scheduler settings. Zero values get defaults.
type Config struct {
	PollInterval time.Duration
	RunTimeout   time.Duration
	MaxResults   int
	// Location is the zone cron expressions are evaluated in. Defaults to
	// time.Local.
	Location *time.Location
	// Templates overrides the embedded templates.
	Templates []Definition
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithRoleCheck sets the predicate used to validate a task's agent role.
func WithRoleCheck(known func(role string) bool) Option {
	return func(s *Scheduler) {
		s.knownRole = known
	}
}

// entry pairs a task with its parsed schedule.
type entry struct {
	task     *Task
	schedule cron.Schedule
}

// Scheduler manages proactive tasks.
type Scheduler struct {
	store     Store
	runner    Runner
	audit     AuditAppender
	cfg       Config
	templates []Definition
	logger    *slog.Logger
	now       func() time.Time
	knownRole func(string) bool

	mu    sync.Mutex
	tasks map[string]*entry

	// writeMu serializes store writes. It is taken before mu, never while
	// holding it, and each write persists the task as it is at write time.
	writeMu sync.Mutex

	runs sync.WaitGroup
}

// New creates a scheduler. Call Load before serving requests.
func New(cfg Config, store Store, runner Runner, auditLog AuditAppender, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if store == nil || runner == nil || auditLog == nil {
		return nil, errors.New("scheduler requires a store, a runner and an audit log")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	templates := cfg.Templates
	if templates == nil {
		var err error
		if templates, err = DefaultTemplates(); err != nil {
			return nil, err
		}
	}

	s := &Scheduler{
		store:     store,
		runner:    runner,
		audit:     auditLog,
		cfg:       cfg,
		templates: templates,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		knownRole: func(role string) bool { return role != "" },
		tasks:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Load replaces the in-memory collection with the stored tasks. Tasks whose
// expression no longer parses are kept but disabled.
func (s *Scheduler) Load(ctx context.Context) error {
	stored, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	loaded := make(map[string]*entry, len(stored))
	for _, t := range stored {
		t.Running = false
		sched, err := cron.ParseStandard(t.CronExpression)
		if err != nil {
			s.logger.Error("disabling task with invalid cron expression",
				"task_id", t.ID,
				"cron", t.CronExpression,
				"error", err,
			)
			t.Enabled = false
			t.NextRun = nil
		}
		if t.Enabled && t.NextRun == nil {
			t.NextRun = s.nextAfter(sched, s.now())
		}
		loaded[t.ID] = &entry{task: t, schedule: sched}
	}

	s.mu.Lock()
	s.tasks = loaded
	s.mu.Unlock()

	s.logger.Info("loaded tasks", "count", len(loaded))
	return nil
}

// Templates returns the task templates.
func (s *Scheduler) Templates() []Definition {
	out := make([]Definition, len(s.templates))
	copy(out, s.templates)
	return out
}

// Create validates def and adds an enabled task.
func (s *Scheduler) Create(ctx context.Context, def Definition) (*Task, error) {
	def.Name = strings.TrimSpace(def.Name)
	def.Prompt = strings.TrimSpace(def.Prompt)
	def.CronExpression = strings.TrimSpace(def.CronExpression)

	if def.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if def.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidTask)
	}
	if !s.knownRole(def.Agent) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, def.Agent)
	}
	sched, err := cron.ParseStandard(def.CronExpression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	now := s.now()
	t := &Task{
		ID:             uuid.New().String(),
		Name:           def.Name,
		Description:    def.Description,
		CronExpression: def.CronExpression,
		Agent:          def.Agent,
		Prompt:         def.Prompt,
		Enabled:        true,
		NextRun:        s.nextAfter(sched, now),
		CreatedAt:      now.UTC(),
	}

	s.writeMu.Lock()
	if err := s.store.SaveTask(ctx, t); err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("saving task: %w", err)
	}
	s.mu.Lock()
	s.tasks[t.ID] = &entry{task: t, schedule: sched}
	snapshot := t.clone()
	s.mu.Unlock()
	s.writeMu.Unlock()

	s.logger.Info("created task",
		"task_id", t.ID,
		"name", t.Name,
		"agent", t.Agent,
		"cron", t.CronExpression,
		"next_run", t.NextRun,
	)
	return snapshot, nil
}

// CreateFromTemplate creates a task from the named template.
func (s *Scheduler) CreateFromTemplate(ctx context.Context, name string) (*Task, error) {
	for _, d := range s.templates {
		if d.Name == name {
			return s.Create(ctx, d)
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
}

// Toggle enables or disables a task. Enabling recomputes the next run from now.
func (s *Scheduler) Toggle(ctx context.Context, id string, enabled bool) (*Task, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrTaskNotFound
	}
	if enabled && e.schedule == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, e.task.CronExpression)
	}
	e.task.Enabled = enabled
	if enabled {
		e.task.NextRun = s.nextAfter(e.schedule, s.now())
	} else {
		e.task.NextRun = nil
	}
	snapshot := e.task.clone()
	s.mu.Unlock()

	if err := s.persist(ctx, id, nil); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("saving task: %w", err)
	}
	s.logger.Info("toggled task", "task_id", id, "enabled", enabled)
	return snapshot, nil
}

// Delete removes a task. Unknown ids are not an error.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()

	if err := s.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// Get returns a copy of one task.
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return e.task.clone(), nil
}

// List returns copies of every task, oldest first.
func (s *Scheduler) List() []*Task {
	s.mu.Lock()
	out := make([]*Task, 0, len(s.tasks))
	for _, e := range s.tasks {
		out = append(out, e.task.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RunNow runs a task immediately regardless of whether it is enabled.
func (s *Scheduler) RunNow(ctx context.Context, id string) (Result, error) {
	s.mu.Lock()
	e, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return Result{}, ErrTaskNotFound
	}
	if e.task.Running {
		s.mu.Unlock()
		return Result{}, ErrTaskRunning
	}
	e.task.Running = true
	snapshot := e.task.clone()
	s.mu.Unlock()

	s.runs.Add(1)
	defer s.runs.Done()
	return s.execute(ctx, snapshot, TriggerManual), nil
}

// Tick claims every enabled, idle task due at or before now, advances its
// next run strictly past now, then runs the claimed tasks concurrently and
// waits for them. It returns how many tasks ran.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var claimed []*Task
	for _, e := range s.tasks {
		t := e.task
		if !t.Enabled || t.Running || t.NextRun == nil || t.NextRun.After(now) {
			continue
		}
		// A task that missed several windows runs once and catches up.
		t.NextRun = s.nextAfter(e.schedule, now)
		t.Running = true
		claimed = append(claimed, t.clone())
	}
	s.mu.Unlock()

	if len(claimed) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	ran := 0
	for _, t := range claimed {
		if err := s.persist(ctx, t.ID, nil); err != nil {
			if errors.Is(err, ErrTaskNotFound) {
				s.logger.Info("task deleted before its run started", "task_id", t.ID)
				continue
			}
			s.logger.Error("saving claimed task", "task_id", t.ID, "error", err)
		}
		ran++
		wg.Add(1)
		s.runs.Add(1)
		go func(t *Task) {
			defer wg.Done()
			defer s.runs.Done()
			s.execute(ctx, t, TriggerSchedule)
		}(t)
	}
	wg.Wait()
	return ran
}

// Run calls Tick every poll interval until ctx is done, then waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "poll_interval", s.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			s.runs.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runs.Add(1)
			go func() {
				defer s.runs.Done()
				if n := s.Tick(ctx, s.now()); n > 0 {
					s.logger.Debug("tick ran tasks", "count", n)
				}
			}()
		}
	}
}

// execute runs t on a detached, time-bounded context and records the result,
// the updated task and one audit entry.
func (s *Scheduler) execute(ctx context.Context, t *Task, trigger string) Result {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RunTimeout)
	defer cancel()

	logger := s.logger.With("task_id", t.ID, "task", t.Name, "agent", t.Agent, "trigger", trigger)
	started := s.now().UTC()
	out, err := s.runner.RunTask(runCtx, t)

	result := Result{
		RanAt:   started,
		Trigger: trigger,
		Output:  out.Text,
		Tools:   out.Tools,
	}
	switch {
	case err != nil:
		result.Status = audit.StatusFailed
		result.Error = err.Error()
		logger.Error("task run failed", "error", err)
	case len(out.Tools) > 0:
		result.Status = audit.StatusPending
		logger.Info("task run requested tools", "tools", out.Tools)
	default:
		result.Status = audit.StatusExecuted
		logger.Info("task run completed", "duration", s.now().Sub(started))
	}

	s.mu.Lock()
	if e, ok := s.tasks[t.ID]; ok {
		e.task.Running = false
		ranAt := started
		e.task.LastRun = &ranAt
		e.task.appendResult(result, s.cfg.MaxResults)
	}
	s.mu.Unlock()

	switch err := s.persist(runCtx, t.ID, &result); {
	case errors.Is(err, ErrTaskNotFound):
		logger.Warn("task deleted while running; result not stored")
	case err != nil:
		logger.Error("storing task run", "error", err)
	}

	if err := s.audit.Append(runCtx, &audit.Entry{
		Agent:  t.Agent,
		Action: audit.ActionTaskRun,
		Status: result.Status,
		Detail: auditDetail(t, result),
	}); err != nil {
		logger.Error("writing audit entry for task run", "error", err)
	}
	return result
}

// persist writes the current state of task id, and result when non-nil.
// It returns ErrTaskNotFound without writing if the task was deleted, so a
// late write can never bring a deleted row back.
func (s *Scheduler) persist(ctx context.Context, id string, result *Result) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	e, ok := s.tasks[id]
	var snapshot *Task
	if ok {
		snapshot = e.task.clone()
	}
	s.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}

	if result != nil {
		if err := s.store.AppendTaskResult(ctx, id, *result, s.cfg.MaxResults); err != nil {
			return fmt.Errorf("storing result: %w", err)
		}
	}
	return s.store.SaveTask(ctx, snapshot)
}

func auditDetail(t *Task, r Result) string {
	detail := fmt.Sprintf("task %q (%s) trigger=%s", t.Name, t.ID, r.Trigger)
	if len(r.Tools) > 0 {
		detail += " tools=" + strings.Join(r.Tools, ",")
	}
	if r.Error != "" {
		detail += " error=" + r.Error
	}
	return detail
}

// nextAfter returns the first activation strictly after now, in UTC. A
// schedule that never fires again yields nil.
func (s *Scheduler) nextAfter(sched cron.Schedule, now time.Time) *time.Time {
	if sched == nil {
		return nil
	}
	next := sched.Next(now.In(s.cfg.Location))
	if next.IsZero() {
		return nil
	}
	next = next.UTC()
	return &next
}
