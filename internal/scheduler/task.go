// ABOUTME: Proactive task, run result and template types plus the task Store interface
// ABOUTME: Results are kept newest last and bounded per task

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/2389/switchboard-gateway/internal/audit"
)

// Scheduler errors
var (
	ErrInvalidSchedule = errors.New("invalid cron expression")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskRunning     = errors.New("task is already running")
	ErrUnknownAgent    = errors.New("unknown agent role")
	ErrInvalidTask     = errors.New("invalid task definition")
	ErrUnknownTemplate = errors.New("unknown task template")
)

// Run triggers recorded on results.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Definition is the user-supplied part of a task.
type Definition struct {
	Name           string `json:"name" yaml:"name"`
	Description    string `json:"description,omitempty" yaml:"description"`
	CronExpression string `json:"cron" yaml:"cron"`
	Agent          string `json:"agent" yaml:"agent"`
	Prompt         string `json:"prompt" yaml:"prompt"`
}

// Result is the outcome of one run.
type Result struct {
	RanAt   time.Time    `json:"ran_at"`
	Trigger string       `json:"trigger"`
	Status  audit.Status `json:"status"`
	Output  string       `json:"output,omitempty"`
	Error   string       `json:"error,omitempty"`
	Tools   []string     `json:"tools,omitempty"`
}

// Task is a recurring prompt run by an agent on a cron schedule.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	CronExpression string     `json:"cron"`
	Agent          string     `json:"agent"`
	Prompt         string     `json:"prompt"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
	Results        []Result   `json:"results"`
	CreatedAt      time.Time  `json:"created_at"`
	Running        bool       `json:"running"`
}

// clone returns a deep copy safe to hand out of the scheduler lock.
func (t *Task) clone() *Task {
	cp := *t
	if t.LastRun != nil {
		v := *t.LastRun
		cp.LastRun = &v
	}
	if t.NextRun != nil {
		v := *t.NextRun
		cp.NextRun = &v
	}
	cp.Results = make([]Result, len(t.Results))
	for i, r := range t.Results {
		r.Tools = append([]string(nil), r.Tools...)
		cp.Results[i] = r
	}
	return &cp
}

// appendResult adds r and drops the oldest results beyond keep.
func (t *Task) appendResult(r Result, keep int) {
	t.Results = append(t.Results, r)
	if keep > 0 && len(t.Results) > keep {
		t.Results = append([]Result(nil), t.Results[len(t.Results)-keep:]...)
	}
}

// Store persists tasks and their results.
type Store interface {
	// ListTasks returns every task with its results, oldest result first.
	ListTasks(ctx context.Context) ([]*Task, error)
	// SaveTask inserts or updates the task row. Results are not written.
	SaveTask(ctx context.Context, t *Task) error
	// AppendTaskResult stores r and prunes the task's results to keep.
	AppendTaskResult(ctx context.Context, taskID string, r Result, keep int) error
	// DeleteTask removes a task and its results. Missing ids are not an error.
	DeleteTask(ctx context.Context, id string) error
}
