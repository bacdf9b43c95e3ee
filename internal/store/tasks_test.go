// ABOUTME: Tests for task and task result persistence
// ABOUTME: Covers upsert, result pruning, cascade delete and nullable run times

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/scheduler"
)

func newTestTask(id string) *scheduler.Task {
	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scheduler.Task{
		ID:             id,
		Name:           "Morning briefing",
		Description:    "Summarize the news",
		CronExpression: "0 8 * * *",
		Agent:          "research",
		Prompt:         "Summarize today's headlines",
		Enabled:        true,
		NextRun:        &next,
		CreatedAt:      time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
	}
}

func TestTaskStore_SaveAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTask(ctx, newTestTask("task-1")))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	got := tasks[0]
	assert.Equal(t, "task-1", got.ID)
	assert.Equal(t, "0 8 * * *", got.CronExpression)
	assert.Equal(t, "research", got.Agent)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Empty(t, got.Results)
}

func TestTaskStore_SaveUpdates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	task := newTestTask("task-1")
	require.NoError(t, store.SaveTask(ctx, task))

	ran := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	task.Enabled = false
	task.LastRun = &ran
	task.NextRun = nil
	require.NoError(t, store.SaveTask(ctx, task))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].Enabled)
	require.NotNil(t, tasks[0].LastRun)
	assert.True(t, tasks[0].LastRun.Equal(ran))
	assert.Nil(t, tasks[0].NextRun)
}

func TestTaskStore_AppendResultPrunes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, newTestTask("task-1")))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendTaskResult(ctx, "task-1", scheduler.Result{
			RanAt:   base.Add(time.Duration(i) * time.Hour),
			Trigger: scheduler.TriggerSchedule,
			Status:  audit.StatusExecuted,
			Output:  fmt.Sprintf("run %d", i),
		}, 3))
	}

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks[0].Results, 3)
	assert.Equal(t, "run 2", tasks[0].Results[0].Output)
	assert.Equal(t, "run 4", tasks[0].Results[2].Output)
}

func TestTaskStore_ResultFields(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, newTestTask("task-1")))

	require.NoError(t, store.AppendTaskResult(ctx, "task-1", scheduler.Result{
		RanAt:   time.Now(),
		Trigger: scheduler.TriggerManual,
		Status:  audit.StatusPending,
		Output:  "I would search the web",
		Tools:   []string{"web_search", "schedule_task"},
	}, 20))
	require.NoError(t, store.AppendTaskResult(ctx, "task-1", scheduler.Result{
		RanAt:   time.Now(),
		Trigger: scheduler.TriggerSchedule,
		Status:  audit.StatusFailed,
		Error:   "model unavailable",
	}, 20))

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	results := tasks[0].Results
	require.Len(t, results, 2)

	assert.Equal(t, scheduler.TriggerManual, results[0].Trigger)
	assert.Equal(t, audit.StatusPending, results[0].Status)
	assert.Equal(t, []string{"web_search", "schedule_task"}, results[0].Tools)

	assert.Equal(t, audit.StatusFailed, results[1].Status)
	assert.Equal(t, "model unavailable", results[1].Error)
	assert.Empty(t, results[1].Tools)
}

func TestTaskStore_AppendResultUnknownTask(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendTaskResult(context.Background(), "missing", scheduler.Result{
		RanAt: time.Now(), Trigger: scheduler.TriggerManual, Status: audit.StatusExecuted,
	}, 20)
	assert.ErrorIs(t, err, scheduler.ErrTaskNotFound)
}

func TestTaskStore_DeleteCascades(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveTask(ctx, newTestTask("task-1")))
	require.NoError(t, store.SaveTask(ctx, newTestTask("task-2")))
	require.NoError(t, store.AppendTaskResult(ctx, "task-1", scheduler.Result{
		RanAt: time.Now(), Trigger: scheduler.TriggerManual, Status: audit.StatusExecuted,
	}, 20))

	require.NoError(t, store.DeleteTask(ctx, "task-1"))
	require.NoError(t, store.DeleteTask(ctx, "task-1"), "delete must be idempotent")

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "task-2", tasks[0].ID)

	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM task_results`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestTaskStore_ListEmpty(t *testing.T) {
	store := setupTestStore(t)

	tasks, err := store.ListTasks(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}
