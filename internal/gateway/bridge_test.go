// ABOUTME: Tests for the adapters joining the scheduler, tools and model
// ABOUTME: Covers scheduled runs, task management from tools and code generation

package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/scheduler"
	"github.com/2389/switchboard-gateway/internal/tools"
)

func testCatalog(t *testing.T) *agent.Catalog {
	t.Helper()
	cat, err := agent.LoadCatalog()
	require.NoError(t, err)
	return cat
}

func TestTaskRunner_RunsWithAgentPrompt(t *testing.T) {
	cat := testCatalog(t)
	fake := &fakeModel{completion: &model.Completion{Content: "Three headlines today."}}
	fixed := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	runner := &taskRunner{catalog: cat, model: fake, now: func() time.Time { return fixed }}

	out, err := runner.RunTask(context.Background(), &scheduler.Task{
		Agent:  "research",
		Prompt: "Brief me on the news",
	})
	require.NoError(t, err)
	assert.Equal(t, "Three headlines today.", out.Text)
	assert.Empty(t, out.Tools)

	req := fake.lastRequest()
	def, _ := cat.Get("research")
	assert.Equal(t, def.Prompt, req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, conversation.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Brief me on the news", req.Messages[0].Content)
	assert.Equal(t, fixed, req.Messages[0].Timestamp)
	assert.Len(t, req.Tools, len(def.Tools))
}

func TestTaskRunner_ReportsRequestedTools(t *testing.T) {
	fake := &fakeModel{completion: &model.Completion{
		ToolCalls: []tools.Request{
			{ID: "a", Name: tools.NameControlDevice, Arguments: `{"device":"porch","action":"on"}`},
			{ID: "b", Name: tools.NameGetTime},
		},
	}}
	runner := &taskRunner{catalog: testCatalog(t), model: fake, now: time.Now}

	out, err := runner.RunTask(context.Background(), &scheduler.Task{Agent: "device", Prompt: "Lights on"})
	require.NoError(t, err)
	assert.Equal(t, []string{tools.NameControlDevice, tools.NameGetTime}, out.Tools)
}

func TestTaskRunner_Errors(t *testing.T) {
	runner := &taskRunner{catalog: testCatalog(t), model: &fakeModel{}, now: time.Now}
	_, err := runner.RunTask(context.Background(), &scheduler.Task{Agent: "pirate", Prompt: "x"})
	assert.ErrorIs(t, err, agent.ErrUnknownRole)

	upstream := &model.Error{Kind: model.KindTransient, StatusCode: 503}
	runner.model = &fakeModel{completeErr: upstream}
	_, err = runner.RunTask(context.Background(), &scheduler.Task{Agent: "research", Prompt: "x"})
	assert.True(t, errors.Is(err, upstream))
}

func TestTaskManager_CreateAndList(t *testing.T) {
	gw, _ := newTestGateway(t, nil, nil)
	mgr := &taskManager{scheduler: gw.scheduler}
	ctx := context.Background()

	summary, err := mgr.CreateTask(ctx, tools.ScheduleTask{
		Name:   "water",
		Cron:   "0 */2 * * *",
		Prompt: "Remind me to drink water",
	}, "scheduler")
	require.NoError(t, err)
	assert.NotEmpty(t, summary.ID)
	assert.Equal(t, "scheduler", summary.Agent)
	assert.True(t, summary.Enabled)
	assert.NotNil(t, summary.NextRun)

	summary, err = mgr.CreateTask(ctx, tools.ScheduleTask{
		Name:   "digest",
		Cron:   "0 18 * * 5",
		Prompt: "Summarize the week's AI news",
		Agent:  "research",
	}, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, "research", summary.Agent)

	list, err := mgr.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = mgr.CreateTask(ctx, tools.ScheduleTask{Name: "bad", Cron: "whenever", Prompt: "x"}, "scheduler")
	assert.ErrorIs(t, err, scheduler.ErrInvalidSchedule)
}

func TestCodeGenerator_Generate(t *testing.T) {
	fake := &fakeModel{completion: &model.Completion{Content: "```go\nfunc main() {}\n```"}}
	gen := &codeGenerator{model: fake}

	code, err := gen.Generate(context.Background(), tools.GenerateCode{
		Description: "an empty program",
		Language:    "Go",
	})
	require.NoError(t, err)
	assert.Contains(t, code, "func main()")

	req := fake.lastRequest()
	assert.Equal(t, codeGenerationPrompt, req.System)
	assert.Equal(t, "Language: Go\n\nan empty program", req.Messages[0].Content)
	assert.Empty(t, req.Tools)

	_, err = gen.Generate(context.Background(), tools.GenerateCode{Description: "a snake game"})
	require.NoError(t, err)
	assert.Equal(t, "a snake game", fake.lastRequest().Messages[0].Content)

	fake.completeErr = &model.Error{Kind: model.KindUnavailable}
	_, err = gen.Generate(context.Background(), tools.GenerateCode{Description: "x"})
	assert.Error(t, err)
}
