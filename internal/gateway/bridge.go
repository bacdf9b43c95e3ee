// ABOUTME: Adapters that let packages reach each other without import cycles
// ABOUTME: Scheduler runs go through the model, tools reach the scheduler and code generation

package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/scheduler"
	"github.com/2389/switchboard-gateway/internal/tools"
)

const codeGenerationPrompt = `You write code. Reply with a single fenced code block in the requested language followed by at most two sentences of explanation.`

// taskRunner runs a scheduled prompt as a single non-streaming completion
// with the task's agent. Tool calls the model asks for are reported, not run.
type taskRunner struct {
	catalog *agent.Catalog
	model   model.Client
	now     func() time.Time
}

// RunTask implements scheduler.Runner.
func (r *taskRunner) RunTask(ctx context.Context, t *scheduler.Task) (scheduler.RunOutput, error) {
	def, ok := r.catalog.Get(agent.Role(t.Agent))
	if !ok {
		return scheduler.RunOutput{}, fmt.Errorf("%w: %s", agent.ErrUnknownRole, t.Agent)
	}

	completion, err := r.model.Complete(ctx, model.Request{
		System: def.Prompt,
		Messages: []conversation.Message{{
			Role:      conversation.RoleUser,
			Content:   t.Prompt,
			Timestamp: r.now().UTC(),
		}},
		Tools: tools.Definitions(def.Tools),
	})
	if err != nil {
		return scheduler.RunOutput{}, err
	}

	out := scheduler.RunOutput{Text: completion.Content}
	for _, call := range completion.ToolCalls {
		out.Tools = append(out.Tools, call.Name)
	}
	return out, nil
}

// taskManager exposes the scheduler to the schedule_task and list_tasks tools.
type taskManager struct {
	scheduler *scheduler.Scheduler
}

// CreateTask implements tools.TaskManager.
func (m *taskManager) CreateTask(ctx context.Context, call tools.ScheduleTask, defaultAgent string) (tools.TaskSummary, error) {
	role := call.Agent
	if role == "" {
		role = defaultAgent
	}
	task, err := m.scheduler.Create(ctx, scheduler.Definition{
		Name:           call.Name,
		CronExpression: call.Cron,
		Agent:          role,
		Prompt:         call.Prompt,
	})
	if err != nil {
		return tools.TaskSummary{}, err
	}
	return summarizeTask(task), nil
}

// ListTasks implements tools.TaskManager.
func (m *taskManager) ListTasks(ctx context.Context) ([]tools.TaskSummary, error) {
	tasks := m.scheduler.List()
	out := make([]tools.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, summarizeTask(t))
	}
	return out, nil
}

func summarizeTask(t *scheduler.Task) tools.TaskSummary {
	return tools.TaskSummary{
		ID:      t.ID,
		Name:    t.Name,
		Cron:    t.CronExpression,
		Agent:   t.Agent,
		Enabled: t.Enabled,
		NextRun: t.NextRun,
	}
}

// codeGenerator backs the generate_code tool with a plain completion.
type codeGenerator struct {
	model model.Client
}

// Generate implements tools.CodeGenerator.
func (c *codeGenerator) Generate(ctx context.Context, req tools.GenerateCode) (string, error) {
	prompt := req.Description
	if lang := strings.TrimSpace(req.Language); lang != "" {
		prompt = fmt.Sprintf("Language: %s\n\n%s", lang, req.Description)
	}
	completion, err := c.model.Complete(ctx, model.Request{
		System:   codeGenerationPrompt,
		Messages: []conversation.Message{{Role: conversation.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("generating code: %w", err)
	}
	return completion.Content, nil
}
