// ABOUTME: Dispatcher runs decoded tool calls against capabilities and audits each one
// ABOUTME: Denied, failed and executed outcomes map one-to-one onto audit statuses

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/audit"
)

// ErrToolDenied indicates the agent may not call the tool.
var ErrToolDenied = errors.New("tool not permitted for agent")

// AuditAppender records tool outcomes.
type AuditAppender interface {
	Append(ctx context.Context, e *audit.Entry) error
}

// Outcome is the result of dispatching one Request.
type Outcome struct {
	Request Request      `json:"request"`
	Status  audit.Status `json:"status"`
	Output  string       `json:"output,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Dispatcher executes tool calls on behalf of agents.
type Dispatcher struct {
	caps   Capabilities
	audit  AuditAppender
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. audit may be nil in tests.
func NewDispatcher(caps Capabilities, auditLog AuditAppender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		caps:   caps,
		audit:  auditLog,
		logger: logger.With("component", "tools"),
		now:    time.Now,
	}
}

// Dispatch checks permissions, runs req and writes one audit entry.
func (d *Dispatcher) Dispatch(ctx context.Context, def *agent.Definition, req Request) Outcome {
	out := Outcome{Request: req}

	var err error
	switch {
	case !def.AllowsTool(req.Name):
		out.Status = audit.StatusDenied
		err = fmt.Errorf("%w: %s", ErrToolDenied, req.Name)
	default:
		var call Call
		call, err = Decode(req)
		if err == nil {
			out.Output, err = d.execute(ctx, def, call)
		}
		if err != nil {
			out.Status = audit.StatusFailed
		} else {
			out.Status = audit.StatusExecuted
		}
	}
	if err != nil {
		out.Error = err.Error()
	}

	d.record(ctx, def.Role, out)
	return out
}

// DispatchAll dispatches each request in order.
func (d *Dispatcher) DispatchAll(ctx context.Context, def *agent.Definition, reqs []Request) []Outcome {
	outcomes := make([]Outcome, 0, len(reqs))
	for _, req := range reqs {
		outcomes = append(outcomes, d.Dispatch(ctx, def, req))
	}
	return outcomes
}

func (d *Dispatcher) execute(ctx context.Context, def *agent.Definition, call Call) (string, error) {
	switch c := call.(type) {
	case WebSearch:
		if d.caps.Search == nil {
			return "", fmt.Errorf("%w: search", ErrCapabilityUnavailable)
		}
		results, err := d.caps.Search.Search(ctx, c.Query)
		if err != nil {
			return "", err
		}
		return encode(results)

	case ScheduleTask:
		if d.caps.Tasks == nil {
			return "", fmt.Errorf("%w: tasks", ErrCapabilityUnavailable)
		}
		task, err := d.caps.Tasks.CreateTask(ctx, c, string(def.Role))
		if err != nil {
			return "", err
		}
		return encode(task)

	case ListTasks:
		if d.caps.Tasks == nil {
			return "", fmt.Errorf("%w: tasks", ErrCapabilityUnavailable)
		}
		tasks, err := d.caps.Tasks.ListTasks(ctx)
		if err != nil {
			return "", err
		}
		return encode(tasks)

	case ControlDevice:
		if d.caps.Devices == nil {
			return "", fmt.Errorf("%w: devices", ErrCapabilityUnavailable)
		}
		return d.caps.Devices.Control(ctx, c)

	case GenerateCode:
		if d.caps.Code == nil {
			return "", fmt.Errorf("%w: code generation", ErrCapabilityUnavailable)
		}
		return d.caps.Code.Generate(ctx, c)

	case GetTime:
		loc := time.UTC
		if c.Timezone != "" {
			var err error
			if loc, err = time.LoadLocation(c.Timezone); err != nil {
				return "", fmt.Errorf("%w: unknown timezone %q", ErrInvalidArguments, c.Timezone)
			}
		}
		return d.now().In(loc).Format(time.RFC3339), nil
	}
	return "", fmt.Errorf("%w: %s", ErrToolNotFound, call.ToolName())
}

func (d *Dispatcher) record(ctx context.Context, role agent.Role, out Outcome) {
	d.logger.Info("tool call",
		"agent", role,
		"tool", out.Request.Name,
		"status", out.Status,
		"error", out.Error,
	)

	if d.audit == nil {
		return
	}
	entry := &audit.Entry{
		Agent:  string(role),
		Action: audit.ActionToolInvoke,
		Tool:   out.Request.Name,
		Status: out.Status,
		Detail: out.Error,
	}
	if err := d.audit.Append(ctx, entry); err != nil {
		d.logger.Error("failed to write audit entry",
			"agent", role,
			"tool", out.Request.Name,
			"error", err,
		)
	}
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding tool output: %w", err)
	}
	return string(data), nil
}
