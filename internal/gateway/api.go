// ABOUTME: Management API handlers for agents, proactive tasks, audit log and conversations
// ABOUTME: Includes the SSE live feed of audit entries and shared JSON helpers

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/scheduler"
)

const (
	defaultAuditLimit = 100
	sseKeepAlive      = 30 * time.Second
)

// AgentResponse is one entry of GET /api/agents.
type AgentResponse struct {
	Role        agent.Role `json:"role"`
	Description string     `json:"description"`
	Tools       []string   `json:"tools"`
	Proactive   bool       `json:"proactive"`
	Default     bool       `json:"default"`
}

// CreateTaskRequest is the body of POST /api/tasks. Either Template or the
// definition fields are set.
type CreateTaskRequest struct {
	Template    string `json:"template,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Cron        string `json:"cron,omitempty"`
	Agent       string `json:"agent,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// ToggleTaskRequest is the body of POST /api/tasks/{id}/toggle.
type ToggleTaskRequest struct {
	Enabled *bool `json:"enabled"`
}

// AuditResponse is the body of GET /api/audit.
type AuditResponse struct {
	Entries []audit.Entry `json:"entries"`
	Limit   int           `json:"limit"`
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	defs := g.catalog.Definitions()
	response := make([]AgentResponse, 0, len(defs))
	for _, d := range defs {
		response = append(response, AgentResponse{
			Role:        d.Role,
			Description: d.Description,
			Tools:       d.Tools,
			Proactive:   d.Proactive,
			Default:     d.Role == g.catalog.Default,
		})
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleListTasks handles GET /api/tasks.
func (g *Gateway) handleListTasks(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.scheduler.List())
}

// handleListTemplates handles GET /api/templates.
func (g *Gateway) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.scheduler.Templates())
}

// handleCreateTask handles POST /api/tasks.
func (g *Gateway) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		task *scheduler.Task
		err  error
	)
	if req.Template != "" {
		task, err = g.scheduler.CreateFromTemplate(r.Context(), req.Template)
	} else {
		task, err = g.scheduler.Create(r.Context(), scheduler.Definition{
			Name:           req.Name,
			Description:    req.Description,
			CronExpression: req.Cron,
			Agent:          req.Agent,
			Prompt:         req.Prompt,
		})
	}
	if err != nil {
		g.sendTaskError(w, err)
		return
	}

	g.logger.Info("task created", "task_id", task.ID, "name", task.Name, "agent", task.Agent)
	g.writeJSON(w, http.StatusCreated, task)
}

// handleToggleTask handles POST /api/tasks/{id}/toggle.
func (g *Gateway) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	var req ToggleTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		g.sendJSONError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	task, err := g.scheduler.Toggle(r.Context(), chi.URLParam(r, "id"), *req.Enabled)
	if err != nil {
		g.sendTaskError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, task)
}

// handleRunTask handles POST /api/tasks/{id}/run. The run is detached from
// the request, so a client that hangs up does not abort it.
func (g *Gateway) handleRunTask(w http.ResponseWriter, r *http.Request) {
	result, err := g.scheduler.RunNow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		g.sendTaskError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// handleDeleteTask handles DELETE /api/tasks/{id}.
func (g *Gateway) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := g.scheduler.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		g.sendTaskError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sendTaskError maps scheduler errors onto HTTP statuses.
func (g *Gateway) sendTaskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrTaskRunning):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrInvalidSchedule),
		errors.Is(err, scheduler.ErrInvalidTask),
		errors.Is(err, scheduler.ErrUnknownAgent),
		errors.Is(err, scheduler.ErrUnknownTemplate):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	default:
		g.logger.Error("task operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseAuditFilter reads agent, status, tool and since (RFC3339) from the
// query string.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		Agent: q.Get("agent"),
		Tool:  q.Get("tool"),
	}
	if s := q.Get("status"); s != "" {
		f.Status = audit.Status(s)
		if !f.Status.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, fmt.Errorf("since must be an RFC3339 timestamp")
		}
		f.Since = &since
	}
	return f, nil
}

// auditLimit parses ?limit, defaulting to 100 and capping at max.
func auditLimit(raw string, max int) (int, error) {
	limit := defaultAuditLimit
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = n
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}

// handleQueryAudit handles GET /api/audit.
func (g *Gateway) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := auditLimit(r.URL.Query().Get("limit"), g.config.Audit.MaxQuery)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, err := parseAuditFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := g.audit.Query(r.Context(), limit, filter)
	if err != nil {
		g.logger.Error("audit query failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.writeJSON(w, http.StatusOK, AuditResponse{Entries: entries, Limit: limit})
}

// handleAuditStats handles GET /api/audit/stats.
func (g *Gateway) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, g.audit.Stats())
}

// handleAuditStream handles GET /api/audit/stream, pushing each appended
// entry as an SSE "audit" event until the client disconnects.
func (g *Gateway) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	agentFilter := r.URL.Query().Get("agent")
	entries := g.audit.Subscribe(r.Context(), agentFilter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	g.writeSSEEvent(w, "ready", map[string]string{"agent": agentFilter})
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "audit", e)
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// handleGetConversation handles GET /api/conversations/{id}. Conversations
// owned by another caller are reported as missing.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, conversation.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.logger.Error("conversation lookup failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Subject != conv.Owner {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.writeJSON(w, http.StatusOK, conv)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the database answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "database unavailable: %v", err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tasks, %d sessions)", len(g.scheduler.List()), g.state.sessions.Len())
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
