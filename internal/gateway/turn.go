// ABOUTME: One chat turn from routed role to terminal event, shared by websocket and HTTP
// ABOUTME: The turn is committed to the conversation store only when it completes

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/stream"
	"github.com/2389/switchboard-gateway/internal/tools"
)

var errNotOwner = errors.New("conversation belongs to another owner")

// turn is a validated chat request.
type turn struct {
	owner          string
	conversationID string
	history        []conversation.Message
}

// turnResult summarizes how a turn ended.
type turnResult struct {
	role     agent.Role
	content  string
	outcomes []tools.Outcome
	err      error
}

// prepareTurn resolves the conversation id, minting one when the client did
// not send it, and rejects ids owned by someone else.
func (g *Gateway) prepareTurn(ctx context.Context, owner, conversationID string, history []conversation.Message) (turn, error) {
	t := turn{owner: owner, conversationID: conversationID, history: history}
	if conversationID == "" {
		t.conversationID = conversation.NewID()
		return t, nil
	}
	conv, err := g.conversations.Get(ctx, conversationID)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return t, nil
	case err != nil:
		return t, fmt.Errorf("loading conversation: %w", err)
	case conv.Owner != owner:
		return t, errNotOwner
	}
	return t, nil
}

// runTurn streams the reply of role into h, runs any tool calls the model
// asked for and emits exactly one terminal event.
func (g *Gateway) runTurn(ctx context.Context, t turn, role agent.Role, h *stream.Handler) turnResult {
	res := turnResult{role: role}
	def, ok := g.catalog.Get(role)
	if !ok {
		res.err = fmt.Errorf("%w: %s", agent.ErrUnknownRole, role)
		h.OnError(res.err)
		return res
	}

	h.Begin(string(role))
	req := model.Request{
		System:   def.Prompt,
		Messages: t.history,
		Tools:    tools.Definitions(def.Tools),
	}

	out, err := g.runner.Run(ctx, req, h)
	if err != nil {
		res.err = err
		g.logTurnError(role, err)
		h.OnError(err)
		return res
	}
	res.content = out.Content

	if len(out.ToolCalls) > 0 {
		res.outcomes = g.dispatcher.DispatchAll(ctx, def, out.ToolCalls)
		h.OnToolCalls(res.outcomes)
	}

	if err := ctx.Err(); err != nil {
		res.err = err
		h.OnError(err)
		return res
	}

	g.commitTurn(ctx, t, out.Content)
	h.End()
	return res
}

func (g *Gateway) commitTurn(ctx context.Context, t turn, reply string) {
	user, ok := conversation.LastUser(t.history)
	if !ok {
		return
	}
	assistant := conversation.Message{Role: conversation.RoleAssistant, Content: reply}
	if _, err := g.conversations.CommitTurn(ctx, t.conversationID, t.owner, user, assistant); err != nil {
		g.logger.Error("failed to persist conversation turn",
			"conversation_id", t.conversationID,
			"error", err,
		)
	}
}

func (g *Gateway) logTurnError(role agent.Role, err error) {
	if errors.Is(err, context.Canceled) {
		g.logger.Debug("turn cancelled", "agent", role)
		return
	}
	g.logger.Warn("turn failed",
		"agent", role,
		"kind", model.KindOf(err),
		"error", err,
	)
}
