// ABOUTME: POST /api/chat streams one chat turn as NDJSON records ending in [DONE]
// ABOUTME: Also holds the per-IP rate limit middleware guarding it

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/ratelimit"
	"github.com/2389/switchboard-gateway/internal/stream"
)

const maxChatBodyBytes = 8 << 20

// ChatRequest is the JSON body of POST /api/chat.
type ChatRequest struct {
	Messages       []chatMessage `json:"messages"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// validationResponse is the 400 body for invalid chat requests.
type validationResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

// limitByIP rejects requests over the per-IP quota with 429.
func (g *Gateway) limitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		decision := g.state.allow(r.Context(), ipKey(ip))
		if !decision.Allowed {
			retry := g.state.retryAfterSeconds(decision)
			g.logger.Warn("rate limit exceeded", "remote_ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			g.sendJSONError(w, http.StatusTooManyRequests, ratelimit.ErrLimited.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleChat handles POST /api/chat.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes)).Decode(&req); err != nil {
		g.writeJSON(w, http.StatusBadRequest, validationResponse{
			Error:  msgInvalidRequest,
			Errors: []string{"body: must be a JSON object"},
		})
		return
	}

	history, err := validateMessages(req.Messages)
	if err != nil {
		var ve *ValidationError
		errors.As(err, &ve)
		g.writeJSON(w, http.StatusBadRequest, validationResponse{Error: msgInvalidRequest, Errors: ve.Fields})
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var claim string
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		claim = identity.Subject + "/" + key
		if !g.state.requests.Claim(claim) {
			g.sendJSONError(w, http.StatusConflict, "duplicate request")
			return
		}
	}
	release := func() {
		if claim != "" {
			g.state.requests.Release(claim)
		}
	}

	t, err := g.prepareTurn(r.Context(), identity.Subject, req.ConversationID, history)
	if err != nil {
		release()
		if errors.Is(err, errNotOwner) {
			g.sendJSONError(w, http.StatusForbidden, "conversation belongs to another owner")
			return
		}
		g.logger.Error("failed to prepare turn", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	role, rule := g.router.Explain(history)
	g.logger.Debug("routed turn", "agent", role, "rule", rule, "transport", "ndjson")

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Conversation-ID", t.conversationID)
	w.Header().Set("X-Agent-Role", string(role))
	w.WriteHeader(http.StatusOK)

	h := stream.NewHandler(stream.NewNDJSONSink(w))
	if res := g.runTurn(r.Context(), t, role, h); res.err != nil {
		release()
	}
	if err := h.Err(); err != nil {
		g.logger.Debug("chat client went away", "error", err)
	}
}
