// ABOUTME: Realtime websocket endpoint: per-connection auth, rate limit, validation and chat turns
// ABOUTME: A reader goroutine feeds frames to a single processor so each connection is sequential

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/stream"
)

const (
	inboundQueueSize = 32
	wsWriteTimeout   = 10 * time.Second
	wsReadLimit      = 8 << 20
)

// wsConn is one websocket client.
type wsConn struct {
	id       string
	ip       string
	ws       *websocket.Conn
	gw       *Gateway
	state    *serverState
	logger   *slog.Logger
	received int
}

// handleWebsocket upgrades GET /ws and serves the connection until it closes.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(wsReadLimit)

	c := &wsConn{
		id:    uuid.New().String(),
		ip:    clientIP(r),
		ws:    ws,
		gw:    g,
		state: g.state,
	}
	c.logger = g.logger.With("conn_id", c.id, "remote_ip", c.ip)
	c.serve(r.Context())
}

func (c *wsConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer c.state.forget(c.id, c.ip)

	c.logger.Info("websocket connected")
	defer c.logger.Info("websocket disconnected", "messages", c.received)

	frames := make(chan []byte, inboundQueueSize)
	go c.readLoop(ctx, cancel, frames)

	for {
		select {
		case <-ctx.Done():
			_ = c.ws.CloseNow()
			return
		case data, ok := <-frames:
			if !ok {
				_ = c.ws.CloseNow()
				return
			}
			if !c.handle(ctx, data) {
				return
			}
		}
	}
}

// readLoop keeps reading so control frames are handled while a turn runs.
// When the client goes away it cancels ctx, which cancels the in-flight turn.
func (c *wsConn) readLoop(ctx context.Context, cancel context.CancelFunc, frames chan<- []byte) {
	defer close(frames)
	defer cancel()

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				c.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handle processes one inbound frame. It returns false when the connection
// must be closed.
func (c *wsConn) handle(ctx context.Context, data []byte) bool {
	c.received++
	first := c.received == 1

	decision := c.state.allow(ctx, c.state.connectionKey(c.id, c.ip))
	if !decision.Allowed {
		c.logger.Warn("rate limit exceeded", "first_message", first)
		c.send(ctx, outboundFrame{
			Type:       frameError,
			Message:    msgRateLimited,
			RetryAfter: c.state.retryAfterSeconds(decision),
		})
		if first {
			_ = c.ws.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return false
		}
		return true
	}

	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.sendInvalid(ctx, &ValidationError{Fields: []string{"body: must be a JSON object"}}, "")
		return true
	}

	if ve := validateEnvelope(in); ve != nil {
		c.sendInvalid(ctx, ve, in.RequestID)
		return true
	}

	switch in.action() {
	case frameAuth:
		c.handleAuth(ctx, in.Token)
	case framePing:
		if c.requireAuth(ctx) {
			c.send(ctx, outboundFrame{
				Type:      framePong,
				Timestamp: c.state.now().UTC().Format(time.RFC3339Nano),
			})
		}
	case frameChat:
		if c.requireAuth(ctx) {
			c.handleChat(ctx, in)
		}
	}
	return true
}

func (c *wsConn) handleAuth(ctx context.Context, token string) {
	identity, err := c.state.authn.Authenticate(token)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		c.logger.Warn("websocket auth rejected", "reason", "expired")
		c.send(ctx, outboundFrame{Type: frameError, Message: msgExpiredToken})
	case err != nil:
		c.logger.Warn("websocket auth rejected", "reason", err)
		c.send(ctx, outboundFrame{Type: frameError, Message: msgInvalidToken})
	default:
		c.state.sessions.Add(c.id, identity)
		c.logger.Info("websocket authenticated", "subject", identity.Subject, "method", identity.Method)
		c.send(ctx, outboundFrame{Type: frameAuthSuccess})
	}
}

func (c *wsConn) requireAuth(ctx context.Context) bool {
	if c.state.sessions.IsAuthenticated(c.id) {
		return true
	}
	c.send(ctx, outboundFrame{Type: frameError, Message: msgNotAuthenticated})
	return false
}

func (c *wsConn) handleChat(ctx context.Context, in inboundFrame) {
	history, err := validateMessages(in.Messages)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			c.sendInvalid(ctx, ve, in.RequestID)
		}
		return
	}

	identity, ok := c.state.sessions.Get(c.id)
	if !ok {
		c.send(ctx, outboundFrame{Type: frameError, Message: msgNotAuthenticated})
		return
	}

	var claim string
	if in.RequestID != "" {
		claim = identity.Subject + "/" + in.RequestID
		if !c.state.requests.Claim(claim) {
			c.send(ctx, outboundFrame{Type: frameError, Message: msgDuplicateRequest, RequestID: in.RequestID})
			return
		}
	}

	t, err := c.gw.prepareTurn(ctx, identity.Subject, in.ConversationID, history)
	if err != nil {
		c.release(claim)
		msg := stream.MessageUnknown
		if errors.Is(err, errNotOwner) {
			msg = msgNotOwner
		} else {
			c.logger.Error("failed to prepare turn", "error", err)
		}
		c.send(ctx, outboundFrame{Type: frameError, Message: msg, RequestID: in.RequestID})
		return
	}

	role, rule := c.gw.router.Explain(history)
	c.logger.Debug("routed turn", "agent", role, "rule", rule, "stream", in.Stream)

	tag := func(e stream.Event) streamFrame {
		return streamFrame{Event: e, ConversationID: t.conversationID, RequestID: in.RequestID}
	}

	if in.Stream {
		h := stream.NewHandler(stream.SinkFunc(func(e stream.Event) error {
			return c.write(ctx, tag(e))
		}))
		if res := c.gw.runTurn(ctx, t, role, h); res.err != nil {
			c.release(claim)
		}
		return
	}

	rec := &stream.Recorder{}
	res := c.gw.runTurn(ctx, t, role, stream.NewHandler(rec))
	if res.err != nil {
		c.release(claim)
		if n := len(rec.Events); n > 0 {
			c.send(ctx, tag(rec.Events[n-1]))
		}
		return
	}
	c.send(ctx, outboundFrame{
		Type:           frameChatResponse,
		Content:        res.content,
		Agent:          string(res.role),
		Calls:          res.outcomes,
		ConversationID: t.conversationID,
		RequestID:      in.RequestID,
	})
}

func (c *wsConn) release(claim string) {
	if claim != "" {
		c.state.requests.Release(claim)
	}
}

func (c *wsConn) sendInvalid(ctx context.Context, ve *ValidationError, requestID string) {
	c.send(ctx, outboundFrame{
		Type:      frameError,
		Message:   msgInvalidRequest,
		Errors:    ve.Fields,
		RequestID: requestID,
	})
}

func (c *wsConn) send(ctx context.Context, v any) {
	if err := c.write(ctx, v); err != nil {
		c.logger.Debug("websocket write failed", "error", err)
	}
}

func (c *wsConn) write(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c.ws, v)
}
