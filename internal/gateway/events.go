// ABOUTME: Websocket protocol frames and chat request validation
// ABOUTME: Validation collects every field problem so clients can fix them in one round

package gateway

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/stream"
	"github.com/2389/switchboard-gateway/internal/tools"
)

// Inbound frame actions.
const (
	frameAuth = "auth"
	frameChat = "chat"
	framePing = "ping"
)

// Outbound frame types that are not stream events.
const (
	frameAuthSuccess  = "auth_success"
	framePong         = "pong"
	frameChatResponse = "chat_response"
	frameError        = "error"
)

// Client-facing error messages.
const (
	msgInvalidToken     = "Invalid auth token"
	msgExpiredToken     = "Auth token expired"
	msgNotAuthenticated = "Not authenticated"
	msgInvalidRequest   = "Invalid request"
	msgRateLimited      = "Rate limit exceeded"
	msgDuplicateRequest = "Duplicate request"
	msgNotOwner         = "Conversation belongs to another session"
)

// Chat validation limits.
const (
	MaxMessages      = 100
	MaxContentLength = 10000
)

// chatMessage is a message as sent by clients.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// inboundFrame is any client-to-server websocket message. Action selects
// the handler; Type is accepted as an alias for older clients.
type inboundFrame struct {
	Action         string        `json:"action"`
	Type           string        `json:"type,omitempty"`
	Token          string        `json:"token,omitempty"`
	Messages       []chatMessage `json:"messages,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
	ConversationID string        `json:"conversation_id,omitempty"`
	RequestID      string        `json:"request_id,omitempty"`
}

// outboundFrame is a server-to-client websocket message other than a
// stream event.
type outboundFrame struct {
	Type           string          `json:"type"`
	Message        string          `json:"message,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	RetryAfter     int             `json:"retry_after,omitempty"`
	Timestamp      string          `json:"timestamp,omitempty"`
	Content        string          `json:"content,omitempty"`
	Agent          string          `json:"agent,omitempty"`
	Calls          []tools.Outcome `json:"calls,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
}

func (f inboundFrame) action() string {
	if f.Action != "" {
		return f.Action
	}
	return f.Type
}

// validateEnvelope checks the fields shared by every inbound frame. A token
// is required to authenticate and, when present, must be at least
// auth.MinTokenLength characters.
func validateEnvelope(f inboundFrame) *ValidationError {
	var fields []string
	action := f.action()
	switch action {
	case frameAuth, frameChat, framePing:
	default:
		fields = append(fields, fmt.Sprintf("action: must be one of %s, %s, %s", frameAuth, frameChat, framePing))
	}
	switch {
	case f.Token == "" && action == frameAuth:
		fields = append(fields, "token: required")
	case f.Token != "" && len(f.Token) < auth.MinTokenLength:
		fields = append(fields, fmt.Sprintf("token: must be at least %d characters", auth.MinTokenLength))
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// streamFrame is a stream event tagged with the turn it belongs to.
type streamFrame struct {
	stream.Event
	ConversationID string `json:"conversation_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

// ValidationError lists every problem found in a request.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Fields, "; ")
}

// validateMessages checks a chat message list and converts it to history.
func validateMessages(msgs []chatMessage) ([]conversation.Message, error) {
	var fields []string
	switch {
	case len(msgs) == 0:
		fields = append(fields, "messages: must not be empty")
	case len(msgs) > MaxMessages:
		fields = append(fields, fmt.Sprintf("messages: must contain at most %d messages", MaxMessages))
	}

	history := make([]conversation.Message, 0, len(msgs))
	for i, m := range msgs {
		role := conversation.Role(m.Role)
		if !role.Valid() {
			fields = append(fields, fmt.Sprintf("messages[%d].role: must be one of user, assistant, system", i))
		}
		if n := utf8.RuneCountInString(m.Content); n < 1 || n > MaxContentLength {
			fields = append(fields, fmt.Sprintf("messages[%d].content: must be between 1 and %d characters", i, MaxContentLength))
		}
		history = append(history, conversation.Message{Role: role, Content: m.Content})
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return history, nil
}
