// ABOUTME: Handler enforces the per-turn event contract and accumulates assistant content
// ABOUTME: Exactly one terminal event (done or error); nothing is emitted after it

package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/tools"
)

// User-facing error wording per upstream error kind.
const (
	MessageTransient     = "The assistant is temporarily unreachable. Please try again."
	MessageContentFilter = "This request was blocked by the content safety filter."
	MessageUnavailable   = "The assistant service is not configured or unavailable."
	MessageUnknown       = "Something went wrong while generating a response."
	MessageCancelled     = "The request was cancelled."
)

// UserMessage maps an error to the wording shown to users.
func UserMessage(err error) (string, model.Kind) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return MessageCancelled, model.KindUnknown
	}
	kind := model.KindOf(err)
	switch kind {
	case model.KindTransient:
		return MessageTransient, kind
	case model.KindContentFilter:
		return MessageContentFilter, kind
	case model.KindUnavailable:
		return MessageUnavailable, kind
	}
	return MessageUnknown, model.KindUnknown
}

// Handler emits the events of one assistant turn. It is safe for concurrent
// use, though a turn normally runs on a single goroutine.
type Handler struct {
	sink  Sink
	agent string

	mu         sync.Mutex
	content    strings.Builder
	created    bool
	terminated bool
	failed     bool
	sinkErr    error
}

// NewHandler creates a handler writing to sink.
func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// Begin announces which agent is working on the turn.
func (h *Handler) Begin(agent string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agent = agent
	h.emitLocked(Event{Type: EventThinking, Agent: agent})
}

// OnDelta appends a content fragment. The first non-empty fragment creates
// the message; later ones update it with the full accumulated content.
func (h *Handler) OnDelta(fragment string) {
	if fragment == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return
	}

	h.content.WriteString(fragment)
	typ := EventMessageUpdated
	if !h.created {
		typ = EventMessageCreated
		h.created = true
	}
	h.emitLocked(Event{
		Type:    typ,
		Agent:   h.agent,
		Content: h.content.String(),
		Delta:   fragment,
	})
}

// OnToolCalls reports tool calls and their outcomes.
func (h *Handler) OnToolCalls(calls []tools.Outcome) {
	if len(calls) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return
	}
	h.emitLocked(Event{Type: EventToolCalls, Agent: h.agent, Calls: calls})
}

// OnError emits the terminal error event. If no content was produced the
// event is marked synthesized and its message stands in for the reply.
func (h *Handler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return
	}

	msg, kind := UserMessage(err)
	h.emitLocked(Event{
		Type:        EventError,
		Agent:       h.agent,
		Content:     h.content.String(),
		Message:     msg,
		Kind:        string(kind),
		Synthesized: !h.created,
	})
	h.terminated = true
	h.failed = true
}

// End emits done with the final content. Calling it again, or after
// OnError, does nothing.
func (h *Handler) End() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated {
		return
	}
	h.emitLocked(Event{Type: EventDone, Agent: h.agent, Content: h.content.String()})
	h.terminated = true
}

// Content returns the accumulated assistant text.
func (h *Handler) Content() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content.String()
}

// HasContent reports whether any content fragment was emitted.
func (h *Handler) HasContent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created
}

// Terminated reports whether done or error was emitted.
func (h *Handler) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// Succeeded reports whether the turn ended with done.
func (h *Handler) Succeeded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated && !h.failed
}

// Err returns the first sink error. Once the sink fails no further events
// are written.
func (h *Handler) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinkErr
}

func (h *Handler) emitLocked(e Event) {
	if h.sinkErr != nil {
		return
	}
	if err := h.sink.Emit(e); err != nil {
		h.sinkErr = err
	}
}
