// ABOUTME: Client-facing stream event types and the Sink they are written to
// ABOUTME: Event shapes are shared by the websocket protocol and the NDJSON transport

package stream

import (
	"github.com/2389/switchboard-gateway/internal/tools"
)

// EventType names a stream event.
type EventType string

const (
	EventThinking       EventType = "thinking"
	EventMessageCreated EventType = "message_created"
	EventMessageUpdated EventType = "message_updated"
	EventToolCalls      EventType = "tool_calls"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// Event is one message sent to the client while a turn streams.
type Event struct {
	Type        EventType       `json:"type"`
	Agent       string          `json:"agent,omitempty"`
	Content     string          `json:"content,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	Calls       []tools.Outcome `json:"calls,omitempty"`
	Message     string          `json:"message,omitempty"`
	Kind        string          `json:"kind,omitempty"`
	Synthesized bool            `json:"synthesized,omitempty"`
}

// Sink receives events in order.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(e Event) error { return f(e) }

// Recorder is a Sink that keeps every event. Useful for non-streaming
// callers and tests.
type Recorder struct {
	Events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) error {
	r.Events = append(r.Events, e)
	return nil
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	out := make([]EventType, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Type
	}
	return out
}
