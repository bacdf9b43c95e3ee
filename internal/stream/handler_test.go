// ABOUTME: Tests for the stream event contract
// ABOUTME: Covers created/updated sequencing, terminal idempotence and error wording

package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/tools"
)

func TestHandler_FragmentSequence(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.Begin("orchestrator")
	h.OnDelta("Hel")
	h.OnDelta("lo wor")
	h.OnDelta("ld")
	h.End()

	require.Equal(t, []EventType{EventThinking, EventMessageCreated, EventMessageUpdated, EventMessageUpdated, EventDone}, rec.Types())
	assert.Equal(t, "orchestrator", rec.Events[0].Agent)
	assert.Equal(t, "Hel", rec.Events[1].Content)
	assert.Equal(t, "Hello wor", rec.Events[2].Content)
	assert.Equal(t, "lo wor", rec.Events[2].Delta)
	assert.Equal(t, "Hello world", rec.Events[3].Content)
	assert.Equal(t, "Hello world", rec.Events[4].Content)
	assert.True(t, h.Succeeded())
}

func TestHandler_EmptyFragmentsIgnored(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.OnDelta("")
	h.OnDelta("a")
	h.OnDelta("")

	assert.Equal(t, []EventType{EventMessageCreated}, rec.Types())
}

func TestHandler_EndIsIdempotent(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.OnDelta("x")
	h.End()
	h.End()
	h.OnDelta("y")
	h.OnError(errors.New("late"))
	h.OnToolCalls([]tools.Outcome{{Request: tools.Request{Name: "get_time"}}})

	assert.Equal(t, []EventType{EventMessageCreated, EventDone}, rec.Types())
	assert.Equal(t, "x", h.Content())
}

func TestHandler_ToolCallsInterleave(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.Begin("research")
	h.OnToolCalls([]tools.Outcome{{Request: tools.Request{Name: "web_search"}, Status: audit.StatusExecuted}})
	h.OnDelta("Found it")
	h.OnToolCalls(nil)
	h.OnToolCalls([]tools.Outcome{{Request: tools.Request{Name: "get_time"}, Status: audit.StatusExecuted}})
	h.End()

	assert.Equal(t, []EventType{EventThinking, EventToolCalls, EventMessageCreated, EventToolCalls, EventDone}, rec.Types())
	assert.Equal(t, "research", rec.Events[1].Agent)
}

func TestHandler_ErrorBeforeContentIsSynthesized(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.Begin("orchestrator")
	h.OnError(&model.Error{Kind: model.KindContentFilter})
	h.End()

	require.Equal(t, []EventType{EventThinking, EventError}, rec.Types())
	e := rec.Events[1]
	assert.True(t, e.Synthesized)
	assert.Equal(t, MessageContentFilter, e.Message)
	assert.Equal(t, string(model.KindContentFilter), e.Kind)
	assert.False(t, h.Succeeded())
	assert.True(t, h.Terminated())
}

func TestHandler_ErrorAfterContentKeepsPartial(t *testing.T) {
	rec := &Recorder{}
	h := NewHandler(rec)

	h.OnDelta("partial")
	h.OnError(&model.Error{Kind: model.KindTransient})

	e := rec.Events[len(rec.Events)-1]
	assert.Equal(t, EventError, e.Type)
	assert.False(t, e.Synthesized)
	assert.Equal(t, "partial", e.Content)
	assert.Equal(t, MessageTransient, e.Message)
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&model.Error{Kind: model.KindTransient}, MessageTransient},
		{&model.Error{Kind: model.KindContentFilter}, MessageContentFilter},
		{&model.Error{Kind: model.KindUnavailable}, MessageUnavailable},
		{&model.Error{Kind: model.KindUnknown}, MessageUnknown},
		{errors.New("plain"), MessageUnknown},
		{context.Canceled, MessageCancelled},
	}
	for _, tt := range tests {
		msg, _ := UserMessage(tt.err)
		assert.Equal(t, tt.want, msg)
	}
}

func TestHandler_SinkFailureStopsEmission(t *testing.T) {
	calls := 0
	h := NewHandler(SinkFunc(func(Event) error {
		calls++
		return errors.New("client gone")
	}))

	h.OnDelta("a")
	h.OnDelta("b")
	h.End()

	assert.Equal(t, 1, calls)
	assert.EqualError(t, h.Err(), "client gone")
	assert.Equal(t, "ab", h.Content())
}
