// ABOUTME: Tests for the NDJSON sink and the client-side reassembler
// ABOUTME: Reassembly must be independent of how the transport splits bytes

package stream

import (
	"bytes"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/tools"
)

func TestNDJSONSink_Records(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(NewNDJSONSink(&buf))

	h.Begin("research")
	h.OnDelta("Hello ")
	h.OnToolCalls([]tools.Outcome{{Request: tools.Request{ID: "c1", Name: "get_time"}, Status: audit.StatusExecuted, Output: "12:00"}})
	h.OnDelta("world")
	h.End()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.JSONEq(t, `{"type":"content","content":"Hello "}`, lines[0])
	assert.Contains(t, lines[1], `"type":"tool_calls"`)
	assert.Contains(t, lines[1], `"agent":"research"`)
	assert.JSONEq(t, `{"type":"content","content":"world"}`, lines[2])
	assert.Equal(t, DoneSentinel, lines[3])
}

func TestNDJSONSink_ErrorEndsWithSentinel(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(NewNDJSONSink(&buf))

	h.OnError(errors.New("boom"))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"error","message":"`+MessageUnknown+`","kind":"unknown"}`, lines[0])
	assert.Equal(t, DoneSentinel, lines[1])
}

func TestNDJSONSink_FlushesHTTPResponses(t *testing.T) {
	rr := httptest.NewRecorder()
	sink := NewNDJSONSink(rr)

	require.NoError(t, sink.Emit(Event{Type: EventMessageCreated, Delta: "x"}))
	assert.True(t, rr.Flushed)
}

func TestReassembler_ArbitrarySplits(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(NewNDJSONSink(&buf))
	fragments := []string{"Grüße ", "aus ", "東京", " 🎉", "\nnew line", " \"quoted\""}
	for _, f := range fragments {
		h.OnDelta(f)
	}
	h.End()
	wire := buf.Bytes()
	want := strings.Join(fragments, "")

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 300; trial++ {
		r := NewReassembler()
		rest := wire
		for len(rest) > 0 {
			n := 1 + rng.Intn(min(len(rest), 9))
			_, err := r.Write(rest[:n])
			require.NoError(t, err)
			rest = rest[n:]
		}
		require.NoError(t, r.Close())
		require.NoError(t, r.Err(), "trial %d", trial)
		require.Equal(t, want, r.Content(), "trial %d", trial)
		require.True(t, r.Done())
	}
}

func TestReassembler_ErrorRecord(t *testing.T) {
	input := `{"type":"content","content":"half"}` + "\n" +
		`{"type":"error","message":"nope","kind":"transient"}` + "\n" +
		DoneSentinel + "\n"

	r, err := Reassemble(strings.NewReader(input))
	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "transient", upstream.Kind)
	assert.Equal(t, "half", r.Content())
}

func TestReassembler_Incomplete(t *testing.T) {
	r, err := Reassemble(strings.NewReader(`{"type":"content","content":"cut"}` + "\n"))
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, "cut", r.Content())
}

func TestReassembler_SkipsUnknownAndMalformed(t *testing.T) {
	input := "garbage\n" + `{"type":"future","content":"x"}` + "\n" +
		`{"type":"tool_calls","agent":"device"}` + "\n" +
		`{"type":"content","content":"ok"}` + "\n" + DoneSentinel

	var seen []string
	r := NewReassembler()
	r.OnContent = func(f string) { seen = append(seen, f) }
	_, _ = r.Write([]byte(input))
	require.NoError(t, r.Close())

	assert.NoError(t, r.Err())
	assert.Equal(t, "ok", r.Content())
	assert.Equal(t, []string{"ok"}, seen)
	require.Len(t, r.ToolCalls(), 1)
	assert.Equal(t, "device", r.ToolCalls()[0].Agent)
}
