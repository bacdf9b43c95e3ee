// ABOUTME: NDJSON text transport: a Sink that writes content/tool_calls/error records and [DONE]
// ABOUTME: plus the client-side Reassembler that rebuilds the reply from arbitrary byte splits

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/2389/switchboard-gateway/internal/tools"
)

// Record types on the NDJSON transport.
const (
	RecordContent   = "content"
	RecordToolCalls = "tool_calls"
	RecordError     = "error"
)

// Record is one NDJSON line.
type Record struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Agent   string          `json:"agent,omitempty"`
	Calls   []tools.Outcome `json:"calls,omitempty"`
	Message string          `json:"message,omitempty"`
	Kind    string          `json:"kind,omitempty"`
}

// NDJSONSink writes events as NDJSON records, flushing after each line.
type NDJSONSink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewNDJSONSink creates a sink over w. If w is an http.Flusher every record
// is flushed immediately.
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	s := &NDJSONSink{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Emit implements Sink.
func (s *NDJSONSink) Emit(e Event) error {
	switch e.Type {
	case EventMessageCreated, EventMessageUpdated:
		return s.write(Record{Type: RecordContent, Content: e.Delta})
	case EventToolCalls:
		return s.write(Record{Type: RecordToolCalls, Agent: e.Agent, Calls: e.Calls})
	case EventError:
		if err := s.write(Record{Type: RecordError, Message: e.Message, Kind: e.Kind}); err != nil {
			return err
		}
		return s.writeLine([]byte(DoneSentinel))
	case EventDone:
		return s.writeLine([]byte(DoneSentinel))
	}
	return nil
}

func (s *NDJSONSink) write(r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return s.writeLine(data)
}

func (s *NDJSONSink) writeLine(data []byte) error {
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// ErrIncomplete is returned by Reassembler when the transport ended without
// the sentinel.
var ErrIncomplete = errors.New("stream ended without [DONE]")

// UpstreamError is a reassembled error record.
type UpstreamError struct {
	Message string
	Kind    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Reassembler rebuilds the assistant reply from NDJSON bytes. It implements
// io.Writer so a response body can be copied straight into it.
type Reassembler struct {
	framer    *Framer
	content   strings.Builder
	toolCalls []Record
	err       *UpstreamError
	done      bool
	closed    bool

	// OnContent, if set, is called with each content fragment.
	OnContent func(fragment string)
}

// NewReassembler creates an empty reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{framer: NewFramer()}
}

// Write consumes the next chunk of the transport.
func (r *Reassembler) Write(p []byte) (int, error) {
	r.apply(r.framer.Push(p))
	return len(p), nil
}

// Close finalizes at EOF, treating a trailing unterminated line as complete.
func (r *Reassembler) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.apply(r.framer.Flush())
	return nil
}

func (r *Reassembler) apply(frames []Frame) {
	for _, fr := range frames {
		if fr.Done {
			r.done = true
			continue
		}
		var rec Record
		if err := json.Unmarshal(fr.Payload, &rec); err != nil {
			continue
		}
		switch rec.Type {
		case RecordContent:
			r.content.WriteString(rec.Content)
			if r.OnContent != nil {
				r.OnContent(rec.Content)
			}
		case RecordToolCalls:
			r.toolCalls = append(r.toolCalls, rec)
		case RecordError:
			r.err = &UpstreamError{Message: rec.Message, Kind: rec.Kind}
		}
	}
}

// Content returns the text reassembled so far.
func (r *Reassembler) Content() string {
	return r.content.String()
}

// ToolCalls returns every tool_calls record seen.
func (r *Reassembler) ToolCalls() []Record {
	return r.toolCalls
}

// Done reports whether the sentinel was seen.
func (r *Reassembler) Done() bool {
	return r.done
}

// Err returns the upstream error record, or ErrIncomplete if the stream was
// closed without the sentinel.
func (r *Reassembler) Err() error {
	if r.err != nil {
		return r.err
	}
	if r.closed && !r.done {
		return ErrIncomplete
	}
	return nil
}

// Reassemble reads rd to EOF and returns the reassembled reply.
func Reassemble(rd io.Reader) (*Reassembler, error) {
	r := NewReassembler()
	if _, err := io.Copy(r, rd); err != nil {
		return r, fmt.Errorf("reading stream: %w", err)
	}
	_ = r.Close()
	return r, r.Err()
}
