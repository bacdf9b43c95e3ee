// ABOUTME: Runner drives one streaming model turn from upstream bytes to handler events
// ABOUTME: Decodes OpenAI chunk deltas, accumulates tool calls, retries early transient failures

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/tools"
)

// Runner defaults
const (
	DefaultRetries = 2
	DefaultBackoff = 500 * time.Millisecond
	readBufferSize = 4096
)

// errEmptyStream is returned when the upstream closed without sending anything.
var errEmptyStream = &model.Error{Kind: model.KindTransient, Message: "stream ended before any data"}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Retries int
	Backoff time.Duration
}

// Runner executes streaming turns against a model client.
type Runner struct {
	client  model.Client
	retries int
	backoff time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner. Negative retries disable retrying.
func NewRunner(client model.Client, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &Runner{
		client:  client,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		logger:  logger.With("component", "stream"),
		sleep:   sleepContext,
	}
}

// Result is the outcome of a successful stream.
type Result struct {
	Content   string
	ToolCalls []tools.Request
	Attempts  int
}

// Run streams req, feeding content deltas to h. It does not emit the
// terminal event; the caller decides between h.End and h.OnError based on
// the returned error.
func (r *Runner) Run(ctx context.Context, req model.Request, h *Handler) (*Result, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			wait := r.backoff * time.Duration(attempt)
			r.logger.Warn("retrying model stream",
				"attempt", attempt+1,
				"backoff", wait,
				"error", lastErr,
			)
			if err := r.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		calls, err := r.attempt(ctx, req, h)
		if err == nil {
			return &Result{Content: h.Content(), ToolCalls: calls, Attempts: attempt + 1}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Once a fragment reached the client a retry would duplicate text.
		if !model.IsRetryable(err) || h.HasContent() {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt runs one upstream request with a fresh framer.
func (r *Runner) attempt(ctx context.Context, req model.Request, h *Handler) ([]tools.Request, error) {
	body, err := r.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	framer := NewFramer()
	acc := newToolCallAccumulator()
	received := false
	buf := make([]byte, readBufferSize)

	process := func(frames []Frame) (bool, error) {
		for _, fr := range frames {
			received = true
			if fr.Done {
				return true, nil
			}
			c, ok := decodeChunk(fr.Payload)
			if !ok {
				r.logger.Debug("skipping malformed stream record", "payload", string(fr.Payload))
				continue
			}
			if c.err != nil {
				return false, c.err
			}
			h.OnDelta(c.content)
			acc.add(c.toolCalls)
			if c.finishReason == "content_filter" {
				return false, &model.Error{Kind: model.KindContentFilter, Message: "response blocked by content filter"}
			}
		}
		return false, nil
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			done, err := process(framer.Push(buf[:n]))
			if err != nil {
				return nil, err
			}
			if done {
				return acc.requests(), nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			done, err := process(framer.Flush())
			if err != nil {
				return nil, err
			}
			if !done && !received {
				return nil, errEmptyStream
			}
			return acc.requests(), nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &model.Error{Kind: model.KindTransient, Err: fmt.Errorf("reading stream: %w", readErr)}
		}
	}
}

// chunk is the decoded subset of an OpenAI chat.completion.chunk.
type chunk struct {
	content      string
	toolCalls    []toolCallDelta
	finishReason string
	err          error
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// decodeChunk parses a payload. ok is false for malformed JSON, which is
// treated as noise.
func decodeChunk(payload []byte) (chunk, bool) {
	var w wireChunk
	if err := json.Unmarshal(payload, &w); err != nil {
		return chunk{}, false
	}

	if w.Error != nil {
		code := ""
		if w.Error.Code != nil {
			code = fmt.Sprint(w.Error.Code)
		}
		return chunk{err: model.NewStreamError(code, w.Error.Type, w.Error.Message)}, true
	}

	var c chunk
	if len(w.Choices) > 0 {
		choice := w.Choices[0]
		c.content = choice.Delta.Content
		c.toolCalls = choice.Delta.ToolCalls
		if choice.FinishReason != nil {
			c.finishReason = *choice.FinishReason
		}
	}
	return c, true
}

// toolCallAccumulator merges streamed tool call fragments by index.
type toolCallAccumulator struct {
	calls map[int]*tools.Request
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*tools.Request)}
}

func (a *toolCallAccumulator) add(deltas []toolCallDelta) {
	for _, d := range deltas {
		call, ok := a.calls[d.Index]
		if !ok {
			call = &tools.Request{}
			a.calls[d.Index] = call
		}
		if d.ID != "" {
			call.ID = d.ID
		}
		call.Name += d.Function.Name
		call.Arguments += d.Function.Arguments
	}
}

func (a *toolCallAccumulator) requests() []tools.Request {
	if len(a.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]tools.Request, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.calls[i])
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
