// ABOUTME: OpenAI-compatible model client: raw streaming over net/http and completions via openai-go
// ABOUTME: Converts conversation history and tool definitions into provider requests

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/tools"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1/"

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// Request is one model call.
type Request struct {
	System   string
	Messages []conversation.Message
	Tools    []tools.Definition
}

// Completion is the result of a non-streaming call.
type Completion struct {
	Content      string
	ToolCalls    []tools.Request
	FinishReason string
}

// Client is the upstream model.
type Client interface {
	// Stream starts a streaming completion and returns the raw event-stream
	// body. The caller must close it.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
	// Complete runs a non-streaming completion.
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Config configures OpenAIClient.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	Temperature    *float64
}

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	sdk        openai.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. A missing API key against the default
// endpoint makes every call fail with KindUnavailable.
func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	// Streams can run far longer than any sane total timeout, so only the
	// wait for response headers is bounded.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout
	httpClient := &http.Client{Transport: transport}

	opts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.RequestTimeout),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAIClient{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: httpClient,
		sdk:        openai.NewClient(opts...),
		logger:     logger.With("component", "model"),
	}
}

func (c *OpenAIClient) configured() error {
	if c.cfg.APIKey == "" && strings.HasPrefix(c.baseURL, DefaultBaseURL) {
		return &Error{Kind: KindUnavailable, Message: "model api key is not configured"}
	}
	return nil
}

// Complete implements Client using openai-go.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: toSDKMessages(req),
	}
	if c.cfg.Temperature != nil {
		params.Temperature = openai.Float(*c.cfg.Temperature)
	}
	for _, d := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}

	start := time.Now()
	completion, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &Error{Kind: KindUnknown, Message: "no response choices returned"}
	}

	choice := completion.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, &Error{Kind: KindContentFilter, Message: "response blocked by content filter"}
	}

	out := &Completion{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, tools.Request{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	c.logger.Debug("completion finished",
		"model", c.cfg.Model,
		"duration", time.Since(start),
		"content_len", len(out.Content),
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

func classifySDKError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		me := NewStatusError(apiErr.StatusCode, apiErr.Code, apiErr.Type, apiErr.Message)
		me.Err = err
		return me
	}
	return classifyTransport(err)
}

func toSDKMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case conversation.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case conversation.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		}
	}
	return messages
}

// wireMessage and wireRequest are the JSON body of a streaming request.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function tools.Definition `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	Tools       []wireTool    `json:"tools,omitempty"`
}

// Stream implements Client with a plain HTTP request so the body can be
// framed incrementally by the caller.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}

	body := wireRequest{
		Model:       c.cfg.Model,
		Stream:      true,
		Temperature: c.cfg.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, wireMessage{Role: string(conversation.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, d := range req.Tools {
		body.Tools = append(body.Tools, wireTool{Type: "function", Function: d})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, decodeErrorBody(resp)
	}

	c.logger.Debug("model stream opened", "model", c.cfg.Model, "messages", len(body.Messages))
	return resp.Body, nil
}

// decodeErrorBody reads an OpenAI style {"error":{...}} body.
func decodeErrorBody(resp *http.Response) *Error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error.Message == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return NewStatusError(resp.StatusCode, "", "", msg)
	}

	code := ""
	if payload.Error.Code != nil {
		code = fmt.Sprint(payload.Error.Code)
	}
	return NewStatusError(resp.StatusCode, code, payload.Error.Type, payload.Error.Message)
}
