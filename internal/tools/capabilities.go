// ABOUTME: Capability interfaces behind the tools plus HTTP search and device webhook clients
// ABOUTME: The gateway wires concrete implementations; nil capabilities fail their calls

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// DeviceController executes smart home commands and returns a status line.
type DeviceController interface {
	Control(ctx context.Context, cmd ControlDevice) (string, error)
}

// TaskSummary is the list_tasks view of a proactive task.
type TaskSummary struct {
	ID      string     `json:"id"`
	Name    string     `json:"name"`
	Cron    string     `json:"cron"`
	Agent   string     `json:"agent"`
	Enabled bool       `json:"enabled"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// TaskManager creates and lists proactive tasks.
type TaskManager interface {
	CreateTask(ctx context.Context, call ScheduleTask, defaultAgent string) (TaskSummary, error)
	ListTasks(ctx context.Context) ([]TaskSummary, error)
}

// CodeGenerator produces code from a description. The gateway never calls it
// directly; it is only reachable through the generate_code tool.
type CodeGenerator interface {
	Generate(ctx context.Context, req GenerateCode) (string, error)
}

// Capabilities bundles the optional capability implementations.
type Capabilities struct {
	Search  Searcher
	Devices DeviceController
	Tasks   TaskManager
	Code    CodeGenerator
}

const defaultHTTPTimeout = 15 * time.Second

// HTTPSearch queries a JSON search endpoint: GET <url>?q=<query> returning
// {"results":[{"title","url","snippet"}]}.
type HTTPSearch struct {
	URL        string
	Client     *http.Client
	MaxResults int
}

// NewHTTPSearch creates a search client for endpoint.
func NewHTTPSearch(endpoint string) *HTTPSearch {
	return &HTTPSearch{
		URL:        endpoint,
		Client:     &http.Client{Timeout: defaultHTTPTimeout},
		MaxResults: 5,
	}
}

// Search implements Searcher.
func (s *HTTPSearch) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing search url: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var payload struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	if s.MaxResults > 0 && len(payload.Results) > s.MaxResults {
		payload.Results = payload.Results[:s.MaxResults]
	}
	return payload.Results, nil
}

// WebhookDevices posts device commands as JSON to a webhook and expects a
// 2xx response, optionally with {"status": "..."}.
type WebhookDevices struct {
	URL    string
	Client *http.Client
}

// NewWebhookDevices creates a device controller posting to endpoint.
func NewWebhookDevices(endpoint string) *WebhookDevices {
	return &WebhookDevices{
		URL:    endpoint,
		Client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Control implements DeviceController.
func (w *WebhookDevices) Control(ctx context.Context, cmd ControlDevice) (string, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("encoding device command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating device request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("device webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("device webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &payload); err == nil && payload.Status != "" {
		return payload.Status, nil
	}
	if cmd.Value != "" {
		return fmt.Sprintf("%s: %s %s", cmd.Device, cmd.Action, cmd.Value), nil
	}
	return fmt.Sprintf("%s: %s", cmd.Device, cmd.Action), nil
}
