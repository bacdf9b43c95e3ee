// ABOUTME: Minimal HTTP client for the management API used by the CLI commands
// ABOUTME: Resolves the base URL and bearer token from flags, environment and config

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// apiClient talks to a running gateway.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is a non-2xx reply from the gateway.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Message)
}

// newClient builds a client from flags, falling back to the config file.
// The config is only read when something is missing.
func (c *cli) newClient() (*apiClient, error) {
	baseURL := c.serverURL
	token := c.token
	if token == "" {
		token = os.Getenv(envToken)
	}

	if baseURL == "" || token == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return nil, err
		}
		if baseURL == "" {
			baseURL = "http://" + cfg.Server.HTTPAddr
		}
		if token == "" && len(cfg.Auth.Tokens) > 0 {
			token = cfg.Auth.Tokens[0]
		}
	}
	if token == "" {
		return nil, errors.New("no token: pass --token, set " + envToken + " or configure auth.tokens")
	}

	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}, nil
}

// request sends body as JSON and returns the response for the caller to read.
// Non-2xx replies are turned into *apiError.
func (a *apiClient) request(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var payload struct {
			Error  string   `json:"error"`
			Errors []string `json:"errors"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)
		msg := payload.Error
		if len(payload.Errors) > 0 {
			msg += ": " + strings.Join(payload.Errors, "; ")
		}
		return nil, &apiError{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}

// do sends a request and decodes a JSON reply into out, if out is non-nil.
func (a *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := a.request(ctx, method, path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
