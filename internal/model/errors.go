// ABOUTME: Upstream model error taxonomy: transient, content filter, unavailable, unknown
// ABOUTME: Classifies HTTP statuses, API error bodies and network failures into a Kind

package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// Kind classifies an upstream failure.
type Kind string

const (
	KindTransient     Kind = "transient"
	KindContentFilter Kind = "content_filter"
	KindUnavailable   Kind = "unavailable"
	KindUnknown       Kind = "unknown"
)

// Error is returned for every failed model call.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("model ")
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the call may succeed if repeated.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is a transient model error.
func IsRetryable(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Retryable()
}

// kindForStatus maps an HTTP status to a Kind.
func kindForStatus(status int) Kind {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindTransient
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound,
		http.StatusServiceUnavailable:
		return KindUnavailable
	}
	return KindUnknown
}

// isContentFilter reports whether an API error code, type or message names
// the provider's safety filter.
func isContentFilter(parts ...string) bool {
	for _, p := range parts {
		p = strings.ToLower(p)
		if strings.Contains(p, "content_filter") || strings.Contains(p, "content_policy") ||
			strings.Contains(p, "content management policy") {
			return true
		}
	}
	return false
}

// NewStatusError builds an Error from an HTTP status and API error fields.
func NewStatusError(status int, code, errType, message string) *Error {
	kind := kindForStatus(status)
	if isContentFilter(code, errType, message) {
		kind = KindContentFilter
	}
	return &Error{Kind: kind, StatusCode: status, Message: message}
}

// classifyTransport wraps a transport-level failure. Context errors are
// returned unchanged so callers can tell cancellation from upstream faults.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) {
		return &Error{Kind: KindTransient, Err: err}
	}
	if strings.Contains(err.Error(), "connection reset") || strings.Contains(err.Error(), "connection refused") {
		return &Error{Kind: KindTransient, Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}

// NewStreamError builds an Error from an error object delivered inside an
// event stream, where no HTTP status is available.
func NewStreamError(code, errType, message string) *Error {
	kind := KindUnknown
	switch strings.ToLower(errType) {
	case "server_error", "overloaded_error", "api_error", "rate_limit_error", "rate_limit_exceeded", "timeout":
		kind = KindTransient
	case "authentication_error", "permission_error", "not_found_error", "invalid_api_key":
		kind = KindUnavailable
	}
	if isContentFilter(code, errType, message) {
		kind = KindContentFilter
	}
	return &Error{Kind: kind, Message: message}
}
