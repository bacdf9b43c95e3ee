// ABOUTME: Tests for the HTTP route table
// ABOUTME: Checks which routes are public, which need a bearer token, and unknown paths

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_ProtectedRoutes(t *testing.T) {
	gw, _ := newTestGateway(t, nil, nil)
	handler := gw.Handler()

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/agents"},
		{http.MethodGet, "/api/templates"},
		{http.MethodGet, "/api/tasks"},
		{http.MethodPost, "/api/tasks"},
		{http.MethodDelete, "/api/tasks/abc"},
		{http.MethodPost, "/api/tasks/abc/toggle"},
		{http.MethodPost, "/api/tasks/abc/run"},
		{http.MethodGet, "/api/audit"},
		{http.MethodGet, "/api/audit/stats"},
		{http.MethodGet, "/api/audit/stream"},
		{http.MethodGet, "/api/conversations/abc"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, strings.NewReader("{}"))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestRouter_PublicRoutes(t *testing.T) {
	gw, _ := newTestGateway(t, nil, nil)
	handler := gw.Handler()

	for _, path := range []string{"/health", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	_, srv := newTestGateway(t, nil, nil)

	resp := doJSON(t, srv, http.MethodGet, "/api/nothing-here", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	_, srv := newTestGateway(t, nil, nil)

	resp := doJSON(t, srv, http.MethodPut, "/api/agents", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
