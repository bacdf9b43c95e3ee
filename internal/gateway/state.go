// ABOUTME: Per-gateway server state: authenticator, sessions, limiter and replay guard
// ABOUTME: Also resolves rate limit keys and client addresses

package gateway

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/config"
	"github.com/2389/switchboard-gateway/internal/dedupe"
	"github.com/2389/switchboard-gateway/internal/ratelimit"
)

// serverState is everything the connection handlers share. Each Gateway owns
// one; nothing here is global.
type serverState struct {
	authn    *auth.Authenticator
	sessions *auth.Sessions
	limiter  ratelimit.Limiter
	keyMode  string
	requests *dedupe.Cache
	now      func() time.Time
	logger   *slog.Logger
}

// connectionKey returns the limiter key for a websocket connection.
func (s *serverState) connectionKey(connID, ip string) string {
	if s.keyMode == config.KeyConnection {
		return "conn:" + connID
	}
	return ipKey(ip)
}

// connectionScoped reports whether limiter keys die with their connection.
func (s *serverState) connectionScoped() bool {
	return s.keyMode == config.KeyConnection
}

func ipKey(ip string) string {
	return "ip:" + ip
}

// allow consults the limiter. A failing backend admits the request; the
// failure is logged.
func (s *serverState) allow(ctx context.Context, key string) ratelimit.Decision {
	d, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.logger.Error("rate limiter unavailable, admitting request", "key", key, "error", err)
		return ratelimit.Decision{Allowed: true}
	}
	return d
}

// retryAfterSeconds rounds the wait up to whole seconds, minimum one.
func (s *serverState) retryAfterSeconds(d ratelimit.Decision) int {
	secs := int(math.Ceil(d.RetryAfter(s.now()).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// forget drops connection-scoped limiter state and the session.
func (s *serverState) forget(connID, ip string) {
	s.sessions.Remove(connID)
	if !s.connectionScoped() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.limiter.Forget(ctx, s.connectionKey(connID, ip)); err != nil {
		s.logger.Warn("failed to forget limiter state", "conn_id", connID, "error", err)
	}
}

// clientIP returns the caller address without port. chi's RealIP middleware
// has already replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
