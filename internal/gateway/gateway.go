// ABOUTME: Gateway orchestrator that wires stores, agents, scheduler and transports together
// ABOUTME: Manages the HTTP/websocket and gRPC health servers through their whole lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/switchboard-gateway/internal/agent"
	"github.com/2389/switchboard-gateway/internal/audit"
	"github.com/2389/switchboard-gateway/internal/auth"
	"github.com/2389/switchboard-gateway/internal/config"
	"github.com/2389/switchboard-gateway/internal/conversation"
	"github.com/2389/switchboard-gateway/internal/dedupe"
	"github.com/2389/switchboard-gateway/internal/model"
	"github.com/2389/switchboard-gateway/internal/ratelimit"
	"github.com/2389/switchboard-gateway/internal/scheduler"
	"github.com/2389/switchboard-gateway/internal/store"
	"github.com/2389/switchboard-gateway/internal/stream"
	"github.com/2389/switchboard-gateway/internal/tools"
)

const (
	tailscaleGRPCPort      = ":50051"
	databaseCheckInterval  = 15 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Gateway orchestrates the switchboard-gateway server components.
type Gateway struct {
	config        *config.Config
	store         *store.SQLiteStore
	catalog       *agent.Catalog
	router        *agent.Router
	audit         *audit.Log
	model         model.Client
	runner        *stream.Runner
	conversations *conversation.Service
	scheduler     *scheduler.Scheduler
	dispatcher    *tools.Dispatcher
	state         *serverState
	grpcServer    *grpc.Server
	health        *health.Server
	httpServer    *http.Server
	tsnetServer   *tsnet.Server
	logger        *slog.Logger

	// background tracks the scheduler loop and database watcher
	background   sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option overrides a dependency, mostly for tests.
type Option func(*options)

type options struct {
	model   model.Client
	limiter ratelimit.Limiter
}

// WithModel replaces the OpenAI client.
func WithModel(c model.Client) Option {
	return func(o *options) {
		o.model = c
	}
}

// WithLimiter replaces the configured rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// initStore opens the SQLite store, letting SWITCHBOARD_DB_PATH override the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SWITCHBOARD_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newAuthenticator builds the static token set and the optional JWT verifier.
func newAuthenticator(cfg config.AuthConfig) (*auth.Authenticator, error) {
	tokens, err := auth.NewTokenSet(cfg.Tokens)
	if err != nil {
		return nil, fmt.Errorf("loading auth tokens: %w", err)
	}
	var verifier *auth.JWTVerifier
	if cfg.JWTSecret != "" {
		if verifier, err = auth.NewJWTVerifier([]byte(cfg.JWTSecret)); err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	}
	return auth.NewAuthenticator(tokens, verifier), nil
}

// newLimiter creates the configured limiter backend.
func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{
		Window:        cfg.Window,
		Capacity:      cfg.Capacity,
		SweepInterval: cfg.SweepInterval,
		MaxKeys:       cfg.MaxKeys,
	}
	if cfg.Backend == config.BackendRedis {
		l, err := ratelimit.NewRedisLimiter(ctx, ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, rlCfg)
		if err != nil {
			return nil, fmt.Errorf("connecting redis limiter: %w", err)
		}
		return l, nil
	}
	return ratelimit.NewMemoryLimiter(rlCfg), nil
}

// newCapabilities wires the tool capabilities that are configured.
func newCapabilities(cfg config.ToolsConfig, sched *scheduler.Scheduler, client model.Client) tools.Capabilities {
	caps := tools.Capabilities{
		Tasks: &taskManager{scheduler: sched},
		Code:  &codeGenerator{model: client},
	}
	if cfg.SearchURL != "" {
		caps.Search = tools.NewHTTPSearch(cfg.SearchURL)
	}
	if cfg.DeviceWebhook != "" {
		caps.Devices = tools.NewWebhookDevices(cfg.DeviceWebhook)
	}
	return caps
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (gw *Gateway, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	ctx := context.Background()

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = sqlStore.Close()
		}
	}()

	catalog, err := agent.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("loading agent catalog: %w", err)
	}

	auditLog, err := audit.NewLog(ctx, sqlStore, logger)
	if err != nil {
		return nil, err
	}

	authn, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}

	limiter := o.limiter
	if limiter == nil {
		if limiter, err = newLimiter(ctx, cfg.RateLimit); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				_ = limiter.Close()
			}
		}()
	}

	client := o.model
	if client == nil {
		client = model.NewOpenAIClient(model.Config{
			BaseURL:        cfg.Model.BaseURL,
			APIKey:         cfg.Model.APIKey,
			Model:          cfg.Model.Name,
			RequestTimeout: cfg.Model.RequestTimeout,
			Temperature:    cfg.Model.Temperature,
		}, logger)
	}

	sched, err := scheduler.New(scheduler.Config{
		PollInterval: cfg.Scheduler.PollInterval,
		RunTimeout:   cfg.Scheduler.RunTimeout,
		MaxResults:   cfg.Scheduler.MaxResults,
		Location:     cfg.Scheduler.Location,
	}, sqlStore, &taskRunner{catalog: catalog, model: client, now: time.Now}, auditLog, logger,
		scheduler.WithRoleCheck(func(role string) bool { return catalog.Has(agent.Role(role)) }),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	grpcServer, healthServer := newGRPCServer()
	gw = &Gateway{
		config:        cfg,
		store:         sqlStore,
		catalog:       catalog,
		router:        agent.NewRouter(catalog),
		audit:         auditLog,
		model:         client,
		runner:        stream.NewRunner(client, stream.RunnerConfig{Retries: cfg.Model.Retries()}, logger),
		conversations: conversation.NewService(sqlStore, logger),
		scheduler:     sched,
		dispatcher:    tools.NewDispatcher(newCapabilities(cfg.Tools, sched, client), auditLog, logger),
		state: &serverState{
			authn:    authn,
			sessions: auth.NewSessions(),
			limiter:  limiter,
			keyMode:  cfg.RateLimit.Key,
			requests: dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
			now:      time.Now,
			logger:   logger.With("component", "gateway"),
		},
		grpcServer: grpcServer,
		health:     healthServer,
		logger:     logger.With("component", "gateway"),
	}

	// WriteTimeout stays zero: chat and audit streams are long-lived.
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	gw.logger.Info("gateway initialized",
		"agents", len(catalog.Agents),
		"tasks", len(sched.List()),
		"rate_limit_backend", cfg.RateLimit.Backend,
		"rate_limit_key", cfg.RateLimit.Key,
	)
	return gw, nil
}

// Handler returns the HTTP handler serving the websocket, chat and management routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners. The gRPC listener is nil
// when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// startBackground starts the scheduler loop and the database watcher.
func (g *Gateway) startBackground(ctx context.Context) {
	if g.config.Scheduler.IsEnabled() {
		g.background.Add(1)
		go func() {
			defer g.background.Done()
			g.scheduler.Run(ctx)
		}()
	} else {
		g.logger.Info("scheduler disabled; tasks run only on demand")
	}

	g.background.Add(1)
	go func() {
		defer g.background.Done()
		g.watchDatabase(ctx, databaseCheckInterval)
	}()
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the servers and background loops and blocks until the context
// is canceled. Returns nil on graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()
	g.startBackground(bgCtx)

	g.setServing(true)
	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopBackground()
	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "switchboard", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", tailscaleGRPCPort)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if tsCfg.HTTPS {
		httpLn, err = g.createTailscaleTLSListener(grpcLn)
	} else {
		httpLn, err = g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = grpcLn.Close()
			_ = g.tsnetServer.Close()
			err = fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener(grpcLn net.Listener) (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// waitBackground waits for the scheduler loop and watcher, giving up when ctx ends.
func (g *Gateway) waitBackground(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduler runs: %w", ctx.Err())
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Calling it again returns the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.setServing(false)

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)
	errs = appendCloseError(errs, "background", g.waitBackground(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.state.requests.Close()
	g.audit.Close()
	errs = appendCloseError(errs, "limiter close", g.state.limiter.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
