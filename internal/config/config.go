// ABOUTME: Configuration loading and parsing for switchboard-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/2389/switchboard-gateway/internal/auth"
)

// Defaults applied by Load.
const (
	DefaultHTTPAddr          = "127.0.0.1:8080"
	DefaultRateLimitWindow   = time.Minute
	DefaultRateLimitCapacity = 30
	DefaultSweepInterval     = time.Minute
	DefaultMaxKeys           = 100_000
	DefaultPollInterval      = 30 * time.Second
	DefaultRunTimeout        = 2 * time.Minute
	DefaultMaxResults        = 20
	DefaultAuditMaxQuery     = 500
	DefaultModelName         = "gpt-4o-mini"
	DefaultRequestTimeout    = 60 * time.Second
	DefaultStreamRetries     = 2
)

// Rate limit key modes and backends.
const (
	KeyIP          = "ip"
	KeyConnection  = "connection"
	BackendMemory  = "memory"
	BackendRedis   = "redis"
	envConfigPath  = "SWITCHBOARD_CONFIG"
	configFileName = "gateway.yaml"
)

// Config represents the complete switchboard-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Audit     AuditConfig     `yaml:"audit" toml:"audit"`
	Model     ModelConfig     `yaml:"model" toml:"model"`
	Tools     ToolsConfig     `yaml:"tools" toml:"tools"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration. An empty grpc_addr
// disables the gRPC health listener.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve HTTP on :443 with tailnet certs
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"` // ":memory:" keeps everything in process
}

// AuthConfig holds the static token set and the optional JWT secret
type AuthConfig struct {
	Tokens    []string `yaml:"tokens" toml:"tokens"`
	JWTSecret string   `yaml:"jwt_secret" toml:"jwt_secret"`
}

// RedisConfig holds connection settings for the shared rate limiter
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Prefix   string `yaml:"prefix" toml:"prefix"`
}

// RateLimitConfig holds fixed-window limiter configuration
type RateLimitConfig struct {
	Window        time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`
	Capacity      int           `yaml:"capacity" toml:"capacity"`
	Key           string        `yaml:"key" toml:"key"`
	MaxKeys       int           `yaml:"max_keys" toml:"max_keys"`
	Backend       string        `yaml:"backend" toml:"backend"`
	Redis         RedisConfig   `yaml:"redis" toml:"redis"`

	// Raw string values for unmarshaling
	WindowRaw        string `yaml:"window" toml:"window"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// SchedulerConfig holds proactive task scheduler configuration
type SchedulerConfig struct {
	Enabled      *bool          `yaml:"enabled" toml:"enabled"`
	PollInterval time.Duration  `yaml:"-" toml:"-"`
	RunTimeout   time.Duration  `yaml:"-" toml:"-"`
	MaxResults   int            `yaml:"max_results" toml:"max_results"`
	Timezone     string         `yaml:"timezone" toml:"timezone"`
	Location     *time.Location `yaml:"-" toml:"-"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	RunTimeoutRaw   string `yaml:"run_timeout" toml:"run_timeout"`
}

// IsEnabled reports whether the ticker loop should run. Defaults to true.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AuditConfig holds audit query limits
type AuditConfig struct {
	MaxQuery int `yaml:"max_query" toml:"max_query"`
}

// ModelConfig holds the upstream chat completion endpoint configuration
type ModelConfig struct {
	BaseURL        string        `yaml:"base_url" toml:"base_url"`
	APIKey         string        `yaml:"api_key" toml:"api_key"`
	Name           string        `yaml:"name" toml:"name"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	StreamRetries  *int          `yaml:"stream_retries" toml:"stream_retries"`
	Temperature    *float64      `yaml:"temperature" toml:"temperature"`

	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// Retries returns the configured stream retry count.
func (m ModelConfig) Retries() int {
	if m.StreamRetries == nil {
		return DefaultStreamRetries
	}
	return *m.StreamRetries
}

// ToolsConfig holds endpoints for tool capabilities. Empty values leave the
// capability unavailable.
type ToolsConfig struct {
	SearchURL     string `yaml:"search_url" toml:"search_url"`
	DeviceWebhook string `yaml:"device_webhook" toml:"device_webhook"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first without overriding existing
// variables. ${VAR_NAME} references are expanded before decoding, and files
// ending in .toml are decoded as TOML.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes already expanded content, applies defaults and validates.
func Parse(content string, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(content, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("checking .env: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// DefaultPath returns the config path from SWITCHBOARD_CONFIG, falling back
// to $XDG_CONFIG_HOME/switchboard/gateway.yaml.
func DefaultPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return configFileName
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "switchboard", configFileName)
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}

	rl := &c.RateLimit
	if rl.Window == 0 {
		rl.Window = DefaultRateLimitWindow
	}
	if rl.SweepInterval == 0 {
		rl.SweepInterval = DefaultSweepInterval
	}
	if rl.Capacity == 0 {
		rl.Capacity = DefaultRateLimitCapacity
	}
	if rl.MaxKeys == 0 {
		rl.MaxKeys = DefaultMaxKeys
	}
	if rl.Key == "" {
		rl.Key = KeyIP
	}
	if rl.Backend == "" {
		rl.Backend = BackendMemory
	}

	s := &c.Scheduler
	if s.PollInterval == 0 {
		s.PollInterval = DefaultPollInterval
	}
	if s.RunTimeout == 0 {
		s.RunTimeout = DefaultRunTimeout
	}
	if s.MaxResults == 0 {
		s.MaxResults = DefaultMaxResults
	}

	if c.Audit.MaxQuery == 0 {
		c.Audit.MaxQuery = DefaultAuditMaxQuery
	}

	if c.Model.Name == "" {
		c.Model.Name = DefaultModelName
	}
	if c.Model.RequestTimeout == 0 {
		c.Model.RequestTimeout = DefaultRequestTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.Tokens) == 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.tokens or auth.jwt_secret is required")
	}
	for i, tok := range c.Auth.Tokens {
		if len(tok) < auth.MinTokenLength {
			return fmt.Errorf("auth.tokens[%d] must be at least %d characters", i, auth.MinTokenLength)
		}
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinTokenLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", auth.MinTokenLength)
	}

	if err := c.RateLimit.validate(); err != nil {
		return err
	}

	if c.Scheduler.PollInterval < 0 || c.Scheduler.RunTimeout < 0 {
		return fmt.Errorf("scheduler durations must be positive")
	}
	if c.Scheduler.MaxResults < 0 {
		return fmt.Errorf("scheduler.max_results must be positive")
	}
	c.Scheduler.Location = time.Local
	if c.Scheduler.Timezone != "" {
		loc, err := time.LoadLocation(c.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
		}
		c.Scheduler.Location = loc
	}

	if c.Audit.MaxQuery < 0 {
		return fmt.Errorf("audit.max_query must be positive")
	}

	if c.Model.Retries() < 0 {
		return fmt.Errorf("model.stream_retries must not be negative")
	}
	if t := c.Model.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("model.temperature must be between 0 and 2")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

func (rl *RateLimitConfig) validate() error {
	if rl.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	if rl.Capacity <= 0 {
		return fmt.Errorf("rate_limit.capacity must be positive")
	}
	if rl.MaxKeys <= 0 {
		return fmt.Errorf("rate_limit.max_keys must be positive")
	}
	switch rl.Key {
	case KeyIP, KeyConnection:
	default:
		return fmt.Errorf("rate_limit.key must be %q or %q", KeyIP, KeyConnection)
	}
	switch rl.Backend {
	case BackendMemory:
	case BackendRedis:
		if rl.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("rate_limit.backend must be %q or %q", BackendMemory, BackendRedis)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"rate_limit.window", cfg.RateLimit.WindowRaw, &cfg.RateLimit.Window},
		{"rate_limit.sweep_interval", cfg.RateLimit.SweepIntervalRaw, &cfg.RateLimit.SweepInterval},
		{"scheduler.poll_interval", cfg.Scheduler.PollIntervalRaw, &cfg.Scheduler.PollInterval},
		{"scheduler.run_timeout", cfg.Scheduler.RunTimeoutRaw, &cfg.Scheduler.RunTimeout},
		{"model.request_timeout", cfg.Model.RequestTimeoutRaw, &cfg.Model.RequestTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
