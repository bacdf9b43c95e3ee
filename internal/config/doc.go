// ABOUTME: Package documentation for the config package
// ABOUTME: Describes file discovery, env expansion, defaults and validation

// Package config handles configuration loading for switchboard-gateway.
//
// # Configuration File
//
// The path comes from the --config flag, then the SWITCHBOARD_CONFIG
// environment variable, then $XDG_CONFIG_HOME/switchboard/gateway.yaml.
// Files ending in .toml are decoded as TOML, everything else as YAML.
//
// # Environment Variables
//
// A .env file next to the config is loaded first. Variables already set in
// the environment win. Values can then reference the environment:
//
//	auth:
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to an empty string.
//
// # Durations
//
// Duration values use time.ParseDuration syntax:
//
//	rate_limit:
//	  window: "60s"
//	  sweep_interval: "1m"
//	scheduler:
//	  poll_interval: "30s"
//	  run_timeout: "2m"
//
// # Sections
//
//	server:
//	  http_addr: "127.0.0.1:8080"  # websocket, chat and management API
//	  grpc_addr: "127.0.0.1:50051" # grpc.health.v1 only; empty disables
//
//	database:
//	  path: "/var/lib/switchboard/switchboard.db"  # or ":memory:"
//
//	auth:
//	  tokens: ["${SWITCHBOARD_TOKEN}"]   # each at least 32 characters
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"
//
//	rate_limit:
//	  capacity: 30
//	  key: "ip"          # ip or connection
//	  backend: "memory"  # memory or redis
//	  max_keys: 100000
//	  redis:
//	    addr: "localhost:6379"
//
//	scheduler:
//	  enabled: true
//	  max_results: 20
//	  timezone: "America/New_York"
//
//	audit:
//	  max_query: 500
//
//	model:
//	  base_url: "https://api.openai.com/v1/"
//	  name: "gpt-4o-mini"
//	  request_timeout: "60s"
//	  stream_retries: 2
//	  temperature: 0.7
//
//	tools:
//	  search_url: "https://search.internal/api"
//	  device_webhook: "https://home.internal/hooks/devices"
//
//	tailscale:
//	  enabled: false
//	  hostname: "switchboard"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load applies defaults and then returns the first violation found, for
// example a token shorter than 32 characters or an unknown rate limit key.
package config
