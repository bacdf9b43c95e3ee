// ABOUTME: The init command writes a starter config with freshly generated secrets
// ABOUTME: Refuses to overwrite an existing file unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/config"
)

const starterConfig = `# switchboard configuration
# Generated by switchboard init

server:
  http_addr: %q
  grpc_addr: %q

database:
  path: %q

auth:
  tokens:
    - %q
  jwt_secret: %q

rate_limit:
  window: "1m"
  capacity: 30
  key: "ip"
  backend: "memory"

scheduler:
  enabled: true
  poll_interval: "30s"
  run_timeout: "2m"

model:
  base_url: "https://api.openai.com/v1"
  api_key: "${OPENAI_API_KEY}"
  name: %q
  request_timeout: "60s"

tools:
  search_url: ""
  device_webhook: ""

logging:
  level: "info"
  format: "text"
`

// dataDir returns $XDG_DATA_HOME/switchboard, falling back to ~/.local/share/switchboard.
func dataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "switchboard")
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *cli) initCommand() *cobra.Command {
	var (
		force     bool
		httpAddr  string
		grpcAddr  string
		dbPath    string
		modelName string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("checking %s: %w", path, err)
			}

			token, err := randomSecret()
			if err != nil {
				return err
			}
			secret, err := randomSecret()
			if err != nil {
				return err
			}
			if dbPath == "" {
				dbPath = filepath.Join(dataDir(), "switchboard.db")
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}

			content := fmt.Sprintf(starterConfig, httpAddr, grpcAddr, dbPath, token, secret, modelName)
			if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
				return fmt.Errorf("writing config file: %w", err)
			}

			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)
			green.Printf("  ✓ Config written: %s\n", path)
			green.Printf("  ✓ Database:       %s\n", dbPath)
			fmt.Println()
			fmt.Printf("  API token: %s\n", token)
			fmt.Println()
			yellow.Println("  Next:")
			fmt.Println("    export OPENAI_API_KEY=...")
			fmt.Println("    switchboard serve")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "localhost:8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "localhost:50051", "gRPC health listen address (empty disables it)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default $XDG_DATA_HOME/switchboard/switchboard.db)")
	cmd.Flags().StringVar(&modelName, "model", config.DefaultModelName, "chat model name")
	return cmd
}
