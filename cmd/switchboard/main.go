// ABOUTME: Entry point for the switchboard gateway and its management CLI
// ABOUTME: Cobra root command with shared flags for config, server URL and token

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const envToken = "SWITCHBOARD_TOKEN"

// cli holds the persistent flags shared by every command.
type cli struct {
	configPath string
	serverURL  string
	token      string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	app := &cli{}
	root := &cobra.Command{
		Use:           "switchboard",
		Short:         "Conversational assistant gateway",
		Long:          "switchboard routes chat turns to specialised agents, streams replies over websocket and NDJSON, and runs proactive tasks on a cron schedule.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "config file (default $SWITCHBOARD_CONFIG or $XDG_CONFIG_HOME/switchboard/gateway.yaml)")
	root.PersistentFlags().StringVar(&app.serverURL, "server", "", "gateway base URL (default http://<server.http_addr>)")
	root.PersistentFlags().StringVar(&app.token, "token", "", "bearer token (default $"+envToken+" or the first configured token)")

	root.AddCommand(
		app.serveCommand(),
		app.initCommand(),
		app.tokenCommand(),
		app.healthCommand(),
		app.chatCommand(),
		app.tasksCommand(),
		app.auditCommand(),
	)
	return root
}

func (c *cli) resolveConfigPath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return config.DefaultPath()
}

func (c *cli) loadConfig() (*config.Config, error) {
	path := c.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}
