// ABOUTME: The serve command: prints the banner, builds the logger and runs the gateway
// ABOUTME: Runs until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/switchboard-gateway/internal/gateway"
)

const banner = `
               _ _       _     _                         _
 _____      __(_) |_ ___| |__ | |__   ___   __ _ _ __ __| |
/ __\ \ /\ / /| | __/ __| '_ \| '_ \ / _ \ / _' | '__/ _' |
\__ \\ V  V / | | || (__| | | | |_) | (_) | (_| | | | (_| |
|___/ \_/\_/  |_|\__\___|_| |_|_.__/ \___/ \__,_|_|  \__,_|
`

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}

			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Print(banner)
			gray.Printf("    version: %s\n\n", version)

			green.Print("    ▶ ")
			fmt.Printf("Config:    %s\n", c.resolveConfigPath())
			green.Print("    ▶ ")
			fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
			green.Print("    ▶ ")
			if cfg.Server.GRPCAddr != "" {
				fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
			} else {
				fmt.Print("gRPC:      ")
				gray.Println("disabled")
			}
			green.Print("    ▶ ")
			fmt.Printf("Model:     %s\n", cfg.Model.Name)
			green.Print("    ▶ ")
			fmt.Printf("Limiter:   %s (%d per %s, keyed by %s)\n",
				cfg.RateLimit.Backend, cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.Key)
			if !cfg.Scheduler.IsEnabled() {
				yellow.Println("    ! scheduler disabled")
			}
			if cfg.Tailscale.Enabled {
				green.Print("    ▶ ")
				fmt.Print("Tailscale: ")
				cyan.Print(cfg.Tailscale.Hostname)
				if cfg.Tailscale.HTTPS {
					yellow.Print(" [https]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Print(" (ephemeral)")
				}
				fmt.Println()
			}
			fmt.Println()

			logger := setupLogger(cfg.Logging)
			logger.Info("starting switchboard",
				"version", version,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}
