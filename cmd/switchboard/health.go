// ABOUTME: The health command checks a running gateway over HTTP and optionally gRPC
// ABOUTME: Uses /health/ready and the standard grpc.health.v1 service

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/switchboard-gateway/internal/gateway"
)

func (c *cli) healthCommand() *cobra.Command {
	var (
		checkGRPC bool
		grpcAddr  string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			baseURL := c.serverURL
			if baseURL == "" || (checkGRPC && grpcAddr == "") {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				if baseURL == "" {
					baseURL = "http://" + cfg.Server.HTTPAddr
				}
				if grpcAddr == "" {
					grpcAddr = cfg.Server.GRPCAddr
				}
			}

			body, err := checkHTTP(ctx, strings.TrimRight(baseURL, "/")+"/health/ready")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "http: %s\n", body)

			if !checkGRPC {
				return nil
			}
			if grpcAddr == "" {
				return fmt.Errorf("gRPC listener is disabled (server.grpc_addr is empty)")
			}
			status, err := checkGRPCHealth(ctx, grpcAddr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grpc: %s\n", status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("unhealthy: grpc status %s", status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkGRPC, "grpc", false, "also query the gRPC health service")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC address (default server.grpc_addr)")
	return cmd
}

func checkHTTP(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}
	return string(body), nil
}

func checkGRPCHealth(ctx context.Context, addr string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("grpc health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}
