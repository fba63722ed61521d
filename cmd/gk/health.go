package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/server"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check whether the router accepted the last mode change",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grpcAddr, _ := cmd.Flags().GetString("grpc")
		if grpcAddr != "" {
			return grpcHealth(cmd, grpcAddr)
		}

		hs, err := gkClient.Health(cmd.Context())
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), hs); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Health: %s\n", hs.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Mode:   %s\n", ui.RenderMode(hs.Mode))
			if hs.EnforcementError != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Router failed to apply %s: %s\n", hs.TargetMode, hs.EnforcementError)
			}
		}
		if hs.Status != "ok" {
			return fmt.Errorf("unhealthy: %s", hs.Status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc", "", "query the gRPC health service at this address instead")
}

func grpcHealth(cmd *cobra.Command, addr string) error {
	hc, err := client.NewHealthChecker(addr, authToken)
	if err != nil {
		return err
	}
	defer hc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	st, err := hc.Check(ctx, server.EnforcementService)
	if err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), map[string]string{"service": server.EnforcementService, "status": st.String()}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", server.EnforcementService, st)
	}
	if st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("unhealthy: %s", st)
	}
	return nil
}
