package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var modeCmd = &cobra.Command{
	Use:     "mode",
	Short:   "Show or override the global network mode",
	GroupID: "network",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := gkClient.GetMode(cmd.Context())
		if err != nil {
			return fmt.Errorf("getting mode: %w", err)
		}
		return printMode(cmd.OutOrStdout(), info)
	},
}

var modeSetCmd = &cobra.Command{
	Use:       "set <gatekeeper|open>",
	Short:     "Force a mode until the next scheduled boundary",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(model.ModeGatekeeper), string(model.ModeOpen)},
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := model.ParseMode(args[0])
		if err != nil {
			return err
		}
		info, err := gkClient.SetMode(cmd.Context(), m)
		if err != nil {
			return fmt.Errorf("setting mode: %w", err)
		}
		return printMode(cmd.OutOrStdout(), info)
	},
}

var modeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the override and follow the schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := gkClient.ClearOverride(cmd.Context())
		if err != nil {
			return fmt.Errorf("clearing override: %w", err)
		}
		return printMode(cmd.OutOrStdout(), info)
	},
}

func init() {
	modeCmd.AddCommand(modeSetCmd, modeClearCmd)
}

func printMode(w io.Writer, info *client.ModeInfo) error {
	if jsonOutput {
		return printJSON(w, info)
	}
	fmt.Fprintf(w, "Mode:         %s\n", ui.RenderMode(info.Mode))
	if info.Override != "" && info.OverrideUntil != nil {
		fmt.Fprintf(w, "Override:     %s until %s\n", info.Override, formatLocal(*info.OverrideUntil))
	}
	fmt.Fprintf(w, "Next change:  %s\n", formatLocal(info.NextBoundary))
	return nil
}
