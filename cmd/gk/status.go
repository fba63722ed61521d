package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status [client]",
	Short:   "Show the mode, session and restrictions for a device",
	Long:    "Show the network mode and the calling device's session and restrictions.\nOperators may name another device by MAC address.",
	GroupID: "network",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var who string
		if len(args) == 1 {
			who = args[0]
		}
		st, err := gkClient.Status(cmd.Context(), who)
		if err != nil {
			return fmt.Errorf("getting status: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		printStatus(cmd.OutOrStdout(), st, time.Now())
		return nil
	},
}
