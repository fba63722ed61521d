package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var clientsCmd = &cobra.Command{
	Use:     "clients",
	Short:   "List devices seen recently",
	GroupID: "network",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stale, _ := cmd.Flags().GetDuration("stale")
		entries, err := gkClient.ListClients(cmd.Context(), stale)
		if err != nil {
			return fmt.Errorf("listing clients: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No clients seen.")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tIP\tHOST\tLAST SEEN\tREQS\tACCESS")
		for _, e := range entries {
			var access []string
			if e.SessionUntil != nil {
				access = append(access, "session "+formatRemaining(*e.SessionUntil, now))
			}
			access = append(access, e.Restrictions...)
			if e.Negotiating {
				access = append(access, "negotiating")
			}
			seen := (time.Duration(e.IdleSecs) * time.Second).Round(time.Second).String() + " ago"
			if e.Idle {
				seen = ui.RenderMuted(seen)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Client, orDash(e.IP), orDash(ui.Truncate(e.Hostname, 24)), seen, e.RequestCount, strings.Join(access, ", "))
		}
		return w.Flush()
	},
}

func init() {
	clientsCmd.Flags().Duration("stale", 30*time.Minute, "hide clients silent for longer than this")
}
