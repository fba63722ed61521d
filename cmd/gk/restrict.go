package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

var restrictCmd = &cobra.Command{
	Use:     "restrict",
	Short:   "Manage daytime restrictions (focus mode, lockdown)",
	GroupID: "network",
}

var restrictOnCmd = &cobra.Command{
	Use:   "on <focus|lockdown>",
	Short: "Start a restriction for this device, or --client as operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseRestrictionKind(args[0])
		if err != nil {
			return err
		}
		who, _ := cmd.Flags().GetString("client")
		d, _ := cmd.Flags().GetDuration("for")
		if d < 0 {
			return fmt.Errorf("--for must not be negative")
		}

		r, err := gkClient.ActivateRestriction(cmd.Context(), &client.RestrictRequest{Client: who, Kind: kind, Duration: d})
		if err != nil {
			return fmt.Errorf("starting %s: %w", kind, err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), r)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s on for %s until %s\n", r.Kind, r.Client, formatLocal(r.ExpiresAt))
		if len(r.Domains) > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "blocking %d domains (%d addresses)\n", len(r.Domains), len(r.Addrs))
		}
		return nil
	},
}

var restrictListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active restrictions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rs, err := gkClient.ListRestrictions(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing restrictions: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), rs)
		}
		if len(rs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active restrictions.")
			return nil
		}
		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tKIND\tLEFT\tSTATE")
		for _, r := range rs {
			state := "active"
			if r.Suspended {
				state = "suspended"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Client, r.Kind, formatRemaining(r.ExpiresAt, now), state)
		}
		return w.Flush()
	},
}

var restrictLiftCmd = &cobra.Command{
	Use:   "lift <client> <focus|lockdown>",
	Short: "End a restriction early (lockdown can only be lifted by negotiation)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseRestrictionKind(args[1])
		if err != nil {
			return err
		}
		if err := gkClient.DeactivateRestriction(cmd.Context(), args[0], kind); err != nil {
			return fmt.Errorf("lifting %s: %w", kind, err)
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "%s lifted for %s\n", kind, args[0])
		}
		return nil
	},
}

func init() {
	restrictOnCmd.Flags().String("client", "", "device MAC to restrict (operator only)")
	restrictOnCmd.Flags().Duration("for", 0, "how long (default: server policy)")
	restrictCmd.AddCommand(restrictOnCmd, restrictListCmd, restrictLiftCmd)
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List active night sessions",
	GroupID: "network",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ss, err := gkClient.ListSessions(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ss)
		}
		if len(ss) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No active sessions.")
			return nil
		}
		now := time.Now()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CLIENT\tCLASS\tGRANTED\tLEFT")
		for _, s := range ss {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Client, s.DurationClass, formatLocal(s.GrantedAt), formatRemaining(s.ExpiresAt, now))
		}
		return w.Flush()
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke <client>",
	Short: "End a device's session now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := gkClient.RevokeSession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("revoking session: %w", err)
		}
		if !jsonOutput {
			fmt.Fprintf(cmd.OutOrStdout(), "session revoked for %s\n", args[0])
		}
		return nil
	},
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Short:   "List negotiations in progress",
	GroupID: "network",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cs, err := gkClient.ListConversations(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing conversations: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cs)
		}
		if len(cs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No open conversations.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCLIENT\tPURPOSE\tPHASE\tTURNS\tLAST ACTIVITY")
		for _, c := range cs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", c.ID, c.Client, c.Purpose, c.Phase, c.TurnsUsed, formatLocal(c.LastActivity))
		}
		return w.Flush()
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsRevokeCmd)
}
