package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "Query the audit history",
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := eventsRequest(cmd)
		if err != nil {
			return err
		}
		evts, err := gkClient.ListEvents(cmd.Context(), req)
		if err != nil {
			return fmt.Errorf("listing events: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), evts)
		}
		if len(evts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events.")
			return nil
		}
		printEventsTable(cmd.OutOrStdout(), evts)
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("client", "", "only events for this device")
	eventsCmd.Flags().StringSlice("kind", nil, "event kinds (repeatable or comma-separated)")
	eventsCmd.Flags().String("outcome", "", "allow, deny, block or failed")
	eventsCmd.Flags().String("since", "", "RFC3339 time or a duration such as 12h")
	eventsCmd.Flags().Int("limit", 50, "maximum events to show")
}

func eventsRequest(cmd *cobra.Command) (*client.ListEventsRequest, error) {
	who, _ := cmd.Flags().GetString("client")
	kinds, _ := cmd.Flags().GetStringSlice("kind")
	outcome, _ := cmd.Flags().GetString("outcome")
	sinceFlag, _ := cmd.Flags().GetString("since")
	limit, _ := cmd.Flags().GetInt("limit")

	since, err := parseSince(sinceFlag, time.Now())
	if err != nil {
		return nil, err
	}
	switch model.Outcome(outcome) {
	case model.OutcomeNone, model.OutcomeAllow, model.OutcomeDeny, model.OutcomeBlock, model.OutcomeFailed:
	default:
		return nil, fmt.Errorf("unknown outcome %q", outcome)
	}
	return &client.ListEventsRequest{
		Client:  who,
		Kinds:   kinds,
		Outcome: outcome,
		Since:   since,
		Limit:   limit,
	}, nil
}

// parseSince accepts an RFC3339 timestamp or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or a positive duration", s)
	}
	return now.Add(-d), nil
}
