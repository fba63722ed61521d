package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// formatRemaining renders the time left until t, rounded to the minute.
func formatRemaining(t, now time.Time) string {
	d := t.Sub(now)
	if d <= 0 {
		return "expired"
	}
	if d < time.Minute {
		return "<1m"
	}
	return d.Round(time.Minute).String()
}

func formatLocal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func printStatus(w io.Writer, st *model.ClientStatus, now time.Time) {
	mode := ui.RenderMode(st.Mode)
	if st.Override {
		mode += ui.RenderMuted(" (override)")
	}
	fmt.Fprintf(w, "Client:       %s\n", orDash(st.Client))
	fmt.Fprintf(w, "Mode:         %s\n", mode)
	fmt.Fprintf(w, "Next change:  %s\n", formatLocal(st.NextBoundary))
	if st.Session != nil {
		fmt.Fprintf(w, "Session:      %s (%s left)\n", st.Session.DurationClass, formatRemaining(st.Session.ExpiresAt, now))
	} else if st.Mode == model.ModeGatekeeper {
		fmt.Fprintf(w, "Session:      %s\n", ui.RenderMuted("none"))
	}
	for _, r := range st.Restrictions {
		line := fmt.Sprintf("%s until %s", r.Kind, formatLocal(r.ExpiresAt))
		if r.Suspended && r.SuspendedUntil != nil {
			line += ui.RenderMuted(fmt.Sprintf(" (suspended until %s)", formatLocal(*r.SuspendedUntil)))
		}
		fmt.Fprintf(w, "Restriction:  %s\n", line)
	}
	if c := st.Conversation; c != nil {
		fmt.Fprintf(w, "Negotiating:  %s %s, %d turns used\n", c.ID, c.Phase, c.TurnsUsed)
	}
}

func printEventsTable(w io.Writer, evts []*model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tKIND\tCLIENT\tOUTCOME\tDETAIL")
	for _, e := range evts {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			formatLocal(e.Timestamp),
			e.Kind,
			orDash(e.Client),
			ui.RenderOutcome(e.Outcome),
			eventDetail(e),
		)
	}
	tw.Flush()
}

// eventDetail summarises the kind-specific fields of e on one line.
func eventDetail(e *model.Event) string {
	var parts []string
	if e.Mode != "" {
		parts = append(parts, "mode="+string(e.Mode))
	}
	if e.DurationClass != "" {
		parts = append(parts, "class="+e.DurationClass)
	}
	if e.DurationGranted > 0 {
		parts = append(parts, "granted="+e.DurationGranted.String())
	}
	if e.Restriction != "" {
		parts = append(parts, "restriction="+string(e.Restriction))
	}
	if e.Reason != "" {
		parts = append(parts, "reason="+e.Reason)
	}
	if e.EnforcementFailed {
		parts = append(parts, "enforcement_failed")
	}
	if e.Message != "" {
		parts = append(parts, fmt.Sprintf("%q", ui.Truncate(e.Message, 40)))
	}
	return strings.Join(parts, " ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
