package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/client"
	"github.com/alfredjeanlab/gatekeeper/internal/events"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/ui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow gatekeeper events as they happen",
	Long: `Follow gatekeeper events live.

Events come from NATS when --nats-url (or GATEKEEPER_NATS_URL) is set, and
from the server's event stream otherwise.`,
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats-url")
		topic, _ := cmd.Flags().GetString("topic")
		who, _ := cmd.Flags().GetString("client")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		emit := func(e *model.Event) { printWatchLine(out, e) }
		if natsURL != "" {
			return watchNATS(ctx, natsURL, topic, who, emit)
		}
		return watchStream(ctx, topic, who, emit)
	},
}

func init() {
	watchCmd.Flags().String("nats-url", os.Getenv("GATEKEEPER_NATS_URL"), "NATS server to subscribe to")
	watchCmd.Flags().String("topic", "gatekeeper.>", "subject pattern to follow")
	watchCmd.Flags().String("client", "", "only events for this device")
}

// watchNATS prints every event published on topic, optionally for one client.
func watchNATS(ctx context.Context, natsURL, topic, who string, emit func(*model.Event)) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer func() {
		if n := sub.Dropped(); n > 0 {
			slog.Warn("events dropped while watching", "count", n)
		}
		sub.Close()
	}()

	ch, cancel, err := sub.Subscribe(topic, who)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			emit(e)
		}
	}
}

// watchStream follows the server's SSE stream, reconnecting with
// Last-Event-ID so nothing in the replay window is missed.
func watchStream(ctx context.Context, topic, who string, emit func(*model.Event)) error {
	req := &client.StreamRequest{Topics: []string{topic}, Client: who}
	backoff := time.Second
	for {
		last, err := gkClient.StreamEvents(ctx, req, func(_ int64, e *model.Event) { emit(e) })
		if ctx.Err() != nil {
			return nil
		}
		if last > req.LastEventID {
			req.LastEventID = last
			backoff = time.Second
		}
		if err != nil {
			slog.Warn("event stream dropped", "err", err, "retry_in", backoff)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

func printWatchLine(w io.Writer, e *model.Event) {
	if jsonOutput {
		data, _ := json.Marshal(e)
		fmt.Fprintln(w, string(data))
		return
	}
	parts := []string{
		ui.RenderMuted(e.Timestamp.Local().Format("15:04:05")),
		string(e.Kind),
	}
	if e.Client != "" {
		parts = append(parts, e.Client)
	}
	if e.Outcome != "" {
		parts = append(parts, ui.RenderOutcome(e.Outcome))
	}
	if d := eventDetail(e); d != "" {
		parts = append(parts, d)
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}
