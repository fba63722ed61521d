package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	EventCount  int       `json:"event_count"`
	HasSettings bool      `json:"has_settings"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the event history matching filter, followed by the
// saved settings, as JSONL to w. Events keep their append order.
func ExportJSONL(ctx context.Context, s store.Store, filter model.EventFilter, w io.Writer) error {
	events, err := s.ReadHistory(ctx, filter)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	settings, err := s.LoadSettings(ctx)
	if errors.Is(err, model.ErrNotFound) {
		settings = nil
	} else if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		EventCount:  len(events),
		HasSettings: settings != nil,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, e := range events {
		if err := enc.Encode(record{Type: "event", Data: e}); err != nil {
			return fmt.Errorf("encode event %d: %w", e.ID, err)
		}
	}

	if settings != nil {
		if err := enc.Encode(record{Type: "settings", Data: settings}); err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
	}
	return nil
}

// eventCount reads event_count from the header line of an export.
func eventCount(data []byte) (int, bool) {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if err := json.Unmarshal(line, &h); err != nil || h.Type != "header" {
		return 0, false
	}
	return h.EventCount, true
}
