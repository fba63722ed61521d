package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
	"github.com/alfredjeanlab/gatekeeper/internal/store/memory"
)

const (
	clientA = "AA:AA:AA:AA:AA:01"
	clientB = "BB:BB:BB:BB:BB:02"
)

var base = time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	ctx := context.Background()
	for i, e := range []*model.Event{
		{Kind: model.EventModeChanged, Mode: model.ModeGatekeeper},
		{Kind: model.EventSessionGranted, Client: clientA, Outcome: model.OutcomeAllow, DurationClass: "short", DurationGranted: 10 * time.Minute},
		{Kind: model.EventSessionExpired, Client: clientA},
		{Kind: model.EventAccessDenied, Client: clientB, Outcome: model.OutcomeDeny, Reason: "not a good reason"},
	} {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := s.AppendHistory(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func decodeLines(t *testing.T, buf *bytes.Buffer) (header, []record) {
	t.Helper()
	lines := nonEmptyLines(buf.String())
	if len(lines) == 0 {
		t.Fatal("no output")
	}
	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	var recs []record
	for i, l := range lines[1:] {
		var r record
		if err := json.Unmarshal([]byte(l), &r); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		recs = append(recs, r)
	}
	return h, recs
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), memory.New(), model.EventFilter{}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h, recs := decodeLines(t, &buf)
	if h.Version != "1" || h.Type != "header" || h.EventCount != 0 || h.HasSettings {
		t.Fatalf("header = %+v", h)
	}
	if len(recs) != 0 {
		t.Fatalf("records = %d, want 0", len(recs))
	}
}

func TestExportJSONL_HistoryAndSettings(t *testing.T) {
	s := seedStore(t)
	if err := s.SaveSettings(context.Background(), &model.Settings{FocusDomains: []string{"youtube.com"}}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), s, model.EventFilter{}, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	h, recs := decodeLines(t, &buf)
	if h.EventCount != 4 || !h.HasSettings {
		t.Fatalf("header = %+v", h)
	}
	if len(recs) != 5 {
		t.Fatalf("records = %d, want 5", len(recs))
	}

	var prev int64
	for _, r := range recs[:4] {
		if r.Type != "event" {
			t.Fatalf("type = %q, want event", r.Type)
		}
		raw, _ := json.Marshal(r.Data)
		var e model.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			t.Fatal(err)
		}
		if e.ID <= prev {
			t.Fatalf("events out of append order: %d after %d", e.ID, prev)
		}
		prev = e.ID
	}
	if recs[4].Type != "settings" {
		t.Fatalf("last record type = %q", recs[4].Type)
	}
	if !strings.Contains(buf.String(), `"focus_domains":["youtube.com"]`) {
		t.Fatalf("settings not exported:\n%s", buf.String())
	}
}

func TestExportJSONL_Filter(t *testing.T) {
	var buf bytes.Buffer
	filter := model.EventFilter{Client: clientA}
	if err := ExportJSONL(context.Background(), seedStore(t), filter, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	h, _ := decodeLines(t, &buf)
	if h.EventCount != 2 {
		t.Fatalf("event_count = %d, want 2", h.EventCount)
	}
}

type failingStore struct {
	store.Store
	err error
}

func (f failingStore) ReadHistory(context.Context, model.EventFilter) ([]*model.Event, error) {
	return nil, f.err
}

func TestExportJSONL_ReadError(t *testing.T) {
	boom := errors.New("disk gone")
	var buf bytes.Buffer
	err := ExportJSONL(context.Background(), failingStore{Store: memory.New(), err: boom}, model.EventFilter{}, &buf)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
	if buf.Len() != 0 {
		t.Fatalf("partial output written: %q", buf.String())
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

func TestEventCount(t *testing.T) {
	for _, tc := range []struct {
		in     string
		want   int
		wantOK bool
	}{
		{`{"type":"header","event_count":4}` + "\n" + `{"type":"event"}` + "\n", 4, true},
		{`{"type":"header","event_count":0}`, 0, true},
		{`{"type":"event"}` + "\n", 0, false},
		{"not json\n", 0, false},
		{"", 0, false},
	} {
		n, ok := eventCount([]byte(tc.in))
		if n != tc.want || ok != tc.wantOK {
			t.Errorf("eventCount(%q) = %d, %v; want %d, %v", tc.in, n, ok, tc.want, tc.wantOK)
		}
	}
}
