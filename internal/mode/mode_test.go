package mode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/state"
)

func utcSchedule(t *testing.T, start, end string) Schedule {
	t.Helper()
	s, err := ParseSchedule(start, end, "UTC")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	return s
}

func at(h, m int) time.Time {
	return time.Date(2026, 1, 10, h, m, 0, 0, time.UTC)
}

func TestModeAt_WrapsMidnight(t *testing.T) {
	s := utcSchedule(t, "21:00", "05:00")
	tests := []struct {
		t    time.Time
		want model.Mode
	}{
		{at(20, 59), model.ModeOpen},
		{at(21, 0), model.ModeGatekeeper},
		{at(23, 30), model.ModeGatekeeper},
		{at(0, 0), model.ModeGatekeeper},
		{at(4, 59), model.ModeGatekeeper},
		{at(5, 0), model.ModeOpen},
		{at(12, 0), model.ModeOpen},
	}
	for _, tt := range tests {
		if got := s.ModeAt(tt.t); got != tt.want {
			t.Errorf("ModeAt(%s) = %s, want %s", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

func TestModeAt_SameDayWindow(t *testing.T) {
	s := utcSchedule(t, "01:00", "06:30")
	if got := s.ModeAt(at(0, 30)); got != model.ModeOpen {
		t.Errorf("00:30 = %s", got)
	}
	if got := s.ModeAt(at(6, 0)); got != model.ModeGatekeeper {
		t.Errorf("06:00 = %s", got)
	}
	if got := s.ModeAt(at(6, 30)); got != model.ModeOpen {
		t.Errorf("06:30 = %s", got)
	}
}

func TestNextBoundary(t *testing.T) {
	s := utcSchedule(t, "21:00", "05:00")
	tests := []struct {
		from, want time.Time
	}{
		{at(12, 0), at(21, 0)},
		{at(21, 0), at(21, 0).Add(8 * time.Hour)},
		{at(2, 0), at(5, 0)},
		{at(23, 0), at(5, 0).Add(24 * time.Hour)},
	}
	for _, tt := range tests {
		if got := s.NextBoundary(tt.from); !got.Equal(tt.want) {
			t.Errorf("NextBoundary(%s) = %s, want %s", tt.from, got, tt.want)
		}
	}
	if got := s.NextNightStart(at(22, 0)); !got.Equal(at(21, 0).Add(24 * time.Hour)) {
		t.Errorf("NextNightStart = %s", got)
	}
	if got := s.LastNightStart(at(2, 0)); !got.Equal(at(21, 0).Add(-24 * time.Hour)) {
		t.Errorf("LastNightStart = %s", got)
	}
}

func TestNextBoundary_DST(t *testing.T) {
	s, err := ParseSchedule("21:00", "05:00", "America/New_York")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	ny := s.Location
	// Clocks spring forward at 02:00 on 2026-03-08.
	from := time.Date(2026, 3, 7, 22, 0, 0, 0, ny)
	want := time.Date(2026, 3, 8, 5, 0, 0, 0, ny)
	got := s.NextBoundary(from)
	if !got.Equal(want) {
		t.Fatalf("NextBoundary = %s, want %s", got, want)
	}
	if d := got.Sub(from); d != 6*time.Hour {
		t.Errorf("night length = %s, want 6h across DST", d)
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	for _, c := range [][3]string{
		{"25:00", "05:00", "UTC"},
		{"21:00", "5am", "UTC"},
		{"21:00", "21:00", "UTC"},
		{"21:00", "05:00", "Mars/Olympus"},
	} {
		if _, err := ParseSchedule(c[0], c[1], c[2]); err == nil {
			t.Errorf("ParseSchedule(%v) expected error", c)
		}
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *memRecorder) Append(_ context.Context, e model.Event) model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return e
}

func (r *memRecorder) kinds(k model.EventKind) []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	c       *Controller
	clock   *clock.Fake
	backend *enforce.Noop
	rec     *memRecorder
	global  *state.Global
}

func newHarness(t *testing.T, start time.Time) *harness {
	t.Helper()
	policy := model.DefaultPolicy()
	policy.EnforcementBackoff = 0
	h := &harness{
		clock:   clock.NewFake(start),
		backend: enforce.NewNoop(),
		rec:     &memRecorder{},
		global:  state.New(nil),
	}
	h.c = New(Config{
		Clock:    h.clock,
		Backend:  h.backend,
		Recorder: h.rec,
		Global:   h.global,
		Schedule: utcSchedule(t, "21:00", "05:00"),
		Policy:   policy,
	})
	return h
}

func (h *harness) modeCalls() int {
	return h.backend.Count(func(c enforce.Call) bool { return c.Op == "mode" })
}

func TestTransition_IdempotentAndHooked(t *testing.T) {
	h := newHarness(t, at(22, 0))
	var hooks []string
	h.c.OnTransition(func(_ context.Context, from, to model.Mode) {
		hooks = append(hooks, string(from)+">"+string(to))
	})
	ctx := context.Background()

	if err := h.c.TransitionTo(ctx, model.ModeOpen, model.ReasonManual); err != nil {
		t.Fatalf("TransitionTo: %v", err)
	}
	if err := h.c.TransitionTo(ctx, model.ModeOpen, model.ReasonManual); err != nil {
		t.Fatalf("second TransitionTo: %v", err)
	}
	if got := h.modeCalls(); got != 1 {
		t.Errorf("backend mode calls = %d, want 1", got)
	}
	if len(hooks) != 1 || hooks[0] != ">open" {
		t.Errorf("hooks = %v", hooks)
	}
	ev := h.rec.kinds(model.EventModeChanged)
	if len(ev) != 1 || ev[0].Mode != model.ModeOpen || ev[0].Message != "from startup" {
		t.Errorf("mode_changed events = %+v", ev)
	}
}

func TestTransition_FailureDoesNotCommit(t *testing.T) {
	h := newHarness(t, at(22, 0))
	ctx := context.Background()
	if err := h.c.TransitionTo(ctx, model.ModeOpen, model.ReasonSchedule); err != nil {
		t.Fatal(err)
	}
	var applied []error
	h.c.cfg.OnApplied = func(_ model.Mode, err error) { applied = append(applied, err) }
	h.backend.Fail("mode", errors.New("nodogsplash: failed to start"))

	err := h.c.TransitionTo(ctx, model.ModeGatekeeper, model.ReasonSchedule)
	if !errors.Is(err, model.ErrEnforcementFailure) {
		t.Fatalf("err = %v, want ErrEnforcementFailure", err)
	}
	if h.c.Current() != model.ModeOpen {
		t.Errorf("Current = %s, want open", h.c.Current())
	}
	if got := h.modeCalls(); got != 1+1+model.DefaultPolicy().EnforcementRetries {
		t.Errorf("mode calls = %d", got)
	}
	ev := h.rec.kinds(model.EventModeChangeFailed)
	if len(ev) != 1 || !ev[0].EnforcementFailed || ev[0].Outcome != model.OutcomeFailed {
		t.Errorf("failure events = %+v", ev)
	}
	if len(applied) != 1 || applied[0] == nil {
		t.Errorf("OnApplied = %v", applied)
	}
}

func TestOverride_LastsUntilBoundary(t *testing.T) {
	h := newHarness(t, at(22, 0))
	ctx := context.Background()
	if err := h.c.Sync(ctx, model.ReasonSchedule); err != nil {
		t.Fatal(err)
	}
	if h.c.Current() != model.ModeGatekeeper {
		t.Fatalf("Current = %s", h.c.Current())
	}
	if err := h.c.SetOverride(ctx, model.ModeOpen); err != nil {
		t.Fatal(err)
	}
	m, until, ok := h.c.Override()
	if !ok || m != model.ModeOpen || !until.Equal(at(5, 0).Add(24*time.Hour)) {
		t.Fatalf("Override = %s %s %v", m, until, ok)
	}
	if got := h.c.Desired(at(23, 0)); got != model.ModeOpen {
		t.Errorf("Desired during override = %s", got)
	}
	// Past the boundary the schedule says open anyway; the override is gone.
	if got := h.c.Desired(at(6, 0).Add(24 * time.Hour)); got != model.ModeOpen {
		t.Errorf("Desired after boundary = %s", got)
	}
	if _, _, ok := h.c.Override(); ok {
		t.Error("override outlived its boundary")
	}
}

func TestRun_FollowsSchedule(t *testing.T) {
	h := newHarness(t, at(20, 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	h.clock.WaitForTimers(1)
	if h.c.Current() != model.ModeOpen {
		t.Fatalf("Current = %s, want open", h.c.Current())
	}
	h.clock.Advance(time.Hour)
	h.clock.WaitForTimers(1)
	if h.c.Current() != model.ModeGatekeeper {
		t.Fatalf("Current after 21:00 = %s, want gatekeeper", h.c.Current())
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
	if got := len(h.rec.kinds(model.EventModeChanged)); got != 2 {
		t.Errorf("mode_changed events = %d, want 2", got)
	}
}
