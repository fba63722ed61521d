package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/engine"
	"github.com/alfredjeanlab/gatekeeper/internal/mode"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/oracle"
	"github.com/alfredjeanlab/gatekeeper/internal/store/memory"
)

const (
	clientA = "AA:AA:AA:AA:AA:01"
	clientB = "BB:BB:BB:BB:BB:02"

	// testIP is the RemoteAddr host httptest.NewRequest uses.
	testIP     = "192.0.2.1"
	testPortal = "http://192.168.8.1:2050/"
)

var (
	night = time.Date(2026, 1, 10, 23, 0, 0, 0, time.UTC)
	noon  = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
)

type testServer struct {
	srv     *Server
	handler http.Handler
	engine  *engine.Engine
	oracle  *oracle.Script
	clock   *clock.Fake
	health  *EnforcementHealth
}

type testOpts struct {
	token string
	burst int
	// unknown makes every LAN address unidentifiable.
	unknown bool
}

func newTestServer(t *testing.T, start time.Time, opts testOpts) *testServer {
	t.Helper()
	sched, err := mode.ParseSchedule("21:00", "05:00", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	policy := model.DefaultPolicy()
	policy.EnforcementBackoff = 0

	ts := &testServer{
		oracle: oracle.NewScript(),
		clock:  clock.NewFake(start),
		health: NewEnforcementHealth(),
	}
	ts.engine, err = engine.New(engine.Config{
		Clock:         ts.clock,
		Store:         memory.New(),
		Backend:       enforce.NewNoop(),
		Oracle:        ts.oracle,
		Policy:        policy,
		Schedule:      sched,
		FocusDomains:  []string{"youtube.com"},
		OracleTimeout: time.Second,
		OnModeApplied: ts.health.Observe,
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := ts.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(ts.engine.Stop)

	burst := opts.burst
	if burst == 0 {
		burst = 10
	}
	ts.srv = New(Config{
		Engine: ts.engine,
		Identifier: IdentifierFunc(func(_ context.Context, ip string) (string, bool) {
			if opts.unknown || ip != testIP {
				return "", false
			}
			return clientA, true
		}),
		Health:        ts.health,
		Clock:         ts.clock,
		AuthToken:     opts.token,
		PortalURL:     testPortal,
		RatePerMinute: 2,
		RateBurst:     burst,
	})
	t.Cleanup(ts.srv.Close)
	ts.handler = ts.srv.NewHTTPHandler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func TestNew_BroadcastsRecordedEvents(t *testing.T) {
	ts := newTestServer(t, noon, testOpts{})
	if _, err := ts.engine.ActivateRestriction(context.Background(), clientA, model.RestrictionFocus, time.Hour); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, evt := range ts.srv.sseHub.eventsSince(0) {
		if evt.Topic == "gatekeeper.restriction_activated" && evt.Client == clientA {
			found = true
			var e model.Event
			if err := json.Unmarshal(evt.Data, &e); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if e.Restriction != model.RestrictionFocus {
				t.Errorf("restriction = %q", e.Restriction)
			}
		}
	}
	if !found {
		t.Fatal("restriction_activated never reached the SSE hub")
	}

	ts.srv.Close()
	before := len(ts.srv.sseHub.eventsSince(0))
	if err := ts.engine.DeactivateRestriction(context.Background(), clientA, model.RestrictionFocus); err != nil {
		t.Fatal(err)
	}
	if after := len(ts.srv.sseHub.eventsSince(0)); after != before {
		t.Errorf("hub received %d events after Close", after-before)
	}
}

func TestEnforcementHealth(t *testing.T) {
	h := NewEnforcementHealth()
	if m, err := h.Last(); m != "" || err != nil {
		t.Fatalf("Last() = %q, %v before any apply", m, err)
	}
	h.Observe(model.ModeOpen, nil)
	if m, err := h.Last(); m != model.ModeOpen || err != nil {
		t.Fatalf("Last() = %q, %v", m, err)
	}
	h.Observe(model.ModeGatekeeper, context.DeadlineExceeded)
	if _, err := h.Last(); err == nil {
		t.Fatal("failure not recorded")
	}
}
