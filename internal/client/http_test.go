package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const clientA = "AA:AA:AA:AA:AA:01"

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	rawPath     string
	query       url.Values
	body        string
	contentType string
	auth        string
	client      string

	// canned response
	statusCode   int
	responseBody string
	header       http.Header
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.rawPath = r.URL.RawPath
	h.query = r.URL.Query()
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	h.client = r.Header.Get(clientHeader)
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	for k, vs := range h.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token)
}

func bodyMap(t *testing.T, h *testHandler) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(h.body), &m); err != nil {
		t.Fatalf("unmarshaling request body %q: %v", h.body, err)
	}
	return m
}

func TestHTTPClient_Chat(t *testing.T) {
	h := &testHandler{
		responseBody: `{"kind":"allow","message":"Enjoy.","duration_class":"short","expires_at":"2026-01-10T23:10:00Z","turns_used":0,"turns_left":3}`,
	}
	c := newTestClient(t, h, "secret")

	reply, err := c.Chat(context.Background(), &ChatRequest{
		Client:     clientA,
		Message:    "10 minutes for the bus",
		Attachment: &model.Attachment{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if h.method != http.MethodPost || h.path != "/v1/chat" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.contentType != "application/json" {
		t.Errorf("content-type = %q", h.contentType)
	}
	if h.auth != "Bearer secret" {
		t.Errorf("authorization = %q", h.auth)
	}
	if h.client != clientA {
		t.Errorf("client header = %q", h.client)
	}
	body := bodyMap(t, h)
	if body["message"] != "10 minutes for the bus" {
		t.Errorf("message = %v", body["message"])
	}
	if _, ok := body["conversation_id"]; ok {
		t.Error("empty conversation_id should be omitted")
	}
	if _, ok := body["Client"]; ok {
		t.Error("client leaked into the body")
	}
	att, _ := body["attachment"].(map[string]any)
	if att["mime_type"] != "image/png" || att["data"] == "" {
		t.Errorf("attachment = %v", body["attachment"])
	}

	if reply.Kind != model.ReplyAllow || reply.DurationClass != "short" || reply.ExpiresAt == nil {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHTTPClient_StatusWithoutClient(t *testing.T) {
	h := &testHandler{responseBody: `{"client":"AA:AA:AA:AA:AA:01","mode":"gatekeeper","session_active":false,"restriction_active":false,"next_boundary":"2026-01-11T05:00:00Z"}`}
	c := newTestClient(t, h, "")

	st, err := c.Status(context.Background(), "")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if h.client != "" || h.auth != "" {
		t.Errorf("unexpected headers client=%q auth=%q", h.client, h.auth)
	}
	if st.Mode != model.ModeGatekeeper || st.Client != clientA {
		t.Errorf("status = %+v", st)
	}
}

func TestHTTPClient_Mode(t *testing.T) {
	h := &testHandler{responseBody: `{"mode":"open","override":"open","override_until":"2026-01-11T05:00:00Z","next_boundary":"2026-01-11T05:00:00Z"}`}
	c := newTestClient(t, h, "")

	info, err := c.SetMode(context.Background(), model.ModeOpen)
	if err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if h.method != http.MethodPut || h.path != "/v1/mode" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if body := bodyMap(t, h); body["mode"] != "open" {
		t.Errorf("body = %v", body)
	}
	if info.Override != model.ModeOpen || info.OverrideUntil == nil {
		t.Errorf("info = %+v", info)
	}

	if _, err := c.ClearOverride(context.Background()); err != nil {
		t.Fatalf("ClearOverride() error = %v", err)
	}
	if h.method != http.MethodDelete || h.path != "/v1/mode/override" {
		t.Errorf("request = %s %s", h.method, h.path)
	}

	if _, err := c.GetMode(context.Background()); err != nil {
		t.Fatalf("GetMode() error = %v", err)
	}
	if h.method != http.MethodGet || h.path != "/v1/mode" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
}

func TestHTTPClient_ListEvents(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[{"id":7,"timestamp":"2026-01-10T23:00:00Z","kind":"access_denied","client":"AA:AA:AA:AA:AA:01","outcome":"deny"}]}`}
	c := newTestClient(t, h, "")

	since := time.Date(2026, 1, 10, 21, 0, 0, 0, time.FixedZone("X", 3600))
	evts, err := c.ListEvents(context.Background(), &ListEventsRequest{
		Client:  clientA,
		Kinds:   []string{"access_denied", "session_granted"},
		Outcome: "deny",
		Since:   since,
		Limit:   20,
	})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	for k, want := range map[string]string{
		"client":  clientA,
		"kind":    "access_denied,session_granted",
		"outcome": "deny",
		"since":   "2026-01-10T20:00:00Z",
		"limit":   "20",
	} {
		if got := h.query.Get(k); got != want {
			t.Errorf("query %s = %q, want %q", k, got, want)
		}
	}
	if len(evts) != 1 || evts[0].ID != 7 || evts[0].Kind != model.EventAccessDenied {
		t.Fatalf("events = %+v", evts)
	}
}

func TestHTTPClient_ListEventsNoFilter(t *testing.T) {
	h := &testHandler{responseBody: `{"events":[]}`}
	c := newTestClient(t, h, "")
	evts, err := c.ListEvents(context.Background(), &ListEventsRequest{})
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(h.query) != 0 {
		t.Errorf("query = %v, want none", h.query)
	}
	if len(evts) != 0 {
		t.Errorf("events = %v", evts)
	}
}

func TestHTTPClient_Restrictions(t *testing.T) {
	h := &testHandler{
		statusCode:   http.StatusCreated,
		responseBody: `{"client":"AA:AA:AA:AA:AA:01","kind":"focus_mode","started_at":"2026-01-10T12:00:00Z","expires_at":"2026-01-10T13:30:00Z","domains":["youtube.com"]}`,
	}
	c := newTestClient(t, h, "secret")

	r, err := c.ActivateRestriction(context.Background(), &RestrictRequest{Client: clientA, Kind: model.RestrictionFocus, Duration: 90 * time.Minute})
	if err != nil {
		t.Fatalf("ActivateRestriction() error = %v", err)
	}
	body := bodyMap(t, h)
	if body["client"] != clientA || body["kind"] != "focus_mode" || body["minutes"] != float64(90) {
		t.Errorf("body = %v", body)
	}
	if r.Kind != model.RestrictionFocus || len(r.Domains) != 1 {
		t.Errorf("restriction = %+v", r)
	}

	// Self-restriction with the default length sends neither client nor minutes.
	if _, err := c.ActivateRestriction(context.Background(), &RestrictRequest{Kind: model.RestrictionLockdown}); err != nil {
		t.Fatal(err)
	}
	body = bodyMap(t, h)
	if _, ok := body["client"]; ok {
		t.Errorf("client should be omitted: %v", body)
	}
	if _, ok := body["minutes"]; ok {
		t.Errorf("minutes should be omitted: %v", body)
	}

	h.statusCode, h.responseBody = http.StatusNoContent, ""
	if err := c.DeactivateRestriction(context.Background(), clientA, model.RestrictionFocus); err != nil {
		t.Fatalf("DeactivateRestriction() error = %v", err)
	}
	if h.method != http.MethodDelete || h.path != "/v1/restrictions/"+clientA+"/focus_mode" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
}

func TestHTTPClient_RevokeSessionEscapesPath(t *testing.T) {
	h := &testHandler{statusCode: http.StatusNoContent}
	c := newTestClient(t, h, "")
	if err := c.RevokeSession(context.Background(), "odd/client"); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	if h.rawPath != "/v1/sessions/odd%2Fclient" {
		t.Errorf("raw path = %q", h.rawPath)
	}
}

func TestHTTPClient_Lists(t *testing.T) {
	ctx := context.Background()

	h := &testHandler{responseBody: `{"sessions":[{"client":"AA:AA:AA:AA:AA:01","granted_at":"2026-01-10T23:00:00Z","expires_at":"2026-01-10T23:10:00Z","duration_class":"short"}]}`}
	c := newTestClient(t, h, "")
	ss, err := c.ListSessions(ctx)
	if err != nil || len(ss) != 1 || ss[0].DurationClass != "short" {
		t.Fatalf("ListSessions() = %+v, %v", ss, err)
	}

	h.responseBody = `{"conversations":[{"id":"cv-1","client":"AA:AA:AA:AA:AA:01","purpose":"night_access","phase":"awaiting_duration","turns_used":1,"proof_attached":false,"opened_at":"2026-01-10T23:00:00Z","last_activity":"2026-01-10T23:01:00Z"}]}`
	cs, err := c.ListConversations(ctx)
	if err != nil || len(cs) != 1 || cs[0].TurnsUsed != 1 {
		t.Fatalf("ListConversations() = %+v, %v", cs, err)
	}

	h.responseBody = `{"restrictions":[]}`
	rs, err := c.ListRestrictions(ctx)
	if err != nil || len(rs) != 0 {
		t.Fatalf("ListRestrictions() = %+v, %v", rs, err)
	}

	h.responseBody = `{"clients":[{"client":"AA:AA:AA:AA:AA:01","ip":"192.168.8.20","first_seen":"2026-01-10T22:00:00Z","last_seen":"2026-01-10T23:00:00Z","last_route":"chat","idle_secs":3,"request_count":4,"restrictions":["lockdown (suspended)"],"negotiating":true}]}`
	clients, err := c.ListClients(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("ListClients() error = %v", err)
	}
	if h.query.Get("stale_threshold_secs") != "300" {
		t.Errorf("stale_threshold_secs = %q", h.query.Get("stale_threshold_secs"))
	}
	if len(clients) != 1 || clients[0].IP != "192.168.8.20" || !clients[0].Negotiating || clients[0].RequestCount != 4 {
		t.Fatalf("clients = %+v", clients)
	}
}

func TestHTTPClient_FocusDomains(t *testing.T) {
	h := &testHandler{responseBody: `{"domains":[]}`}
	c := newTestClient(t, h, "")

	got, err := c.SetFocusDomains(context.Background(), nil)
	if err != nil {
		t.Fatalf("SetFocusDomains() error = %v", err)
	}
	if h.body != `{"domains":[]}` {
		t.Errorf("body = %q, want an empty list rather than null", h.body)
	}
	if len(got) != 0 {
		t.Errorf("domains = %v", got)
	}
}

func TestHTTPClient_Health(t *testing.T) {
	h := &testHandler{responseBody: `{"status":"degraded","mode":"open","enforcement_error":"ndsctl: exit 1","target_mode":"gatekeeper"}`}
	c := newTestClient(t, h, "")
	hs, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if hs.Status != "degraded" || hs.TargetMode != model.ModeGatekeeper || hs.EnforcementError == "" {
		t.Errorf("health = %+v", hs)
	}
}

func TestHTTPClient_APIError(t *testing.T) {
	for _, tc := range []struct {
		name      string
		status    int
		body      string
		header    http.Header
		wantMsg   string
		wantRetry time.Duration
	}{
		{"JSONError", http.StatusConflict, `{"error":"client is not negotiating"}`, nil, "client is not negotiating", 0},
		{"PlainBody", http.StatusBadGateway, `upstream down`, nil, "upstream down", 0},
		{"RateLimited", http.StatusTooManyRequests, `{"error":"Too many requests. Please wait."}`, http.Header{"Retry-After": {"30"}}, "Too many requests. Please wait.", 30 * time.Second},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{statusCode: tc.status, responseBody: tc.body, header: tc.header}
			c := newTestClient(t, h, "")
			_, err := c.Chat(context.Background(), &ChatRequest{Message: "hi"})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Message != tc.wantMsg || apiErr.RetryAfter != tc.wantRetry {
				t.Fatalf("APIError = %+v", apiErr)
			}
		})
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewHTTPClient(addr, "")
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error from a closed server")
	}
}
