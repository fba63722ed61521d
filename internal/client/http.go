package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// clientHeader names the device a trusted caller acts for.
const clientHeader = "X-Gatekeeper-Client"

// HTTPClient is the GatekeeperClient for the HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient talks to the gatekeeper at baseURL, for example
// "http://192.168.8.1:2050". A non-empty token is sent as a bearer token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Negotiation ---

func (c *HTTPClient) Chat(ctx context.Context, req *ChatRequest) (*model.Reply, error) {
	var reply model.Reply
	if err := c.do(ctx, http.MethodPost, "/v1/chat", req, &reply, req.Client); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *HTTPClient) Status(ctx context.Context, client string) (*model.ClientStatus, error) {
	var st model.ClientStatus
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st, client); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Mode ---

func (c *HTTPClient) GetMode(ctx context.Context) (*ModeInfo, error) {
	var info ModeInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v1/mode", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) SetMode(ctx context.Context, mode model.Mode) (*ModeInfo, error) {
	var info ModeInfo
	if err := c.doJSON(ctx, http.MethodPut, "/v1/mode", map[string]string{"mode": string(mode)}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *HTTPClient) ClearOverride(ctx context.Context) (*ModeInfo, error) {
	var info ModeInfo
	if err := c.doJSON(ctx, http.MethodDelete, "/v1/mode/override", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// --- History ---

func (c *HTTPClient) ListEvents(ctx context.Context, req *ListEventsRequest) ([]*model.Event, error) {
	q := url.Values{}
	if req.Client != "" {
		q.Set("client", req.Client)
	}
	if len(req.Kinds) > 0 {
		q.Set("kind", strings.Join(req.Kinds, ","))
	}
	if req.Outcome != "" {
		q.Set("outcome", req.Outcome)
	}
	if !req.Since.IsZero() {
		q.Set("since", req.Since.UTC().Format(time.RFC3339))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	path := "/v1/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Events []*model.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// --- Sessions and conversations ---

func (c *HTTPClient) ListSessions(ctx context.Context) ([]*model.Session, error) {
	var resp struct {
		Sessions []*model.Session `json:"sessions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) RevokeSession(ctx context.Context, client string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(client), nil, nil)
}

func (c *HTTPClient) ListConversations(ctx context.Context) ([]*model.ConversationInfo, error) {
	var resp struct {
		Conversations []*model.ConversationInfo `json:"conversations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/conversations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// --- Restrictions ---

func (c *HTTPClient) ListRestrictions(ctx context.Context) ([]*model.Restriction, error) {
	var resp struct {
		Restrictions []*model.Restriction `json:"restrictions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/restrictions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Restrictions, nil
}

func (c *HTTPClient) ActivateRestriction(ctx context.Context, req *RestrictRequest) (*model.Restriction, error) {
	body := map[string]any{"kind": string(req.Kind)}
	if req.Client != "" {
		body["client"] = req.Client
	}
	if m := int(req.Duration / time.Minute); m > 0 {
		body["minutes"] = m
	}
	var r model.Restriction
	if err := c.doJSON(ctx, http.MethodPost, "/v1/restrictions", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *HTTPClient) DeactivateRestriction(ctx context.Context, client string, kind model.RestrictionKind) error {
	path := "/v1/restrictions/" + url.PathEscape(client) + "/" + url.PathEscape(string(kind))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// --- Settings ---

func (c *HTTPClient) GetFocusDomains(ctx context.Context) ([]string, error) {
	var resp struct {
		Domains []string `json:"domains"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/settings/focus-domains", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

func (c *HTTPClient) SetFocusDomains(ctx context.Context, domains []string) ([]string, error) {
	if domains == nil {
		domains = []string{}
	}
	var resp struct {
		Domains []string `json:"domains"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/v1/settings/focus-domains", map[string][]string{"domains": domains}, &resp); err != nil {
		return nil, err
	}
	return resp.Domains, nil
}

// --- Roster ---

func (c *HTTPClient) ListClients(ctx context.Context, staleThreshold time.Duration) ([]*ClientEntry, error) {
	path := "/v1/clients"
	if secs := int(staleThreshold / time.Second); secs > 0 {
		path += "?stale_threshold_secs=" + strconv.Itoa(secs)
	}
	var resp struct {
		Clients []*ClientEntry `json:"clients"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Clients, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	var resp HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- internal helpers ---

// APIError is a non-2xx reply from the gatekeeper.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, result any) error {
	return c.do(ctx, method, path, body, result, "")
}

// do sends body as JSON and decodes the reply into result, which may be
// nil. A non-empty client names the device a trusted caller acts for.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, result any, client string) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if client != "" {
		req.Header.Set(clientHeader, client)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	switch {
	case resp.StatusCode >= 400:
		return apiError(resp, data)
	case result == nil, resp.StatusCode == http.StatusNoContent:
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// apiError prefers the server's {"error": ...} message over the raw body.
func apiError(resp *http.Response, data []byte) *APIError {
	e := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		e.Message = body.Error
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		e.RetryAfter = time.Duration(secs) * time.Second
	}
	return e
}
