package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// StreamRequest selects the live events to follow.
type StreamRequest struct {
	// Topics are NATS-style patterns such as "gatekeeper.session_granted" or
	// "gatekeeper.>". Empty means everything.
	Topics []string
	Client string
	// LastEventID resumes after a previously seen stream ID.
	LastEventID int64
}

// StreamEvents follows the server-sent event stream and calls fn for each
// event until ctx is cancelled or the server closes the stream. It
// returns the ID of the last event delivered.
func (c *HTTPClient) StreamEvents(ctx context.Context, req *StreamRequest, fn func(id int64, e *model.Event)) (int64, error) {
	q := url.Values{}
	if len(req.Topics) > 0 {
		q.Set("topics", strings.Join(req.Topics, ","))
	}
	if req.Client != "" {
		q.Set("client", req.Client)
	}
	path := "/v1/events/stream"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return req.LastEventID, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if req.LastEventID > 0 {
		httpReq.Header.Set("Last-Event-ID", strconv.FormatInt(req.LastEventID, 10))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return req.LastEventID, fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return req.LastEventID, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	return readSSE(ctx, resp.Body, req.LastEventID, fn)
}

// readSSE parses "id:", "event:" and "data:" lines; a blank line ends a
// record. Comment lines (":keepalive") are skipped.
func readSSE(ctx context.Context, r io.Reader, lastID int64, fn func(int64, *model.Event)) (int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)

	var id int64
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				var e model.Event
				if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
					return lastID, fmt.Errorf("decoding event %d: %w", id, err)
				}
				lastID = id
				fn(id, &e)
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			id, _ = strconv.ParseInt(strings.TrimSpace(line[3:]), 10, 64)
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimPrefix(line[5:], " "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return lastID, fmt.Errorf("reading stream: %w", err)
	}
	return lastID, nil
}
