package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// sseRingBufferSize is how many recent events a reconnecting client can
	// replay with Last-Event-ID.
	sseRingBufferSize = 1000

	sseClientBuffer      = 64
	sseKeepaliveInterval = 15 * time.Second
)

// sseEvent is one recorded event as it goes out on the stream. IDs are
// hub sequence numbers, not history IDs: an event whose history write
// failed is still streamed.
type sseEvent struct {
	ID     uint64
	Topic  string
	Client string
	Data   []byte
}

// sseHub fans recorded events out to stream subscribers and keeps the most
// recent ones for replay.
type sseHub struct {
	mu      sync.Mutex
	last    uint64
	ring    []sseEvent // ring[id % sseRingBufferSize]
	clients map[*sseClient]struct{}
}

// sseClient is one open stream and its filter.
type sseClient struct {
	topics []string
	client string
	ch     chan *sseEvent
}

func newSSEHub() *sseHub {
	return &sseHub{
		ring:    make([]sseEvent, sseRingBufferSize),
		clients: make(map[*sseClient]struct{}),
	}
}

// broadcast assigns the next sequence number and delivers to every
// matching subscriber without blocking; a full subscriber misses the event
// and can recover it by reconnecting with Last-Event-ID.
func (h *sseHub) broadcast(topic, client string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last++
	evt := sseEvent{ID: h.last, Topic: topic, Client: client, Data: payload}
	h.ring[h.last%sseRingBufferSize] = evt
	for c := range h.clients {
		if !c.matches(&evt) {
			continue
		}
		select {
		case c.ch <- &evt:
		default:
		}
	}
}

func (h *sseHub) subscribe(topics []string, client string) *sseClient {
	c := &sseClient{topics: topics, client: client, ch: make(chan *sseEvent, sseClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *sseHub) unsubscribe(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// eventsSince returns retained events with ID > after, oldest first.
func (h *sseHub) eventsSince(after uint64) []*sseEvent {
	events, _ := h.replay(after)
	return events
}

// replay is eventsSince that also reports whether events between after and
// the oldest retained one have been lost.
func (h *sseHub) replay(after uint64) (events []*sseEvent, gap bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if after >= h.last {
		return nil, false
	}
	oldest := uint64(1)
	if h.last > sseRingBufferSize {
		oldest = h.last - sseRingBufferSize + 1
	}
	from := after + 1
	if from < oldest {
		from, gap = oldest, true
	}
	events = make([]*sseEvent, 0, h.last-from+1)
	for id := from; id <= h.last; id++ {
		evt := h.ring[id%sseRingBufferSize]
		events = append(events, &evt)
	}
	return events, gap
}

func (c *sseClient) matches(evt *sseEvent) bool {
	if c.client != "" && evt.Client != c.client {
		return false
	}
	if len(c.topics) == 0 {
		return true
	}
	for _, pattern := range c.topics {
		if matchTopicPattern(pattern, evt.Topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated subject the way NATS does:
// "*" is exactly one segment, a trailing ">" is one or more.
func matchTopicPattern(pattern, topic string) bool {
	pat := strings.Split(pattern, ".")
	top := strings.Split(topic, ".")
	for i, p := range pat {
		switch {
		case p == ">" && i == len(pat)-1:
			return len(top) > i
		case i >= len(top):
			return false
		case p != "*" && p != top[i]:
			return false
		}
	}
	return len(pat) == len(top)
}

// parseTopics splits the comma-separated topics query parameter.
func parseTopics(q string) []string {
	var topics []string
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	return topics
}

// handleEventStream handles GET /v1/events/stream.
//
// Query parameters: topics (comma-separated subjects where "*" matches one
// segment and ">" the rest, e.g. "gatekeeper.>") and client. A
// Last-Event-ID header replays retained events after that ID; when some
// were already evicted the stream starts with a ":gap" comment.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.sseHub.subscribe(parseTopics(r.URL.Query().Get("topics")), r.URL.Query().Get("client"))
	defer s.sseHub.unsubscribe(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Subscribed first, so anything broadcast during replay is queued on
	// sub.ch; skip those already replayed.
	var sent uint64
	if after, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		events, gap := s.sseHub.replay(after)
		if gap {
			io.WriteString(w, ":gap\n\n")
		}
		for _, evt := range events {
			if sub.matches(evt) {
				writeSSEEvent(w, evt)
			}
			sent = evt.ID
		}
	}
	flusher.Flush()

	keepalive := s.cfg.Clock.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-sub.ch:
			if evt.ID <= sent {
				continue
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			io.WriteString(w, ":keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w io.Writer, evt *sseEvent) {
	fmt.Fprintf(w, "id:%d\nevent:%s\ndata:%s\n\n", evt.ID, evt.Topic, evt.Data)
}
