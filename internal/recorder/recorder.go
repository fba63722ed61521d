// Package recorder is the append-only audit log. Every state transition in
// the engine lands here; the recorder persists it, publishes it on the bus,
// and hands it to live listeners such as the SSE stream.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/events"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

// ModeFunc reports the mode to stamp on events that do not carry one.
type ModeFunc func() model.Mode

// Recorder appends events to the history store.
type Recorder struct {
	store  store.Store
	pub    events.Publisher
	clock  clock.Clock
	mode   ModeFunc
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[int]func(model.Event)
	nextID    int
}

// New creates a Recorder. pub may be nil.
func New(s store.Store, pub events.Publisher, c clock.Clock, mode ModeFunc, logger *slog.Logger) *Recorder {
	if pub == nil {
		pub = &events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     s,
		pub:       pub,
		clock:     c,
		mode:      mode,
		logger:    logger,
		listeners: make(map[int]func(model.Event)),
	}
}

// Append stamps e with the current time and mode, then stores, publishes
// and broadcasts it. Persistence and publish failures are logged; the
// caller's state transition has already happened and is not rolled back,
// so a cancelled ctx does not stop the write.
func (r *Recorder) Append(ctx context.Context, e model.Event) model.Event {
	ctx = context.WithoutCancel(ctx)
	if e.Timestamp.IsZero() {
		e.Timestamp = r.clock.Now()
	}
	if e.Mode == "" && r.mode != nil {
		e.Mode = r.mode()
	}

	if err := r.store.AppendHistory(ctx, &e); err != nil {
		r.logger.Warn("recorder: failed to persist event", "kind", e.Kind, "client", e.Client, "err", err)
	}
	if err := r.pub.Publish(ctx, e.Topic(), e); err != nil {
		r.logger.Warn("recorder: failed to publish event", "kind", e.Kind, "err", err)
	}

	r.mu.RLock()
	fns := make([]func(model.Event), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.RUnlock()
	for _, fn := range fns {
		fn(e)
	}
	return e
}

// Subscribe registers fn to receive every appended event. fn runs on the
// appending goroutine and must not block.
func (r *Recorder) Subscribe(fn func(model.Event)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Query returns events matching filter and, if non-nil, pred.
func (r *Recorder) Query(ctx context.Context, filter model.EventFilter, pred func(*model.Event) bool) ([]model.Event, error) {
	// The limit applies after pred, so read unbounded when a predicate is set.
	limit := filter.Limit
	if pred != nil {
		filter.Limit = 0
	}
	stored, err := r.store.ReadHistory(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	out := make([]model.Event, 0, len(stored))
	for _, e := range stored {
		if pred != nil && !pred(e) {
			continue
		}
		out = append(out, *e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Recent returns the newest n events, oldest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]model.Event, error) {
	if n <= 0 {
		n = 50
	}
	return r.Query(ctx, model.EventFilter{Limit: n}, nil)
}
