// Package sync copies the access history to off-router destinations.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

// finalSyncTimeout bounds the export Stop performs on the way out.
const finalSyncTimeout = 30 * time.Second

// Destination is a place the history export is copied to.
type Destination interface {
	// Write replaces the destination's copy with data.
	Write(ctx context.Context, data []byte) error
	// Name identifies the destination in logs.
	Name() string
}

// Scheduler exports the history on an interval and once more on Stop.
// A destination is only written when the exported records changed since
// its last successful write; the header timestamp is ignored.
type Scheduler struct {
	store    store.Store
	dests    []Destination
	interval time.Duration
	logger   *slog.Logger
	clock    clock.Clock

	mu   sync.Mutex
	sent map[int][32]byte // dests index → digest of the last successful write

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(s store.Store, dests []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		dests:    dests,
		interval: interval,
		logger:   logger,
		clock:    clock.Real(),
		sent:     make(map[int][32]byte),
	}
}

// Start runs a sync immediately and then on every interval.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop ends the loop after a last sync and waits for it. Calling Stop
// without Start is a no-op.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	s.syncOnce(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), finalSyncTimeout)
			s.syncOnce(final)
			cancel()
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

// syncOnce exports and writes to every destination whose copy is stale.
func (s *Scheduler) syncOnce(ctx context.Context) (written, failed int) {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.store, model.EventFilter{}, &buf); err != nil {
		s.logger.Error("history export failed", "err", err)
		return 0, 0
	}
	data := buf.Bytes()
	sum := bodyDigest(data)

	for i, dest := range s.dests {
		s.mu.Lock()
		prev, ok := s.sent[i]
		s.mu.Unlock()
		if ok && prev == sum {
			continue
		}
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Warn("history sync failed", "destination", dest.Name(), "err", err)
			continue
		}
		written++
		s.mu.Lock()
		s.sent[i] = sum
		s.mu.Unlock()
	}
	if written > 0 || failed > 0 {
		s.logger.Info("history synced", "written", written, "failed", failed, "bytes", len(data))
	}
	return written, failed
}

// bodyDigest hashes everything after the header line.
func bodyDigest(data []byte) [32]byte {
	_, body, _ := bytes.Cut(data, []byte("\n"))
	return blake3.Sum256(body)
}
