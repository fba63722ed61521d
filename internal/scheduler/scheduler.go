// Package scheduler keeps at most one pending deadline per key and runs a
// callback when it passes. Rescheduling or cancelling a key guarantees the
// earlier callback never runs.
package scheduler

import (
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
)

// Scheduler is a keyed table of cancellable deadlines.
type Scheduler struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
	gen     uint64
	stopped bool
}

type entry struct {
	gen   uint64
	at    time.Time
	timer *clock.Timer
}

// New creates a Scheduler driven by c.
func New(c clock.Clock) *Scheduler {
	return &Scheduler{
		clock:   c,
		entries: make(map[string]*entry),
	}
}

// Schedule arranges for fn to run at at, replacing any deadline already
// registered for key. A deadline in the past fires immediately on its own
// goroutine.
func (s *Scheduler) Schedule(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	e := &entry{gen: s.gen, at: at}
	s.entries[key] = e
	gen := s.gen
	e.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() {
		if s.claim(key, gen) {
			fn()
		}
	})
}

// claim removes the entry for key if it still belongs to generation gen.
func (s *Scheduler) claim(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.entries, key)
	return true
}

// Cancel drops the deadline for key. It reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

// Deadline returns the pending deadline for key, if any.
func (s *Scheduler) Deadline(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Len returns the number of pending deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending deadline. Later Schedule calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
