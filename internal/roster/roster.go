// Package roster tracks which clients have talked to the gatekeeper
// recently.
//
// The server records every identified request. A background reaper marks
// clients idle after a threshold and tells the engine, which closes any
// conversation the client abandoned.
package roster

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
)

// Entry is a single client's presence state.
type Entry struct {
	Client       string    `json:"client"`
	IP           string    `json:"ip,omitempty"`
	Hostname     string    `json:"hostname,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	LastRoute    string    `json:"last_route"`
	IdleSecs     float64   `json:"idle_secs"`
	RequestCount int64     `json:"request_count"`
	Idle         bool      `json:"idle,omitempty"`
	IdleAt       time.Time `json:"idle_at,omitempty"`
}

// Visit is one request from an identified client.
type Visit struct {
	Client   string
	IP       string
	Hostname string
	Route    string // e.g. "chat", "status", "captive"
}

// ReaperConfig configures the background idle sweep.
type ReaperConfig struct {
	// IdleThreshold is how long a client must be silent before it is
	// marked idle. Default: 10 minutes.
	IdleThreshold time.Duration

	// EvictAfter is how long an idle client stays in the roster.
	// Default: 30 minutes.
	EvictAfter time.Duration

	// SweepInterval is how often the reaper scans. Default: 60 seconds.
	SweepInterval time.Duration

	// OnIdle is called for each client newly marked idle, outside the lock.
	OnIdle func(client string)
}

// Tracker maintains the in-memory client roster.
type Tracker struct {
	clock clock.Clock

	mu      sync.RWMutex
	clients map[string]*clientState

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type clientState struct {
	ip        string
	hostname  string
	firstSeen time.Time
	lastSeen  time.Time
	lastRoute string
	requests  int64
	idle      bool
	idleAt    time.Time
}

// New creates a Tracker.
func New(c clock.Clock) *Tracker {
	return &Tracker{clock: c, clients: make(map[string]*clientState)}
}

// Record notes a request from v.Client.
func (t *Tracker) Record(v Visit) {
	if v.Client == "" {
		return
	}
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.clients[v.Client]
	if !ok {
		st = &clientState{firstSeen: now}
		t.clients[v.Client] = st
	}
	if st.idle {
		slog.Debug("roster: client returned", "client", v.Client)
		st.idle = false
		st.idleAt = time.Time{}
	}
	st.lastSeen = now
	st.lastRoute = v.Route
	st.requests++
	if v.IP != "" {
		st.ip = v.IP
	}
	if v.Hostname != "" {
		st.hostname = v.Hostname
	}
}

// Get returns one client's entry.
func (t *Tracker) Get(client string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.clients[client]
	if !ok {
		return Entry{}, false
	}
	return st.entry(client, t.clock.Now()), true
}

// Roster returns every tracked client, most recently active first.
// Clients silent for longer than stale are skipped; pass 0 for all.
func (t *Tracker) Roster(stale time.Duration) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	entries := make([]Entry, 0, len(t.clients))
	for client, st := range t.clients {
		if stale > 0 && now.Sub(st.lastSeen) > stale {
			continue
		}
		entries = append(entries, st.entry(client, now))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastSeen.After(entries[j].LastSeen)
	})
	return entries
}

func (st *clientState) entry(client string, now time.Time) Entry {
	return Entry{
		Client:       client,
		IP:           st.ip,
		Hostname:     st.hostname,
		FirstSeen:    st.firstSeen,
		LastSeen:     st.lastSeen,
		LastRoute:    st.lastRoute,
		IdleSecs:     now.Sub(st.lastSeen).Seconds(),
		RequestCount: st.requests,
		Idle:         st.idle,
		IdleAt:       st.idleAt,
	}
}

// StartReaper launches the background sweep. Call Stop to shut it down.
func (t *Tracker) StartReaper(cfg *ReaperConfig) {
	if cfg == nil {
		cfg = &ReaperConfig{}
	}
	if cfg.IdleThreshold == 0 {
		cfg.IdleThreshold = 10 * time.Minute
	}
	if cfg.EvictAfter == 0 {
		cfg.EvictAfter = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 60 * time.Second
	}

	t.reaperStop = make(chan struct{})
	t.reaperDone = make(chan struct{})

	go t.reapLoop(cfg)
	slog.Info("roster: reaper started",
		"idle_threshold", cfg.IdleThreshold,
		"sweep_interval", cfg.SweepInterval)
}

// Stop shuts down the reaper goroutine.
func (t *Tracker) Stop() {
	if t.reaperStop != nil {
		close(t.reaperStop)
		<-t.reaperDone
		t.reaperStop = nil
		t.reaperDone = nil
	}
}

func (t *Tracker) reapLoop(cfg *ReaperConfig) {
	defer close(t.reaperDone)

	ticker := t.clock.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.reaperStop:
			return
		case <-ticker.C:
			t.sweep(cfg)
		}
	}
}

func (t *Tracker) sweep(cfg *ReaperConfig) {
	now := t.clock.Now()
	var newlyIdle []string

	t.mu.Lock()
	for client, st := range t.clients {
		if st.idle {
			// One-off visitors (captive probes, a single status check)
			// are dropped sooner.
			evict := cfg.EvictAfter
			if st.requests < 10 {
				evict = 5 * time.Minute
			}
			if now.Sub(st.idleAt) > evict {
				delete(t.clients, client)
			}
			continue
		}
		if now.Sub(st.lastSeen) > cfg.IdleThreshold {
			st.idle = true
			st.idleAt = now
			newlyIdle = append(newlyIdle, client)
		}
	}
	t.mu.Unlock()

	for _, client := range newlyIdle {
		slog.Info("roster: client idle", "client", client, "threshold", cfg.IdleThreshold)
		if cfg.OnIdle != nil {
			cfg.OnIdle(client)
		}
	}
}
