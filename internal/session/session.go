// Package session tracks time-limited access grants. Each client holds at
// most one session; its expiry is a cancellable scheduled callback, so a
// superseded or revoked grant can never expire a newer one.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/keylock"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/scheduler"
)

// Recorder receives audit events.
type Recorder interface {
	Append(ctx context.Context, e model.Event) model.Event
}

// Config wires a Manager to its collaborators.
type Config struct {
	Clock     clock.Clock
	Backend   enforce.Backend
	Recorder  Recorder
	Scheduler *scheduler.Scheduler
	Locks     *keylock.Map
	Policy    model.Policy
	Logger    *slog.Logger
}

// Manager owns every client's session.
//
// Grant and Revoke expect the caller to hold the client's lock from Locks;
// expiry and RevokeAll take it themselves.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	sessions  map[string]*model.Session
	accepting bool
}

// New creates a Manager. It does not accept grants until SetAccepting(true).
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*model.Session),
	}
}

func schedKey(client string) string { return "session:" + client }

// SetAccepting opens or closes the manager to new grants.
func (m *Manager) SetAccepting(ok bool) {
	m.mu.Lock()
	m.accepting = ok
	m.mu.Unlock()
}

// Grant creates a session for client lasting class.Length, superseding any
// session it already holds. The backend sees exactly one allow per grant.
// If enforcement keeps failing the session is still granted and returned
// with EnforcementFailed set.
func (m *Manager) Grant(ctx context.Context, client string, class model.DurationClass, reason string) (model.Session, error) {
	now := m.cfg.Clock.Now()
	s := &model.Session{
		Client:        client,
		GrantedAt:     now,
		ExpiresAt:     now.Add(class.Length),
		DurationClass: class.Name,
		Reason:        reason,
	}

	m.mu.Lock()
	if !m.accepting {
		m.mu.Unlock()
		return model.Session{}, model.ErrNotAccepting
	}
	prev := m.sessions[client]
	m.sessions[client] = s
	m.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	m.cfg.Scheduler.Schedule(schedKey(client), s.ExpiresAt, func() { m.expire(client, s) })

	if prev != nil {
		m.cfg.Recorder.Append(ctx, model.Event{
			Kind:          model.EventSessionRevoked,
			Client:        client,
			DurationClass: prev.DurationClass,
			Reason:        model.ReasonSuperseded,
		})
	}

	err := m.enforce(ctx, client, model.VerdictAllow)
	if err != nil {
		m.mu.Lock()
		s.EnforcementFailed = true
		m.mu.Unlock()
	}

	m.cfg.Recorder.Append(ctx, model.Event{
		Kind:              model.EventSessionGranted,
		Client:            client,
		Outcome:           model.OutcomeAllow,
		DurationClass:     class.Name,
		DurationGranted:   class.Length,
		Message:           reason,
		EnforcementFailed: err != nil,
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	return *s, nil
}

// Revoke ends client's session. Revoking a missing session is a no-op.
// The returned error reports an enforcement failure; the session is gone
// either way.
func (m *Manager) Revoke(ctx context.Context, client, reason string) error {
	m.mu.Lock()
	s, ok := m.sessions[client]
	if ok {
		delete(m.sessions, client)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.cfg.Scheduler.Cancel(schedKey(client))
	return m.end(context.WithoutCancel(ctx), s, model.EventSessionRevoked, reason)
}

// RevokeAll revokes every session, taking each client's lock in turn.
// It returns the number of sessions revoked.
func (m *Manager) RevokeAll(ctx context.Context, reason string) int {
	m.mu.Lock()
	clients := make([]string, 0, len(m.sessions))
	for c := range m.sessions {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	n := 0
	for _, c := range clients {
		unlock := m.cfg.Locks.Lock(c)
		m.mu.Lock()
		_, ok := m.sessions[c]
		m.mu.Unlock()
		if ok {
			if err := m.Revoke(ctx, c, reason); err != nil {
				m.cfg.Logger.Warn("session: revoke failed", "client", c, "err", err)
			}
			n++
		}
		unlock()
	}
	return n
}

func (m *Manager) expire(client string, s *model.Session) {
	unlock := m.cfg.Locks.Lock(client)
	defer unlock()

	m.mu.Lock()
	if m.sessions[client] != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, client)
	m.mu.Unlock()

	if err := m.end(context.Background(), s, model.EventSessionExpired, model.ReasonExpired); err != nil {
		m.cfg.Logger.Warn("session: expiry enforcement failed", "client", client, "err", err)
	}
}

func (m *Manager) end(ctx context.Context, s *model.Session, kind model.EventKind, reason string) error {
	err := m.enforce(ctx, s.Client, model.VerdictBlock)
	m.cfg.Recorder.Append(ctx, model.Event{
		Kind:              kind,
		Client:            s.Client,
		Outcome:           model.OutcomeBlock,
		DurationClass:     s.DurationClass,
		Reason:            reason,
		EnforcementFailed: err != nil,
	})
	return err
}

// enforce applies v with the policy's retry budget. Exhaustion is recorded
// as its own event so divergence between logical and enforced state shows
// up in the log.
func (m *Manager) enforce(ctx context.Context, client string, v model.Verdict) error {
	p := m.cfg.Policy
	err := enforce.Retry(ctx, m.cfg.Clock, p.EnforcementRetries, p.EnforcementBackoff, func(ctx context.Context) error {
		return m.cfg.Backend.Apply(ctx, client, v)
	})
	if err != nil {
		m.cfg.Logger.Warn("session: enforcement failed", "client", client, "verdict", v, "err", err)
		m.cfg.Recorder.Append(ctx, model.Event{
			Kind:              model.EventEnforcementFailed,
			Client:            client,
			Outcome:           model.OutcomeFailed,
			Reason:            string(v),
			EnforcementFailed: true,
		})
	}
	return err
}

// IsActive reports whether client holds an unexpired session.
func (m *Manager) IsActive(client string) bool {
	now := m.cfg.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[client]
	return ok && now.Before(s.ExpiresAt)
}

// Get returns a copy of client's unexpired session. A session whose
// expiry is due but has not been processed yet is not returned.
func (m *Manager) Get(client string) (model.Session, bool) {
	now := m.cfg.Clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[client]
	if !ok || !now.Before(s.ExpiresAt) {
		return model.Session{}, false
	}
	return *s, true
}

// List returns every session ordered by expiry.
func (m *Manager) List() []model.Session {
	m.mu.Lock()
	out := make([]model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}
