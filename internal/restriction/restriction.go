// Package restriction manages voluntary daytime limits. A client holds at
// most one restriction per kind; each expires through the scheduler, and a
// lockdown can only be lifted early by a negotiated Unlock.
package restriction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/keylock"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/scheduler"
	"github.com/alfredjeanlab/gatekeeper/internal/state"
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
	Global    *state.Global
	Policy    model.Policy
	Logger    *slog.Logger
	// EndOfDay returns when an open-ended restriction started at now ends.
	EndOfDay func(now time.Time) time.Time
}

type key struct {
	client string
	kind   model.RestrictionKind
}

func (k key) sched() string { return string(k.kind) + ":" + k.client }

// Manager owns every client's restrictions.
//
// Activate, Deactivate and Unlock expect the caller to hold the client's
// lock; timer callbacks and DeactivateAll take it themselves.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	active    map[key]*model.Restriction
	accepting bool
}

// New creates a Manager. It rejects activations until SetAccepting(true).
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EndOfDay == nil {
		cfg.EndOfDay = func(now time.Time) time.Time { return now.Add(24 * time.Hour) }
	}
	return &Manager{cfg: cfg, active: make(map[key]*model.Restriction)}
}

// SetAccepting opens or closes the manager to new activations.
func (m *Manager) SetAccepting(ok bool) {
	m.mu.Lock()
	m.accepting = ok
	m.mu.Unlock()
}

// Activate starts (or restarts) a restriction of kind for client lasting d,
// or until end of day when d <= 0. Focus mode resolves the shared domain
// list afresh on every activation. An armed lockdown can only be extended;
// an earlier end returns model.ErrUnlockRequiresNegotiation.
func (m *Manager) Activate(ctx context.Context, client string, kind model.RestrictionKind, d time.Duration) (model.Restriction, error) {
	if !kind.IsValid() {
		return model.Restriction{}, fmt.Errorf("%w: unknown restriction %q", model.ErrInvalidClientState, kind)
	}
	m.mu.Lock()
	accepting := m.accepting
	m.mu.Unlock()
	if !accepting {
		return model.Restriction{}, model.ErrNotAccepting
	}

	now := m.cfg.Clock.Now()
	until := now.Add(d)
	if d <= 0 {
		until = m.cfg.EndOfDay(now)
	}
	if !until.After(now) {
		return model.Restriction{}, fmt.Errorf("%w: restriction would end before it starts", model.ErrInvalidClientState)
	}

	r := &model.Restriction{
		Client:    client,
		Kind:      kind,
		StartedAt: now,
		ExpiresAt: until,
	}
	if kind == model.RestrictionFocus {
		domains := m.cfg.Global.FocusDomains()
		if len(domains) == 0 {
			return model.Restriction{}, fmt.Errorf("%w: no focus domains configured", model.ErrInvalidClientState)
		}
		addrs, err := m.cfg.Backend.ResolveDomains(ctx, domains)
		if err != nil {
			return model.Restriction{}, fmt.Errorf("%w: resolving focus domains: %v", model.ErrEnforcementFailure, err)
		}
		r.Domains = domains
		r.Addrs = addrs
	}

	k := key{client, kind}
	m.mu.Lock()
	if !m.accepting {
		m.mu.Unlock()
		return model.Restriction{}, model.ErrNotAccepting
	}
	prev := m.active[k]
	if kind == model.RestrictionLockdown && prev != nil && !prev.Suspended && until.Before(prev.ExpiresAt) {
		// Shortening an armed lockdown is an early unlock.
		m.mu.Unlock()
		return model.Restriction{}, model.ErrUnlockRequiresNegotiation
	}
	m.active[k] = r
	m.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	m.cfg.Scheduler.Schedule(k.sched(), until, func() { m.expire(k, r) })

	err := m.enforce(ctx, client, kind, r.Addrs, true)
	reason := ""
	if prev != nil {
		reason = "reactivated"
	}
	m.cfg.Recorder.Append(ctx, model.Event{
		Kind:              model.EventRestrictionActivated,
		Client:            client,
		Restriction:       kind,
		DurationGranted:   until.Sub(now),
		Reason:            reason,
		EnforcementFailed: err != nil,
	})
	return *r, nil
}

// Deactivate ends client's restriction of kind. Missing restrictions are a
// no-op. An armed lockdown returns model.ErrUnlockRequiresNegotiation.
func (m *Manager) Deactivate(ctx context.Context, client string, kind model.RestrictionKind) error {
	k := key{client, kind}
	m.mu.Lock()
	r, ok := m.active[k]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if kind == model.RestrictionLockdown && !r.Suspended {
		m.mu.Unlock()
		return model.ErrUnlockRequiresNegotiation
	}
	delete(m.active, k)
	m.mu.Unlock()

	m.cfg.Scheduler.Cancel(k.sched())
	return m.lift(context.WithoutCancel(ctx), r, model.EventRestrictionDeactivated, model.ReasonManual, 0)
}

// Unlock lifts client's lockdown after a successful negotiation for class.
// If the lockdown would outlast the class, it re-arms once class.Length
// has passed.
func (m *Manager) Unlock(ctx context.Context, client string, class model.DurationClass) error {
	k := key{client, model.RestrictionLockdown}
	now := m.cfg.Clock.Now()
	ctx = context.WithoutCancel(ctx)

	m.mu.Lock()
	r, ok := m.active[k]
	if !ok || r.Suspended {
		m.mu.Unlock()
		return fmt.Errorf("%w: no active lockdown", model.ErrInvalidClientState)
	}
	remaining := r.ExpiresAt.Sub(now)
	if remaining <= class.Length {
		delete(m.active, k)
		m.mu.Unlock()
		m.cfg.Scheduler.Cancel(k.sched())
		return m.lift(ctx, r, model.EventRestrictionUnlocked, model.ReasonNegotiatedUnlock, remaining, class.Name)
	}
	until := now.Add(class.Length)
	r.Suspended = true
	r.SuspendedUntil = &until
	m.mu.Unlock()

	m.cfg.Scheduler.Schedule(k.sched(), until, func() { m.rearm(k, r) })
	return m.lift(ctx, r, model.EventRestrictionUnlocked, model.ReasonNegotiatedUnlock, class.Length, class.Name)
}

// lift removes the enforcement rules for r and records kind.
func (m *Manager) lift(ctx context.Context, r *model.Restriction, kind model.EventKind, reason string, granted time.Duration, class ...string) error {
	err := m.enforce(ctx, r.Client, r.Kind, nil, false)
	e := model.Event{
		Kind:              kind,
		Client:            r.Client,
		Restriction:       r.Kind,
		Reason:            reason,
		DurationGranted:   granted,
		EnforcementFailed: err != nil,
	}
	if len(class) > 0 {
		e.DurationClass = class[0]
		e.Outcome = model.OutcomeAllow
	}
	m.cfg.Recorder.Append(ctx, e)
	return err
}

func (m *Manager) rearm(k key, r *model.Restriction) {
	unlock := m.cfg.Locks.Lock(k.client)
	defer unlock()

	m.mu.Lock()
	if m.active[k] != r || !r.Suspended {
		m.mu.Unlock()
		return
	}
	r.Suspended = false
	r.SuspendedUntil = nil
	m.mu.Unlock()

	m.cfg.Scheduler.Schedule(k.sched(), r.ExpiresAt, func() { m.expire(k, r) })
	ctx := context.Background()
	err := m.enforce(ctx, k.client, k.kind, nil, true)
	m.cfg.Recorder.Append(ctx, model.Event{
		Kind:              model.EventRestrictionActivated,
		Client:            k.client,
		Restriction:       k.kind,
		DurationGranted:   r.ExpiresAt.Sub(m.cfg.Clock.Now()),
		Reason:            "rearmed",
		EnforcementFailed: err != nil,
	})
}

func (m *Manager) expire(k key, r *model.Restriction) {
	unlock := m.cfg.Locks.Lock(k.client)
	defer unlock()

	m.mu.Lock()
	if m.active[k] != r {
		m.mu.Unlock()
		return
	}
	delete(m.active, k)
	m.mu.Unlock()

	if err := m.lift(context.Background(), r, model.EventRestrictionExpired, model.ReasonExpired, 0); err != nil {
		m.cfg.Logger.Warn("restriction: expiry enforcement failed", "client", k.client, "kind", k.kind, "err", err)
	}
}

// DeactivateAll ends every restriction, lockdowns included. It is used on
// mode transitions and returns the number removed.
func (m *Manager) DeactivateAll(ctx context.Context, reason string) int {
	m.mu.Lock()
	keys := make([]key, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	n := 0
	for _, k := range keys {
		unlock := m.cfg.Locks.Lock(k.client)
		m.mu.Lock()
		r, ok := m.active[k]
		if ok {
			delete(m.active, k)
		}
		m.mu.Unlock()
		if ok {
			m.cfg.Scheduler.Cancel(k.sched())
			if err := m.lift(ctx, r, model.EventRestrictionDeactivated, reason, 0); err != nil {
				m.cfg.Logger.Warn("restriction: deactivate failed", "client", k.client, "kind", k.kind, "err", err)
			}
			n++
		}
		unlock()
	}
	return n
}

func (m *Manager) enforce(ctx context.Context, client string, kind model.RestrictionKind, addrs []string, active bool) error {
	p := m.cfg.Policy
	err := enforce.Retry(ctx, m.cfg.Clock, p.EnforcementRetries, p.EnforcementBackoff, func(ctx context.Context) error {
		return m.cfg.Backend.ApplyRestriction(ctx, client, kind, addrs, active)
	})
	if err != nil {
		m.cfg.Logger.Warn("restriction: enforcement failed", "client", client, "kind", kind, "active", active, "err", err)
		m.cfg.Recorder.Append(ctx, model.Event{
			Kind:              model.EventEnforcementFailed,
			Client:            client,
			Outcome:           model.OutcomeFailed,
			Restriction:       kind,
			EnforcementFailed: true,
		})
	}
	return err
}

// IsLocked reports whether client is under an armed lockdown.
func (m *Manager) IsLocked(client string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[key{client, model.RestrictionLockdown}]
	return ok && !r.Suspended
}

// Get returns a copy of client's restriction of kind.
func (m *Manager) Get(client string, kind model.RestrictionKind) (model.Restriction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.active[key{client, kind}]
	if !ok {
		return model.Restriction{}, false
	}
	return *r, true
}

// Active returns client's restrictions.
func (m *Manager) Active(client string) []model.Restriction {
	m.mu.Lock()
	var out []model.Restriction
	for k, r := range m.active {
		if k.client == client {
			out = append(out, *r)
		}
	}
	m.mu.Unlock()
	sortRestrictions(out)
	return out
}

// List returns every active restriction.
func (m *Manager) List() []model.Restriction {
	m.mu.Lock()
	out := make([]model.Restriction, 0, len(m.active))
	for _, r := range m.active {
		out = append(out, *r)
	}
	m.mu.Unlock()
	sortRestrictions(out)
	return out
}

func sortRestrictions(rs []model.Restriction) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Client != rs[j].Client {
			return rs[i].Client < rs[j].Client
		}
		return rs[i].Kind < rs[j].Kind
	})
}
