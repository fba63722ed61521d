// Package engine assembles the access arbitration core and exposes the
// operations the HTTP, gRPC and CLI surfaces call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/conversation"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/events"
	"github.com/alfredjeanlab/gatekeeper/internal/keylock"
	"github.com/alfredjeanlab/gatekeeper/internal/mode"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/oracle"
	"github.com/alfredjeanlab/gatekeeper/internal/recorder"
	"github.com/alfredjeanlab/gatekeeper/internal/restriction"
	"github.com/alfredjeanlab/gatekeeper/internal/roster"
	"github.com/alfredjeanlab/gatekeeper/internal/scheduler"
	"github.com/alfredjeanlab/gatekeeper/internal/session"
	"github.com/alfredjeanlab/gatekeeper/internal/state"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

// Config holds the engine's dependencies and tunables.
type Config struct {
	Clock     clock.Clock
	Store     store.Store
	Publisher events.Publisher
	Backend   enforce.Backend
	Oracle    oracle.Oracle
	Policy    model.Policy
	Schedule  mode.Schedule

	// FocusDomains seeds the block list when none has been saved.
	FocusDomains  []string
	OracleTimeout time.Duration
	Logger        *slog.Logger

	// OnModeApplied is told the outcome of every global mode application.
	OnModeApplied func(m model.Mode, err error)
}

// Engine is the running core.
type Engine struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	global        *state.Global
	locks         *keylock.Map
	sched         *scheduler.Scheduler
	recorder      *recorder.Recorder
	sessions      *session.Manager
	restrictions  *restriction.Manager
	conversations *conversation.Orchestrator
	mode          *mode.Controller
	roster        *roster.Tracker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the components. Nothing runs until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil || cfg.Backend == nil || cfg.Oracle == nil {
		return nil, fmt.Errorf("engine: store, backend and oracle are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = &events.NoopPublisher{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Schedule.Location == nil {
		cfg.Schedule = mode.DefaultSchedule()
	}
	cfg.Policy.Normalize()
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("engine: policy: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		global: state.New(cfg.FocusDomains),
		locks:  keylock.New(),
		sched:  scheduler.New(cfg.Clock),
		roster: roster.New(cfg.Clock),
	}
	e.recorder = recorder.New(cfg.Store, cfg.Publisher, cfg.Clock, e.global.Mode, cfg.Logger)
	e.sessions = session.New(session.Config{
		Clock:     cfg.Clock,
		Backend:   cfg.Backend,
		Recorder:  e.recorder,
		Scheduler: e.sched,
		Locks:     e.locks,
		Policy:    cfg.Policy,
		Logger:    cfg.Logger,
	})
	e.restrictions = restriction.New(restriction.Config{
		Clock:     cfg.Clock,
		Backend:   cfg.Backend,
		Recorder:  e.recorder,
		Scheduler: e.sched,
		Locks:     e.locks,
		Global:    e.global,
		Policy:    cfg.Policy,
		Logger:    cfg.Logger,
		EndOfDay:  cfg.Schedule.NextNightStart,
	})
	e.conversations = conversation.New(conversation.Config{
		Clock:         cfg.Clock,
		Oracle:        cfg.Oracle,
		Sessions:      e.sessions,
		Restrictions:  e.restrictions,
		Recorder:      e.recorder,
		History:       e.recorder,
		Policy:        cfg.Policy,
		OracleTimeout: cfg.OracleTimeout,
		HistorySince:  cfg.Schedule.LastNightStart,
		Logger:        cfg.Logger,
	})
	e.mode = mode.New(mode.Config{
		Clock:     cfg.Clock,
		Backend:   cfg.Backend,
		Recorder:  e.recorder,
		Global:    e.global,
		Schedule:  cfg.Schedule,
		Policy:    cfg.Policy,
		Logger:    cfg.Logger,
		OnApplied: cfg.OnModeApplied,
	})
	e.mode.OnTransition(e.onTransition)
	return e, nil
}

// onTransition moves per-client state across a mode change. Sessions only
// exist in Gatekeeper mode and restrictions only in Open mode.
func (e *Engine) onTransition(ctx context.Context, from, to model.Mode) {
	switch to {
	case model.ModeOpen:
		e.sessions.SetAccepting(false)
		e.conversations.CloseAll(model.ReasonModeOpen)
		n := e.sessions.RevokeAll(ctx, model.ReasonModeOpen)
		e.restrictions.DeactivateAll(ctx, model.ReasonModeMismatch)
		e.restrictions.SetAccepting(true)
		e.logger.Info("engine: network opened", "sessions_revoked", n)
	case model.ModeGatekeeper:
		e.restrictions.SetAccepting(false)
		e.conversations.CloseAll(model.ReasonModeMismatch)
		n := e.restrictions.DeactivateAll(ctx, model.ReasonModeMismatch)
		e.sessions.SetAccepting(true)
		e.logger.Info("engine: gatekeeper engaged", "restrictions_ended", n)
	}
}

// Start loads persisted settings, applies the scheduled mode and starts
// the background loops.
func (e *Engine) Start(ctx context.Context) error {
	settings, err := e.cfg.Store.LoadSettings(ctx)
	switch {
	case errors.Is(err, model.ErrNotFound):
		if err := e.cfg.Store.SaveSettings(ctx, &model.Settings{FocusDomains: e.global.FocusDomains()}); err != nil {
			return fmt.Errorf("engine: seeding settings: %w", err)
		}
	case err != nil:
		return fmt.Errorf("engine: loading settings: %w", err)
	default:
		e.global.SetFocusDomains(settings.FocusDomains)
	}

	if err := e.mode.Sync(ctx, model.ReasonSchedule); err != nil {
		// Run keeps retrying; the process stays up so the portal can report it.
		e.logger.Warn("engine: initial mode sync failed", "err", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		if err := e.mode.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Error("engine: mode loop stopped", "err", err)
		}
	}()
	go func() {
		defer e.wg.Done()
		e.reapConversations(runCtx)
	}()

	e.roster.StartReaper(&roster.ReaperConfig{
		IdleThreshold: e.cfg.Policy.ConversationIdleTimeout,
		OnIdle: func(client string) {
			if e.conversations.Close(client) {
				e.logger.Info("engine: closed conversation of idle client", "client", client)
			}
		},
	})
	return nil
}

func (e *Engine) reapConversations(ctx context.Context) {
	idle := e.cfg.Policy.ConversationIdleTimeout
	ticker := e.clock.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.conversations.Reap(idle); n > 0 {
				e.logger.Info("engine: reaped idle conversations", "count", n)
			}
		}
	}
}

// Stop halts the background loops and pending expiries. Enforcement state
// is left as is.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
		e.cancel = nil
	}
	e.roster.Stop()
	e.sched.Stop()
}

// HandleClientMessage routes one chat message. In Gatekeeper mode a client
// with a session is allowed at once and anyone else negotiates for night
// access. In Open mode only a locked-down client negotiates, to unlock.
func (e *Engine) HandleClientMessage(ctx context.Context, client string, msg model.ClientMessage) (model.Reply, error) {
	if client == "" {
		return model.Reply{}, fmt.Errorf("%w: missing client identity", model.ErrInvalidClientState)
	}
	unlock := e.locks.Lock(client)
	defer unlock()

	switch e.global.Mode() {
	case model.ModeGatekeeper:
		if e.sessions.IsActive(client) {
			if s, ok := e.sessions.Get(client); ok {
				return model.Reply{
					Kind:          model.ReplyAllow,
					Message:       fmt.Sprintf("You already have access until %s.", s.ExpiresAt.In(e.cfg.Schedule.Location).Format("15:04")),
					DurationClass: s.DurationClass,
					ExpiresAt:     &s.ExpiresAt,
				}, nil
			}
		}
		return e.conversations.Handle(ctx, client, model.PurposeNightAccess, msg)
	case model.ModeOpen:
		if e.restrictions.IsLocked(client) {
			return e.conversations.Handle(ctx, client, model.PurposeUnlock, msg)
		}
		return model.Reply{Kind: model.ReplyAllow, Message: "The network is open."}, nil
	default:
		return model.Reply{}, fmt.Errorf("%w: network mode not applied yet", model.ErrNotAccepting)
	}
}

// Status reports what the engine holds for client.
func (e *Engine) Status(client string) model.ClientStatus {
	st := model.ClientStatus{
		Client:       client,
		Mode:         e.global.Mode(),
		NextBoundary: e.cfg.Schedule.NextBoundary(e.clock.Now()),
	}
	if _, until, ok := e.mode.Override(); ok {
		st.Override = true
		st.NextBoundary = until
	}
	if client == "" {
		return st
	}
	if e.sessions.IsActive(client) {
		if s, ok := e.sessions.Get(client); ok {
			st.SessionActive = true
			st.Session = &s
		}
	}
	st.Restrictions = e.restrictions.Active(client)
	for _, r := range st.Restrictions {
		if !r.Suspended {
			st.RestrictionActive = true
		}
	}
	if info, ok := e.conversations.Info(client); ok {
		st.Conversation = &info
	}
	return st
}

// CurrentMode returns the committed global mode.
func (e *Engine) CurrentMode() model.Mode { return e.mode.Current() }

// Override returns the active manual override.
func (e *Engine) Override() (model.Mode, time.Time, bool) { return e.mode.Override() }

// SetMode forces m until the next scheduled boundary.
func (e *Engine) SetMode(ctx context.Context, m model.Mode) error {
	return e.mode.SetOverride(ctx, m)
}

// ClearOverride returns to the schedule.
func (e *Engine) ClearOverride(ctx context.Context) error {
	return e.mode.ClearOverride(ctx)
}

// ListRecentEvents returns the newest n events in append order.
func (e *Engine) ListRecentEvents(ctx context.Context, n int) ([]model.Event, error) {
	return e.recorder.Recent(ctx, n)
}

// QueryEvents returns events matching filter.
func (e *Engine) QueryEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error) {
	return e.recorder.Query(ctx, filter, nil)
}

// Subscribe receives every recorded event until cancel is called.
func (e *Engine) Subscribe(fn func(model.Event)) (cancel func()) {
	return e.recorder.Subscribe(fn)
}

// ActivateRestriction starts a voluntary restriction for client. A
// duration of zero lasts until the night begins.
func (e *Engine) ActivateRestriction(ctx context.Context, client string, kind model.RestrictionKind, d time.Duration) (model.Restriction, error) {
	if client == "" {
		return model.Restriction{}, fmt.Errorf("%w: missing client identity", model.ErrInvalidClientState)
	}
	unlock := e.locks.Lock(client)
	defer unlock()
	r, err := e.restrictions.Activate(ctx, client, kind, d)
	if errors.Is(err, model.ErrNotAccepting) {
		return model.Restriction{}, fmt.Errorf("%w: restrictions only apply while the network is open", model.ErrInvalidClientState)
	}
	return r, err
}

// DeactivateRestriction ends a restriction. Lockdowns must be negotiated.
func (e *Engine) DeactivateRestriction(ctx context.Context, client string, kind model.RestrictionKind) error {
	unlock := e.locks.Lock(client)
	defer unlock()
	return e.restrictions.Deactivate(ctx, client, kind)
}

// RevokeSession ends client's session early.
func (e *Engine) RevokeSession(ctx context.Context, client string) error {
	unlock := e.locks.Lock(client)
	defer unlock()
	return e.sessions.Revoke(ctx, client, model.ReasonManual)
}

// FocusDomains returns the focus-mode block list.
func (e *Engine) FocusDomains() []string { return e.global.FocusDomains() }

// SetFocusDomains replaces and persists the block list. Active focus
// restrictions keep their addresses until reactivated.
func (e *Engine) SetFocusDomains(ctx context.Context, domains []string) ([]string, error) {
	norm := e.global.SetFocusDomains(domains)
	if err := e.cfg.Store.SaveSettings(ctx, &model.Settings{FocusDomains: norm}); err != nil {
		return norm, fmt.Errorf("saving focus domains: %w", err)
	}
	return norm, nil
}

// Sessions lists active sessions.
func (e *Engine) Sessions() []model.Session { return e.sessions.List() }

// Restrictions lists active restrictions.
func (e *Engine) Restrictions() []model.Restriction { return e.restrictions.List() }

// Conversations lists open conversations.
func (e *Engine) Conversations() []model.ConversationInfo { return e.conversations.List() }

// RecordVisit notes a request from an identified client.
func (e *Engine) RecordVisit(v roster.Visit) { e.roster.Record(v) }

// Clients returns the client roster.
func (e *Engine) Clients(stale time.Duration) []roster.Entry { return e.roster.Roster(stale) }

// Policy returns the active policy.
func (e *Engine) Policy() model.Policy { return e.cfg.Policy }
