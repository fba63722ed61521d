package mode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/state"
)

// DefaultRetryInterval is how long Run waits before retrying a failed
// transition.
const DefaultRetryInterval = time.Minute

// Recorder receives audit events.
type Recorder interface {
	Append(ctx context.Context, e model.Event) model.Event
}

// Hook runs after a transition has been committed.
type Hook func(ctx context.Context, from, to model.Mode)

// Config wires a Controller.
type Config struct {
	Clock         clock.Clock
	Backend       enforce.Backend
	Recorder      Recorder
	Global        *state.Global
	Schedule      Schedule
	Policy        model.Policy
	RetryInterval time.Duration
	Logger        *slog.Logger
	// OnApplied is told the outcome of every attempt to apply a mode.
	OnApplied func(m model.Mode, err error)
}

// Controller owns the global mode. The committed value lives in
// state.Global; the controller is the only writer.
type Controller struct {
	cfg   Config
	hooks []Hook

	transMu sync.Mutex // serializes transitions

	mu            sync.Mutex
	override      model.Mode
	overrideUntil time.Time

	wake chan struct{}
}

// New creates a Controller. No mode is committed until the first
// transition, so the first Sync always reaches the backend.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Controller{cfg: cfg, wake: make(chan struct{}, 1)}
}

// OnTransition registers h. Hooks run in registration order, on the
// transitioning goroutine, after the new mode is committed, and must not
// transition themselves. Register hooks before calling Run.
func (c *Controller) OnTransition(h Hook) {
	c.hooks = append(c.hooks, h)
}

// Current returns the committed mode, or "" before the first transition.
func (c *Controller) Current() model.Mode {
	return c.cfg.Global.Mode()
}

// Schedule returns the configured night window.
func (c *Controller) Schedule() Schedule {
	return c.cfg.Schedule
}

// Override returns the active manual override, if any.
func (c *Controller) Override() (model.Mode, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override == "" {
		return "", time.Time{}, false
	}
	return c.override, c.overrideUntil, true
}

// Desired returns the mode that should be in force at now, dropping an
// override whose window has passed.
func (c *Controller) Desired(now time.Time) model.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.override != "" {
		if now.Before(c.overrideUntil) {
			return c.override
		}
		c.cfg.Logger.Info("mode: override expired", "mode", c.override)
		c.override = ""
		c.overrideUntil = time.Time{}
	}
	return c.cfg.Schedule.ModeAt(now)
}

// TransitionTo applies m and commits it. The backend is called with
// bounded retries; the mode is committed only if it succeeds, so the
// committed mode always matches enforcement. Transitioning to the current
// mode does nothing. Once started, a transition runs to completion even
// if ctx is cancelled.
func (c *Controller) TransitionTo(ctx context.Context, m model.Mode, cause string) error {
	if !m.IsValid() {
		return fmt.Errorf("invalid mode %q", m)
	}
	ctx = context.WithoutCancel(ctx)
	c.transMu.Lock()
	defer c.transMu.Unlock()

	prev := c.cfg.Global.Mode()
	if prev == m {
		return nil
	}

	p := c.cfg.Policy
	err := enforce.Retry(ctx, c.cfg.Clock, p.EnforcementRetries, p.EnforcementBackoff, func(ctx context.Context) error {
		return c.cfg.Backend.ApplyGlobalMode(ctx, m)
	})
	if c.cfg.OnApplied != nil {
		c.cfg.OnApplied(m, err)
	}
	if err != nil {
		c.cfg.Logger.Warn("mode: transition failed", "from", prev, "to", m, "cause", cause, "err", err)
		c.cfg.Recorder.Append(ctx, model.Event{
			Kind:              model.EventModeChangeFailed,
			Outcome:           model.OutcomeFailed,
			Mode:              prev,
			Reason:            cause,
			Message:           "target " + m.String(),
			EnforcementFailed: true,
		})
		return err
	}

	c.cfg.Global.SetMode(m)
	c.cfg.Logger.Info("mode: transitioned", "from", prev, "to", m, "cause", cause)
	c.cfg.Recorder.Append(ctx, model.Event{
		Kind:    model.EventModeChanged,
		Mode:    m,
		Reason:  cause,
		Message: "from " + modeName(prev),
	})
	for _, h := range c.hooks {
		h(ctx, prev, m)
	}
	return nil
}

func modeName(m model.Mode) string {
	if m == "" {
		return "startup"
	}
	return m.String()
}

// Sync moves to the desired mode for the current time.
func (c *Controller) Sync(ctx context.Context, cause string) error {
	return c.TransitionTo(ctx, c.Desired(c.cfg.Clock.Now()), cause)
}

// SetOverride forces m until the next scheduled boundary.
func (c *Controller) SetOverride(ctx context.Context, m model.Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("invalid mode %q", m)
	}
	now := c.cfg.Clock.Now()
	c.mu.Lock()
	c.override = m
	c.overrideUntil = c.cfg.Schedule.NextBoundary(now)
	c.mu.Unlock()
	c.poke()
	return c.TransitionTo(ctx, m, model.ReasonManual)
}

// ClearOverride drops any override and returns to the schedule.
func (c *Controller) ClearOverride(ctx context.Context) error {
	c.mu.Lock()
	c.override = ""
	c.overrideUntil = time.Time{}
	c.mu.Unlock()
	c.poke()
	return c.Sync(ctx, model.ReasonSchedule)
}

func (c *Controller) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run keeps the mode in step with the schedule until ctx is done. It
// sleeps until the next boundary, the override's end, or sooner after a
// failed transition.
func (c *Controller) Run(ctx context.Context) error {
	for {
		err := c.Sync(ctx, model.ReasonSchedule)

		now := c.cfg.Clock.Now()
		next := c.cfg.Schedule.NextBoundary(now)
		if _, until, ok := c.Override(); ok && until.Before(next) {
			next = until
		}
		wait := next.Sub(now)
		if err != nil && wait > c.cfg.RetryInterval {
			wait = c.cfg.RetryInterval
		}

		fired := make(chan struct{})
		timer := c.cfg.Clock.AfterFunc(wait, func() { close(fired) })
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.wake:
			timer.Stop()
		case <-fired:
		}
	}
}
