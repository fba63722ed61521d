// Package conversation drives the bounded negotiation between a client and
// the oracle. Each client has at most one open conversation; a terminal
// Allow becomes a session grant (or a lockdown unlock), a terminal Deny
// becomes an access_denied event.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/idgen"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/oracle"
)

// ReasonClosed marks replies to messages whose conversation was closed
// while the oracle was deciding.
const ReasonClosed = "conversation_closed"

const historyLimit = 10

// Sessions grants night access.
type Sessions interface {
	Grant(ctx context.Context, client string, class model.DurationClass, reason string) (model.Session, error)
}

// Restrictions lifts lockdowns.
type Restrictions interface {
	Unlock(ctx context.Context, client string, class model.DurationClass) error
	Get(client string, kind model.RestrictionKind) (model.Restriction, bool)
}

// Recorder receives audit events.
type Recorder interface {
	Append(ctx context.Context, e model.Event) model.Event
}

// History supplies recent decisions for the oracle prompt.
type History interface {
	Query(ctx context.Context, filter model.EventFilter, pred func(*model.Event) bool) ([]model.Event, error)
}

// Config wires an Orchestrator.
type Config struct {
	Clock        clock.Clock
	Oracle       oracle.Oracle
	Sessions     Sessions
	Restrictions Restrictions
	Recorder     Recorder
	History      History
	Policy       model.Policy
	// OracleTimeout bounds each oracle attempt.
	OracleTimeout time.Duration
	// HistorySince returns the start of the window whose decisions are
	// shown to the oracle. Defaults to twelve hours before now.
	HistorySince func(now time.Time) time.Time
	// MaxProofBytes caps attachment size. Defaults to 8 MiB.
	MaxProofBytes int
	Logger        *slog.Logger
}

// Orchestrator owns every open conversation.
//
// Handle expects the caller to hold the client's lock so that a client's
// messages are processed one at a time. Close, CloseAll and Reap may be
// called from anywhere; an in-flight evaluation notices and stops.
type Orchestrator struct {
	cfg Config

	mu    sync.Mutex
	convs map[string]*conv
}

type conv struct {
	info    model.ConversationInfo
	proofs  map[string]*model.Proof // by digest
	pending *model.Proof            // attached, not yet seen by the oracle
	cancel  context.CancelFunc      // set while the oracle is evaluating
	closed  bool

	lockdownUntil time.Time
}

// outcome is what a turn decided, applied after the lock is released.
type outcome struct {
	reply  model.Reply
	grant  *model.DurationClass
	reason string
	event  *model.Event
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 30 * time.Second
	}
	if cfg.MaxProofBytes <= 0 {
		cfg.MaxProofBytes = 8 << 20
	}
	return &Orchestrator{cfg: cfg, convs: make(map[string]*conv)}
}

// Handle processes one client message for purpose and returns the reply.
func (o *Orchestrator) Handle(ctx context.Context, client string, purpose model.Purpose, msg model.ClientMessage) (model.Reply, error) {
	if client == "" {
		return model.Reply{}, fmt.Errorf("%w: missing client identity", model.ErrInvalidClientState)
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.Attachment == nil {
		return model.Reply{}, fmt.Errorf("%w: empty message", model.ErrInvalidClientState)
	}
	now := o.cfg.Clock.Now()
	var proof *model.Proof
	if msg.Attachment != nil {
		p, err := newProof(msg.Attachment, o.cfg.MaxProofBytes, now)
		if err != nil {
			return model.Reply{}, err
		}
		proof = p
	}
	var lockdownUntil time.Time
	if purpose == model.PurposeUnlock && o.cfg.Restrictions != nil {
		if r, ok := o.cfg.Restrictions.Get(client, model.RestrictionLockdown); ok {
			lockdownUntil = r.ExpiresAt
		}
	}

	o.mu.Lock()
	c, fresh, err := o.open(client, purpose, msg.ConversationID, now)
	if err != nil {
		o.mu.Unlock()
		return model.Reply{}, err
	}
	if !lockdownUntil.IsZero() {
		c.lockdownUntil = lockdownUntil
	}
	turn := model.Turn{Role: model.RoleClient, Text: text, At: now}
	if proof != nil {
		if seen, ok := c.proofs[proof.Digest]; ok {
			turn.ProofRef = seen.ID
		} else {
			c.proofs[proof.Digest] = proof
			c.pending = proof
			turn.ProofRef = proof.ID
		}
	}
	c.info.Transcript = append(c.info.Transcript, turn)
	c.info.LastActivity = now

	if fresh && o.cfg.Policy.ScriptedFirstTurn {
		q := firstQuestion(c)
		c.info.Transcript = append(c.info.Transcript, model.Turn{Role: model.RoleOracle, Text: q, At: now})
		c.info.Phase = model.PhaseAwaitingDuration
		reply := o.reply(c, model.ReplyClarify, q)
		o.mu.Unlock()
		return reply, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.cancel = cancel
	st := o.state(c, now)
	o.mu.Unlock()

	st.History = o.history(ctx, client, now)
	r, err := o.evaluate(callCtx, st)

	o.mu.Lock()
	c.cancel = nil
	if c.closed || o.convs[client] != c {
		id := c.info.ID
		o.mu.Unlock()
		return model.Reply{
			Kind:           model.ReplyDeny,
			Message:        "This conversation was closed. Please start again.",
			ConversationID: id,
			Reason:         ReasonClosed,
		}, nil
	}
	var out outcome
	if err != nil {
		o.cfg.Logger.Warn("conversation: oracle failed", "client", client, "conversation", c.info.ID, "err", err)
		out = o.deny(c, model.ReasonOracleFailure,
			"The gatekeeper could not reach a decision right now. Please try again later.")
	} else {
		if c.pending != nil {
			c.info.ProofAttached = true
			c.pending.Data = nil
			c.pending = nil
		}
		out = o.decide(c, r, o.cfg.Clock.Now())
	}
	o.mu.Unlock()

	return o.finish(ctx, client, purpose, out)
}

// open returns client's conversation, creating one when none is open.
func (o *Orchestrator) open(client string, purpose model.Purpose, id string, now time.Time) (*conv, bool, error) {
	c := o.convs[client]
	if c != nil && c.info.Purpose != purpose {
		// Left over from before a mode change.
		o.closeLocked(c)
		c = nil
	}
	if id != "" && (c == nil || c.info.ID != id) {
		return nil, false, fmt.Errorf("%w: conversation %s is not open", model.ErrInvalidClientState, id)
	}
	if c != nil {
		return c, false, nil
	}
	newID, err := idgen.Conversation()
	if err != nil {
		return nil, false, err
	}
	c = &conv{
		info: model.ConversationInfo{
			ID:           newID,
			Client:       client,
			Purpose:      purpose,
			Phase:        model.PhaseStart,
			OpenedAt:     now,
			LastActivity: now,
		},
		proofs: make(map[string]*model.Proof),
	}
	o.convs[client] = c
	return c, true, nil
}

func (o *Orchestrator) state(c *conv, now time.Time) oracle.State {
	st := oracle.State{
		ConversationID: c.info.ID,
		Client:         c.info.Client,
		Purpose:        c.info.Purpose,
		Now:            now,
		Turns:          append([]model.Turn(nil), c.info.Transcript...),
		RequestedClass: c.info.RequestedClass,
		TurnsUsed:      c.info.TurnsUsed,
		TurnsLeft:      o.turnsLeft(c),
		LockdownUntil:  c.lockdownUntil,
		Policy:         o.cfg.Policy,
	}
	if c.pending != nil {
		p := *c.pending
		st.NewProof = &p
	}
	return st
}

func (o *Orchestrator) history(ctx context.Context, client string, now time.Time) []model.Event {
	if o.cfg.History == nil {
		return nil
	}
	since := now.Add(-12 * time.Hour)
	if o.cfg.HistorySince != nil {
		since = o.cfg.HistorySince(now)
	}
	events, err := o.cfg.History.Query(ctx, model.EventFilter{
		Client: client,
		Kinds:  []model.EventKind{model.EventSessionGranted, model.EventAccessDenied, model.EventRestrictionUnlocked},
		Since:  since,
		Limit:  historyLimit,
	}, nil)
	if err != nil {
		o.cfg.Logger.Warn("conversation: reading history failed", "client", client, "err", err)
		return nil
	}
	return events
}

// evaluate consults the oracle, retrying unavailable or malformed replies.
// Retries do not count against the clarifying-turn budget.
func (o *Orchestrator) evaluate(ctx context.Context, st oracle.State) (oracle.Reply, error) {
	attempts := o.cfg.Policy.OracleRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return oracle.Reply{}, fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
		}
		actx, cancel := context.WithTimeout(ctx, o.cfg.OracleTimeout)
		r, err := o.cfg.Oracle.Evaluate(actx, st)
		cancel()
		if err == nil {
			err = checkReply(r)
		}
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, model.ErrOracleUnavailable) && !errors.Is(err, model.ErrOracleMalformedReply) {
			err = fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
		}
		lastErr = err
		o.cfg.Logger.Warn("conversation: oracle attempt failed", "client", st.Client, "attempt", i+1, "err", err)
	}
	return oracle.Reply{}, lastErr
}

func checkReply(r oracle.Reply) error {
	switch r.Kind {
	case model.ReplyAllow:
		if r.Minutes <= 0 {
			return fmt.Errorf("%w: allow without duration", model.ErrOracleMalformedReply)
		}
	case model.ReplyDeny, model.ReplyClarify:
	default:
		return fmt.Errorf("%w: unknown reply kind %q", model.ErrOracleMalformedReply, r.Kind)
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: empty message", model.ErrOracleMalformedReply)
	}
	return nil
}

// decide applies an oracle reply to c. Called with o.mu held.
func (o *Orchestrator) decide(c *conv, r oracle.Reply, now time.Time) outcome {
	p := o.cfg.Policy
	switch r.Kind {
	case model.ReplyClarify:
		if r.Minutes > 0 {
			c.info.RequestedClass = p.ClassFor(r.Duration()).Name
		}
		return o.clarify(c, r.Message, now)
	case model.ReplyAllow:
		class := p.ClassFor(r.Duration())
		c.info.RequestedClass = class.Name
		if p.RequiresProof(class) && !c.info.ProofAttached {
			return o.clarify(c, fmt.Sprintf(
				"%d minutes needs proof. Please attach a screenshot (email, calendar invite, assignment) that shows why.",
				int(class.Length.Minutes())), now)
		}
		c.info.Phase = model.PhaseAllowed
		c.info.Transcript = append(c.info.Transcript, model.Turn{Role: model.RoleOracle, Text: r.Message, At: now})
		o.closeLocked(c)
		return outcome{
			reply:  o.reply(c, model.ReplyAllow, r.Message),
			grant:  &class,
			reason: r.Message,
		}
	default:
		return o.deny(c, model.ReasonOracleDenied, r.Message)
	}
}

// clarify asks another question, or ends the conversation when the
// clarifying budget is spent.
func (o *Orchestrator) clarify(c *conv, question string, now time.Time) outcome {
	p := o.cfg.Policy
	c.info.TurnsUsed++
	if c.info.TurnsUsed >= p.MaxClarifyingTurns {
		reason := model.ReasonBudgetExhausted
		if cls, ok := p.Class(c.info.RequestedClass); ok && p.RequiresProof(cls) && !c.info.ProofAttached {
			reason = model.ReasonNoProof
		}
		return o.deny(c, reason, "We couldn't settle this within the allowed number of questions. It will have to wait.")
	}
	c.info.Transcript = append(c.info.Transcript, model.Turn{Role: model.RoleOracle, Text: question, At: now})
	c.info.Phase = phaseFor(p, c)
	return outcome{reply: o.reply(c, model.ReplyClarify, question)}
}

// deny ends c with reason. Called with o.mu held.
func (o *Orchestrator) deny(c *conv, reason, message string) outcome {
	c.info.Phase = model.PhaseDenied
	o.closeLocked(c)
	reply := o.reply(c, model.ReplyDeny, message)
	reply.Reason = reason
	e := model.Event{
		Kind:          model.EventAccessDenied,
		Client:        c.info.Client,
		Outcome:       model.OutcomeDeny,
		DurationClass: c.info.RequestedClass,
		Reason:        reason,
		Message:       message,
	}
	if c.info.Purpose == model.PurposeUnlock {
		e.Restriction = model.RestrictionLockdown
	}
	return outcome{reply: reply, event: &e}
}

// finish performs the side effects of a terminal outcome. A verdict is
// carried out even if the caller has gone away.
func (o *Orchestrator) finish(ctx context.Context, client string, purpose model.Purpose, out outcome) (model.Reply, error) {
	ctx = context.WithoutCancel(ctx)
	if out.event != nil {
		o.cfg.Recorder.Append(ctx, *out.event)
		return out.reply, nil
	}
	if out.grant == nil {
		return out.reply, nil
	}
	class := *out.grant
	reply := out.reply
	reply.DurationClass = class.Name

	switch purpose {
	case model.PurposeUnlock:
		err := o.cfg.Restrictions.Unlock(ctx, client, class)
		switch {
		case errors.Is(err, model.ErrInvalidClientState):
			reply.Message = "Your lockdown has already ended."
			return reply, nil
		case err != nil:
			o.cfg.Logger.Warn("conversation: unlock enforcement failed", "client", client, "err", err)
		}
		until := o.cfg.Clock.Now().Add(class.Length)
		reply.ExpiresAt = &until
	default:
		s, err := o.cfg.Sessions.Grant(ctx, client, class, out.reason)
		if errors.Is(err, model.ErrNotAccepting) {
			reply.Message = "The network is open right now."
			return reply, nil
		}
		if err != nil {
			return model.Reply{}, err
		}
		reply.ExpiresAt = &s.ExpiresAt
	}
	return reply, nil
}

func (o *Orchestrator) reply(c *conv, kind model.ReplyKind, msg string) model.Reply {
	return model.Reply{
		Kind:           kind,
		Message:        msg,
		ConversationID: c.info.ID,
		DurationClass:  c.info.RequestedClass,
		TurnsUsed:      c.info.TurnsUsed,
		TurnsLeft:      o.turnsLeft(c),
	}
}

func (o *Orchestrator) turnsLeft(c *conv) int {
	if n := o.cfg.Policy.MaxClarifyingTurns - c.info.TurnsUsed; n > 0 {
		return n
	}
	return 0
}

func phaseFor(p model.Policy, c *conv) model.Phase {
	cls, ok := p.Class(c.info.RequestedClass)
	switch {
	case !ok:
		return model.PhaseAwaitingDuration
	case p.RequiresProof(cls) && !c.info.ProofAttached:
		return model.PhaseAwaitingProof
	default:
		return model.PhaseDeciding
	}
}

func firstQuestion(c *conv) string {
	if c.info.Purpose == model.PurposeUnlock && !c.lockdownUntil.IsZero() {
		return fmt.Sprintf("Your lockdown runs until %s. How many minutes do you need, and why?",
			c.lockdownUntil.Format("15:04"))
	}
	return "How many minutes do you need, and what do you need them for?"
}

func (o *Orchestrator) closeLocked(c *conv) {
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if o.convs[c.info.Client] == c {
		delete(o.convs, c.info.Client)
	}
}

// Close ends client's conversation, if any.
func (o *Orchestrator) Close(client string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.convs[client]
	if ok {
		o.closeLocked(c)
	}
	return ok
}

// CloseAll ends every conversation and cancels in-flight oracle calls.
func (o *Orchestrator) CloseAll(reason string) int {
	o.mu.Lock()
	n := len(o.convs)
	for _, c := range o.convs {
		o.closeLocked(c)
	}
	o.mu.Unlock()
	if n > 0 {
		o.cfg.Logger.Info("conversation: closed all", "count", n, "reason", reason)
	}
	return n
}

// Reap closes conversations idle for at least idle. Conversations waiting
// on the oracle are left alone.
func (o *Orchestrator) Reap(idle time.Duration) int {
	now := o.cfg.Clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, c := range o.convs {
		if c.cancel == nil && now.Sub(c.info.LastActivity) >= idle {
			o.closeLocked(c)
			n++
		}
	}
	return n
}

// Info returns a snapshot of client's open conversation.
func (o *Orchestrator) Info(client string) (model.ConversationInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.convs[client]
	if !ok {
		return model.ConversationInfo{}, false
	}
	info := c.info
	info.Transcript = append([]model.Turn(nil), c.info.Transcript...)
	return info, true
}

// List returns snapshots of every open conversation without transcripts.
func (o *Orchestrator) List() []model.ConversationInfo {
	o.mu.Lock()
	out := make([]model.ConversationInfo, 0, len(o.convs))
	for _, c := range o.convs {
		info := c.info
		info.Transcript = nil
		out = append(out, info)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
