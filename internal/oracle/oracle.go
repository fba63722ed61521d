// Package oracle defines the decision service consulted during negotiation
// and the strict reply contract the orchestrator relies on.
package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// State is everything the oracle sees for one evaluation.
type State struct {
	ConversationID string
	Client         string
	Purpose        model.Purpose
	Now            time.Time

	// Turns is the full transcript, oldest first, ending with the client
	// message being evaluated.
	Turns []model.Turn

	// NewProof carries raw bytes for a proof attached since the last
	// successful evaluation. Earlier proofs appear only as Turn.ProofRef.
	NewProof *model.Proof

	RequestedClass string
	TurnsUsed      int
	TurnsLeft      int

	// LockdownUntil is set for unlock negotiations.
	LockdownUntil time.Time

	// History holds recent decisions for context, oldest first.
	History []model.Event

	Policy model.Policy
}

// Reply is one parsed oracle answer.
type Reply struct {
	Kind    model.ReplyKind
	Message string
	// Minutes is the granted duration for Allow, or the duration the
	// client asked for when a Clarify carries one. Zero when absent.
	Minutes int
}

// Duration returns Minutes as a time.Duration.
func (r Reply) Duration() time.Duration {
	return time.Duration(r.Minutes) * time.Minute
}

// Oracle evaluates a conversation. Implementations return errors wrapping
// model.ErrOracleUnavailable or model.ErrOracleMalformedReply.
type Oracle interface {
	Evaluate(ctx context.Context, s State) (Reply, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, s State) (Reply, error)

func (f Func) Evaluate(ctx context.Context, s State) (Reply, error) { return f(ctx, s) }

// Allow, Deny and Clarify build replies.
func Allow(minutes int, msg string) Reply {
	return Reply{Kind: model.ReplyAllow, Minutes: minutes, Message: msg}
}

func Deny(msg string) Reply { return Reply{Kind: model.ReplyDeny, Message: msg} }

func Clarify(msg string) Reply { return Reply{Kind: model.ReplyClarify, Message: msg} }

// Unavailable returns an Oracle that always fails with
// model.ErrOracleUnavailable, so every negotiation ends in a deny.
func Unavailable(reason string) Oracle {
	return Func(func(context.Context, State) (Reply, error) {
		return Reply{}, fmt.Errorf("%w: %s", model.ErrOracleUnavailable, reason)
	})
}
