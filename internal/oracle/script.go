package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Step is one scripted oracle response.
type Step struct {
	Reply Reply
	Err   error
	// Raw, when set, is run through Parse instead of returning Reply.
	Raw string
}

// Script is an Oracle that plays back queued steps and records every
// request it receives. An exhausted script reports the oracle unavailable.
type Script struct {
	mu       sync.Mutex
	steps    []Step
	requests []State
}

var _ Oracle = (*Script)(nil)

// NewScript returns a Script that plays steps in order.
func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

// Push appends steps.
func (s *Script) Push(steps ...Step) {
	s.mu.Lock()
	s.steps = append(s.steps, steps...)
	s.mu.Unlock()
}

// Then queues r and returns s for chaining.
func (s *Script) Then(r Reply) *Script {
	s.Push(Step{Reply: r})
	return s
}

func (s *Script) Evaluate(ctx context.Context, st State) (Reply, error) {
	s.mu.Lock()
	s.requests = append(s.requests, cloneState(st))
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return Reply{}, fmt.Errorf("%w: script exhausted", model.ErrOracleUnavailable)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Reply{}, fmt.Errorf("%w: %v", model.ErrOracleUnavailable, err)
	}
	if step.Err != nil {
		return Reply{}, step.Err
	}
	if step.Raw != "" {
		return Parse([]byte(step.Raw))
	}
	return step.Reply, nil
}

// Requests returns copies of every State evaluated so far.
func (s *Script) Requests() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.requests))
	for i, r := range s.requests {
		out[i] = cloneState(r)
	}
	return out
}

// Remaining reports how many steps are still queued.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneState(s State) State {
	s.Turns = append([]model.Turn(nil), s.Turns...)
	s.History = append([]model.Event(nil), s.History...)
	if s.NewProof != nil {
		p := *s.NewProof
		p.Data = append([]byte(nil), p.Data...)
		s.NewProof = &p
	}
	return s
}
