package enforce

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Call is one recorded backend invocation.
type Call struct {
	Op      string
	Client  string
	Verdict model.Verdict
	Mode    model.Mode
	Kind    model.RestrictionKind
	Addrs   []string
	Active  bool
}

// Noop is a dry-run Backend. It records every call and can be told to fail
// specific operations. Resolution returns synthetic documentation-range
// addresses that change on every call.
type Noop struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string]error
	resolved int
}

var _ Backend = (*Noop)(nil)

// NewNoop returns an empty Noop backend.
func NewNoop() *Noop {
	return &Noop{failures: make(map[string]error)}
}

// Fail makes every later call to op ("apply", "mode", "resolve",
// "restriction") return err. A nil err clears the failure.
func (n *Noop) Fail(op string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err == nil {
		delete(n.failures, op)
		return
	}
	n.failures[op] = err
}

// Calls returns a copy of the recorded calls.
func (n *Noop) Calls() []Call {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Call(nil), n.calls...)
}

// Count returns how many recorded calls satisfy match.
func (n *Noop) Count(match func(Call) bool) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, call := range n.calls {
		if match(call) {
			c++
		}
	}
	return c
}

func (n *Noop) record(c Call) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
	return n.failures[c.Op]
}

func (n *Noop) Apply(_ context.Context, client string, v model.Verdict) error {
	return n.record(Call{Op: "apply", Client: client, Verdict: v})
}

func (n *Noop) ApplyGlobalMode(_ context.Context, m model.Mode) error {
	return n.record(Call{Op: "mode", Mode: m})
}

func (n *Noop) ResolveDomains(_ context.Context, names []string) ([]string, error) {
	if err := n.record(Call{Op: "resolve", Addrs: append([]string(nil), names...)}); err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.resolved++
	gen := n.resolved
	n.mu.Unlock()
	out := make([]string, len(names))
	for i := range names {
		out[i] = fmt.Sprintf("198.51.100.%d", (gen*16+i)%250+1)
	}
	return out, nil
}

func (n *Noop) ApplyRestriction(_ context.Context, client string, kind model.RestrictionKind, addrs []string, active bool) error {
	return n.record(Call{Op: "restriction", Client: client, Kind: kind, Addrs: append([]string(nil), addrs...), Active: active})
}
