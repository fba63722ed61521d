// Package enforce applies access decisions to the network. The engine only
// sees the Backend interface; Exec drives a real router and Noop records
// calls for dry runs and tests.
package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Backend is the network actuator.
type Backend interface {
	// Apply permits or blocks one client's traffic.
	Apply(ctx context.Context, client string, v model.Verdict) error
	// ApplyGlobalMode switches the router between open and gated operation.
	ApplyGlobalMode(ctx context.Context, m model.Mode) error
	// ResolveDomains returns the current addresses for names. Partial
	// results are returned with a nil error; an error means nothing resolved.
	ResolveDomains(ctx context.Context, names []string) ([]string, error)
	// ApplyRestriction installs (active) or removes the block rules for one
	// client and kind. Installing replaces any rules previously installed
	// for the same client and kind.
	ApplyRestriction(ctx context.Context, client string, kind model.RestrictionKind, addrs []string, active bool) error
}

// Retry calls op up to attempts+1 times, doubling backoff between tries.
// The final error is wrapped with model.ErrEnforcementFailure.
func Retry(ctx context.Context, c clock.Clock, attempts int, backoff time.Duration, op func(context.Context) error) error {
	var err error
	for i := 0; i <= attempts; i++ {
		if i > 0 && backoff > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", model.ErrEnforcementFailure, ctx.Err())
			case <-c.After(backoff):
			}
			backoff *= 2
		}
		if err = op(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", model.ErrEnforcementFailure, err)
}
