package enforce

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"
)

// Resolver looks names up against a fixed upstream DNS server, bypassing
// the router's own resolver (which is hijacked while the portal is up).
type Resolver struct {
	r *net.Resolver
}

// NewResolver returns a Resolver that queries server ("host:port").
func NewResolver(server string) *Resolver {
	d := net.Dialer{Timeout: 5 * time.Second}
	return &Resolver{r: &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return d.DialContext(ctx, network, server)
		},
	}}
}

// Resolve returns the deduplicated, sorted addresses for names. It fails
// only when no name resolved at all.
func (r *Resolver) Resolve(ctx context.Context, names []string) ([]string, error) {
	seen := make(map[string]bool)
	var errs []error
	for _, name := range names {
		addrs, err := r.r.LookupHost(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		for _, a := range addrs {
			seen[a] = true
		}
	}
	if len(seen) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out, nil
}
