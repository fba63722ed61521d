package enforce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// ExecConfig configures the router backend.
type ExecConfig struct {
	// LANInterface is the bridge clients sit behind (e.g. "br-lan").
	LANInterface string
	// WANInterface, when set, limits REJECT rules to traffic leaving
	// through the uplink so the portal and gateway stay reachable.
	WANInterface string
	// PortalService is the captive portal init script.
	PortalService string
	// KickWiFi restarts the radios after the portal comes up so clients
	// already associated reconnect through it.
	KickWiFi bool
	// KickPause is how long the radios stay down (default 2s).
	KickPause time.Duration
	Runner    Runner
	Resolver  *Resolver
}

// Exec drives an OpenWrt router: the nodogsplash captive portal gates
// clients at night, and FORWARD-chain REJECT rules implement restrictions.
type Exec struct {
	cfg ExecConfig

	mu        sync.Mutex
	installed map[ruleKey][]rule
}

type ruleKey struct {
	client string
	kind   model.RestrictionKind
}

type rule struct {
	bin  string
	spec []string
}

var _ Backend = (*Exec)(nil)

// NewExec returns an Exec backend with defaults filled in.
func NewExec(cfg ExecConfig) *Exec {
	if cfg.LANInterface == "" {
		cfg.LANInterface = "br-lan"
	}
	if cfg.PortalService == "" {
		cfg.PortalService = "/etc/init.d/nodogsplash"
	}
	if cfg.KickPause <= 0 {
		cfg.KickPause = 2 * time.Second
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewResolver("8.8.8.8:53")
	}
	return &Exec{cfg: cfg, installed: make(map[ruleKey][]rule)}
}

func (e *Exec) Apply(ctx context.Context, client string, v model.Verdict) error {
	mac, ok := NormalizeMAC(client)
	if !ok {
		return fmt.Errorf("client %q is not a hardware address", client)
	}
	switch v {
	case model.VerdictAllow:
		_, err := e.cfg.Runner.Run(ctx, "ndsctl", "auth", mac)
		return err
	case model.VerdictBlock:
		_, err := e.cfg.Runner.Run(ctx, "ndsctl", "deauth", mac)
		return err
	}
	return fmt.Errorf("unknown verdict %q", v)
}

func (e *Exec) ApplyGlobalMode(ctx context.Context, m model.Mode) error {
	switch m {
	case model.ModeGatekeeper:
		if _, err := e.cfg.Runner.Run(ctx, e.cfg.PortalService, "start"); err != nil {
			return err
		}
		if _, err := e.cfg.Runner.Run(ctx, "ndsctl", "status"); err != nil {
			return fmt.Errorf("portal did not come up: %w", err)
		}
		if e.cfg.KickWiFi {
			if err := e.kickWiFi(ctx); err != nil {
				// The portal is up; clients that stay associated are gated
				// once their existing flows end.
				slog.Warn("enforce: wifi restart failed", "err", err)
			}
		}
		return nil
	case model.ModeOpen:
		_, err := e.cfg.Runner.Run(ctx, e.cfg.PortalService, "stop")
		return err
	}
	return fmt.Errorf("unknown mode %q", m)
}

// kickWiFi cycles the radios so every client re-associates.
func (e *Exec) kickWiFi(ctx context.Context) error {
	if _, err := e.cfg.Runner.Run(ctx, "wifi", "down"); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.cfg.KickPause):
	}
	// Bring the radios back even if ctx is done.
	_, err := e.cfg.Runner.Run(context.WithoutCancel(ctx), "wifi", "up")
	return err
}

func (e *Exec) ResolveDomains(ctx context.Context, names []string) ([]string, error) {
	return e.cfg.Resolver.Resolve(ctx, names)
}

func (e *Exec) ApplyRestriction(ctx context.Context, client string, kind model.RestrictionKind, addrs []string, active bool) error {
	mac, ok := NormalizeMAC(client)
	if !ok {
		return fmt.Errorf("client %q is not a hardware address", client)
	}
	key := ruleKey{client: mac, kind: kind}

	// Callers serialize per client, so only the map needs the lock.
	e.mu.Lock()
	old := e.installed[key]
	delete(e.installed, key)
	e.mu.Unlock()

	// Rules that fail to delete stay tracked so the next call retries them.
	var errs []error
	var next []rule
	for _, r := range old {
		if _, err := e.cfg.Runner.Run(ctx, r.bin, append([]string{"-D", "FORWARD"}, r.spec...)...); err != nil {
			errs = append(errs, err)
			next = append(next, r)
		}
	}
	if !active {
		e.track(key, next)
		return errors.Join(errs...)
	}

	for _, r := range e.rulesFor(mac, kind, addrs) {
		if _, err := e.cfg.Runner.Run(ctx, r.bin, append([]string{"-I", "FORWARD"}, r.spec...)...); err != nil {
			errs = append(errs, err)
			continue
		}
		next = append(next, r)
	}
	e.track(key, next)
	return errors.Join(errs...)
}

func (e *Exec) track(key ruleKey, rules []rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(rules) == 0 {
		delete(e.installed, key)
		return
	}
	e.installed[key] = rules
}

func (e *Exec) rulesFor(mac string, kind model.RestrictionKind, addrs []string) []rule {
	base := []string{"-i", e.cfg.LANInterface}
	if e.cfg.WANInterface != "" {
		base = append(base, "-o", e.cfg.WANInterface)
	}
	base = append(base, "-m", "mac", "--mac-source", mac)
	tag := []string{"-m", "comment", "--comment", "gatekeeper:" + string(kind), "-j", "REJECT"}
	join := func(parts ...[]string) []string {
		var out []string
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	if kind == model.RestrictionLockdown {
		return []rule{
			{bin: "iptables", spec: join(base, tag)},
			{bin: "ip6tables", spec: join(base, tag)},
		}
	}
	rules := make([]rule, 0, len(addrs))
	for _, a := range addrs {
		bin := "iptables"
		if strings.Contains(a, ":") {
			bin = "ip6tables"
		}
		rules = append(rules, rule{bin: bin, spec: join(base, []string{"-d", a}, tag)})
	}
	return rules
}
