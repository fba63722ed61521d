// Package server exposes the engine over HTTP (chat, admin, SSE, captive
// portal probes) and gRPC (health).
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/clock"
	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/roster"
)

// Engine is the part of the core the server drives.
type Engine interface {
	HandleClientMessage(ctx context.Context, client string, msg model.ClientMessage) (model.Reply, error)
	Status(client string) model.ClientStatus
	CurrentMode() model.Mode
	Override() (model.Mode, time.Time, bool)
	SetMode(ctx context.Context, m model.Mode) error
	ClearOverride(ctx context.Context) error
	ListRecentEvents(ctx context.Context, n int) ([]model.Event, error)
	QueryEvents(ctx context.Context, filter model.EventFilter) ([]model.Event, error)
	Subscribe(fn func(model.Event)) (cancel func())
	ActivateRestriction(ctx context.Context, client string, kind model.RestrictionKind, d time.Duration) (model.Restriction, error)
	DeactivateRestriction(ctx context.Context, client string, kind model.RestrictionKind) error
	RevokeSession(ctx context.Context, client string) error
	FocusDomains() []string
	SetFocusDomains(ctx context.Context, domains []string) ([]string, error)
	Sessions() []model.Session
	Restrictions() []model.Restriction
	Conversations() []model.ConversationInfo
	RecordVisit(v roster.Visit)
	Clients(stale time.Duration) []roster.Entry
}

// Identifier maps a remote IP address to a client identity (a MAC address
// on the router).
type Identifier interface {
	Identify(ctx context.Context, ip string) (string, bool)
}

// IdentifierFunc adapts a function to Identifier.
type IdentifierFunc func(ctx context.Context, ip string) (string, bool)

func (f IdentifierFunc) Identify(ctx context.Context, ip string) (string, bool) { return f(ctx, ip) }

// Config wires a Server.
type Config struct {
	Engine     Engine
	Identifier Identifier
	Health     *EnforcementHealth
	Clock      clock.Clock

	AuthToken string
	// PortalURL is where captive-portal probes are redirected.
	PortalURL string

	// RatePerMinute and RateBurst bound chat requests per client.
	RatePerMinute float64
	RateBurst     int

	// MaxBodyBytes caps a chat request, attachment included.
	MaxBodyBytes int64
}

// Server serves the gatekeeper's HTTP and gRPC surfaces.
type Server struct {
	cfg     Config
	engine  Engine
	sseHub  *sseHub
	limiter *rateLimiter
	health  *EnforcementHealth

	unsubscribe func()
}

// New returns a Server and starts feeding recorded events to SSE clients.
func New(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Identifier == nil {
		cfg.Identifier = IdentifierFunc(func(context.Context, string) (string, bool) { return "", false })
	}
	if cfg.Health == nil {
		cfg.Health = NewEnforcementHealth()
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 2
	}
	if cfg.RateBurst < 1 {
		cfg.RateBurst = 10
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 12 << 20
	}
	s := &Server{
		cfg:     cfg,
		engine:  cfg.Engine,
		sseHub:  newSSEHub(),
		limiter: newRateLimiter(cfg.Clock, cfg.RatePerMinute, cfg.RateBurst),
		health:  cfg.Health,
	}
	s.unsubscribe = cfg.Engine.Subscribe(s.broadcastEvent)
	return s
}

// Close detaches the server from the engine's event stream.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// broadcastEvent fans a recorded event out to SSE clients.
func (s *Server) broadcastEvent(e model.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Warn("failed to marshal event for SSE broadcast", "kind", e.Kind, "error", err)
		return
	}
	s.sseHub.broadcast(e.Topic(), e.Client, payload)
}

// remoteIP strips the port from r.RemoteAddr.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientHeader lets a trusted caller act for a named client.
const ClientHeader = "X-Gatekeeper-Client"

// identify resolves the calling client and records the visit. A trusted
// caller may name the client with ClientHeader or a "client" query
// parameter; everyone else is identified by their LAN address.
func (s *Server) identify(r *http.Request, route string) (string, bool) {
	ip := remoteIP(r)
	if isTrusted(r.Context()) {
		named := r.Header.Get(ClientHeader)
		if named == "" {
			named = r.URL.Query().Get("client")
		}
		if named != "" {
			s.engine.RecordVisit(roster.Visit{Client: named, IP: ip, Route: route})
			return named, true
		}
	}
	client, ok := s.cfg.Identifier.Identify(r.Context(), ip)
	if !ok {
		return "", false
	}
	s.engine.RecordVisit(roster.Visit{Client: client, IP: ip, Route: route})
	return client, true
}
