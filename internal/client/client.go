// Package client provides a transport-agnostic interface for the gatekeeper
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"time"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/roster"
)

// GatekeeperClient is the interface the gk CLI commands use to talk to a
// running gatekeeper. It is implemented by HTTPClient.
type GatekeeperClient interface {
	// Negotiation
	Chat(ctx context.Context, req *ChatRequest) (*model.Reply, error)
	Status(ctx context.Context, client string) (*model.ClientStatus, error)

	// Mode
	GetMode(ctx context.Context) (*ModeInfo, error)
	SetMode(ctx context.Context, mode model.Mode) (*ModeInfo, error)
	ClearOverride(ctx context.Context) (*ModeInfo, error)

	// History
	ListEvents(ctx context.Context, req *ListEventsRequest) ([]*model.Event, error)
	StreamEvents(ctx context.Context, req *StreamRequest, fn func(id int64, e *model.Event)) (int64, error)

	// Sessions and conversations
	ListSessions(ctx context.Context) ([]*model.Session, error)
	RevokeSession(ctx context.Context, client string) error
	ListConversations(ctx context.Context) ([]*model.ConversationInfo, error)

	// Restrictions
	ListRestrictions(ctx context.Context) ([]*model.Restriction, error)
	ActivateRestriction(ctx context.Context, req *RestrictRequest) (*model.Restriction, error)
	DeactivateRestriction(ctx context.Context, client string, kind model.RestrictionKind) error

	// Settings
	GetFocusDomains(ctx context.Context) ([]string, error)
	SetFocusDomains(ctx context.Context, domains []string) ([]string, error)

	// Roster
	ListClients(ctx context.Context, staleThreshold time.Duration) ([]*ClientEntry, error)

	// Health
	Health(ctx context.Context) (*HealthStatus, error)

	// Lifecycle
	Close() error
}

// ChatRequest is one message in a negotiation. Client is honoured only
// when the caller is trusted by the server.
type ChatRequest struct {
	Client         string            `json:"-"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Message        string            `json:"message"`
	Attachment     *model.Attachment `json:"attachment,omitempty"`
}

// ModeInfo describes the global mode.
type ModeInfo struct {
	Mode          model.Mode `json:"mode"`
	Override      model.Mode `json:"override,omitempty"`
	OverrideUntil *time.Time `json:"override_until,omitempty"`
	NextBoundary  time.Time  `json:"next_boundary"`
}

// ListEventsRequest filters the audit history. Zero fields are ignored.
type ListEventsRequest struct {
	Client  string
	Kinds   []string
	Outcome string
	Since   time.Time
	Limit   int
}

// RestrictRequest starts a restriction. An empty Client restricts the
// calling device; a zero Duration uses the server default.
type RestrictRequest struct {
	Client   string
	Kind     model.RestrictionKind
	Duration time.Duration
}

// ClientEntry is one row of the client roster.
type ClientEntry struct {
	roster.Entry
	SessionUntil *time.Time `json:"session_until,omitempty"`
	Restrictions []string   `json:"restrictions,omitempty"`
	Negotiating  bool       `json:"negotiating,omitempty"`
}

// HealthStatus is the server's view of enforcement health.
type HealthStatus struct {
	Status           string     `json:"status"`
	Mode             model.Mode `json:"mode"`
	EnforcementError string     `json:"enforcement_error,omitempty"`
	TargetMode       model.Mode `json:"target_mode,omitempty"`
}
