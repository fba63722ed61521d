package model

import "time"

// EventKind classifies an audit record.
type EventKind string

const (
	EventSessionGranted         EventKind = "session_granted"
	EventSessionExpired         EventKind = "session_expired"
	EventSessionRevoked         EventKind = "session_revoked"
	EventAccessDenied           EventKind = "access_denied"
	EventModeChanged            EventKind = "mode_changed"
	EventModeChangeFailed       EventKind = "mode_change_failed"
	EventRestrictionActivated   EventKind = "restriction_activated"
	EventRestrictionDeactivated EventKind = "restriction_deactivated"
	EventRestrictionExpired     EventKind = "restriction_expired"
	EventRestrictionUnlocked    EventKind = "restriction_unlocked"
	EventEnforcementFailed      EventKind = "enforcement_failed"
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	return string(k)
}

// Outcome is the result recorded with an event.
type Outcome string

const (
	OutcomeAllow  Outcome = "allow"
	OutcomeDeny   Outcome = "deny"
	OutcomeBlock  Outcome = "block"
	OutcomeFailed Outcome = "failed"
	OutcomeNone   Outcome = ""
)

// Well-known event reasons.
const (
	ReasonOracleFailure    = "oracle_failure"
	ReasonNoProof          = "no_proof_timeout"
	ReasonBudgetExhausted  = "clarify_budget_exhausted"
	ReasonOracleDenied     = "oracle_denied"
	ReasonModeMismatch     = "mode_changed"
	ReasonExpired          = "expired"
	ReasonSuperseded       = "superseded"
	ReasonModeOpen         = "mode_open"
	ReasonManual           = "manual"
	ReasonSchedule         = "schedule"
	ReasonNegotiatedUnlock = "negotiated_unlock"
)

// Event is an append-only audit record.
type Event struct {
	ID              int64           `json:"id"`
	Timestamp       time.Time       `json:"timestamp"`
	Kind            EventKind       `json:"kind"`
	Client          string          `json:"client,omitempty"`
	Outcome         Outcome         `json:"outcome,omitempty"`
	Mode            Mode            `json:"mode,omitempty"`
	DurationClass   string          `json:"duration_class,omitempty"`
	DurationGranted time.Duration   `json:"duration_granted,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Restriction     RestrictionKind `json:"restriction,omitempty"`
	// Message carries a short excerpt of the client's request, if any.
	Message           string `json:"message,omitempty"`
	EnforcementFailed bool   `json:"enforcement_failed,omitempty"`
}

// Topic returns the pub/sub subject the event is published on.
func (e *Event) Topic() string {
	return "gatekeeper." + string(e.Kind)
}
