package model

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleClient Role = "client"
	RoleOracle Role = "oracle"
)

// Turn is one message in a negotiation transcript.
type Turn struct {
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	ProofRef string    `json:"proof_ref,omitempty"`
	At       time.Time `json:"at"`
}

// Proof is an attachment submitted as evidence of need.
type Proof struct {
	ID          string    `json:"id"`
	MIMEType    string    `json:"mime_type"`
	Digest      string    `json:"digest"`
	Size        int       `json:"size"`
	SubmittedAt time.Time `json:"submitted_at"`
	Data        []byte    `json:"-"`
}

// Purpose says what a negotiation unlocks when it ends in Allow.
type Purpose string

const (
	// PurposeNightAccess grants a session in Gatekeeper mode.
	PurposeNightAccess Purpose = "night_access"
	// PurposeUnlock lifts an active lockdown in Open mode.
	PurposeUnlock Purpose = "unlock"
)

// Phase is the state of a conversation.
type Phase string

const (
	PhaseStart            Phase = "start"
	PhaseAwaitingDuration Phase = "awaiting_duration"
	PhaseAwaitingProof    Phase = "awaiting_proof"
	PhaseDeciding         Phase = "deciding"
	PhaseAllowed          Phase = "allowed"
	PhaseDenied           Phase = "denied"
)

// Terminal reports whether no further turns are accepted in this phase.
func (p Phase) Terminal() bool {
	return p == PhaseAllowed || p == PhaseDenied
}

// ConversationInfo is a read-only snapshot of a conversation.
type ConversationInfo struct {
	ID             string    `json:"id"`
	Client         string    `json:"client"`
	Purpose        Purpose   `json:"purpose"`
	Phase          Phase     `json:"phase"`
	TurnsUsed      int       `json:"turns_used"`
	RequestedClass string    `json:"requested_class,omitempty"`
	ProofAttached  bool      `json:"proof_attached"`
	OpenedAt       time.Time `json:"opened_at"`
	LastActivity   time.Time `json:"last_activity"`
	Transcript     []Turn    `json:"transcript,omitempty"`
}

// ReplyKind is the shape of the gatekeeper's answer to a client message.
type ReplyKind string

const (
	ReplyAllow   ReplyKind = "allow"
	ReplyDeny    ReplyKind = "deny"
	ReplyClarify ReplyKind = "clarify"
)

// Reply is what the client sees after each message.
type Reply struct {
	Kind           ReplyKind  `json:"kind"`
	Message        string     `json:"message"`
	ConversationID string     `json:"conversation_id,omitempty"`
	DurationClass  string     `json:"duration_class,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	TurnsUsed      int        `json:"turns_used"`
	TurnsLeft      int        `json:"turns_left"`
}
