package model

import "time"

// Attachment is a file a client sends as proof.
type Attachment struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// ClientMessage is one inbound chat message.
type ClientMessage struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	Text           string      `json:"text"`
	Attachment     *Attachment `json:"attachment,omitempty"`
}

// ClientStatus summarises what the gatekeeper currently holds for a client.
type ClientStatus struct {
	Client            string            `json:"client"`
	Mode              Mode              `json:"mode"`
	Override          bool              `json:"override"`
	SessionActive     bool              `json:"session_active"`
	Session           *Session          `json:"session,omitempty"`
	RestrictionActive bool              `json:"restriction_active"`
	Restrictions      []Restriction     `json:"restrictions,omitempty"`
	Conversation      *ConversationInfo `json:"conversation,omitempty"`
	NextBoundary      time.Time         `json:"next_boundary"`
}
