package model

import "time"

// Session is a time-bounded grant of network access for one client.
type Session struct {
	Client        string    `json:"client"`
	GrantedAt     time.Time `json:"granted_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	DurationClass string    `json:"duration_class"`
	Reason        string    `json:"reason,omitempty"`
	// EnforcementFailed is set when the allow verdict could not be applied.
	EnforcementFailed bool `json:"enforcement_failed,omitempty"`
}

// Remaining returns how long the session has left at now (never negative).
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}
