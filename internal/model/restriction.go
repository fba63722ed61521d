package model

import (
	"fmt"
	"time"
)

// RestrictionKind distinguishes the daytime self-imposed limits.
type RestrictionKind string

const (
	// RestrictionFocus blocks a configured list of distracting domains.
	RestrictionFocus RestrictionKind = "focus_mode"
	// RestrictionLockdown blocks all traffic; only a negotiation lifts it.
	RestrictionLockdown RestrictionKind = "lockdown"
)

// String returns the string representation of the restriction kind.
func (k RestrictionKind) String() string {
	return string(k)
}

// IsValid checks whether the restriction kind is a known value.
func (k RestrictionKind) IsValid() bool {
	switch k {
	case RestrictionFocus, RestrictionLockdown:
		return true
	}
	return false
}

// ParseRestrictionKind accepts the canonical names plus the short "focus".
func ParseRestrictionKind(s string) (RestrictionKind, error) {
	switch s {
	case "focus", string(RestrictionFocus):
		return RestrictionFocus, nil
	case string(RestrictionLockdown):
		return RestrictionLockdown, nil
	}
	return "", fmt.Errorf("unknown restriction %q (want focus_mode or lockdown)", s)
}

// Restriction is an active daytime limit on one client.
type Restriction struct {
	Client    string          `json:"client"`
	Kind      RestrictionKind `json:"kind"`
	StartedAt time.Time       `json:"started_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	// Domains and Addrs are populated for focus mode only.
	Domains []string `json:"domains,omitempty"`
	Addrs   []string `json:"addrs,omitempty"`
	// Suspended is set while a negotiated unlock is in effect.
	Suspended      bool       `json:"suspended,omitempty"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
}
