package model

import "fmt"

// Mode is the global network mode.
type Mode string

const (
	// ModeOpen lets every client through unless a restriction applies.
	ModeOpen Mode = "open"
	// ModeGatekeeper blocks every client that has no active session.
	ModeGatekeeper Mode = "gatekeeper"
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks whether the mode is a known value.
func (m Mode) IsValid() bool {
	switch m {
	case ModeOpen, ModeGatekeeper:
		return true
	}
	return false
}

// ParseMode converts a user-supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mode %q (want open or gatekeeper)", s)
	}
	return m, nil
}

// Verdict is the per-client forwarding decision handed to the enforcement backend.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictBlock Verdict = "block"
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	return string(v)
}
