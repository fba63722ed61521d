package model

import "errors"

var (
	// ErrOracleUnavailable is returned when the oracle cannot be reached or times out.
	ErrOracleUnavailable = errors.New("oracle unavailable")
	// ErrOracleMalformedReply is returned when an oracle reply cannot be parsed.
	ErrOracleMalformedReply = errors.New("oracle reply malformed")
	// ErrEnforcementFailure is returned when the backend rejects an apply call.
	ErrEnforcementFailure = errors.New("enforcement failure")
	// ErrInvalidClientState is returned for operations that make no sense in the current state.
	ErrInvalidClientState = errors.New("invalid client state")
	// ErrNotAccepting is returned when a grant arrives after the mode stopped accepting them.
	ErrNotAccepting = errors.New("not accepting grants in current mode")
	// ErrUnlockRequiresNegotiation is returned when a lockdown is lifted without negotiating.
	ErrUnlockRequiresNegotiation = errors.New("lockdown can only be lifted by negotiation")
	// ErrNotFound is returned by stores and managers for unknown keys.
	ErrNotFound = errors.New("not found")
)
