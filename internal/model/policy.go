package model

import (
	"fmt"
	"sort"
	"time"
)

// DurationClass is a named grant length, e.g. "short" = 10 minutes.
type DurationClass struct {
	Name   string        `json:"name"`
	Length time.Duration `json:"length"`
}

// Policy holds the tunables that govern negotiation and enforcement.
type Policy struct {
	// Classes is ordered by ascending Length.
	Classes []DurationClass `json:"classes"`
	// ProofThreshold names the largest class that can be granted without proof.
	ProofThreshold          string        `json:"proof_threshold"`
	MaxClarifyingTurns      int           `json:"max_clarifying_turns"`
	OracleRetries           int           `json:"oracle_retries"`
	EnforcementRetries      int           `json:"enforcement_retries"`
	EnforcementBackoff      time.Duration `json:"enforcement_backoff"`
	ConversationIdleTimeout time.Duration `json:"conversation_idle_timeout"`
	// ScriptedFirstTurn asks for the duration before the oracle is consulted.
	ScriptedFirstTurn bool `json:"scripted_first_turn"`
}

// DefaultPolicy returns the stock 10/60/120 minute policy.
func DefaultPolicy() Policy {
	return Policy{
		Classes: []DurationClass{
			{Name: "short", Length: 10 * time.Minute},
			{Name: "medium", Length: 60 * time.Minute},
			{Name: "long", Length: 120 * time.Minute},
		},
		ProofThreshold:          "short",
		MaxClarifyingTurns:      3,
		OracleRetries:           2,
		EnforcementRetries:      3,
		EnforcementBackoff:      200 * time.Millisecond,
		ConversationIdleTimeout: 10 * time.Minute,
	}
}

// Normalize sorts the duration classes by length.
func (p *Policy) Normalize() {
	sort.SliceStable(p.Classes, func(i, j int) bool {
		return p.Classes[i].Length < p.Classes[j].Length
	})
}

// Validate checks the policy for constraint violations.
// It returns a *ValidationError if any rules fail.
func (p Policy) Validate() error {
	var ve ValidationError

	if len(p.Classes) == 0 {
		ve.Add("classes", "at least one duration class is required")
	}
	seen := make(map[string]bool, len(p.Classes))
	for i, c := range p.Classes {
		field := fmt.Sprintf("classes[%d]", i)
		if c.Name == "" {
			ve.Add(field, "name is required")
		}
		if seen[c.Name] {
			ve.Addf(field, "duplicate class %q", c.Name)
		}
		seen[c.Name] = true
		if c.Length <= 0 {
			ve.Add(field, "length must be positive")
		}
		if i > 0 && c.Length <= p.Classes[i-1].Length {
			ve.Add(field, "classes must be strictly ascending by length")
		}
	}
	if p.ProofThreshold != "" && !seen[p.ProofThreshold] {
		ve.Addf("proof_threshold", "unknown class %q", p.ProofThreshold)
	}
	if p.MaxClarifyingTurns < 1 {
		ve.Add("max_clarifying_turns", "must be at least 1")
	}
	if p.OracleRetries < 0 {
		ve.Add("oracle_retries", "must not be negative")
	}
	if p.EnforcementRetries < 0 {
		ve.Add("enforcement_retries", "must not be negative")
	}
	if p.EnforcementBackoff < 0 {
		ve.Add("enforcement_backoff", "must not be negative")
	}

	return ve.Err()
}

// Class looks up a duration class by name.
func (p Policy) Class(name string) (DurationClass, bool) {
	for _, c := range p.Classes {
		if c.Name == name {
			return c, true
		}
	}
	return DurationClass{}, false
}

// Shortest returns the shortest duration class.
func (p Policy) Shortest() DurationClass {
	if len(p.Classes) == 0 {
		return DurationClass{}
	}
	return p.Classes[0]
}

// Longest returns the longest duration class.
func (p Policy) Longest() DurationClass {
	if len(p.Classes) == 0 {
		return DurationClass{}
	}
	return p.Classes[len(p.Classes)-1]
}

// ClassFor maps an arbitrary length onto the smallest class that covers it.
// Lengths beyond the longest class are capped to it.
func (p Policy) ClassFor(d time.Duration) DurationClass {
	for _, c := range p.Classes {
		if d <= c.Length {
			return c
		}
	}
	return p.Longest()
}

// RequiresProof reports whether granting c needs a proof attachment.
func (p Policy) RequiresProof(c DurationClass) bool {
	if p.ProofThreshold == "" {
		return false
	}
	threshold, ok := p.Class(p.ProofThreshold)
	if !ok {
		return false
	}
	return c.Length > threshold.Length
}
