package model

import "time"

// EventFilter holds criteria for querying the event history.
type EventFilter struct {
	Client  string      `json:"client,omitempty"`
	Kinds   []EventKind `json:"kinds,omitempty"`
	Outcome Outcome     `json:"outcome,omitempty"`
	Since   time.Time   `json:"since,omitempty"`
	// Limit keeps only the newest N matches; results stay in append order.
	Limit int `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every criterion set on f.
func (f *EventFilter) Matches(e *Event) bool {
	if f.Client != "" && e.Client != f.Client {
		return false
	}
	if f.Outcome != OutcomeNone && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
