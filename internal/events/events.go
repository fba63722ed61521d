// Package events fans audit records out to the message bus.
package events

import (
	"context"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// TopicPrefix is prepended to every event kind to form its subject.
const TopicPrefix = "gatekeeper."

// TopicAll matches every gatekeeper subject.
const TopicAll = TopicPrefix + ">"

// Topic constants for the event kinds subscribers most often filter on.
const (
	TopicSessionGranted    = TopicPrefix + string(model.EventSessionGranted)
	TopicSessionExpired    = TopicPrefix + string(model.EventSessionExpired)
	TopicAccessDenied      = TopicPrefix + string(model.EventAccessDenied)
	TopicModeChanged       = TopicPrefix + string(model.EventModeChanged)
	TopicEnforcementFailed = TopicPrefix + string(model.EventEnforcementFailed)
)

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
