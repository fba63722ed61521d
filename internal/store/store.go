// Package store defines persistence for the audit history and settings.
package store

import (
	"context"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

// Store persists the append-only event history and operator settings.
type Store interface {
	// AppendHistory writes e and fills in its ID. Events are never updated
	// or deleted once appended.
	AppendHistory(ctx context.Context, e *model.Event) error
	// ReadHistory returns matching events in append order.
	ReadHistory(ctx context.Context, filter model.EventFilter) ([]*model.Event, error)

	// LoadSettings returns model.ErrNotFound if nothing was ever saved.
	LoadSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s *model.Settings) error

	// Lifecycle
	Close() error
}
