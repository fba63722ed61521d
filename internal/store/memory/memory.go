// Package memory implements store.Store in process memory. History is lost
// on restart; it is used when no database URL is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu       sync.RWMutex
	history  []*model.Event
	nextID   int64
	settings *model.Settings
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{nextID: 1}
}

func (s *Store) AppendHistory(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = s.nextID
	s.nextID++
	cp := *e
	s.history = append(s.history, &cp)
	return nil
}

func (s *Store) ReadHistory(_ context.Context, filter model.EventFilter) ([]*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Event
	for _, e := range s.history {
		if filter.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *Store) LoadSettings(_ context.Context) (*model.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil, model.ErrNotFound
	}
	cp := model.Settings{FocusDomains: append([]string(nil), s.settings.FocusDomains...)}
	return &cp, nil
}

func (s *Store) SaveSettings(_ context.Context, settings *model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &model.Settings{FocusDomains: append([]string(nil), settings.FocusDomains...)}
	return nil
}

func (s *Store) Close() error {
	return nil
}
