package memory

import (
	"context"
	"sync"

	"buzzmaster-console/internal/domain"
)

// PositionStore is an in-memory implementation of layout.PositionStore.
// Positions survive across rounds but not across process restarts.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func (s *PositionStore) Load(_ context.Context) (map[string]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Position, len(s.positions))
	for id, p := range s.positions {
		out[id] = p
	}
	return out, nil
}

func (s *PositionStore) Save(_ context.Context, positions map[string]domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[string]domain.Position, len(positions))
	for id, p := range positions {
		s.positions[id] = p
	}
	return nil
}
