package layout

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"buzzmaster-console/internal/domain"
)

// PositionStore persists avatar positions across rounds (and across console
// restarts within a play session when backed by redis).
type PositionStore interface {
	Load(ctx context.Context) (map[string]domain.Position, error)
	Save(ctx context.Context, positions map[string]domain.Position) error
}

// Manager owns the live position map and the drag interaction. The full
// layout is computed once, when the roster first becomes known; later roster
// churn does not reflow placed avatars, and never-placed participants get the
// fallback position.
type Manager struct {
	geom  Geometry
	store PositionStore

	mu        sync.Mutex
	positions map[string]domain.Position
	dragID    string
	dragOffX  float64
	dragOffY  float64
}

// NewManager loads persisted positions from the store; a load failure starts
// the session with an empty layout.
func NewManager(ctx context.Context, geom Geometry, store PositionStore) *Manager {
	m := &Manager{geom: geom, store: store, positions: make(map[string]domain.Position)}
	if store != nil {
		if saved, err := store.Load(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load buzzer positions, starting fresh")
		} else if len(saved) > 0 {
			m.positions = saved
		}
	}
	return m
}

// Geometry returns the canvas description for the presenter frontend.
func (m *Manager) Geometry() Geometry {
	return m.geom
}

// EnsureLayout computes positions when none exist yet (the 0 -> N roster
// transition). Subsequent calls with a grown or shrunk roster are no-ops.
func (m *Manager) EnsureLayout(ctx context.Context, ids []string) {
	m.mu.Lock()
	if len(m.positions) > 0 || len(ids) == 0 {
		m.mu.Unlock()
		return
	}
	m.positions = Compute(ids, m.geom)
	snapshot := m.copyLocked()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
	log.Info().Int("buzzers", len(ids)).Msg("buzzer layout computed")
}

// Position returns the participant's placement, falling back for avatars
// that were never laid out.
func (m *Manager) Position(buzzerID string) domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[buzzerID]; ok {
		return p
	}
	return FallbackPosition
}

// Positions snapshots the full map.
func (m *Manager) Positions() map[string]domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *Manager) copyLocked() map[string]domain.Position {
	out := make(map[string]domain.Position, len(m.positions))
	for id, p := range m.positions {
		out[id] = p
	}
	return out
}

// BeginDrag captures the pointer-to-box offset. Only one box drags at a
// time; a second BeginDrag steals the lock.
func (m *Manager) BeginDrag(buzzerID string, pointer domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[buzzerID]
	if !ok {
		pos = FallbackPosition
		m.positions[buzzerID] = pos
	}
	m.dragID = buzzerID
	m.dragOffX = pointer.X - pos.X
	m.dragOffY = pointer.Y - pos.Y
}

// UpdateDrag moves the dragged box to pointer minus the captured offset,
// clamped to the full canvas (drags may leave the table-relative band).
func (m *Manager) UpdateDrag(pointer domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dragID == "" {
		return
	}
	g := m.geom
	m.positions[m.dragID] = domain.Position{
		X: clamp(pointer.X-m.dragOffX, 0, g.CanvasWidth-g.BoxWidth),
		Y: clamp(pointer.Y-m.dragOffY, 0, g.CanvasHeight-g.BoxHeight-g.EdgePadding),
	}
}

// EndDrag releases the drag lock and persists the layout.
func (m *Manager) EndDrag(ctx context.Context) {
	m.mu.Lock()
	if m.dragID == "" {
		m.mu.Unlock()
		return
	}
	m.dragID = ""
	snapshot := m.copyLocked()
	m.mu.Unlock()

	m.persist(ctx, snapshot)
}

// Reset drops all positions, for a brand-new play session.
func (m *Manager) Reset(ctx context.Context) {
	m.mu.Lock()
	m.positions = make(map[string]domain.Position)
	m.dragID = ""
	m.mu.Unlock()
	m.persist(ctx, map[string]domain.Position{})
}

func (m *Manager) persist(ctx context.Context, positions map[string]domain.Position) {
	if m.store == nil {
		return
	}
	if err := m.store.Save(ctx, positions); err != nil {
		log.Warn().Err(err).Msg("could not persist buzzer positions")
	}
}
