// Package registry tracks the buzzer roster for the play session: identities,
// display names, and telemetry. The session controller only reads counts and
// names from it; roster churn arrives as realtime channel events.
package registry

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"buzzmaster-console/internal/domain"
	"buzzmaster-console/internal/realtime"
)

// Registry is a thread-safe roster of connected buzzers in arrival order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*domain.Buzzer
	order []string
}

// New returns an empty roster.
func New() *Registry {
	return &Registry{byID: make(map[string]*domain.Buzzer)}
}

// Add registers a buzzer if its ID is not already present.
func (r *Registry) Add(b domain.Buzzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[b.ID]; ok {
		return
	}
	b.Connected = true
	r.byID[b.ID] = &b
	r.order = append(r.order, b.ID)
}

// Remove drops a buzzer from the roster.
func (r *Registry) Remove(buzzerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[buzzerID]; !ok {
		return
	}
	delete(r.byID, buzzerID)
	for i, id := range r.order {
		if id == buzzerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Replace swaps the whole roster, in reply to a full list update.
func (r *Registry) Replace(buzzers []domain.Buzzer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]*domain.Buzzer, len(buzzers))
	r.order = r.order[:0]
	for i := range buzzers {
		b := buzzers[i]
		b.Connected = true
		if _, dup := r.byID[b.ID]; dup {
			continue
		}
		r.byID[b.ID] = &b
		r.order = append(r.order, b.ID)
	}
}

// UpdateStatus refreshes one buzzer's telemetry.
func (r *Registry) UpdateStatus(buzzerID string, battery, wifiRSSI int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byID[buzzerID]; ok {
		b.Battery = battery
		b.WifiRSSI = wifiRSSI
	}
}

// Rename changes a buzzer's display name.
func (r *Registry) Rename(buzzerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[buzzerID]
	if !ok {
		return domain.ErrUnknownBuzzer
	}
	b.Name = name
	return nil
}

// Count is the number of connected buzzers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// IDs lists buzzer IDs in arrival order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List snapshots the roster in arrival order.
func (r *Registry) List() []domain.Buzzer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Buzzer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Name resolves a display name, falling back to the raw ID for unknown
// participants so projections never show an empty label.
func (r *Registry) Name(buzzerID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byID[buzzerID]; ok && b.Name != "" {
		return b.Name
	}
	return buzzerID
}

// Apply routes a roster-related channel event into the registry. Unknown
// event kinds are ignored so the caller can feed it the raw stream.
func (r *Registry) Apply(msg realtime.Message) {
	switch msg.Type {
	case realtime.TypeBuzzerConnected:
		var p realtime.BuzzerConnectedPayload
		if err := unmarshal(msg, &p); err != nil {
			return
		}
		r.Add(domain.Buzzer{
			ID:          p.Buzzer.ID,
			Name:        p.Buzzer.Name,
			ConnectedAt: p.Buzzer.ConnectedAt,
		})
		log.Info().Str("buzzer_id", p.Buzzer.ID).Str("name", p.Buzzer.Name).
			Int("total", p.TotalBuzzers).Msg("buzzer connected")

	case realtime.TypeBuzzerDisconnected:
		var p realtime.BuzzerDisconnectedPayload
		if err := unmarshal(msg, &p); err != nil {
			return
		}
		r.Remove(p.BuzzerID)
		log.Info().Str("buzzer_id", p.BuzzerID).Msg("buzzer disconnected")

	case realtime.TypeBuzzerListUpdate:
		var p realtime.BuzzerListUpdatePayload
		if err := unmarshal(msg, &p); err != nil {
			return
		}
		buzzers := make([]domain.Buzzer, 0, len(p.Buzzers))
		for _, info := range p.Buzzers {
			buzzers = append(buzzers, domain.Buzzer{
				ID:          info.ID,
				Name:        info.Name,
				ConnectedAt: info.ConnectedAt,
				Battery:     info.Battery,
				WifiRSSI:    info.WifiRSSI,
				Latency:     info.Latency,
			})
		}
		r.Replace(buzzers)
		log.Debug().Int("count", len(buzzers)).Msg("buzzer roster replaced")

	case realtime.TypeBuzzerStatusUpdate:
		var p realtime.BuzzerStatusUpdatePayload
		if err := unmarshal(msg, &p); err != nil {
			return
		}
		r.UpdateStatus(p.BuzzerID, p.Battery, p.WifiRSSI)
	}
}

func unmarshal(msg realtime.Message, v any) error {
	return json.Unmarshal(msg.Payload, v)
}
