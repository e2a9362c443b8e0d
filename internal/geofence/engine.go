// Package geofence detects vehicles entering and leaving circular zones.
package geofence

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/spatial"
)

// Engine remembers, per vehicle, which geofences contained it on the last
// batch and reports only the differences.
type Engine struct {
	mu     sync.Mutex
	index  *spatial.GridIndex
	fences []*domain.Geofence
	// vehicle id -> geofence id -> geofence name
	inside map[string]map[string]string
}

func NewEngine(cellDeg float64) *Engine {
	return &Engine{
		index:  spatial.NewGridIndex(cellDeg),
		inside: make(map[string]map[string]string),
	}
}

// LoadGeofences rebuilds the index. Remembered containment is kept, so a
// vehicle inside a removed zone gets an EXIT on its next batch.
func (e *Engine) LoadGeofences(fences []*domain.Geofence) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.index.Build(fences)
	e.fences = fences

	log.Info().
		Int("geofences", len(fences)).
		Int("cells", e.index.CellCount()).
		Msg("Geofence index built")
}

// ProcessBatch diffs each position against the vehicle's previous
// containment set and returns the ENTRY and EXIT events for the batch.
func (e *Engine) ProcessBatch(positions []domain.PositionSample) []domain.TransitionEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []domain.TransitionEvent
	for _, p := range positions {
		prev := e.inside[p.VehicleID]
		now := make(map[string]string)

		for _, f := range e.index.Containing(p.Point) {
			now[f.ID] = f.Name
			if _, ok := prev[f.ID]; !ok {
				events = append(events, domain.TransitionEvent{
					VehicleID:    p.VehicleID,
					GeofenceID:   f.ID,
					GeofenceName: f.Name,
					Kind:         domain.TransitionEntry,
				})
			}
		}

		var exited []string
		for id := range prev {
			if _, ok := now[id]; !ok {
				exited = append(exited, id)
			}
		}
		sort.Strings(exited)
		for _, id := range exited {
			events = append(events, domain.TransitionEvent{
				VehicleID:    p.VehicleID,
				GeofenceID:   id,
				GeofenceName: prev[id],
				Kind:         domain.TransitionExit,
			})
		}

		e.inside[p.VehicleID] = now
	}
	return events
}

// Inside returns the ids of the geofences currently containing the vehicle.
func (e *Engine) Inside(vehicleID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.inside[vehicleID]))
	for id := range e.inside[vehicleID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) Geofences() []*domain.Geofence {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fences
}

func (e *Engine) GeofenceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.Len()
}

func (e *Engine) CellCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.CellCount()
}
