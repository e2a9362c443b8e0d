// Package fleetstate holds the canonical fleet view: vehicles, the alert log
// and connection health. Every mutation goes through a Store method.
package fleetstate

import (
	"sort"
	"sync"
	"time"

	"fleet-monitor/geostream/internal/domain"
)

const (
	DefaultAlertCap      = 200
	DefaultAlertPruneAge = 5 * time.Minute
)

// Health describes the ingestion connection as seen by operators.
type Health struct {
	Connected         bool      `json:"connected"`
	Stale             bool      `json:"stale"`
	Slow              bool      `json:"slow"`
	Status            string    `json:"status"`
	LastHeartbeat     time.Time `json:"lastHeartbeat"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

type Store struct {
	mu        sync.RWMutex
	alertCap  int
	vehicles  map[string]*domain.Vehicle
	alerts    []domain.Alert
	unread    int
	geofences []*domain.Geofence
	selected  string
	health    Health
}

func NewStore(alertCap int) *Store {
	if alertCap <= 0 {
		alertCap = DefaultAlertCap
	}
	return &Store{
		alertCap: alertCap,
		vehicles: make(map[string]*domain.Vehicle),
		health:   Health{Status: "disconnected"},
	}
}

// UpsertVehicle merges u into the stored record, creating it on first sight.
func (s *Store) UpsertVehicle(u domain.VehicleUpdate) domain.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[u.ID]
	if !ok {
		v = &domain.Vehicle{}
		s.vehicles[u.ID] = v
	}
	v.Apply(u)
	return *v
}

func (s *Store) Vehicle(id string) (domain.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[id]
	if !ok {
		return domain.Vehicle{}, false
	}
	return *v, true
}

// Vehicles returns a copy of every vehicle ordered by id.
func (s *Store) Vehicles() []domain.Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddAlert prepends a. It is a no-op if an alert with the same id is already
// in the log. The oldest alerts are dropped beyond the cap.
func (s *Store) AddAlert(a domain.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == a.ID {
			return false
		}
	}

	alerts := make([]domain.Alert, 0, min(len(s.alerts)+1, s.alertCap))
	alerts = append(alerts, a)
	alerts = append(alerts, s.alerts...)
	if len(alerts) > s.alertCap {
		alerts = alerts[:s.alertCap]
	}
	s.alerts = alerts
	s.recount()
	return true
}

func (s *Store) MarkAlertRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			break
		}
	}
	s.recount()
}

func (s *Store) MarkAllAlertsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		s.alerts[i].Read = true
	}
	s.unread = 0
}

func (s *Store) DismissAlert(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts = filterAlerts(s.alerts, func(a domain.Alert) bool { return a.ID != id })
	s.recount()
}

// PruneAlerts drops alerts not newer than now-maxAge and returns how many
// were removed.
func (s *Store) PruneAlerts(now time.Time, maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultAlertPruneAge
	}
	cutoff := now.Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.alerts)
	s.alerts = filterAlerts(s.alerts, func(a domain.Alert) bool { return a.Timestamp.After(cutoff) })
	s.recount()
	return before - len(s.alerts)
}

// Alerts returns a copy of the log, newest first.
func (s *Store) Alerts() []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

func (s *Store) SetGeofences(fences []*domain.Geofence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.geofences = fences
}

func (s *Store) Geofences() []*domain.Geofence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geofences
}

// SelectVehicle sets the operator's focus. An empty id clears it.
func (s *Store) SelectVehicle(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
}

func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// RegisterHeartbeat records a successfully parsed message and clears both
// degradation flags.
func (s *Store) RegisterHeartbeat(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.LastHeartbeat = now
	s.health.Stale = false
	s.health.Slow = false
}

func (s *Store) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health.LastHeartbeat
}

func (s *Store) SetStale(stale bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Stale = stale
	if stale {
		s.health.Slow = false
	}
}

func (s *Store) SetSlow(slow bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Slow = slow
}

func (s *Store) SetConnected(connected bool, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Connected = connected
	s.health.Status = status
}

func (s *Store) SetStatus(status string, attempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health.Status = status
	s.health.ReconnectAttempts = attempts
}

func (s *Store) Health() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

func (s *Store) recount() {
	n := 0
	for i := range s.alerts {
		if !s.alerts[i].Read {
			n++
		}
	}
	s.unread = n
}

func filterAlerts(alerts []domain.Alert, keep func(domain.Alert) bool) []domain.Alert {
	out := alerts[:0:0]
	for _, a := range alerts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}
