package domain

import (
	"fmt"
	"time"
)

type AlertKind string

const (
	AlertGeofenceEntry  AlertKind = "GEOFENCE_ENTRY"
	AlertGeofenceExit   AlertKind = "GEOFENCE_EXIT"
	AlertSpeedViolation AlertKind = "SPEED_VIOLATION"
	AlertMaintenance    AlertKind = "MAINTENANCE"
	AlertTripClosed     AlertKind = "TRIP_CLOSED"
	AlertPickupArrived  AlertKind = "PICKUP_ARRIVED"
)

var legacyAlertKinds = map[string]AlertKind{
	"geofence":    AlertGeofenceEntry,
	"speed":       AlertSpeedViolation,
	"maintenance": AlertMaintenance,
}

// ParseAlertKind accepts canonical names and the legacy lowercase synonyms.
// An empty string yields an empty kind with no error.
func ParseAlertKind(s string) (AlertKind, error) {
	switch k := AlertKind(s); k {
	case "":
		return "", nil
	case AlertGeofenceEntry, AlertGeofenceExit, AlertSpeedViolation,
		AlertMaintenance, AlertTripClosed, AlertPickupArrived:
		return k, nil
	}
	if k, ok := legacyAlertKinds[s]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown alert kind %q", s)
}

func (k AlertKind) IsCritical() bool {
	return k == AlertSpeedViolation || k == AlertTripClosed
}

func (k AlertKind) IsGeofence() bool {
	return k == AlertGeofenceEntry || k == AlertGeofenceExit
}

type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	VehicleID string    `json:"vehicleId,omitempty"`
	TripID    string    `json:"tripId,omitempty"`
	Kind      AlertKind `json:"type,omitempty"`
	Read      bool      `json:"read"`
}
