package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// PositionSample is a single rendered or reported fix. It lives for one tick.
type PositionSample struct {
	VehicleID string
	Point     orb.Point
}

type TransitionKind string

const (
	TransitionEntry TransitionKind = "ENTRY"
	TransitionExit  TransitionKind = "EXIT"
)

type TransitionEvent struct {
	VehicleID    string         `json:"vehicleId"`
	GeofenceID   string         `json:"geofenceId"`
	GeofenceName string         `json:"geofenceName"`
	Kind         TransitionKind `json:"kind"`
}

// ToAlert turns a transition into an alert stamped at ts.
func (e TransitionEvent) ToAlert(ts time.Time) Alert {
	kind, verb := AlertGeofenceEntry, "entered"
	if e.Kind == TransitionExit {
		kind, verb = AlertGeofenceExit, "exited"
	}
	return Alert{
		ID:        "GEO-" + uuid.NewString(),
		Message:   fmt.Sprintf("Vehicle %s %s %s", e.VehicleID, verb, e.GeofenceName),
		Timestamp: ts,
		VehicleID: e.VehicleID,
		Kind:      kind,
	}
}

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

func SeverityOf(k AlertKind) AlertSeverity {
	switch {
	case k.IsCritical():
		return SeverityCritical
	case k == AlertMaintenance:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// AlertRule raises Kind whenever Evaluator reports true for a vehicle.
type AlertRule struct {
	Kind      AlertKind
	Evaluator func(v *Vehicle) bool
	Message   func(v *Vehicle) string
}

// SpeedRule flags vehicles travelling above limitKmh.
func SpeedRule(limitKmh float64) AlertRule {
	return AlertRule{
		Kind: AlertSpeedViolation,
		Evaluator: func(v *Vehicle) bool {
			return v.Speed > limitKmh
		},
		Message: func(v *Vehicle) string {
			return fmt.Sprintf("Vehicle %s exceeding speed limit: %.0f km/h", v.ID, v.Speed)
		},
	}
}

func DefaultAlertRules(speedLimitKmh float64) []AlertRule {
	return []AlertRule{SpeedRule(speedLimitKmh)}
}
