package domain

import (
	"time"

	"github.com/paulmach/orb"
)

type VehicleStatus string

const (
	StatusIdle       VehicleStatus = "idle"
	StatusInProgress VehicleStatus = "in-progress"
	StatusDelayed    VehicleStatus = "delayed"
	StatusCompleted  VehicleStatus = "completed"
	StatusCancelled  VehicleStatus = "cancelled"
)

type Location struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (l Location) Point() orb.Point {
	return orb.Point{l.Lng, l.Lat}
}

type Vehicle struct {
	ID          string        `json:"id"`
	TripID      string        `json:"tripId,omitempty"`
	DriverName  string        `json:"driverName"`
	PlateNumber string        `json:"plateNumber"`
	Location    Location      `json:"currentLocation"`
	Speed       float64       `json:"currentSpeed"`
	Status      VehicleStatus `json:"status"`
	ETAMinutes  float64       `json:"etaNextStop"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// VehicleUpdate carries a partial vehicle record. Nil fields leave the
// existing value untouched on merge.
type VehicleUpdate struct {
	ID          string
	TripID      *string
	DriverName  *string
	PlateNumber *string
	Location    *Location
	Speed       *float64
	Status      *VehicleStatus
	ETAMinutes  *float64
	ReceivedAt  time.Time
}

// Apply merges u into v.
func (v *Vehicle) Apply(u VehicleUpdate) {
	v.ID = u.ID
	if u.TripID != nil {
		v.TripID = *u.TripID
	}
	if u.DriverName != nil {
		v.DriverName = *u.DriverName
	}
	if u.PlateNumber != nil {
		v.PlateNumber = *u.PlateNumber
	}
	if u.Location != nil {
		v.Location = *u.Location
	}
	if u.Speed != nil {
		v.Speed = *u.Speed
	}
	if u.Status != nil {
		v.Status = *u.Status
	}
	if u.ETAMinutes != nil {
		v.ETAMinutes = *u.ETAMinutes
	}
	if !u.ReceivedAt.IsZero() {
		v.UpdatedAt = u.ReceivedAt
	}
}
