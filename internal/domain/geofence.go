package domain

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

type GeofenceKind string

const (
	GeofenceArea GeofenceKind = "area"
	GeofenceStop GeofenceKind = "stop"
)

// BoundaryTolerance absorbs floating point error when a point sits exactly
// on a geofence's radius.
const BoundaryTolerance = 1e-12

// Geofence is a circular zone. Center is (lng, lat) in degrees and BBox is
// the square enclosing the circle. Geofences are immutable once built.
type Geofence struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      GeofenceKind `json:"kind"`
	Center    orb.Point    `json:"center"`
	RadiusDeg float64      `json:"radiusDeg"`
	BBox      orb.Bound    `json:"bbox"`
}

func NewGeofence(id, name string, kind GeofenceKind, center orb.Point, radiusDeg float64) *Geofence {
	return &Geofence{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Center:    center,
		RadiusDeg: radiusDeg,
		BBox: orb.Bound{
			Min: orb.Point{center.Lon() - radiusDeg, center.Lat() - radiusDeg},
			Max: orb.Point{center.Lon() + radiusDeg, center.Lat() + radiusDeg},
		},
	}
}

// Contains reports whether p lies within the radius, boundary inclusive.
func (g *Geofence) Contains(p orb.Point) bool {
	return planar.Distance(g.Center, p) <= g.RadiusDeg+BoundaryTolerance
}
