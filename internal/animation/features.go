package animation

import (
	"github.com/paulmach/orb/geojson"

	"fleet-monitor/geostream/internal/domain"
)

// VehicleLookup supplies display attributes for a rendered vehicle.
type VehicleLookup interface {
	Vehicle(id string) (domain.Vehicle, bool)
}

// FeatureCollection renders states as point features for the map layer.
// lookup may be nil.
func FeatureCollection(states []State, lookup VehicleLookup) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range states {
		f := geojson.NewFeature(s.Rendered)
		f.ID = s.ID
		f.Properties["id"] = s.ID
		f.Properties["heading"] = s.Heading
		f.Properties["speed"] = s.Speed
		f.Properties["isMoving"] = s.Moving

		if lookup != nil {
			if v, ok := lookup.Vehicle(s.ID); ok {
				f.Properties["driverName"] = v.DriverName
				f.Properties["plateNumber"] = v.PlateNumber
				f.Properties["status"] = string(v.Status)
				f.Properties["etaNextStop"] = v.ETAMinutes
				if v.TripID != "" {
					f.Properties["tripId"] = v.TripID
				}
			}
		}
		fc.Append(f)
	}
	return fc
}
