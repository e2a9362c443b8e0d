package geofence

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/paulmach/orb"
	"gopkg.in/yaml.v3"

	"fleet-monitor/geostream/internal/domain"
)

// Definition is one geofence as written in a definitions file. Exactly one
// of RadiusDeg or RadiusMeters must be set, at most 1 degree (111 km).
type Definition struct {
	ID           string  `yaml:"id" json:"id" validate:"required"`
	Name         string  `yaml:"name" json:"name" validate:"required"`
	Kind         string  `yaml:"kind" json:"kind" validate:"required,oneof=area stop"`
	Lng          float64 `yaml:"lng" json:"lng" validate:"gte=-180,lte=180"`
	Lat          float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	RadiusDeg    float64 `yaml:"radiusDeg" json:"radiusDeg" validate:"gte=0,lte=1"`
	RadiusMeters float64 `yaml:"radiusMeters" json:"radiusMeters" validate:"gte=0,lte=111000"`
}

type definitionsFile struct {
	Geofences []Definition `yaml:"geofences" json:"geofences" validate:"dive"`
}

var validate = validator.New()

// LoadFile reads a YAML geofence definitions file.
func LoadFile(path string) ([]*domain.Geofence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geofence file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a definitions document. JSON bodies are accepted as well
// since they are valid YAML.
func Parse(data []byte) ([]*domain.Geofence, error) {
	var doc definitionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode geofences: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid geofence definition: %w", err)
	}

	seen := make(map[string]bool, len(doc.Geofences))
	out := make([]*domain.Geofence, 0, len(doc.Geofences))
	for _, d := range doc.Geofences {
		if seen[d.ID] {
			return nil, fmt.Errorf("duplicate geofence id %q", d.ID)
		}
		seen[d.ID] = true
		if (d.RadiusDeg == 0) == (d.RadiusMeters == 0) {
			return nil, fmt.Errorf("geofence %q: set exactly one of radiusDeg or radiusMeters", d.ID)
		}

		radius := d.RadiusDeg
		if radius == 0 {
			radius = d.RadiusMeters / metersPerDegree
		}
		out = append(out, domain.NewGeofence(d.ID, d.Name, domain.GeofenceKind(d.Kind), orb.Point{d.Lng, d.Lat}, radius))
	}
	return out, nil
}
