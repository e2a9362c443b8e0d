package geofence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/domain"
)

// Cull keeps the geofences whose bounding box intersects the viewport.
func Cull(fences []*domain.Geofence, viewport orb.Bound) []*domain.Geofence {
	out := make([]*domain.Geofence, 0)
	for _, f := range fences {
		if f.BBox.Intersects(viewport) {
			out = append(out, f)
		}
	}
	return out
}

// ParseBBox reads "west,south,east,north".
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 comma separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, fmt.Errorf("bbox min exceeds max")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
