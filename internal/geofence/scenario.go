package geofence

import (
	"fmt"
	"math/rand/v2"

	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/domain"
)

const metersPerDegree = 111_000.0

// BengaluruBound is the demo region, about 30 km by 25 km.
var BengaluruBound = orb.Bound{
	Min: orb.Point{77.45, 12.85},
	Max: orb.Point{77.75, 13.10},
}

var (
	areaNames = []string{
		"Tech Park", "Business Hub", "Corporate Tower", "Innovation Center",
		"IT Campus", "Office Plaza", "Trade Center", "Software Park",
	}
	stopPrefixes = []string{"Pickup", "Drop", "Stop", "Gate", "Junction"}
)

// Scenario deterministically generates a geofence set for demos, load
// tests and benchmarks. The same Seed always yields the same fences.
type Scenario struct {
	Seed  uint64
	Areas int
	Stops int
	Bound orb.Bound
}

func DefaultScenario(seed uint64) Scenario {
	return Scenario{Seed: seed, Areas: 500, Stops: 2000, Bound: BengaluruBound}
}

func (s Scenario) Generate() []*domain.Geofence {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	out := make([]*domain.Geofence, 0, s.Areas+s.Stops)

	for i := 0; i < s.Areas; i++ {
		center := s.randomPoint(rng)
		hw := 0.002 + rng.Float64()*0.005
		hh := 0.002 + rng.Float64()*0.005
		name := fmt.Sprintf("%s - Sector %d", areaNames[i%len(areaNames)], i/len(areaNames)+1)
		out = append(out, domain.NewGeofence(fmt.Sprintf("area-%d", i), name, domain.GeofenceArea, center, max(hw, hh)))
	}

	for i := 0; i < s.Stops; i++ {
		center := s.randomPoint(rng)
		radiusM := 100 + rng.Float64()*900
		name := fmt.Sprintf("%s %d", stopPrefixes[i%len(stopPrefixes)], i+1)
		out = append(out, domain.NewGeofence(fmt.Sprintf("stop-%d", i), name, domain.GeofenceStop, center, radiusM/metersPerDegree))
	}
	return out
}

// RandomPoints returns n points inside the scenario bound, for driving
// synthetic vehicles.
func (s Scenario) RandomPoints(n int) []orb.Point {
	rng := rand.New(rand.NewPCG(s.Seed+1, s.Seed))
	pts := make([]orb.Point, n)
	for i := range pts {
		pts[i] = s.randomPoint(rng)
	}
	return pts
}

func (s Scenario) randomPoint(rng *rand.Rand) orb.Point {
	return orb.Point{
		s.Bound.Min.Lon() + rng.Float64()*(s.Bound.Max.Lon()-s.Bound.Min.Lon()),
		s.Bound.Min.Lat() + rng.Float64()*(s.Bound.Max.Lat()-s.Bound.Min.Lat()),
	}
}
