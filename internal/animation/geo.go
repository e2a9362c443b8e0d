package animation

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// bearing returns the initial great-circle bearing from a to b in [0, 360).
func bearing(a, b orb.Point) float64 {
	return math.Mod(geo.Bearing(a, b)+360, 360)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func lerpPoint(a, b orb.Point, t float64) orb.Point {
	return orb.Point{lerp(a.Lon(), b.Lon(), t), lerp(a.Lat(), b.Lat(), t)}
}

// lerpAngle interpolates between two headings along the shorter arc.
func lerpAngle(a, b, t float64) float64 {
	diff := math.Mod(math.Mod(b-a, 360)+540, 360) - 180
	return math.Mod(math.Mod(a+diff*t, 360)+360, 360)
}
