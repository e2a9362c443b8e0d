// Package spatial buckets geofences into a uniform degree grid so that a
// containment query only inspects the zones registered in one cell.
package spatial

import (
	"math"

	"github.com/paulmach/orb"

	"fleet-monitor/geostream/internal/domain"
)

const DefaultCellDeg = 0.01

type cell struct {
	col, row int
}

// GridIndex is not safe for concurrent Build and Query. Callers that rebuild
// while querying must serialize access.
type GridIndex struct {
	cellDeg float64
	cells   map[cell][]*domain.Geofence
	count   int
}

func NewGridIndex(cellDeg float64) *GridIndex {
	if cellDeg <= 0 {
		cellDeg = DefaultCellDeg
	}
	return &GridIndex{
		cellDeg: cellDeg,
		cells:   make(map[cell][]*domain.Geofence),
	}
}

func (g *GridIndex) cellOf(p orb.Point) cell {
	return cell{
		col: int(math.Floor(p.Lon() / g.cellDeg)),
		row: int(math.Floor(p.Lat() / g.cellDeg)),
	}
}

// Build replaces the index contents. A geofence is registered in every cell
// its bounding box overlaps.
func (g *GridIndex) Build(fences []*domain.Geofence) {
	cells := make(map[cell][]*domain.Geofence, len(fences))
	for _, f := range fences {
		lo := g.cellOf(f.BBox.Min)
		hi := g.cellOf(f.BBox.Max)
		for col := lo.col; col <= hi.col; col++ {
			for row := lo.row; row <= hi.row; row++ {
				k := cell{col, row}
				cells[k] = append(cells[k], f)
			}
		}
	}
	g.cells = cells
	g.count = len(fences)
}

// Query returns the candidates registered in the cell containing p.
// The returned slice is shared with the index and must not be modified.
func (g *GridIndex) Query(p orb.Point) []*domain.Geofence {
	return g.cells[g.cellOf(p)]
}

// Containing returns the geofences whose circle contains p.
func (g *GridIndex) Containing(p orb.Point) []*domain.Geofence {
	candidates := g.Query(p)
	if len(candidates) == 0 {
		return nil
	}
	var out []*domain.Geofence
	for _, f := range candidates {
		if f.Contains(p) {
			out = append(out, f)
		}
	}
	return out
}

// Len is the number of geofences last passed to Build.
func (g *GridIndex) Len() int { return g.count }

// CellCount is the number of occupied cells.
func (g *GridIndex) CellCount() int { return len(g.cells) }

func (g *GridIndex) CellDeg() float64 { return g.cellDeg }
