package cleaner

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/wegman-software/vector2pgsql-go/internal/geom"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// Coordinate tolerances for duplicate detection, per CRS unit
const (
	DegreeTolerance = 1e-9
	MetreTolerance  = 1e-4
)

// Tolerance returns the per-axis coordinate tolerance under which two
// geometries in crs count as equal. Absent or unknown units use the
// angular tolerance.
func Tolerance(crs proj.CRS) float64 {
	if crs.Units() == proj.UnitsMetres {
		return MetreTolerance
	}
	return DegreeTolerance
}

type cellKey [2]int64

// dupIndex buckets normalized geometries by the grid cell of their bounding
// box minimum. Geometries equal within tol have minima at most tol apart on
// each axis, so only the 3x3 neighbouring cells need comparing.
type dupIndex struct {
	tol   float64
	cells map[cellKey][]orb.Geometry
}

func newDupIndex(tol float64) *dupIndex {
	return &dupIndex{tol: tol, cells: make(map[cellKey][]orb.Geometry)}
}

func (d *dupIndex) cell(p orb.Point) cellKey {
	return cellKey{int64(math.Floor(p[0] / d.tol)), int64(math.Floor(p[1] / d.tol))}
}

// seen reports whether an equal geometry was added before and adds g if
// not. A nil or non-finite geometry is never a duplicate.
func (d *dupIndex) seen(g orb.Geometry) bool {
	if g == nil || geom.NumPoints(g) == 0 {
		return false
	}
	lo := g.Bound().Min
	if math.IsNaN(lo[0]) || math.IsNaN(lo[1]) || math.IsInf(lo[0], 0) || math.IsInf(lo[1], 0) {
		return false
	}

	norm := geom.Normalize(g)
	key := d.cell(lo)
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, other := range d.cells[cellKey{key[0] + dx, key[1] + dy}] {
				if geom.EqualWithin(norm, other, d.tol) {
					return true
				}
			}
		}
	}
	d.cells[key] = append(d.cells[key], norm)
	return false
}
