package geom

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Normalize returns a canonical copy of g: rings start at their smallest
// vertex, shells run counter-clockwise and holes clockwise, holes and
// multi-part components are sorted, and open lines run from their smaller
// end. Two geometries covering the same point set with the same structure
// normalize to the same coordinate sequence.
func Normalize(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.MultiPoint:
		out := append(orb.MultiPoint(nil), g...)
		sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
		return out
	case orb.LineString:
		return normalizeLine(g)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(g))
		for i, ls := range g {
			out[i] = normalizeLine(ls)
		}
		sort.SliceStable(out, func(i, j int) bool { return lessSeq(out[i], out[j]) })
		return out
	case orb.Ring:
		return normalizeRing(g, true)
	case orb.Polygon:
		return normalizePolygon(g)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(g))
		for i, p := range g {
			out[i] = normalizePolygon(p)
		}
		sort.SliceStable(out, func(i, j int) bool { return lessPolygon(out[i], out[j]) })
		return out
	case orb.Collection:
		out := make(orb.Collection, len(g))
		for i, c := range g {
			out[i] = Normalize(c)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if ti, tj := TypeName(out[i]), TypeName(out[j]); ti != tj {
				return ti < tj
			}
			return less(firstPoint(out[i]), firstPoint(out[j]))
		})
		return out
	}
	return g
}

func less(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func lessSeq(a, b []orb.Point) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return less(a[i], b[i])
		}
	}
	return len(a) < len(b)
}

func lessPolygon(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) < len(b)
	}
	return lessSeq(a[0], b[0])
}

func firstPoint(g orb.Geometry) orb.Point {
	var p orb.Point
	found := false
	walkPoints(g, func(q orb.Point) {
		if !found {
			p, found = q, true
		}
	})
	return p
}

func normalizeLine(ls orb.LineString) orb.LineString {
	out := append(orb.LineString(nil), ls...)
	if len(out) > 1 && less(out[len(out)-1], out[0]) {
		out.Reverse()
	}
	return out
}

func normalizeRing(r orb.Ring, ccw bool) orb.Ring {
	open := []orb.Point(r)
	if len(open) > 1 && open[0] == open[len(open)-1] {
		open = open[:len(open)-1]
	}
	if len(open) == 0 {
		return orb.Ring{}
	}

	start := 0
	for i, p := range open {
		if less(p, open[start]) {
			start = i
		}
	}
	n := len(open)
	out := make(orb.Ring, 0, n+1)
	for i := 0; i < n; i++ {
		out = append(out, open[(start+i)%n])
	}

	out = append(out, out[0])
	if o := out.Orientation(); (ccw && o == orb.CW) || (!ccw && o == orb.CCW) {
		for i, j := 1, n-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func normalizePolygon(p orb.Polygon) orb.Polygon {
	if len(p) == 0 {
		return orb.Polygon{}
	}
	out := make(orb.Polygon, len(p))
	out[0] = normalizeRing(p[0], true)
	for i, h := range p[1:] {
		out[i+1] = normalizeRing(h, false)
	}
	holes := out[1:]
	sort.SliceStable(holes, func(i, j int) bool { return lessSeq(holes[i], holes[j]) })
	return out
}

// EqualWithin reports whether a and b have the same normalized structure
// and every pair of corresponding coordinates differs by at most tol on
// each axis.
func EqualWithin(a, b orb.Geometry, tol float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return equalNormalized(Normalize(a), Normalize(b), tol)
}

func equalNormalized(a, b orb.Geometry, tol float64) bool {
	switch a := a.(type) {
	case orb.Point:
		b, ok := b.(orb.Point)
		return ok && pointsClose(a, b, tol)
	case orb.MultiPoint:
		b, ok := b.(orb.MultiPoint)
		return ok && seqClose(a, b, tol)
	case orb.LineString:
		b, ok := b.(orb.LineString)
		return ok && seqClose(a, b, tol)
	case orb.MultiLineString:
		b, ok := b.(orb.MultiLineString)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !seqClose(a[i], b[i], tol) {
				return false
			}
		}
		return true
	case orb.Ring:
		b, ok := b.(orb.Ring)
		return ok && ringsClose(a, b, tol)
	case orb.Polygon:
		b, ok := b.(orb.Polygon)
		return ok && polygonsClose(a, b, tol)
	case orb.MultiPolygon:
		b, ok := b.(orb.MultiPolygon)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !polygonsClose(a[i], b[i], tol) {
				return false
			}
		}
		return true
	case orb.Collection:
		b, ok := b.(orb.Collection)
		if !ok || len(a) != len(b) {
			return false
		}
		for i := range a {
			if !equalNormalized(a[i], b[i], tol) {
				return false
			}
		}
		return true
	case orb.Bound:
		b, ok := b.(orb.Bound)
		return ok && pointsClose(a.Min, b.Min, tol) && pointsClose(a.Max, b.Max, tol)
	}
	return false
}

func pointsClose(a, b orb.Point, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}

func seqClose(a, b []orb.Point, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !pointsClose(a[i], b[i], tol) {
			return false
		}
	}
	return true
}

// ringsClose compares two normalized rings. Noise below tol can change
// which vertex a ring starts at, so every rotation of b starting near a[0]
// is tried.
func ringsClose(a, b orb.Ring, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) < 2 {
		return seqClose(a, b, tol)
	}
	n := len(a) - 1
	for k := 0; k < n; k++ {
		if !pointsClose(a[0], b[k], tol) {
			continue
		}
		match := true
		for i := 1; i < n && match; i++ {
			match = pointsClose(a[i], b[(k+i)%n], tol)
		}
		if match {
			return true
		}
	}
	return false
}

func polygonsClose(a, b orb.Polygon, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ringsClose(a[i], b[i], tol) {
			return false
		}
	}
	return true
}

// TypeName returns the simple-feature type name of g, "Null" for nil.
func TypeName(g orb.Geometry) string {
	if g == nil {
		return "Null"
	}
	return g.GeoJSONType()
}

// NumPoints counts the coordinates of g.
func NumPoints(g orb.Geometry) int {
	n := 0
	walkPoints(g, func(orb.Point) { n++ })
	return n
}

// AllPoints reports whether fn holds for every coordinate of g.
func AllPoints(g orb.Geometry, fn func(orb.Point) bool) bool {
	ok := true
	walkPoints(g, func(p orb.Point) {
		if ok && !fn(p) {
			ok = false
		}
	})
	return ok
}

func walkPoints(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			walkPoints(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			walkPoints(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range g {
			walkPoints(p, fn)
		}
	case orb.Collection:
		for _, c := range g {
			walkPoints(c, fn)
		}
	case orb.Bound:
		fn(g.Min)
		fn(g.Max)
	}
}
