package geom

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// MakeValid returns a valid geometry covering as much of g as possible.
// Valid input is returned unchanged. Invalid input is repaired by GEOS:
// non-finite coordinates are dropped, open rings are closed, and for
// polygonal input the slivers of collapsed linework (shared edges, slits,
// spikes) are discarded so the result stays polygonal. Rings come back
// shell counter-clockwise, holes clockwise. A nil geometry, a lone
// non-finite point or anything GEOS cannot read is returned as is.
func MakeValid(g orb.Geometry) orb.Geometry {
	if g == nil || IsValid(g) {
		return g
	}
	if _, ok := g.(orb.Point); ok {
		return g
	}

	var out orb.Geometry
	err := withGEOS(prepare(g), func(gg *geos.Geom) error {
		fixed := gg.MakeValid()
		defer fixed.Destroy()
		var err error
		out, err = fromGEOS(fixed)
		return err
	})
	if err != nil || out == nil {
		return g
	}
	if polygonalInput(g) {
		out = polygonalParts(out)
	}
	return orient(out)
}

// prepare copies g into a form GEOS will parse.
func prepare(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.MultiPoint:
		return orb.MultiPoint(finitePoints(g))
	case orb.LineString:
		return prepareLine(g)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, 0, len(g))
		for _, ls := range g {
			if ls = prepareLine(ls); len(ls) > 0 {
				out = append(out, ls)
			}
		}
		return out
	case orb.Ring:
		return preparePolygon(orb.Polygon{g})
	case orb.Polygon:
		return preparePolygon(g)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, 0, len(g))
		for _, p := range g {
			if p = preparePolygon(p); len(p) > 0 {
				out = append(out, p)
			}
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, 0, len(g))
		for _, c := range g {
			if c, ok := c.(orb.Point); ok && !finite(c) {
				continue
			}
			out = append(out, prepare(c))
		}
		return out
	case orb.Bound:
		return g.ToPolygon()
	}
	return g
}

func finitePoints(pts []orb.Point) []orb.Point {
	out := make([]orb.Point, 0, len(pts))
	for _, p := range pts {
		if finite(p) {
			out = append(out, p)
		}
	}
	return out
}

func prepareLine(ls orb.LineString) orb.LineString {
	out := orb.LineString(finitePoints(ls))
	if len(out) == 1 {
		out = append(out, out[0])
	}
	return out
}

// preparePolygon drops empty rings and closes the rest, padding a ring too
// short for GEOS with its first vertex. A polygon whose shell is empty
// comes back empty.
func preparePolygon(p orb.Polygon) orb.Polygon {
	out := make(orb.Polygon, 0, len(p))
	for i, r := range p {
		pts := finitePoints(r)
		if len(pts) == 0 {
			if i == 0 {
				return orb.Polygon{}
			}
			continue
		}
		if pts[0] != pts[len(pts)-1] {
			pts = append(pts, pts[0])
		}
		for len(pts) < 4 {
			pts = append(pts, pts[0])
		}
		out = append(out, orb.Ring(pts))
	}
	return out
}

func polygonalInput(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Ring, orb.Polygon, orb.MultiPolygon, orb.Bound:
		return true
	}
	return false
}

// polygonalParts keeps the areal members of a mixed result. A collection
// with no areal member is returned unchanged.
func polygonalParts(g orb.Geometry) orb.Geometry {
	c, ok := g.(orb.Collection)
	if !ok {
		return g
	}
	var mp orb.MultiPolygon
	for _, part := range c {
		switch part := part.(type) {
		case orb.Polygon:
			mp = append(mp, part)
		case orb.MultiPolygon:
			mp = append(mp, part...)
		}
	}
	switch len(mp) {
	case 0:
		return g
	case 1:
		return mp[0]
	}
	return mp
}

// orient rewrites the rings of g in place, which is safe because g was
// freshly decoded.
func orient(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Polygon:
		orientPolygon(g)
	case orb.MultiPolygon:
		for _, p := range g {
			orientPolygon(p)
		}
	case orb.Collection:
		for i := range g {
			g[i] = orient(g[i])
		}
	}
	return g
}

func orientPolygon(p orb.Polygon) {
	for i, r := range p {
		if len(r) < 3 {
			continue
		}
		if o := r.Orientation(); (i == 0 && o == orb.CW) || (i > 0 && o == orb.CCW) {
			r.Reverse()
		}
	}
}
