// Package geom implements the simple-feature validity predicate, the
// make-valid repair operation and tolerance-based geometric equality over
// paulmach/orb geometries. Topology is delegated to GEOS.
package geom

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geos"
)

// IsValid reports whether g satisfies the simple-feature validity rules
// and its polygon rings are oriented shell counter-clockwise, holes
// clockwise. A nil geometry is never valid.
func IsValid(g orb.Geometry) bool {
	return Reason(g) == ""
}

// Reason returns a short description of why g is invalid, or "" when it is
// valid.
func Reason(g orb.Geometry) string {
	if g == nil {
		return "null geometry"
	}
	if !AllPoints(g, finite) {
		return "non-finite coordinate"
	}
	if NumPoints(g) == 0 {
		return ""
	}

	var reason string
	err := withGEOS(g, func(gg *geos.Geom) error {
		if !gg.IsValid() {
			reason = gg.IsValidReason()
		}
		return nil
	})
	switch {
	case err != nil:
		return err.Error()
	case reason != "":
		return reason
	}
	return orientationReason(g)
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}

func orientationReason(g orb.Geometry) string {
	switch g := g.(type) {
	case orb.Ring:
		return polygonOrientation(orb.Polygon{g})
	case orb.Polygon:
		return polygonOrientation(g)
	case orb.MultiPolygon:
		for _, p := range g {
			if r := polygonOrientation(p); r != "" {
				return r
			}
		}
	case orb.Collection:
		for _, c := range g {
			if r := orientationReason(c); r != "" {
				return r
			}
		}
	}
	return ""
}

func polygonOrientation(p orb.Polygon) string {
	for i, r := range p {
		if len(r) < 3 {
			continue
		}
		switch o := r.Orientation(); {
		case i == 0 && o == orb.CW:
			return "shell is clockwise"
		case i > 0 && o == orb.CCW:
			return "hole is counter-clockwise"
		}
	}
	return ""
}
