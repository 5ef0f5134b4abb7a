package proj

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

// maxMercatorLat is the latitude at which Web Mercator's square extent ends
const maxMercatorLat = 85.0511287798066

// Transformer handles coordinate transformations between reference systems.
// Every supported pair goes through WGS84 lon/lat.
type Transformer struct {
	Source CRS
	Target CRS

	toWGS84   orb.Projection
	fromWGS84 orb.Projection
}

// NewTransformer creates a transformer from source to target CRS
func NewTransformer(source, target CRS) (*Transformer, error) {
	if source.IsZero() {
		return nil, errors.New("source CRS is not set")
	}
	if target.IsZero() {
		return nil, errors.New("target CRS is not set")
	}

	t := &Transformer{Source: source, Target: target}
	if !t.NeedsTransform() {
		return t, nil
	}

	var err error
	if t.toWGS84, err = inverse(source); err != nil {
		return nil, err
	}
	if t.fromWGS84, err = forward(target); err != nil {
		return nil, err
	}
	return t, nil
}

// Supported reports whether reprojection between the pair is available
func Supported(source, target CRS) bool {
	_, err := NewTransformer(source, target)
	return err == nil
}

func inverse(c CRS) (orb.Projection, error) {
	switch {
	case c == WGS84:
		return nil, nil
	case c == WebMercator:
		return project.Mercator.ToWGS84, nil
	case c.Authority == "EPSG" && isUTM(c.Code):
		z := utmZoneOf(c.Code)
		return z.toLonLat, nil
	}
	return nil, errors.Newf("unsupported source CRS: %s (supported: EPSG:4326, EPSG:3857, WGS84 UTM zones)", c)
}

func forward(c CRS) (orb.Projection, error) {
	switch {
	case c == WGS84:
		return nil, nil
	case c == WebMercator:
		return lonLatToWebMercator, nil
	case c.Authority == "EPSG" && isUTM(c.Code):
		z := utmZoneOf(c.Code)
		return z.fromLonLat, nil
	}
	return nil, errors.Newf("unsupported target CRS: %s (supported: EPSG:4326, EPSG:3857, WGS84 UTM zones)", c)
}

// lonLatToWebMercator clamps latitude to the Mercator extent to avoid
// infinity at the poles
func lonLatToWebMercator(p orb.Point) orb.Point {
	if p[1] > maxMercatorLat {
		p[1] = maxMercatorLat
	} else if p[1] < -maxMercatorLat {
		p[1] = -maxMercatorLat
	}
	return project.WGS84.ToMercator(p)
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.Source != t.Target
}

// Point transforms a single coordinate
func (t *Transformer) Point(p orb.Point) orb.Point {
	if t.toWGS84 != nil {
		p = t.toWGS84(p)
	}
	if t.fromWGS84 != nil {
		p = t.fromWGS84(p)
	}
	return p
}

// Geometry returns a transformed copy of g. The input is not modified.
func (t *Transformer) Geometry(g orb.Geometry) orb.Geometry {
	if g == nil || !t.NeedsTransform() {
		return g
	}
	return project.Geometry(orb.Clone(g), t.Point)
}
