package reader

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

func readShapefile(_ context.Context, path string) (*dataset.Dataset, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	crs, err := readPrj(strings.TrimSuffix(path, ".shp") + ".prj")
	if err != nil {
		return nil, err
	}

	fields := r.Fields()
	var features []dataset.Feature
	for r.Next() {
		n, shape := r.Shape()
		f := dataset.Feature{
			Geometry:   shapeGeometry(shape),
			Properties: make(map[string]any, len(fields)),
		}
		for k, field := range fields {
			f.Properties[field.String()] = fieldValue(field, r.ReadAttribute(n, k))
		}
		features = append(features, f)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	return dataset.New(crs, features), nil
}

// readPrj reads the sidecar projection file. A missing .prj means the
// shapefile carries no CRS.
func readPrj(path string) (proj.CRS, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// also try the upper-case variant written by some tools
		data, err = os.ReadFile(strings.TrimSuffix(path, ".prj") + ".PRJ")
		if os.IsNotExist(err) {
			return proj.CRS{}, nil
		}
	}
	if err != nil {
		return proj.CRS{}, err
	}
	return crsFromWKT(string(data)), nil
}

func fieldValue(f shp.Field, raw string) any {
	raw = strings.TrimSpace(strings.Trim(raw, "\x00"))
	if raw == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case 'F':
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	case 'L':
		switch strings.ToUpper(raw) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return raw
}

func shapeGeometry(s shp.Shape) orb.Geometry {
	switch s := s.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return multiPoint(s.Points)
	case *shp.MultiPointZ:
		return multiPoint(s.Points)
	case *shp.PolyLine:
		return lines(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return lines(s.Parts, s.Points)
	case *shp.Polygon:
		return polygons(s.Parts, s.Points)
	case *shp.PolygonZ:
		return polygons(s.Parts, s.Points)
	}
	return nil
}

func multiPoint(pts []shp.Point) orb.MultiPoint {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func split(parts []int32, pts []shp.Point) [][]orb.Point {
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(pts))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(pts) {
			continue
		}
		seq := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seq = append(seq, orb.Point{p.X, p.Y})
		}
		out = append(out, seq)
	}
	return out
}

func lines(parts []int32, pts []shp.Point) orb.Geometry {
	seqs := split(parts, pts)
	if len(seqs) == 1 {
		return orb.LineString(seqs[0])
	}
	mls := make(orb.MultiLineString, len(seqs))
	for i, s := range seqs {
		mls[i] = orb.LineString(s)
	}
	return mls
}

// polygons groups shapefile rings into polygons. Shapefile outer rings are
// clockwise and holes counter-clockwise; the result uses the simple-feature
// orientation (counter-clockwise shells).
func polygons(parts []int32, pts []shp.Point) orb.Geometry {
	var shells []orb.Polygon
	var holes []orb.Ring
	for _, seq := range split(parts, pts) {
		r := orb.Ring(seq)
		if r.Orientation() == orb.CW {
			r.Reverse()
			shells = append(shells, orb.Polygon{r})
		} else {
			r.Reverse()
			holes = append(holes, r)
		}
	}

	for _, h := range holes {
		placed := false
		for i := range shells {
			if len(h) > 0 && planar.RingContains(shells[i][0], h[0]) {
				shells[i] = append(shells[i], h)
				placed = true
				break
			}
		}
		if !placed {
			// orphan hole: keep its area as a polygon of its own
			h.Reverse()
			shells = append(shells, orb.Polygon{h})
		}
	}

	switch len(shells) {
	case 0:
		return orb.Polygon{}
	case 1:
		return shells[0]
	}
	return orb.MultiPolygon(shells)
}

// crsFromWKT recognises the projection definitions written for the
// reference systems the pipeline can handle, plus any WKT carrying an EPSG
// AUTHORITY clause.
func crsFromWKT(wkt string) proj.CRS {
	upper := strings.ToUpper(wkt)

	// The outermost AUTHORITY clause comes last in WKT1.
	if i := strings.LastIndex(upper, `AUTHORITY["EPSG",`); i >= 0 {
		rest := upper[i+len(`AUTHORITY["EPSG",`):]
		rest = strings.TrimLeft(rest, ` "`)
		if j := strings.IndexAny(rest, `"]`); j > 0 {
			if code, err := strconv.Atoi(strings.TrimSpace(rest[:j])); err == nil {
				return proj.EPSG(code)
			}
		}
	}

	if strings.Contains(upper, "WEB_MERCATOR") || strings.Contains(upper, "PSEUDO-MERCATOR") ||
		strings.Contains(upper, "PSEUDO_MERCATOR") {
		return proj.WebMercator
	}

	if i := strings.Index(upper, "UTM_ZONE_"); i >= 0 && strings.Contains(upper, "WGS_1984") {
		rest := upper[i+len("UTM_ZONE_"):]
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if zone, err := strconv.Atoi(rest[:j]); err == nil && zone >= 1 && zone <= 60 && j < len(rest) {
			switch rest[j] {
			case 'N':
				return proj.EPSG(32600 + zone)
			case 'S':
				return proj.EPSG(32700 + zone)
			}
		}
	}

	if !strings.Contains(upper, "PROJCS") && strings.Contains(upper, "GEOGCS") &&
		(strings.Contains(upper, "WGS_1984") || strings.Contains(upper, "WGS 84")) {
		return proj.WGS84
	}
	return proj.CRS{}
}
