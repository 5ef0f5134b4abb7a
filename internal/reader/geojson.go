package reader

import (
	"context"
	"encoding/json"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// legacyCRS is the pre-RFC 7946 "crs" member, still written by many tools
type legacyCRS struct {
	CRS *struct {
		Type       string `json:"type"`
		Properties struct {
			Name string `json:"name"`
			Code int    `json:"code"`
		} `json:"properties"`
	} `json:"crs"`
	Type string `json:"type"`
}

func readGeoJSON(_ context.Context, path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, errors.New("empty file")
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map file")
	}
	defer data.Unmap()

	return parseGeoJSON(data)
}

func parseGeoJSON(data []byte) (*dataset.Dataset, error) {
	var head legacyCRS
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "invalid GeoJSON")
	}

	crs, err := geoJSONCRS(head)
	if err != nil {
		return nil, err
	}

	var features []*geojson.Feature
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, errors.Wrap(err, "invalid GeoJSON")
		}
		features = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, errors.Wrap(err, "invalid GeoJSON")
		}
		features = []*geojson.Feature{f}
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, errors.Newf("unsupported GeoJSON type %q", head.Type)
		}
		features = []*geojson.Feature{geojson.NewFeature(g.Geometry())}
	}

	out := make([]dataset.Feature, len(features))
	for i, f := range features {
		out[i] = dataset.Feature{Geometry: f.Geometry, Properties: map[string]any(f.Properties)}
	}
	return dataset.New(crs, out), nil
}

// geoJSONCRS returns the declared CRS, or WGS84 when none is declared as
// RFC 7946 requires
func geoJSONCRS(head legacyCRS) (proj.CRS, error) {
	if head.CRS == nil {
		return proj.WGS84, nil
	}
	switch head.CRS.Type {
	case "name":
		c, err := proj.ParseCRS(head.CRS.Properties.Name)
		if err != nil {
			return proj.CRS{}, errors.Wrap(err, "invalid crs member")
		}
		return c, nil
	case "EPSG", "epsg":
		return proj.EPSG(head.CRS.Properties.Code), nil
	}
	return proj.CRS{}, errors.Newf("unsupported crs member type %q", head.CRS.Type)
}
