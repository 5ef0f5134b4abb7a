package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/parquet"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadErrors(t *testing.T) {
	r := New()
	ctx := context.Background()

	_, err := r.Read(ctx, filepath.Join(t.TempDir(), "missing.shp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found:")
	assert.True(t, errors.Is(err, errors.ErrInput))

	_, err = r.Read(ctx, writeFile(t, "data.csv", "a,b\n"))
	require.Error(t, err)
	assert.Equal(t, "unsupported format: .csv", err.Error())
	assert.Contains(t, errors.FlattenHints(err), ".geojson")

	_, err = r.Read(ctx, writeFile(t, "broken.geojson", "{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read file:")
	assert.True(t, errors.Is(err, errors.ErrInput))

	_, err = r.Read(ctx, writeFile(t, "empty.geojson", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read file:")
}

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a/b/roads.SHP"))
	assert.True(t, Supported("x.GeoJSON"))
	assert.False(t, Supported("x.kml"))
	assert.Equal(t, []string{".geojson", ".gpkg", ".json", ".osm", ".parquet", ".pbf", ".shp"}, SupportedExtensions())
}

func TestReadGeoJSON(t *testing.T) {
	path := writeFile(t, "places.geojson", `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [30.5, 50.4]}, "properties": {"name": "Kyiv", "pop": 2950000}},
			{"type": "Feature", "geometry": null, "properties": {"name": "nowhere"}},
			{"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}, "properties": {}}
		]
	}`)

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, proj.WGS84, ds.CRS())
	assert.Equal(t, orb.Point{30.5, 50.4}, ds.Geometry(0))
	assert.Equal(t, "Kyiv", ds.Feature(0).Properties["name"])
	assert.Nil(t, ds.Geometry(1))
	assert.IsType(t, orb.Polygon{}, ds.Geometry(2))
}

func TestReadGeoJSONLegacyCRS(t *testing.T) {
	path := writeFile(t, "utm.json", `{
		"type": "FeatureCollection",
		"crs": {"type": "name", "properties": {"name": "urn:ogc:def:crs:EPSG::32636"}},
		"features": [{"type": "Feature", "geometry": {"type": "Point", "coordinates": [500000, 0]}, "properties": null}]
	}`)

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, proj.EPSG(32636), ds.CRS())
}

func TestReadGeoJSONSingleFeatureAndGeometry(t *testing.T) {
	ds, err := parseGeoJSON([]byte(`{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"a": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	ds, err = parseGeoJSON([]byte(`{"type": "LineString", "coordinates": [[0, 0], [1, 1]]}`))
	require.NoError(t, err)
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, ds.Geometry(0))

	_, err = parseGeoJSON([]byte(`{"type": "Topology"}`))
	assert.Error(t, err)
}

func TestCRSFromWKT(t *testing.T) {
	tests := []struct {
		name string
		wkt  string
		want proj.CRS
	}{
		{"gdal wgs84", `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433],AUTHORITY["EPSG","4326"]]`, proj.WGS84},
		{"esri wgs84", `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`, proj.WGS84},
		{"esri utm", `PROJCS["WGS_1984_UTM_Zone_36N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"]]`, proj.EPSG(32636)},
		{"esri utm south", `PROJCS["WGS_1984_UTM_Zone_37S",GEOGCS["GCS_WGS_1984"]]`, proj.EPSG(32737)},
		{"esri web mercator", `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984"]]`, proj.WebMercator},
		{"unknown", `PROJCS["Some_Local_Grid",GEOGCS["GCS_Local"]]`, proj.CRS{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, crsFromWKT(tt.wkt))
		})
	}
}

func TestReadOSMXML(t *testing.T) {
	path := writeFile(t, "map.osm", `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <node id="1" lat="0" lon="0"/>
  <node id="2" lat="0" lon="1"/>
  <node id="3" lat="1" lon="1"/>
  <node id="4" lat="1" lon="0"/>
  <node id="5" lat="0.5" lon="0.5"><tag k="amenity" v="cafe"/></node>
  <way id="10">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="4"/><nd ref="1"/>
    <tag k="building" v="yes"/>
  </way>
  <way id="11">
    <nd ref="1"/><nd ref="3"/>
    <tag k="highway" v="path"/>
  </way>
  <way id="12">
    <nd ref="2"/><nd ref="4"/>
  </way>
</osm>`)

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, ds.Len())
	assert.Equal(t, proj.WGS84, ds.CRS())

	assert.Equal(t, orb.Point{0.5, 0.5}, ds.Geometry(0))
	assert.Equal(t, "cafe", ds.Feature(0).Properties["amenity"])
	assert.Equal(t, "node", ds.Feature(0).Properties["osm_type"])

	assert.IsType(t, orb.Polygon{}, ds.Geometry(1))
	assert.Equal(t, int64(10), ds.Feature(1).Properties["osm_id"])
	assert.Equal(t, orb.LineString{{0, 0}, {1, 1}}, ds.Geometry(2))
}

func TestAssembleRings(t *testing.T) {
	ways := []orb.LineString{
		{{0, 0}, {2, 0}},
		{{2, 2}, {2, 0}},
		{{2, 2}, {0, 2}, {0, 0}},
		{{5, 5}, {6, 6}},
	}
	rings := assembleRings(ways)
	require.Len(t, rings, 1)
	assert.Equal(t, orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}, rings[0])
}

func TestAssembleMultipolygon(t *testing.T) {
	outer := []orb.LineString{{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}}
	inner := []orb.LineString{{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}}

	g := assembleMultipolygon(outer, inner)
	p, ok := g.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, p, 2)
	assert.Equal(t, orb.CCW, p[0].Orientation())
	assert.Equal(t, orb.CW, p[1].Orientation())
}

func TestReadGeoParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.parquet")
	in := dataset.New(proj.WebMercator, []dataset.Feature{
		{Geometry: orb.Point{1, 2}, Properties: map[string]any{"k": "v"}},
	})
	require.NoError(t, parquet.WriteDataset(path, in, 100))

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, proj.WebMercator, ds.CRS())
	assert.Equal(t, orb.Point{1, 2}, ds.Geometry(0))
}
