package proj

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCRS(t *testing.T) {
	tests := []struct {
		in      string
		want    CRS
		wantErr bool
	}{
		{"EPSG:4326", WGS84, false},
		{"epsg:4326", WGS84, false},
		{"4326", WGS84, false},
		{" EPSG:3857 ", WebMercator, false},
		{"EPSG:900913", WebMercator, false},
		{"ESRI:102100", WebMercator, false},
		{"urn:ogc:def:crs:EPSG::32636", EPSG(32636), false},
		{"urn:ogc:def:crs:EPSG:6.6:4326", WGS84, false},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", WGS84, false},
		{"CRS84", WGS84, false},
		{"ESRI:102003", CRS{Authority: "ESRI", Code: 102003}, false},
		{"", CRS{}, true},
		{"EPSG:abc", CRS{}, true},
		{"urn:ogc:def:crs", CRS{}, true},
		{":4326", CRS{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCRS(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCRSProperties(t *testing.T) {
	assert.True(t, CRS{}.IsZero())
	assert.Equal(t, "", CRS{}.String())
	assert.Equal(t, "EPSG:4326", WGS84.String())
	assert.Equal(t, 4326, WGS84.SRID())
	assert.Equal(t, 0, CRS{Authority: "ESRI", Code: 102003}.SRID())

	assert.Equal(t, UnitsDegrees, WGS84.Units())
	assert.Equal(t, UnitsDegrees, EPSG(4269).Units())
	assert.Equal(t, UnitsMetres, WebMercator.Units())
	assert.Equal(t, UnitsMetres, EPSG(32636).Units())
	assert.Equal(t, UnitsUnknown, CRS{}.Units())
	assert.Equal(t, "degrees", UnitsDegrees.String())
}

func TestNewTransformer(t *testing.T) {
	tests := []struct {
		name    string
		source  CRS
		target  CRS
		wantErr bool
	}{
		{"identity", WGS84, WGS84, false},
		{"to mercator", WGS84, WebMercator, false},
		{"utm north to wgs84", EPSG(32636), WGS84, false},
		{"utm south to mercator", EPSG(32736), WebMercator, false},
		{"missing source", CRS{}, WGS84, true},
		{"unsupported source", EPSG(27700), WGS84, true},
		{"unsupported target", WGS84, EPSG(2154), true},
		{"unsupported identity is fine", EPSG(27700), EPSG(27700), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTransformer(tt.source, tt.target)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebMercator(t *testing.T) {
	tr, err := NewTransformer(WGS84, WebMercator)
	require.NoError(t, err)

	p := tr.Point(orb.Point{180, 0})
	assert.InDelta(t, 20037508.342789244, p[0], 1e-6)
	assert.InDelta(t, 0, p[1], 1e-6)

	polar := tr.Point(orb.Point{0, 90})
	assert.False(t, math.IsInf(polar[1], 0))
	assert.InDelta(t, 20037508.342789244, polar[1], 1)

	back, err := NewTransformer(WebMercator, WGS84)
	require.NoError(t, err)
	ll := back.Point(tr.Point(orb.Point{30.5, 50.45}))
	assert.InDelta(t, 30.5, ll[0], 1e-9)
	assert.InDelta(t, 50.45, ll[1], 1e-9)
}

func TestUTM(t *testing.T) {
	tr, err := NewTransformer(EPSG(32636), WGS84)
	require.NoError(t, err)

	// Zone 36 central meridian at the equator
	p := tr.Point(orb.Point{500000, 0})
	assert.InDelta(t, 33, p[0], 1e-9)
	assert.InDelta(t, 0, p[1], 1e-9)

	// Kyiv, roughly (30.5234 E, 50.4501 N)
	fwd, err := NewTransformer(WGS84, EPSG(32636))
	require.NoError(t, err)
	xy := fwd.Point(orb.Point{30.5234, 50.4501})
	assert.InDelta(t, 324100, xy[0], 1000)
	assert.InDelta(t, 5591000, xy[1], 2000)

	ll := tr.Point(xy)
	assert.InDelta(t, 30.5234, ll[0], 1e-6)
	assert.InDelta(t, 50.4501, ll[1], 1e-6)
}

func TestUTMSouth(t *testing.T) {
	fwd, err := NewTransformer(WGS84, EPSG(32736))
	require.NoError(t, err)
	inv, err := NewTransformer(EPSG(32736), WGS84)
	require.NoError(t, err)

	xy := fwd.Point(orb.Point{36.8219, -1.2921}) // Nairobi
	assert.Greater(t, xy[1], 9000000.0)
	ll := inv.Point(xy)
	assert.InDelta(t, 36.8219, ll[0], 1e-6)
	assert.InDelta(t, -1.2921, ll[1], 1e-6)
}

func TestGeometryDoesNotMutateInput(t *testing.T) {
	tr, err := NewTransformer(WGS84, WebMercator)
	require.NoError(t, err)

	in := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}
	out := tr.Geometry(in)

	assert.Equal(t, orb.Point{1, 0}, in[0][1])
	assert.NotEqual(t, in, out)
	assert.IsType(t, orb.Polygon{}, out)
}

func TestGeometryIdentity(t *testing.T) {
	tr, err := NewTransformer(WGS84, WGS84)
	require.NoError(t, err)
	assert.False(t, tr.NeedsTransform())

	in := orb.LineString{{1, 2}, {3, 4}}
	assert.Equal(t, orb.Geometry(in), tr.Geometry(in))
	assert.True(t, Supported(WGS84, WebMercator))
	assert.False(t, Supported(CRS{}, WGS84))
}
