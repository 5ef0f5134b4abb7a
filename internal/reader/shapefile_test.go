package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

const utm36Prj = `PROJCS["WGS_1984_UTM_Zone_36N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["Meter",1.0]]`

func createShapefile(t *testing.T, prj string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "parcels.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)

	w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("AREA", 10),
	})

	// clockwise shell with a counter-clockwise hole, as shapefiles store them
	withHole := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 0}},
		{{X: 2, Y: 2}, {X: 4, Y: 2}, {X: 4, Y: 4}, {X: 2, Y: 4}, {X: 2, Y: 2}},
	}))
	twoParts := shp.Polygon(*shp.NewPolyLine([][]shp.Point{
		{{X: 20, Y: 0}, {X: 20, Y: 1}, {X: 21, Y: 1}, {X: 21, Y: 0}, {X: 20, Y: 0}},
		{{X: 30, Y: 0}, {X: 30, Y: 1}, {X: 31, Y: 1}, {X: 31, Y: 0}, {X: 30, Y: 0}},
	}))

	w.Write(&withHole)
	w.WriteAttribute(0, 0, "lot one")
	w.WriteAttribute(0, 1, 96)
	w.Write(&twoParts)
	w.WriteAttribute(1, 0, "lot two")
	w.WriteAttribute(1, 1, 2)
	w.Close()

	if prj != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "parcels.prj"), []byte(prj), 0o644))
	}
	return path
}

func TestReadShapefile(t *testing.T) {
	path := createShapefile(t, utm36Prj)

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, proj.EPSG(32636), ds.CRS())

	p, ok := ds.Geometry(0).(orb.Polygon)
	require.True(t, ok, "got %T", ds.Geometry(0))
	require.Len(t, p, 2)
	assert.Equal(t, orb.CCW, p[0].Orientation())
	assert.Equal(t, orb.CW, p[1].Orientation())

	mp, ok := ds.Geometry(1).(orb.MultiPolygon)
	require.True(t, ok, "got %T", ds.Geometry(1))
	assert.Len(t, mp, 2)

	assert.Equal(t, "lot one", ds.Feature(0).Properties["NAME"])
	assert.Equal(t, int64(96), ds.Feature(0).Properties["AREA"])
}

func TestReadShapefileWithoutPrj(t *testing.T) {
	path := createShapefile(t, "")

	ds, err := New().Read(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, ds.CRS().IsZero())
}

func TestFieldValue(t *testing.T) {
	tests := []struct {
		name  string
		field shp.Field
		raw   string
		want  any
	}{
		{"integer", shp.NumberField("N", 10), "42", int64(42)},
		{"float", shp.FloatField("F", 10, 2), "4.25", 4.25},
		{"string", shp.StringField("S", 10), "abc  ", "abc"},
		{"empty", shp.StringField("S", 10), "   ", nil},
		{"nul padded", shp.StringField("S", 10), "x\x00\x00", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldValue(tt.field, tt.raw))
		})
	}
}
