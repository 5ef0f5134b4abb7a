package validator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
	"github.com/wegman-software/vector2pgsql-go/internal/reader"
)

type stubReader struct {
	ds  *dataset.Dataset
	err error
}

func (s stubReader) Read(context.Context, string) (*dataset.Dataset, error) {
	return s.ds, s.err
}

func square(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + 1, y}, {x + 1, y + 1}, {x, y + 1}, {x, y}}}
}

func bowtie(x, y float64) orb.Polygon {
	return orb.Polygon{{{x, y}, {x + 2, y + 2}, {x + 2, y}, {x, y + 2}, {x, y}}}
}

func newValidator(r Reader) *Validator {
	return New(r, WithLogger(zap.NewNop()), WithWorkers(4))
}

func TestValidateFileErrors(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(txt, []byte("not a geospatial file"), 0o644))
	broken := filepath.Join(dir, "broken.geojson")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o644))

	tests := []struct {
		name string
		path string
		want string
	}{
		{"missing", filepath.Join(dir, "nonexistent.shp"), "not found"},
		{"unsupported", txt, "unsupported"},
		{"unreadable", broken, "cannot read file"},
	}

	v := newValidator(reader.New())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.ValidateFile(context.Background(), tt.path)
			assert.False(t, res.IsValid)
			require.NotEmpty(t, res.Errors)
			assert.Contains(t, strings.ToLower(res.Errors[0]), tt.want)
			assert.True(t, errors.Is(res.Err, errors.ErrInput))
			assert.Equal(t, "InputError", errors.Kind(res.Err))
		})
	}
}

func TestValidateFileGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.geojson")
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"name":"Point1"},"geometry":{"type":"Point","coordinates":[0,0]}},
		{"type":"Feature","properties":{"name":"Point2"},"geometry":{"type":"Point","coordinates":[1,1]}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	res := newValidator(reader.New()).ValidateFile(context.Background(), path)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 2, res.Metadata[MetaFeatureCount])
	assert.Equal(t, []string{"Point"}, res.Metadata[MetaGeometryTypes])
	assert.Equal(t, "EPSG:4326", res.Metadata[MetaDetectedCRS])
	assert.Equal(t, 0, res.Metadata[MetaInvalidCount])
	assert.Equal(t, []float64{0, 0, 1, 1}, res.Metadata[MetaExtent])
}

func TestValidateFileWarnings(t *testing.T) {
	ds := dataset.New(proj.CRS{}, []dataset.Feature{
		{Geometry: bowtie(0, 0)},
		{Geometry: square(5, 5)},
	})

	res, got := newValidator(stubReader{ds: ds}).Inspect(context.Background(), "in.geojson")
	assert.True(t, res.IsValid)
	assert.Same(t, ds, got)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "no CRS")
	assert.Contains(t, res.Warnings[1], "1 of 2 geometries are invalid (50.0%)")
	assert.NotContains(t, res.Metadata, MetaDetectedCRS)
	assert.Equal(t, 1, res.Metadata[MetaInvalidCount])
}

func TestValidateFileEmptyDataset(t *testing.T) {
	ds := dataset.New(proj.WGS84, nil)
	res := newValidator(stubReader{ds: ds}).ValidateFile(context.Background(), "in.geojson")
	assert.True(t, res.IsValid)
	assert.Equal(t, []string{"dataset contains no features"}, res.Warnings)
	assert.Equal(t, 0, res.Metadata[MetaFeatureCount])
	assert.NotContains(t, res.Metadata, MetaExtent)
}

func TestValidateFileWrapsPlainReadError(t *testing.T) {
	res := newValidator(stubReader{err: errors.New("disk on fire")}).ValidateFile(context.Background(), "x.shp")
	assert.False(t, res.IsValid)
	assert.Equal(t, "cannot read file: disk on fire", res.Errors[0])
	assert.True(t, errors.Is(res.Err, errors.ErrInput))
}

func TestCheckGeometryValidity(t *testing.T) {
	tests := []struct {
		name        string
		features    []dataset.Feature
		wantInvalid int
		wantPct     float64
		wantIndices []int
	}{
		{
			name:     "all valid",
			features: []dataset.Feature{{Geometry: orb.Point{0, 0}}, {Geometry: orb.Point{1, 1}}},
			wantPct:  0, wantIndices: []int{},
		},
		{
			name:        "one bowtie",
			features:    []dataset.Feature{{Geometry: bowtie(0, 0)}, {Geometry: square(0, 0)}},
			wantInvalid: 1, wantPct: 50, wantIndices: []int{0},
		},
		{
			name:        "null geometry",
			features:    []dataset.Feature{{Geometry: square(0, 0)}, {Geometry: nil}},
			wantInvalid: 1, wantPct: 50, wantIndices: []int{1},
		},
		{
			name:    "empty",
			wantPct: 0, wantIndices: []int{},
		},
	}

	v := newValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := dataset.New(proj.WGS84, tt.features)
			report, err := v.CheckGeometryValidity(context.Background(), ds)
			require.NoError(t, err)
			assert.Equal(t, len(tt.features), report.TotalFeatures)
			assert.Equal(t, tt.wantInvalid, report.InvalidCount)
			assert.InDelta(t, tt.wantPct, report.InvalidPercentage, 1e-9)
			assert.Equal(t, tt.wantIndices, report.InvalidIndices)
		})
	}
}

func TestCheckGeometryValidityHundredPolygons(t *testing.T) {
	fs := make([]dataset.Feature, 100)
	var want []int
	for i := range fs {
		x := float64(i * 3)
		if i%2 == 0 {
			fs[i] = dataset.Feature{Geometry: bowtie(x, 0)}
			want = append(want, i)
		} else {
			fs[i] = dataset.Feature{Geometry: square(x, 0)}
		}
	}
	ds := dataset.New(proj.WGS84, fs)

	report, err := newValidator(nil).CheckGeometryValidity(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 100, report.TotalFeatures)
	assert.Equal(t, 50, report.InvalidCount)
	assert.Equal(t, 50.0, report.InvalidPercentage)
	assert.Equal(t, want, report.InvalidIndices)
}

func TestDetectCRS(t *testing.T) {
	crs, ok := DetectCRS(dataset.New(proj.WGS84, []dataset.Feature{{Geometry: orb.Point{0, 0}}}))
	assert.True(t, ok)
	assert.Equal(t, "EPSG:4326", crs.String())

	_, ok = DetectCRS(dataset.New(proj.CRS{}, []dataset.Feature{{Geometry: orb.Point{0, 0}}}))
	assert.False(t, ok)
}

func pointGrid(n int) *dataset.Dataset {
	fs := make([]dataset.Feature, n)
	for i := range fs {
		fs[i] = dataset.Feature{Geometry: orb.Point{float64(i % 100), float64(i / 100)}}
	}
	return dataset.New(proj.WGS84, fs)
}

func halfBowties() *dataset.Dataset {
	fs := make([]dataset.Feature, 100)
	for i := range fs {
		x := float64(i % 50)
		if i < 50 {
			fs[i] = dataset.Feature{Geometry: square(x, x)}
		} else {
			fs[i] = dataset.Feature{Geometry: bowtie(x, x)}
		}
	}
	return dataset.New(proj.WGS84, fs)
}

func BenchmarkCheckGeometryValidity(b *testing.B) {
	cases := []struct {
		name        string
		ds          *dataset.Dataset
		wantInvalid int
	}{
		{"points_100", pointGrid(100), 0},
		{"points_1000", pointGrid(1000), 0},
		{"polygons_half_invalid", halfBowties(), 50},
	}
	v := New(nil, WithLogger(zap.NewNop()))
	ctx := context.Background()

	for _, bc := range cases {
		b.Run(bc.name, func(b *testing.B) {
			b.ReportAllocs()
			for b.Loop() {
				report, err := v.CheckGeometryValidity(ctx, bc.ds)
				if err != nil {
					b.Fatal(err)
				}
				if report.InvalidCount != bc.wantInvalid {
					b.Fatalf("invalid = %d, want %d", report.InvalidCount, bc.wantInvalid)
				}
			}
		})
	}
}

func BenchmarkDetectCRS(b *testing.B) {
	ds := pointGrid(100)
	for b.Loop() {
		if _, ok := DetectCRS(ds); !ok {
			b.Fatal("no CRS detected")
		}
	}
}
