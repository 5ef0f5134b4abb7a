package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/vector2pgsql-go/internal/cleaner"
	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/loader/memstore"
	"github.com/wegman-software/vector2pgsql-go/internal/metrics"
	"github.com/wegman-software/vector2pgsql-go/internal/parquet"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
	"github.com/wegman-software/vector2pgsql-go/internal/validator"
)

type stubReader struct {
	ds  *dataset.Dataset
	err error
}

func (s stubReader) Read(context.Context, string) (*dataset.Dataset, error) {
	return s.ds, s.err
}

func square(x float64) orb.Polygon {
	return orb.Polygon{{{x, 0}, {x + 1, 0}, {x + 1, 1}, {x, 1}, {x, 0}}}
}

func bowtie(x float64) orb.Polygon {
	return orb.Polygon{{{x, 0}, {x + 2, 2}, {x + 2, 0}, {x, 2}, {x, 0}}}
}

// sample has 10 features: 8 squares, one self-intersecting polygon and a
// copy of the first square
func sample(crs proj.CRS) *dataset.Dataset {
	fs := make([]dataset.Feature, 0, 10)
	for i := range 8 {
		fs = append(fs, dataset.Feature{Geometry: square(float64(i * 3)), Properties: map[string]any{"id": i}})
	}
	fs = append(fs,
		dataset.Feature{Geometry: bowtie(30), Properties: map[string]any{"id": 8}},
		dataset.Feature{Geometry: square(0), Properties: map[string]any{"id": 9}},
	)
	return dataset.New(crs, fs)
}

func newOrchestrator(r validator.Reader, ld *loader.Loader, opts ...Option) *Orchestrator {
	nop := zap.NewNop()
	opts = append([]Option{WithLogger(nop)}, opts...)
	return New(
		validator.New(r, validator.WithLogger(nop), validator.WithWorkers(2)),
		cleaner.New(cleaner.WithLogger(nop), cleaner.WithWorkers(2)),
		ld,
		opts...,
	)
}

func newLoader(store loader.Store, batch int) *loader.Loader {
	return loader.New(store, loader.WithBatchSize(batch), loader.WithLogger(zap.NewNop()))
}

func defaultOptions() Options {
	return Options{
		InputFile:      "roads.geojson",
		OutputTable:    "roads",
		GeometryColumn: "geometry",
		TargetCRS:      proj.WGS84,
		IfExists:       loader.Replace,
		CreateIndexes:  true,
	}
}

func TestProcessFull(t *testing.T) {
	store := memstore.New()
	collector := metrics.NewCollector(time.Second, zap.NewNop())
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, newLoader(store, 4), WithCollector(collector))

	report := o.Process(context.Background(), defaultOptions())
	require.NoError(t, report.Err)
	assert.True(t, report.Succeeded())
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Equal(t, ModeFull, report.Mode)

	_, err := uuid.Parse(report.RunID)
	assert.NoError(t, err)

	require.NotNil(t, report.Cleaning)
	assert.Equal(t, 1, report.Cleaning.FixedCount)
	assert.Equal(t, 1, report.Cleaning.RemovedCount)
	assert.False(t, report.Cleaning.Reprojected)
	assert.Equal(t, 9, report.Cleaning.FeaturesOut)
	assert.Contains(t, report.Cleaning.Log, "Already in target CRS: EPSG:4326")

	require.NotNil(t, report.Load)
	assert.EqualValues(t, 9, report.Load.RowsLoaded)
	assert.Equal(t, 3, report.Load.Batches)
	assert.True(t, report.Load.IndexesCreated)
	assert.Equal(t, 9, store.RowCount("roads"))
	assert.True(t, store.HasIndex("roads", "geometry"))

	require.NotNil(t, report.Resources)
	assert.GreaterOrEqual(t, report.Resources.Samples, 1)
	assert.Contains(t, report.StageSeconds, StageLoading)
	assert.Contains(t, report.Summary(), "Loaded 9 rows into roads (1 fixed, 1 duplicates removed); spatial index ready")
}

func TestProcessValidationFailure(t *testing.T) {
	store := memstore.New()
	readErr := errors.Inputf("unsupported format: .txt")
	o := newOrchestrator(stubReader{err: readErr}, newLoader(store, 100))

	report := o.Process(context.Background(), defaultOptions())
	assert.Equal(t, StageValidation, report.FailedStage)
	assert.Equal(t, ExitValidation, report.ExitCode())
	assert.Equal(t, "InputError", report.ErrorKind)
	assert.True(t, errors.Is(report.Err, errors.ErrInput))
	assert.Nil(t, report.Cleaning)
	assert.Nil(t, report.Load)

	_, exists := store.Table("roads")
	assert.False(t, exists)
	assert.Equal(t, "Validation failed: unsupported format: .txt. Nothing was cleaned or loaded.", report.Summary())
}

func TestProcessValidateOnly(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	opts := defaultOptions()
	opts.ValidateOnly = true

	report := o.Process(context.Background(), opts)
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.Equal(t, ModeValidateOnly, report.Mode)
	assert.Empty(t, report.OutputTable)
	assert.Nil(t, report.Cleaning)
	assert.Nil(t, report.Load)
	assert.Equal(t, "Validation passed: 10 features, 1 invalid geometries.", report.Summary())
}

func TestValidate(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	res := o.Validate(context.Background(), "roads.geojson")
	assert.True(t, res.IsValid)
	assert.Equal(t, 10, res.Metadata[validator.MetaFeatureCount])
}

func TestProcessDryRun(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	opts := defaultOptions()
	opts.DryRun = true

	report := o.Process(context.Background(), opts)
	require.NoError(t, report.Err)
	assert.Equal(t, ModeDryRun, report.Mode)
	require.NotNil(t, report.Load)
	assert.EqualValues(t, 0, report.Load.RowsLoaded)
	assert.False(t, report.Load.IndexesCreated)
	assert.NotContains(t, report.StageSeconds, StageLoading)
	assert.Equal(t,
		"Dry run: 9 features ready to load (1 fixed, 1 duplicates removed). Nothing was written to the database.",
		report.Summary())
}

func TestProcessCleaningFailure(t *testing.T) {
	store := memstore.New()
	o := newOrchestrator(stubReader{ds: sample(proj.CRS{})}, newLoader(store, 100))

	report := o.Process(context.Background(), defaultOptions())
	assert.Equal(t, StageCleaning, report.FailedStage)
	assert.Equal(t, ExitCleaning, report.ExitCode())
	assert.Equal(t, "ProjectionError", report.ErrorKind)
	require.NotNil(t, report.Validation)
	assert.True(t, report.Validation.IsValid)
	assert.NotEmpty(t, report.Cleaning.Errors)
	assert.Nil(t, report.Load)

	_, exists := store.Table("roads")
	assert.False(t, exists)
	assert.Contains(t, report.Summary(), "10 features were read; nothing was loaded.")
}

func TestProcessUnsupportedCRSPair(t *testing.T) {
	store := memstore.New()
	o := newOrchestrator(stubReader{ds: sample(proj.EPSG(2154))}, newLoader(store, 100))

	report := o.Process(context.Background(), defaultOptions())
	assert.Equal(t, StageCleaning, report.FailedStage)
	assert.Equal(t, ExitCleaning, report.ExitCode())
	assert.Equal(t, "ProjectionError", report.ErrorKind)
	assert.Contains(t, errors.FlattenHints(report.Err), "WGS84 UTM zones")

	// halted before repair ran
	require.NotNil(t, report.Cleaning)
	assert.Equal(t, 0, report.Cleaning.FixedCount)
	assert.Empty(t, report.Cleaning.Log)
	require.Len(t, report.Cleaning.Errors, 1)
	assert.Contains(t, report.Cleaning.Errors[0], "cannot reproject from EPSG:2154 to EPSG:4326")
	assert.Nil(t, report.Load)
}

func TestProcessRecordsInputSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roads.geojson")
	require.NoError(t, os.WriteFile(path, make([]byte, 1536), 0o644))

	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	opts := defaultOptions()
	opts.InputFile = path
	opts.DryRun = true

	report := o.Process(context.Background(), opts)
	require.NoError(t, report.Err)
	assert.EqualValues(t, 1536, report.InputBytes)
	assert.Equal(t, "1.5 KB", FormatBytes(report.InputBytes))

	missing := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil).Process(context.Background(), Options{
		InputFile: filepath.Join(t.TempDir(), "gone.geojson"), TargetCRS: proj.WGS84, ValidateOnly: true,
	})
	assert.Zero(t, missing.InputBytes)
}

func TestProcessReprojects(t *testing.T) {
	fs := make([]dataset.Feature, 20)
	for i := range fs {
		fs[i] = dataset.Feature{Geometry: orb.Point{500000 + float64(i)*1000, 3500000}}
	}
	store := memstore.New()
	o := newOrchestrator(stubReader{ds: dataset.New(proj.EPSG(32636), fs)}, newLoader(store, 100))

	report := o.Process(context.Background(), defaultOptions())
	require.NoError(t, report.Err)
	assert.True(t, report.Cleaning.Reprojected)

	table, ok := store.Table("roads")
	require.True(t, ok)
	assert.Equal(t, 4326, table.Schema.SRID)
	for _, row := range table.Rows {
		p := row.Geometry.(orb.Point)
		assert.InDelta(t, 33, p[0], 1)
		assert.InDelta(t, 31.6, p[1], 0.5)
	}
}

func TestProcessLoadFailure(t *testing.T) {
	store := memstore.New()
	store.FailOnBatch(2, nil)
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, newLoader(store, 5))

	report := o.Process(context.Background(), defaultOptions())
	assert.Equal(t, StageLoading, report.FailedStage)
	assert.Equal(t, ExitLoad, report.ExitCode())
	assert.Equal(t, "LoadError", report.ErrorKind)
	require.NotNil(t, report.Load)
	assert.EqualValues(t, 0, report.Load.RowsLoaded)
	assert.Equal(t, 0, store.RowCount("roads"))
	assert.False(t, store.HasIndex("roads", "geometry"))
	assert.Contains(t, report.Summary(), `0 of 9 rows committed; table "roads" was left in its previous state.`)
}

func TestProcessWithoutLoader(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	report := o.Process(context.Background(), defaultOptions())
	assert.Equal(t, ExitLoad, report.ExitCode())
	assert.Equal(t, "LoadError", report.ErrorKind)
}

func TestProcessSkipCleaning(t *testing.T) {
	store := memstore.New()
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, newLoader(store, 100))
	opts := defaultOptions()
	opts.SkipCleaning = true

	report := o.Process(context.Background(), opts)
	require.NoError(t, report.Err)
	assert.Equal(t, []string{"geometry repair"}, report.Cleaning.Skipped)
	assert.Zero(t, report.Cleaning.FixedCount)
	// dedup still runs
	assert.Equal(t, 1, report.Cleaning.RemovedCount)
	assert.Equal(t, 9, store.RowCount("roads"))
}

func TestProcessIndexFailureIsWarning(t *testing.T) {
	store := memstore.New()
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, newLoader(store, 100))
	opts := defaultOptions()
	opts.GeometryColumn = "geom"

	report := o.Process(context.Background(), opts)
	require.NoError(t, report.Err)
	assert.Equal(t, ExitOK, report.ExitCode())
	assert.False(t, report.Load.IndexesCreated)
	assert.NotEmpty(t, report.Warnings)
	assert.Equal(t, 9, store.RowCount("roads"))
}

func TestProcessExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clean.parquet")
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	opts := defaultOptions()
	opts.DryRun = true
	opts.ExportFile = path

	report := o.Process(context.Background(), opts)
	require.NoError(t, report.Err)
	assert.Empty(t, report.Warnings)

	ds, err := parquet.ReadDataset(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 9, ds.Len())
	assert.Equal(t, proj.WGS84, ds.CRS())
}

func TestProcessExportFailureIsWarning(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, nil)
	opts := defaultOptions()
	opts.DryRun = true
	opts.ExportFile = filepath.Join(t.TempDir(), "missing", "clean.parquet")

	report := o.Process(context.Background(), opts)
	assert.Equal(t, ExitOK, report.ExitCode())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "export to")
}

func TestWriteYAML(t *testing.T) {
	o := newOrchestrator(stubReader{ds: sample(proj.WGS84)}, newLoader(memstore.New(), 100))
	report := o.Process(context.Background(), defaultOptions())

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, report.WriteYAML(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(b, &got))
	assert.Equal(t, report.RunID, got["run_id"])
	assert.Equal(t, "full", got["mode"])
	assert.NotContains(t, got, "failed_stage")

	load, ok := got["load"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 9, load["rows_loaded"])
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		stage Stage
		want  int
	}{
		{StageNone, ExitOK},
		{StageValidation, ExitValidation},
		{StageCleaning, ExitCleaning},
		{StageLoading, ExitLoad},
	}
	for _, tt := range tests {
		r := &RunReport{FailedStage: tt.stage}
		assert.Equal(t, tt.want, r.ExitCode(), "stage %q", tt.stage)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m 5s"},
		{2*time.Hour + 30*time.Minute, "2h 30m 0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.d))
	}
}

func TestFormatThroughput(t *testing.T) {
	assert.Equal(t, "512 rows/s", FormatThroughput(512))
	assert.Equal(t, "12.5K rows/s", FormatThroughput(12500))
	assert.Equal(t, "2.0M rows/s", FormatThroughput(2_000_000))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "3.0 MB", FormatBytes(3*1024*1024))
	assert.Equal(t, "1.0 GB", FormatBytes(1<<30))
}
