// Package pipeline sequences validation, cleaning and loading for one input
// file and aggregates the outcome into a RunReport.
//
// Each stage has its own failure policy: validation halts on an invalid
// input, cleaning never halts except when a requested reprojection fails,
// and loading halts with nothing persisted.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/cleaner"
	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/metrics"
	"github.com/wegman-software/vector2pgsql-go/internal/parquet"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
	"github.com/wegman-software/vector2pgsql-go/internal/validator"
)

// exportBatchSize is the GeoParquet row group size used by the export step
const exportBatchSize = 10000

// Options describes one run
type Options struct {
	InputFile      string
	OutputTable    string
	GeometryColumn string
	TargetCRS      proj.CRS
	IfExists       loader.IfExists

	// SkipCleaning skips geometry repair only; reprojection and dedup still run
	SkipCleaning  bool
	ValidateOnly  bool
	DryRun        bool
	CreateIndexes bool

	// ExportFile, when set, receives a GeoParquet copy of the cleaned dataset
	ExportFile string

	// LoadTimeout bounds the transactional load, 0 means no bound
	LoadTimeout time.Duration
}

// Orchestrator runs the stages in order
type Orchestrator struct {
	validator *validator.Validator
	cleaner   *cleaner.Cleaner
	loader    *loader.Loader
	collector *metrics.Collector
	log       *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithCollector samples resource usage while a run is in progress
func WithCollector(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// New creates an Orchestrator. ld may be nil when no run will reach the
// loading stage (validate-only and dry runs).
func New(v *validator.Validator, c *cleaner.Cleaner, ld *loader.Loader, opts ...Option) *Orchestrator {
	o := &Orchestrator{validator: v, cleaner: c, loader: ld}
	for _, opt := range opts {
		opt(o)
	}
	o.log = logger.Stage(o.log, "pipeline")
	return o
}

// Validate checks path without side effects
func (o *Orchestrator) Validate(ctx context.Context, path string) *validator.ValidationResult {
	return o.validator.ValidateFile(ctx, path)
}

// Process runs the pipeline for opts.InputFile. The returned report is never
// nil; its FailedStage and ExitCode tell whether the run halted.
func (o *Orchestrator) Process(ctx context.Context, opts Options) *RunReport {
	report := &RunReport{
		RunID:       uuid.NewString(),
		InputFile:   opts.InputFile,
		OutputTable: opts.OutputTable,
		Mode:        ModeFull,
		StartedAt:   time.Now().UTC(),
	}
	switch {
	case opts.ValidateOnly:
		report.Mode = ModeValidateOnly
		report.OutputTable = ""
	case opts.DryRun:
		report.Mode = ModeDryRun
	}

	log := o.log.With(zap.String("run_id", report.RunID))
	log.Info("Starting run",
		zap.String("input", opts.InputFile),
		zap.String("table", report.OutputTable),
		zap.String("mode", string(report.Mode)))

	if o.collector != nil {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go o.collector.Start(mctx)
	}

	clock := newStageClock()
	defer func() {
		report.DurationSec = clock.total().Seconds()
		report.StageSeconds = make(map[Stage]float64, len(clock.elapsed))
		for s, d := range clock.elapsed {
			report.StageSeconds[s] = d.Seconds()
		}
		if o.collector != nil {
			o.collector.Collect()
			sum := o.collector.Summary()
			report.Resources = &sum
		}
		if report.Succeeded() {
			log.Info("Run finished", zap.Float64("duration_seconds", report.DurationSec))
		} else {
			log.Error("Run halted",
				zap.String("stage", string(report.FailedStage)),
				zap.String("kind", report.ErrorKind),
				zap.Error(report.Err))
		}
	}()

	if fi, err := os.Stat(opts.InputFile); err == nil {
		report.InputBytes = fi.Size()
	}

	// Validation: fail-fast
	clock.enter(StageValidation)
	vres, ds := o.validator.Inspect(ctx, opts.InputFile)
	report.Validation = vres
	if !vres.IsValid {
		return report.fail(StageValidation, vres.Err)
	}
	if opts.ValidateOnly {
		return report
	}

	// Cleaning: best-effort, except a failed reprojection
	clock.enter(StageCleaning)
	ds, err := o.clean(ctx, ds, opts, report)
	if err != nil {
		return report.fail(StageCleaning, err)
	}

	if opts.ExportFile != "" {
		if err := parquet.WriteDataset(opts.ExportFile, ds, exportBatchSize); err != nil {
			report.Warnings = append(report.Warnings, "export to "+opts.ExportFile+" failed: "+err.Error())
			log.Warn("Export failed", zap.String("file", opts.ExportFile), zap.Error(err))
		} else {
			log.Info("Cleaned dataset exported", zap.String("file", opts.ExportFile))
		}
	}

	if opts.DryRun {
		report.Load = &loader.LoadResult{TableName: opts.OutputTable, Errors: []string{}}
		log.Info("Dry run, skipping load", zap.Int("features", ds.Len()))
		return report
	}

	// Loading: transactional
	clock.enter(StageLoading)
	if o.loader == nil {
		err := errors.Mark(errors.New("no database configured"), errors.ErrLoad)
		report.Load = &loader.LoadResult{TableName: opts.OutputTable, Errors: []string{err.Error()}, Err: err}
		return report.fail(StageLoading, err)
	}

	lctx := ctx
	if opts.LoadTimeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, opts.LoadTimeout)
		defer cancel()
	}
	lres := o.loader.LoadDataset(lctx, ds, opts.OutputTable, opts.IfExists)
	report.Load = lres
	if lres.Err != nil {
		return report.fail(StageLoading, lres.Err)
	}

	if opts.CreateIndexes {
		column := opts.GeometryColumn
		if column == "" {
			column = o.loader.GeometryColumn()
		}
		if err := o.loader.EnsureSpatialIndex(ctx, opts.OutputTable, column); err != nil {
			lres.IndexesCreated = false
			lres.Errors = append(lres.Errors, err.Error())
			report.Warnings = append(report.Warnings, err.Error())
		} else {
			lres.IndexesCreated = true
		}
	}
	return report
}

// clean runs repair, reprojection and dedup in that order, threading the
// dataset forward. Only a failed reprojection is returned as an error.
func (o *Orchestrator) clean(ctx context.Context, ds *dataset.Dataset, opts Options, report *RunReport) (*dataset.Dataset, error) {
	summary := &CleaningSummary{Log: []string{}, FeaturesOut: ds.Len()}
	report.Cleaning = summary

	// an unreachable target is known before any repair work
	if source := ds.CRS(); !source.IsZero() && !proj.Supported(source, opts.TargetCRS) {
		err := errors.WithHint(
			errors.Projectionf("cannot reproject from %s to %s", source, opts.TargetCRS),
			"supported systems: EPSG:4326, EPSG:3857 and the WGS84 UTM zones")
		summary.Errors = append(summary.Errors, err.Error())
		return ds, err
	}

	if opts.SkipCleaning {
		summary.Skipped = append(summary.Skipped, "geometry repair")
		summary.Log = append(summary.Log, "Geometry repair skipped")
	} else {
		res := o.cleaner.FixInvalidGeometries(ctx, ds)
		summary.add(res)
		ds = res.Dataset
	}

	res := o.cleaner.NormalizeCRS(ctx, ds, opts.TargetCRS)
	summary.add(res)
	if res.Err != nil {
		return ds, res.Err
	}
	ds = res.Dataset

	res = o.cleaner.RemoveDuplicates(ctx, ds)
	summary.add(res)
	ds = res.Dataset

	summary.FeaturesOut = ds.Len()
	return ds, nil
}
