// Package validator inspects an input file and its dataset for structural
// and quality problems. Failures are reported in the result, never returned
// as errors: the caller decides whether to halt.
package validator

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/geom"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// Metadata keys set by ValidateFile
const (
	MetaFeatureCount  = "feature_count"
	MetaGeometryTypes = "geometry_types"
	MetaDetectedCRS   = "detected_crs"
	MetaInvalidCount  = "invalid_count"
	// MetaExtent is [minx, miny, maxx, maxy] in the input CRS, absent when
	// no feature has a geometry
	MetaExtent        = "extent"
)

// Reader reads a vector file into a dataset
type Reader interface {
	Read(ctx context.Context, path string) (*dataset.Dataset, error)
}

// ValidationResult is the outcome of ValidateFile
type ValidationResult struct {
	IsValid  bool           `yaml:"is_valid"`
	Errors   []string       `yaml:"errors"`
	Warnings []string       `yaml:"warnings"`
	Metadata map[string]any `yaml:"metadata"`

	// Err is the first failure, marked with its error kind
	Err error `yaml:"-"`
}

func (r *ValidationResult) fail(err error) *ValidationResult {
	r.IsValid = false
	r.Errors = append(r.Errors, err.Error())
	if r.Err == nil {
		r.Err = err
	}
	return r
}

// GeometryReport counts the features failing the validity predicate
type GeometryReport struct {
	TotalFeatures     int     `yaml:"total_features"`
	InvalidCount      int     `yaml:"invalid_count"`
	InvalidPercentage float64 `yaml:"invalid_percentage"`
	InvalidIndices    []int   `yaml:"invalid_indices"`
}

// Validator checks files and datasets
type Validator struct {
	reader  Reader
	log     *zap.Logger
	workers int
}

// Option configures a Validator
type Option func(*Validator)

// WithLogger sets the logger; the stage name is appended to it
func WithLogger(l *zap.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// WithWorkers sets the number of goroutines running validity checks
func WithWorkers(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.workers = n
		}
	}
}

// New creates a Validator reading files through r
func New(r Reader, opts ...Option) *Validator {
	v := &Validator{reader: r, workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(v)
	}
	v.log = logger.Stage(v.log, "validator")
	return v
}

// ValidateFile checks that path exists, has a supported format and reads
// into a dataset, then records feature count, geometry types, CRS and the
// number of invalid geometries in the metadata.
func (v *Validator) ValidateFile(ctx context.Context, path string) *ValidationResult {
	res, _ := v.Inspect(ctx, path)
	return res
}

// Inspect is ValidateFile that also returns the dataset it read, nil when
// the file could not be read.
func (v *Validator) Inspect(ctx context.Context, path string) (*ValidationResult, *dataset.Dataset) {
	start := time.Now()
	res := &ValidationResult{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		Metadata: map[string]any{},
	}
	v.log.Info("Validating input", zap.String("file", path))

	ds, err := v.reader.Read(ctx, path)
	if err != nil {
		if !errors.Is(err, errors.ErrInput) {
			err = errors.Input(err, "cannot read file")
		}
		v.log.Error("Input rejected", zap.String("file", path), zap.Error(err))
		return res.fail(err), nil
	}

	res.Metadata[MetaFeatureCount] = ds.Len()
	res.Metadata[MetaGeometryTypes] = ds.GeometryTypes()
	if b, ok := ds.Bound(); ok {
		res.Metadata[MetaExtent] = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}

	if crs, ok := DetectCRS(ds); ok {
		res.Metadata[MetaDetectedCRS] = crs.String()
	} else {
		res.Warnings = append(res.Warnings,
			"no CRS set on input; set a CRS on the source file before reprojecting")
	}

	if ds.Len() == 0 {
		res.Warnings = append(res.Warnings, "dataset contains no features")
	}

	report, err := v.CheckGeometryValidity(ctx, ds)
	if err != nil {
		return res.fail(errors.Input(err, "validation interrupted")), ds
	}
	res.Metadata[MetaInvalidCount] = report.InvalidCount
	if report.InvalidCount > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d of %d geometries are invalid (%.1f%%)",
			report.InvalidCount, report.TotalFeatures, report.InvalidPercentage))
	}

	v.log.Info("Validation complete",
		zap.Int("features", ds.Len()),
		zap.Int("invalid", report.InvalidCount),
		zap.Strings("geometry_types", ds.GeometryTypes()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return res, ds
}

// CheckGeometryValidity runs the validity predicate over every feature. The
// dataset is not modified. Indices are reported in feature order. An error
// is returned only if ctx is cancelled.
func (v *Validator) CheckGeometryValidity(ctx context.Context, ds *dataset.Dataset) (GeometryReport, error) {
	report := GeometryReport{TotalFeatures: ds.Len(), InvalidIndices: []int{}}

	invalid := make([]bool, ds.Len())
	err := ds.Each(ctx, v.workers, func(i int, f dataset.Feature) error {
		invalid[i] = !geom.IsValid(f.Geometry)
		return nil
	})
	if err != nil {
		return report, err
	}

	for i, bad := range invalid {
		if bad {
			report.InvalidIndices = append(report.InvalidIndices, i)
			if v.log.Core().Enabled(zap.DebugLevel) {
				v.log.Debug("Invalid geometry",
					zap.Int("index", i),
					zap.String("reason", geom.Reason(ds.Geometry(i))))
			}
		}
	}
	report.InvalidCount = len(report.InvalidIndices)
	if report.TotalFeatures > 0 {
		report.InvalidPercentage = float64(report.InvalidCount) / float64(report.TotalFeatures) * 100
	}
	return report, nil
}

// DetectCRS returns the dataset's CRS; false means the dataset carries none.
func DetectCRS(ds *dataset.Dataset) (proj.CRS, bool) {
	crs := ds.CRS()
	return crs, !crs.IsZero()
}
