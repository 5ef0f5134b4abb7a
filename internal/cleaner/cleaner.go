// Package cleaner repairs, reprojects and deduplicates datasets. Every
// operation returns a new dataset and never halts the pipeline on its own:
// failures are reported in the result.
package cleaner

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/geom"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// CleaningResult is the outcome of one cleaning operation
type CleaningResult struct {
	Dataset      *dataset.Dataset `yaml:"-"`
	FixedCount   int              `yaml:"fixed_count"`
	RemovedCount int              `yaml:"removed_count"`
	Reprojected  bool             `yaml:"reprojected"`
	Log          []string         `yaml:"cleaning_log"`
	Warnings     []string         `yaml:"warnings,omitempty"`
	Errors       []string         `yaml:"errors,omitempty"`

	// Err is set when the operation could not produce its output, marked
	// with its error kind. Dataset is then the unchanged input.
	Err error `yaml:"-"`
}

func newResult(ds *dataset.Dataset) *CleaningResult {
	return &CleaningResult{Dataset: ds, Log: []string{}}
}

func (r *CleaningResult) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

// Cleaner holds the settings shared by the cleaning operations
type Cleaner struct {
	log     *zap.Logger
	workers int
}

// Option configures a Cleaner
type Option func(*Cleaner)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Cleaner) { c.log = l }
}

// WithWorkers sets the goroutines used for per-feature work
func WithWorkers(n int) Option {
	return func(c *Cleaner) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates a Cleaner
func New(opts ...Option) *Cleaner {
	c := &Cleaner{workers: runtime.NumCPU()}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Stage(c.log, "cleaner")
	return c
}

type repair struct {
	geometry orb.Geometry
	fixed    bool
	warning  string
	note     string
}

// FixInvalidGeometries applies make-valid once to every feature failing the
// validity predicate. Valid features are left untouched. A feature still
// invalid after its repair is kept as it was and reported as a warning.
func (c *Cleaner) FixInvalidGeometries(ctx context.Context, ds *dataset.Dataset) *CleaningResult {
	start := time.Now()
	res := newResult(ds)

	repairs := make([]*repair, ds.Len())
	err := ds.Each(ctx, c.workers, func(i int, f dataset.Feature) error {
		if geom.IsValid(f.Geometry) {
			return nil
		}
		repairs[i] = repairOne(i, f.Geometry)
		return nil
	})
	if err != nil {
		return c.fail(res, errors.Wrap(err, "geometry repair interrupted"))
	}

	features := ds.Features()
	invalid := 0
	for i, r := range repairs {
		if r == nil {
			continue
		}
		invalid++
		if !r.fixed {
			werr := errors.Mark(errors.New(r.warning), errors.ErrGeometryRepair)
			res.Warnings = append(res.Warnings, werr.Error())
			c.log.Warn("Geometry still invalid after repair", zap.Int("index", i), zap.String("reason", r.warning))
			continue
		}
		features[i].Geometry = r.geometry
		res.FixedCount++
		if r.note != "" {
			res.Log = append(res.Log, r.note)
		}
	}

	if invalid == 0 {
		res.logf("No invalid geometries found")
	} else {
		res.Log = append([]string{fmt.Sprintf("Found %d invalid geometries", invalid)}, res.Log...)
		res.logf("Fixed %d geometries using make_valid", res.FixedCount)
		res.Dataset = ds.WithFeatures(features)
	}

	c.log.Info("Geometry repair complete",
		zap.Int("features", ds.Len()),
		zap.Int("invalid", invalid),
		zap.Int("fixed", res.FixedCount),
		zap.Int("unrepaired", len(res.Warnings)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return res
}

func repairOne(i int, g orb.Geometry) *repair {
	if g == nil {
		return &repair{warning: fmt.Sprintf("feature %d: null geometry cannot be repaired", i)}
	}
	fixed := geom.MakeValid(g)
	if fixed == nil || !geom.IsValid(fixed) {
		return &repair{warning: fmt.Sprintf("feature %d: geometry still invalid after repair: %s", i, geom.Reason(fixed))}
	}

	r := &repair{geometry: fixed, fixed: true}
	before, after := planar.Area(g), planar.Area(fixed)
	switch {
	case geom.TypeName(g) != geom.TypeName(fixed) && before > 0 && after < before*0.5:
		r.note = fmt.Sprintf("feature %d: %s repaired as %s, area %.6g -> %.6g",
			i, geom.TypeName(g), geom.TypeName(fixed), before, after)
	case geom.TypeName(g) != geom.TypeName(fixed):
		r.note = fmt.Sprintf("feature %d: %s repaired as %s", i, geom.TypeName(g), geom.TypeName(fixed))
	case before > 0 && after < before*0.5:
		r.note = fmt.Sprintf("feature %d: repair reduced area %.6g -> %.6g", i, before, after)
	}
	return r
}

// NormalizeCRS reprojects ds into target. A dataset already in target is
// returned as is with Reprojected false. A dataset without a CRS, an
// unsupported CRS pair or a transform producing non-finite coordinates is a
// ProjectionError; the input dataset is returned unchanged in that case.
func (c *Cleaner) NormalizeCRS(ctx context.Context, ds *dataset.Dataset, target proj.CRS) *CleaningResult {
	start := time.Now()
	res := newResult(ds)

	source := ds.CRS()
	if source.IsZero() {
		return c.fail(res, errors.WithHint(
			errors.Projectionf("cannot reproject to %s: dataset has no CRS", target),
			"set a CRS on the source file"))
	}
	if source == target {
		res.logf("Already in target CRS: %s", target)
		return res
	}

	tr, err := proj.NewTransformer(source, target)
	if err != nil {
		return c.fail(res, errors.Mark(errors.Wrapf(err, "cannot reproject from %s to %s", source, target), errors.ErrProjection))
	}

	features := ds.Features()
	err = ds.Each(ctx, c.workers, func(i int, f dataset.Feature) error {
		if f.Geometry == nil {
			return nil
		}
		g := tr.Geometry(f.Geometry)
		if !geom.AllPoints(g, finitePoint) {
			return errors.Projectionf("feature %d has coordinates outside the domain of %s", i, source)
		}
		features[i].Geometry = g
		return nil
	})
	if err != nil {
		if !errors.Is(err, errors.ErrProjection) {
			err = errors.Mark(errors.Wrap(err, "reprojection interrupted"), errors.ErrProjection)
		}
		return c.fail(res, err)
	}

	res.Dataset = ds.WithCRS(target, features)
	res.Reprojected = true
	res.logf("Reprojected from %s to %s", source, target)
	c.log.Info("Reprojection complete",
		zap.String("from", source.String()),
		zap.String("to", target.String()),
		zap.Int("features", ds.Len()),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return res
}

func finitePoint(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) && !math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}

// RemoveDuplicates drops every feature whose geometry equals, within the
// CRS tolerance, that of an earlier feature. Attributes are ignored.
func (c *Cleaner) RemoveDuplicates(ctx context.Context, ds *dataset.Dataset) *CleaningResult {
	start := time.Now()
	res := newResult(ds)
	tol := Tolerance(ds.CRS())

	idx := newDupIndex(tol)
	kept := make([]dataset.Feature, 0, ds.Len())
	for i := 0; i < ds.Len(); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return c.fail(res, errors.Wrap(err, "deduplication interrupted"))
			}
		}
		f := ds.Feature(i)
		if idx.seen(f.Geometry) {
			res.RemovedCount++
			continue
		}
		kept = append(kept, f)
	}

	if res.RemovedCount > 0 {
		res.Dataset = ds.WithFeatures(kept)
		res.logf("Removed %d duplicate geometries", res.RemovedCount)
	} else {
		res.logf("No duplicates found")
	}

	c.log.Info("Deduplication complete",
		zap.Int("features", ds.Len()),
		zap.Int("removed", res.RemovedCount),
		zap.Float64("tolerance", tol),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return res
}

func (c *Cleaner) fail(res *CleaningResult, err error) *CleaningResult {
	res.Err = err
	res.Errors = append(res.Errors, err.Error())
	c.log.Error("Cleaning step failed", zap.Error(err))
	return res
}
