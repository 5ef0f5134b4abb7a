// Package dataset defines the tabular-geometry data contract shared by every
// pipeline stage: an ordered list of features with one CRS.
package dataset

import (
	"context"
	"sort"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/vector2pgsql-go/internal/geom"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// Feature is one (geometry, attribute row) pair. Geometry may be nil for
// rows without a shape.
type Feature struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// Dataset is an immutable, ordered sequence of features sharing one CRS.
// Stages never modify a Dataset; they build a new one with WithFeatures.
type Dataset struct {
	crs      proj.CRS
	features []Feature
	columns  []string
}

// New returns a dataset holding a copy of features. A zero crs marks the
// CRS as absent.
func New(crs proj.CRS, features []Feature) *Dataset {
	fs := make([]Feature, len(features))
	copy(fs, features)
	return &Dataset{crs: crs, features: fs, columns: columnOrder(fs)}
}

func columnOrder(fs []Feature) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, f := range fs {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

// CRS returns the dataset's CRS; IsZero reports an absent one.
func (d *Dataset) CRS() proj.CRS { return d.crs }

// Len returns the number of features.
func (d *Dataset) Len() int { return len(d.features) }

// Feature returns the i-th feature.
func (d *Dataset) Feature(i int) Feature { return d.features[i] }

// Geometry returns the i-th feature's geometry.
func (d *Dataset) Geometry(i int) orb.Geometry { return d.features[i].Geometry }

// Features returns a copy of the feature slice.
func (d *Dataset) Features() []Feature {
	fs := make([]Feature, len(d.features))
	copy(fs, d.features)
	return fs
}

// Columns returns attribute names in first-seen order, sorted within each
// feature that introduces new names.
func (d *Dataset) Columns() []string {
	return append([]string(nil), d.columns...)
}

// GeometryTypes returns the sorted set of geometry type names present.
func (d *Dataset) GeometryTypes() []string {
	set := make(map[string]bool)
	for _, f := range d.features {
		set[geom.TypeName(f.Geometry)] = true
	}
	types := make([]string, 0, len(set))
	for t := range set {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Bound returns the bounding box of all non-nil geometries.
func (d *Dataset) Bound() (orb.Bound, bool) {
	var b orb.Bound
	found := false
	for _, f := range d.features {
		if f.Geometry == nil {
			continue
		}
		if !found {
			b, found = f.Geometry.Bound(), true
			continue
		}
		b = b.Union(f.Geometry.Bound())
	}
	return b, found
}

// WithFeatures returns a new dataset with the same CRS and the given
// features.
func (d *Dataset) WithFeatures(features []Feature) *Dataset {
	return New(d.crs, features)
}

// WithCRS returns a new dataset with the given CRS and features.
func (d *Dataset) WithCRS(crs proj.CRS, features []Feature) *Dataset {
	return New(crs, features)
}

// Each calls fn for every feature using up to workers goroutines. Features
// are split into contiguous chunks, so fn may write results into a slice
// indexed by i without locking. The first error cancels the rest.
func (d *Dataset) Each(ctx context.Context, workers int, fn func(i int, f Feature) error) error {
	n := len(d.features)
	if n == 0 {
		return ctx.Err()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				if err := fn(i, d.features[i]); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
