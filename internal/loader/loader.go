// Package loader writes a dataset into a spatial table as one logical
// transaction, in batches, through a Store.
package loader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
)

// DefaultBatchSize is the number of rows written per batch
const DefaultBatchSize = 5000

// Store is a transactional spatial table backend
type Store interface {
	// Begin starts the transaction holding one whole load
	Begin(ctx context.Context) (Tx, error)
	// CreateSpatialIndex builds the spatial index on table.column unless an
	// equivalent one exists. It fails if the table or column is missing.
	CreateSpatialIndex(ctx context.Context, table, column string) error
}

// Tx is one load in progress. Nothing it writes is visible before Commit.
type Tx interface {
	// Prepare applies the if-exists policy and makes sure the table exists
	Prepare(ctx context.Context, schema Schema, mode IfExists) error
	// WriteBatch writes rows and returns how many were written
	WriteBatch(ctx context.Context, schema Schema, rows []Row) (int64, error)
	Commit(ctx context.Context) error
	// Rollback undoes everything since Begin. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// LoadResult is the outcome of one load
type LoadResult struct {
	TableName       string   `yaml:"table_name"`
	RowsLoaded      int64    `yaml:"rows_loaded"`
	IndexesCreated  bool     `yaml:"indexes_created"`
	LoadTimeSeconds float64  `yaml:"load_time_seconds"`
	Batches         int      `yaml:"batches"`
	Errors          []string `yaml:"errors"`

	// Err is the load failure, marked ErrLoad
	Err error `yaml:"-"`
}

// Loader loads datasets into a Store
type Loader struct {
	store          Store
	batchSize      int
	geometryColumn string
	log            *zap.Logger
}

// Option configures a Loader
type Option func(*Loader)

// WithBatchSize sets the rows per batch; values below 1 are ignored
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithGeometryColumn sets the geometry column name
func WithGeometryColumn(name string) Option {
	return func(l *Loader) {
		if name != "" {
			l.geometryColumn = name
		}
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// New creates a Loader writing to store
func New(store Store, opts ...Option) *Loader {
	l := &Loader{store: store, batchSize: DefaultBatchSize, geometryColumn: "geometry"}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.Stage(l.log, "loader")
	return l
}

// BatchSize returns the rows written per batch
func (l *Loader) BatchSize() int { return l.batchSize }

// GeometryColumn returns the geometry column name
func (l *Loader) GeometryColumn() string { return l.geometryColumn }

// LoadDataset writes every feature of ds into table. The whole load is one
// transaction: if any batch fails, or ctx is cancelled, everything written
// so far is rolled back and RowsLoaded is 0.
func (l *Loader) LoadDataset(ctx context.Context, ds *dataset.Dataset, table string, mode IfExists) *LoadResult {
	start := time.Now()
	res := &LoadResult{TableName: table, Errors: []string{}}

	rows, batches, err := l.load(ctx, ds, table, mode)
	res.LoadTimeSeconds = time.Since(start).Seconds()
	res.Batches = batches
	if err != nil {
		err = errors.Load(err, "failed to load data")
		res.Err = err
		res.Errors = append(res.Errors, err.Error())
		l.log.Error("Load rolled back",
			zap.String("table", table),
			zap.Int("batches_attempted", batches),
			zap.Error(err))
		return res
	}

	res.RowsLoaded = rows
	l.log.Info("Load committed",
		zap.String("table", table),
		zap.Int64("rows", rows),
		zap.Int("batches", batches),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return res
}

func (l *Loader) load(ctx context.Context, ds *dataset.Dataset, table string, mode IfExists) (int64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	schema := InferSchema(ds, table, l.geometryColumn)
	for _, c := range schema.Renamed() {
		l.log.Warn("Attribute collides with the geometry column, loading it under a new name",
			zap.String("table", table),
			zap.String("attribute", c.Source),
			zap.String("column", c.Name))
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, 0, errors.Wrap(err, "begin transaction")
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// ctx may already be cancelled; the rollback must still run
		if rerr := tx.Rollback(context.WithoutCancel(ctx)); rerr != nil {
			l.log.Warn("Rollback failed", zap.String("table", table), zap.Error(rerr))
		}
	}()

	if err := tx.Prepare(ctx, schema, mode); err != nil {
		return 0, 0, err
	}

	features := ds.Features()
	var written int64
	batches := 0
	for lo := 0; lo < len(features); lo += l.batchSize {
		if err := ctx.Err(); err != nil {
			return 0, batches, err
		}
		hi := min(lo+l.batchSize, len(features))
		batches++

		rows, err := schema.Rows(features[lo:hi])
		if err != nil {
			return 0, batches, errors.Wrapf(err, "batch %d", batches)
		}
		n, err := tx.WriteBatch(ctx, schema, rows)
		if err != nil {
			return 0, batches, errors.Wrapf(err, "batch %d", batches)
		}
		written += n
		l.log.Debug("Batch written",
			zap.String("table", table),
			zap.Int("batch", batches),
			zap.Int64("rows", n))
	}

	if err := ctx.Err(); err != nil {
		return 0, batches, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, batches, errors.Wrap(err, "commit")
	}
	committed = true
	return written, batches, nil
}

// CreateSpatialIndex builds the spatial index on table.column. It reports
// false, never an error, when the table or column is missing or the build
// fails; calling it again on an indexed column succeeds.
func (l *Loader) CreateSpatialIndex(ctx context.Context, table, column string) bool {
	return l.EnsureSpatialIndex(ctx, table, column) == nil
}

// EnsureSpatialIndex is CreateSpatialIndex returning the failure, marked
// ErrSpatialIndex.
func (l *Loader) EnsureSpatialIndex(ctx context.Context, table, column string) error {
	if column == "" {
		column = l.geometryColumn
	}
	start := time.Now()
	if err := l.store.CreateSpatialIndex(ctx, table, column); err != nil {
		err = errors.Mark(errors.Wrapf(err, "create spatial index on %s.%s", table, column), errors.ErrSpatialIndex)
		l.log.Warn("Spatial index not created", zap.Error(err))
		return err
	}
	l.log.Info("Spatial index ready",
		zap.String("table", table),
		zap.String("column", column),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return nil
}
