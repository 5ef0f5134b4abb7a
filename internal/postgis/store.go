// Package postgis implements loader.Store on PostgreSQL/PostGIS with pgx.
// Each load runs in one transaction: rows are COPYed into a temporary
// staging table per batch and moved into the target with ST_GeomFromEWKB.
package postgis

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
)

const stagingTable = "vector2pgsql_stage"

// Store loads into tables of one database schema
type Store struct {
	pool   *pgxpool.Pool
	schema string
	log    *zap.Logger
}

// Connect opens a pool on connString with up to maxConns connections and
// checks that the server answers.
func Connect(ctx context.Context, connString, schema string, maxConns int) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse connection string")
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to PostgreSQL")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WithHint(errors.Wrap(err, "failed to connect to PostgreSQL"),
			"check DB_HOST, DB_PORT, DB_USER and DB_PASSWORD")
	}
	return NewStore(pool, schema), nil
}

// NewStore wraps an existing pool
func NewStore(pool *pgxpool.Pool, schema string) *Store {
	if schema == "" {
		schema = "public"
	}
	return &Store{pool: pool, schema: schema, log: logger.Stage(nil, "postgis")}
}

// Close closes the pool
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema makes sure PostGIS and the target schema exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS postgis"); err != nil {
		return errors.Wrap(err, "failed to create PostGIS extension")
	}
	if s.schema != "public" {
		sql := "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{s.schema}.Sanitize()
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return errors.Wrap(err, "failed to create schema")
		}
	}
	return nil
}

func (s *Store) ident(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

// IndexName returns the spatial index name for table.column
func IndexName(table, column string) string {
	return fmt.Sprintf("%s_%s_idx", table, column)
}

// Begin starts the load transaction
func (s *Store) Begin(ctx context.Context) (loader.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	return &storeTx{store: s, tx: tx}, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) tableExists(ctx context.Context, q querier, table string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)`,
		s.schema, table).Scan(&exists)
	return exists, err
}

// columns returns the column names of table mapped to their udt names
func (s *Store) columns(ctx context.Context, q querier, table string) (map[string]string, error) {
	rows, err := q.Query(ctx,
		`SELECT column_name, udt_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2`,
		s.schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, udt string
		if err := rows.Scan(&name, &udt); err != nil {
			return nil, err
		}
		cols[name] = udt
	}
	return cols, rows.Err()
}

// CreateSpatialIndex creates a GIST index on table.column unless a GIST
// index on that column already exists, then analyzes the table.
func (s *Store) CreateSpatialIndex(ctx context.Context, table, column string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to acquire connection")
	}
	defer conn.Release()

	cols, err := s.columns(ctx, conn, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return errors.Newf("relation %s does not exist", s.ident(table))
	}
	if _, ok := cols[column]; !ok {
		return errors.Newf("column %q does not exist in %s", column, s.ident(table))
	}

	var exists bool
	err = conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_index i
			JOIN pg_class t ON t.oid = i.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_class ic ON ic.oid = i.indexrelid
			JOIN pg_am am ON am.oid = ic.relam
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(i.indkey)
			WHERE n.nspname = $1 AND t.relname = $2 AND a.attname = $3 AND am.amname = 'gist'
		)`, s.schema, table, column).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "failed to look up existing indexes")
	}
	if exists {
		s.log.Debug("Spatial index already present", zap.String("table", table), zap.String("column", column))
		return nil
	}

	// Ignore error, the default is only slower
	_, _ = conn.Exec(ctx, "SET maintenance_work_mem = '1GB'")

	sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIST (%s)",
		pgx.Identifier{IndexName(table, column)}.Sanitize(), s.ident(table), pgx.Identifier{column}.Sanitize())
	if _, err := conn.Exec(ctx, sql); err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "ANALYZE "+s.ident(table)); err != nil {
		return errors.Wrap(err, "failed to analyze table")
	}
	return nil
}

type storeTx struct {
	store *Store
	tx    pgx.Tx
}

func (t *storeTx) Prepare(ctx context.Context, schema loader.Schema, mode loader.IfExists) error {
	s := t.store
	exists, err := s.tableExists(ctx, t.tx, schema.Table)
	if err != nil {
		return errors.Wrap(err, "failed to check table")
	}

	switch {
	case exists && mode == loader.Fail:
		return errors.Newf("table %s already exists", s.ident(schema.Table))
	case exists && mode == loader.Replace:
		if _, err := t.tx.Exec(ctx, "DROP TABLE "+s.ident(schema.Table)+" CASCADE"); err != nil {
			return errors.Wrap(err, "failed to drop table")
		}
		exists = false
	case exists:
		if err := t.checkAppend(ctx, schema); err != nil {
			return err
		}
	}

	if !exists {
		if _, err := t.tx.Exec(ctx, createTableSQL(s.ident(schema.Table), schema)); err != nil {
			return errors.Wrap(err, "failed to create table")
		}
	}

	if _, err := t.tx.Exec(ctx, createStagingSQL(schema)); err != nil {
		return errors.Wrap(err, "failed to create staging table")
	}
	return nil
}

func (t *storeTx) checkAppend(ctx context.Context, schema loader.Schema) error {
	cols, err := t.store.columns(ctx, t.tx, schema.Table)
	if err != nil {
		return errors.Wrap(err, "failed to read table columns")
	}
	if udt, ok := cols[schema.GeometryColumn]; !ok || udt != "geometry" {
		return errors.Newf("table %s has no geometry column %q", t.store.ident(schema.Table), schema.GeometryColumn)
	}
	for _, c := range schema.Columns {
		if _, ok := cols[c.Name]; !ok {
			return errors.Newf("column %q does not exist in %s", c.Name, t.store.ident(schema.Table))
		}
	}
	return nil
}

func createTableSQL(ident string, schema loader.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", ident)
	for _, c := range schema.Columns {
		fmt.Fprintf(&b, "\t%s %s,\n", pgx.Identifier{c.Name}.Sanitize(), c.Type)
	}
	fmt.Fprintf(&b, "\t%s GEOMETRY(Geometry, %d)\n)", pgx.Identifier{schema.GeometryColumn}.Sanitize(), schema.SRID)
	return b.String()
}

// stagingType is the COPY-friendly type of a column in the staging table
func stagingType(t loader.ColumnType) string {
	if t == loader.JSON {
		return "TEXT"
	}
	return t.String()
}

func createStagingSQL(schema loader.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TEMP TABLE IF NOT EXISTS %s (\n", stagingTable)
	for _, c := range schema.Columns {
		fmt.Fprintf(&b, "\t%s %s,\n", pgx.Identifier{c.Name}.Sanitize(), stagingType(c.Type))
	}
	b.WriteString("\tgeom_ewkb BYTEA\n) ON COMMIT DROP")
	return b.String()
}

func insertSQL(ident string, schema loader.Schema) string {
	cols := make([]string, 0, len(schema.Columns)+1)
	sel := make([]string, 0, len(schema.Columns)+1)
	for _, c := range schema.Columns {
		name := pgx.Identifier{c.Name}.Sanitize()
		cols = append(cols, name)
		if c.Type == loader.JSON {
			sel = append(sel, name+"::jsonb")
		} else {
			sel = append(sel, name)
		}
	}
	cols = append(cols, pgx.Identifier{schema.GeometryColumn}.Sanitize())
	sel = append(sel, "ST_GeomFromEWKB(geom_ewkb)")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		ident, strings.Join(cols, ", "), strings.Join(sel, ", "), stagingTable)
}

func (t *storeTx) WriteBatch(ctx context.Context, schema loader.Schema, rows []loader.Row) (int64, error) {
	copyColumns := make([]string, 0, len(schema.Columns)+1)
	for _, c := range schema.Columns {
		copyColumns = append(copyColumns, c.Name)
	}
	copyColumns = append(copyColumns, "geom_ewkb")

	src := &rowSource{rows: rows, srid: schema.SRID}
	copied, err := t.tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, copyColumns, src)
	if err != nil {
		return 0, errors.Wrap(err, "COPY failed")
	}

	tag, err := t.tx.Exec(ctx, insertSQL(t.store.ident(schema.Table), schema))
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert from staging table")
	}
	if _, err := t.tx.Exec(ctx, "TRUNCATE "+stagingTable); err != nil {
		return 0, errors.Wrap(err, "failed to truncate staging table")
	}
	if tag.RowsAffected() != copied {
		return 0, errors.Newf("inserted %d rows, copied %d", tag.RowsAffected(), copied)
	}
	return copied, nil
}

func (t *storeTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *storeTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// rowSource implements pgx.CopyFromSource over one batch, encoding each
// geometry as EWKB.
type rowSource struct {
	rows    []loader.Row
	srid    int
	idx     int
	current []any
	err     error
}

func (r *rowSource) Next() bool {
	if r.err != nil || r.idx >= len(r.rows) {
		return false
	}
	row := r.rows[r.idx]
	r.idx++

	var geomData []byte
	if row.Geometry != nil {
		geomData, r.err = ewkb.Marshal(row.Geometry, r.srid)
		if r.err != nil {
			r.err = errors.Wrapf(r.err, "row %d", r.idx-1)
			return false
		}
	}
	r.current = append(append(make([]any, 0, len(row.Values)+1), row.Values...), geomData)
	return true
}

func (r *rowSource) Values() ([]any, error) {
	return r.current, nil
}

func (r *rowSource) Err() error {
	return r.err
}
