// Package memstore is an in-memory loader.Store. A transaction works on a
// private copy of the tables it touches, published on commit. Batch failures
// can be injected to exercise rollback.
package memstore

import (
	"context"
	"strings"
	"sync"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
)

// Table is a committed table
type Table struct {
	Schema loader.Schema
	Rows   []loader.Row
}

func (t *Table) clone() *Table {
	return &Table{Schema: t.Schema, Rows: append([]loader.Row(nil), t.Rows...)}
}

// Store holds committed tables and spatial indexes
type Store struct {
	mu      sync.Mutex
	tables  map[string]*Table
	indexes map[string]bool // "table.column"

	failAt  int
	failErr error
	batches []int // sizes of batches written, in order, across transactions
}

// New returns an empty Store
func New() *Store {
	return &Store{tables: make(map[string]*Table), indexes: make(map[string]bool)}
}

// FailOnBatch makes the k-th batch (1-based) of every later transaction fail
// with err. k < 1 disables injection.
func (s *Store) FailOnBatch(k int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt, s.failErr = k, err
}

// Table returns a copy of a committed table
func (s *Store) Table(name string) (Table, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return Table{}, false
	}
	return *t.clone(), true
}

// RowCount returns the committed row count of a table, 0 if it is absent
func (s *Store) RowCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return len(t.Rows)
	}
	return 0
}

// HasIndex reports whether a spatial index exists on table.column
func (s *Store) HasIndex(table, column string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexes[table+"."+column]
}

// IndexCount returns the number of spatial indexes
func (s *Store) IndexCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indexes)
}

// BatchSizes returns the size of every batch written so far, committed or not
func (s *Store) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context) (loader.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{store: s, staged: make(map[string]*Table), dropped: make(map[string]bool)}, nil
}

// CreateSpatialIndex records an index on table.column
func (s *Store) CreateSpatialIndex(ctx context.Context, table, column string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return errors.Newf("relation %q does not exist", table)
	}
	if t.Schema.GeometryColumn != column {
		return errors.Newf("column %q does not exist", column)
	}
	s.indexes[table+"."+column] = true
	return nil
}

type tx struct {
	store   *Store
	staged  map[string]*Table
	dropped map[string]bool
	batch   int
	done    bool
}

func (t *tx) lookup(name string) (*Table, bool) {
	if st, ok := t.staged[name]; ok {
		return st, true
	}
	if t.dropped[name] {
		return nil, false
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	existing, ok := t.store.tables[name]
	if !ok {
		return nil, false
	}
	return existing.clone(), true
}

func (t *tx) Prepare(ctx context.Context, schema loader.Schema, mode loader.IfExists) error {
	if t.done {
		return errors.New("transaction closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	existing, ok := t.lookup(schema.Table)
	switch {
	case !ok:
		t.staged[schema.Table] = &Table{Schema: schema}
	case mode == loader.Fail:
		return errors.Newf("table %q already exists", schema.Table)
	case mode == loader.Replace:
		t.dropped[schema.Table] = true
		t.staged[schema.Table] = &Table{Schema: schema}
	default:
		if err := compatible(existing.Schema, schema); err != nil {
			return err
		}
		t.staged[schema.Table] = existing
	}
	return nil
}

func compatible(have, want loader.Schema) error {
	if have.GeometryColumn != want.GeometryColumn {
		return errors.Newf("column %q does not exist", want.GeometryColumn)
	}
	if want.SRID != have.SRID {
		return errors.Newf("SRID %d does not match table SRID %d", want.SRID, have.SRID)
	}
	cols := make(map[string]loader.ColumnType, len(have.Columns))
	for _, c := range have.Columns {
		cols[c.Name] = c.Type
	}
	for _, c := range want.Columns {
		typ, ok := cols[c.Name]
		if !ok {
			return errors.Newf("column %q does not exist", c.Name)
		}
		if typ != c.Type {
			return errors.Newf("column %q is %s, not %s", c.Name, typ, c.Type)
		}
	}
	return nil
}

func (t *tx) WriteBatch(ctx context.Context, schema loader.Schema, rows []loader.Row) (int64, error) {
	if t.done {
		return 0, errors.New("transaction closed")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tbl, ok := t.staged[schema.Table]
	if !ok {
		return 0, errors.Newf("table %q not prepared", schema.Table)
	}

	t.batch++
	t.store.mu.Lock()
	t.store.batches = append(t.store.batches, len(rows))
	failAt, failErr := t.store.failAt, t.store.failErr
	t.store.mu.Unlock()
	if t.batch == failAt {
		if failErr == nil {
			failErr = errors.Newf("injected failure on batch %d", t.batch)
		}
		return 0, failErr
	}

	tbl.Rows = append(tbl.Rows, remap(tbl.Schema, schema, rows)...)
	return int64(len(rows)), nil
}

// remap reorders row values from the batch schema's column order into the
// table's, leaving missing columns NULL.
func remap(table, batch loader.Schema, rows []loader.Row) []loader.Row {
	pos := make(map[string]int, len(table.Columns))
	for i, c := range table.Columns {
		pos[c.Name] = i
	}
	out := make([]loader.Row, len(rows))
	for r, row := range rows {
		vals := make([]any, len(table.Columns))
		for i, c := range batch.Columns {
			if p, ok := pos[c.Name]; ok {
				vals[p] = row.Values[i]
			}
		}
		out[r] = loader.Row{Geometry: row.Geometry, Values: vals}
	}
	return out
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for name := range t.dropped {
		delete(t.store.tables, name)
		for key := range t.store.indexes {
			if strings.HasPrefix(key, name+".") {
				delete(t.store.indexes, key)
			}
		}
	}
	for name, tbl := range t.staged {
		t.store.tables[name] = tbl
	}
	return nil
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	t.staged, t.dropped = nil, nil
	return nil
}
