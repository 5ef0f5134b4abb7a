package loader

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

// IfExists is the policy for a target table that already exists
type IfExists int

const (
	// Fail refuses to touch an existing table
	Fail IfExists = iota
	// Replace drops and recreates the table
	Replace
	// Append inserts into an existing compatible table
	Append
)

func (m IfExists) String() string {
	switch m {
	case Fail:
		return "fail"
	case Replace:
		return "replace"
	case Append:
		return "append"
	}
	return fmt.Sprintf("IfExists(%d)", int(m))
}

// ParseIfExists parses "fail", "replace" or "append"
func ParseIfExists(s string) (IfExists, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail":
		return Fail, nil
	case "replace":
		return Replace, nil
	case "append":
		return Append, nil
	}
	return Fail, errors.WithHint(errors.Newf("invalid if-exists value %q", s),
		"use one of: fail, replace, append")
}

// ColumnType is the SQL type of an attribute column
type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Float
	Boolean
	JSON
)

func (t ColumnType) String() string {
	switch t {
	case Integer:
		return "BIGINT"
	case Float:
		return "DOUBLE PRECISION"
	case Boolean:
		return "BOOLEAN"
	case JSON:
		return "JSONB"
	}
	return "TEXT"
}

// Column is one attribute column of the target table
type Column struct {
	Name string
	Type ColumnType
	// Source is the feature property the column is read from when it
	// differs from Name
	Source string
}

// Schema describes the target table of a load
type Schema struct {
	Table          string
	GeometryColumn string
	SRID           int
	Columns        []Column
}

// Row is one feature ready to write: values follow Schema.Columns
type Row struct {
	Geometry orb.Geometry
	Values   []any
}

// InferSchema derives the column set of ds. Column types come from the
// attribute values: integers widen to floats, anything else mixed falls
// back to text. An attribute named like the geometry column is loaded as
// <name>_attr.
func InferSchema(ds *dataset.Dataset, table, geometryColumn string) Schema {
	s := Schema{Table: table, GeometryColumn: geometryColumn, SRID: ds.CRS().SRID()}
	names := ds.Columns()
	taken := make(map[string]bool, len(names)+1)
	taken[strings.ToLower(geometryColumn)] = true
	for _, name := range names {
		taken[strings.ToLower(name)] = true
	}

	for _, name := range names {
		col := Column{Name: name}
		if strings.EqualFold(name, geometryColumn) {
			col.Name, col.Source = name+"_attr", name
			for n := 2; taken[strings.ToLower(col.Name)]; n++ {
				col.Name = fmt.Sprintf("%s_attr%d", name, n)
			}
			taken[strings.ToLower(col.Name)] = true
		}
		typ, seen := Text, false
		for i := 0; i < ds.Len(); i++ {
			v, ok := ds.Feature(i).Properties[name]
			if !ok || v == nil {
				continue
			}
			t := typeOf(v)
			switch {
			case !seen:
				typ, seen = t, true
			case typ == t:
			case (typ == Integer && t == Float) || (typ == Float && t == Integer):
				typ = Float
			default:
				typ = Text
			}
		}
		col.Type = typ
		s.Columns = append(s.Columns, col)
	}
	return s
}

// Renamed lists the columns whose name differs from their property
func (s Schema) Renamed() []Column {
	var out []Column
	for _, c := range s.Columns {
		if c.Source != "" {
			out = append(out, c)
		}
	}
	return out
}

func typeOf(v any) ColumnType {
	switch v.(type) {
	case bool:
		return Boolean
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return Integer
	case float32, float64, json.Number:
		return Float
	case string:
		return Text
	case map[string]any, []any:
		return JSON
	}
	return Text
}

// Rows converts features into rows matching s
func (s Schema) Rows(fs []dataset.Feature) ([]Row, error) {
	rows := make([]Row, len(fs))
	for i, f := range fs {
		vals := make([]any, len(s.Columns))
		for c, col := range s.Columns {
			key := col.Name
			if col.Source != "" {
				key = col.Source
			}
			v, err := convert(f.Properties[key], col.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "feature %d column %q", i, col.Name)
			}
			vals[c] = v
		}
		rows[i] = Row{Geometry: f.Geometry, Values: vals}
	}
	return rows, nil
}

func convert(v any, t ColumnType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Integer:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int8:
			return int64(n), nil
		case int16:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case uint8:
			return int64(n), nil
		case uint16:
			return int64(n), nil
		case uint32:
			return int64(n), nil
		}
	case Float:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case json.Number:
			return n.Float64()
		default:
			if i, err := convert(v, Integer); err == nil {
				if i, ok := i.(int64); ok {
					return float64(i), nil
				}
			}
		}
	case Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case map[string]any, []any:
			b, err := json.Marshal(x)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, errors.Newf("cannot store %T as %s", v, t)
}
