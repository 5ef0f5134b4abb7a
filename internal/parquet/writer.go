package parquet

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// Column names of the GeoParquet layout
const (
	GeometryColumn   = "geometry"
	PropertiesColumn = "properties"
	geoMetadataKey   = "geo"
	geoVersion       = "1.0.0"
)

// geoMetadata is the "geo" file metadata defined by GeoParquet
type geoMetadata struct {
	Version       string                    `json:"version"`
	PrimaryColumn string                    `json:"primary_column"`
	Columns       map[string]geoColumnEntry `json:"columns"`
}

type geoColumnEntry struct {
	Encoding      string    `json:"encoding"`
	GeometryTypes []string  `json:"geometry_types"`
	CRS           *projJSON `json:"crs,omitempty"`
	BBox          []float64 `json:"bbox,omitempty"`
}

// projJSON carries only the identifier part of a PROJJSON document
type projJSON struct {
	Type string     `json:"type,omitempty"`
	Name string     `json:"name,omitempty"`
	ID   *projJSONID `json:"id,omitempty"`
}

type projJSONID struct {
	Authority string `json:"authority"`
	Code      int    `json:"code"`
}

func schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: GeometryColumn, Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: PropertiesColumn, Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
}

// Writer writes features to a GeoParquet file with WKB geometry and a JSON
// properties column
type Writer struct {
	file      *os.File
	path      string
	crs       proj.CRS
	batchSize int
	count     int

	// rows are buffered until Close; the geo metadata needs the final bbox
	// and type set
	rows  [][]byte
	props []string
	types map[string]bool
	bound orb.Bound
	empty bool
}

// NewWriter creates a new GeoParquet writer
func NewWriter(path string, crs proj.CRS, batchSize int) (*Writer, error) {
	if batchSize < 1 {
		batchSize = 1
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Writer{
		file:      f,
		path:      path,
		crs:       crs,
		batchSize: batchSize,
		types:     make(map[string]bool),
		empty:     true,
	}, nil
}

// Write appends one feature
func (w *Writer) Write(f dataset.Feature) error {
	var geomWKB []byte
	if f.Geometry != nil {
		b, err := wkb.Marshal(f.Geometry)
		if err != nil {
			return errors.Wrapf(err, "failed to encode geometry %d", w.count)
		}
		geomWKB = b
		w.types[f.Geometry.GeoJSONType()] = true

		if bb := f.Geometry.Bound(); w.empty {
			w.bound, w.empty = bb, false
		} else {
			w.bound = w.bound.Union(bb)
		}
	}

	props, err := propertiesToJSON(f.Properties)
	if err != nil {
		return errors.Wrapf(err, "failed to encode properties %d", w.count)
	}

	w.rows = append(w.rows, geomWKB)
	w.props = append(w.props, props)
	w.count++
	return nil
}

func propertiesToJSON(props map[string]any) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (w *Writer) metadata() (string, error) {
	types := make([]string, 0, len(w.types))
	for t := range w.types {
		types = append(types, t)
	}
	sort.Strings(types)

	entry := geoColumnEntry{Encoding: "WKB", GeometryTypes: types}
	if !w.crs.IsZero() {
		entry.CRS = &projJSON{
			Name: w.crs.String(),
			ID:   &projJSONID{Authority: w.crs.Authority, Code: w.crs.Code},
		}
	}
	if !w.empty {
		entry.BBox = []float64{w.bound.Min[0], w.bound.Min[1], w.bound.Max[0], w.bound.Max[1]}
	}

	b, err := json.Marshal(geoMetadata{
		Version:       geoVersion,
		PrimaryColumn: GeometryColumn,
		Columns:       map[string]geoColumnEntry{GeometryColumn: entry},
	})
	return string(b), err
}

// Close writes all buffered rows in batches and closes the file
func (w *Writer) Close() error {
	geo, err := w.metadata()
	if err != nil {
		w.file.Close()
		return err
	}
	md := arrow.NewMetadata([]string{geoMetadataKey}, []string{geo})
	sc := arrow.NewSchema(schema().Fields(), &md)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
	writer, err := pqarrow.NewFileWriter(sc, w.file, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		w.file.Close()
		return err
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer builder.Release()

	flush := func() error {
		rec := builder.NewRecord()
		defer rec.Release()
		if rec.NumRows() == 0 {
			return nil
		}
		return writer.Write(rec)
	}

	for i := range w.rows {
		if w.rows[i] == nil {
			builder.Field(0).(*array.BinaryBuilder).AppendNull()
		} else {
			builder.Field(0).(*array.BinaryBuilder).Append(w.rows[i])
		}
		builder.Field(1).(*array.StringBuilder).Append(w.props[i])

		if (i+1)%w.batchSize == 0 {
			if err := flush(); err != nil {
				writer.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		writer.Close()
		return err
	}

	if err := writer.Close(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// WriteDataset writes ds to path as GeoParquet
func WriteDataset(path string, ds *dataset.Dataset, batchSize int) error {
	w, err := NewWriter(path, ds.CRS(), batchSize)
	if err != nil {
		return err
	}
	for i := 0; i < ds.Len(); i++ {
		if err := w.Write(ds.Feature(i)); err != nil {
			w.file.Close()
			return err
		}
	}
	return w.Close()
}
