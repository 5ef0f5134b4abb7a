package parquet

import (
	"context"
	"encoding/json"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// ReadDataset reads a GeoParquet file written by Writer, or any GeoParquet
// file with a WKB primary geometry column. Columns other than the geometry
// become properties; a "properties" JSON column is expanded.
func ReadDataset(ctx context.Context, path string) (*dataset.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open parquet file")
	}
	defer f.Close()

	pf, err := file.NewParquetReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create parquet reader")
	}
	defer pf.Close()

	meta := geoMetadata{PrimaryColumn: GeometryColumn}
	if v := pf.MetaData().KeyValueMetadata().FindValue(geoMetadataKey); v != nil {
		if err := json.Unmarshal([]byte(*v), &meta); err != nil {
			return nil, errors.Wrap(err, "invalid geo metadata")
		}
	}
	crs := metadataCRS(meta)

	arrowReader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create arrow reader")
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read table")
	}
	defer tbl.Release()

	features := make([]dataset.Feature, tbl.NumRows())
	for i := range features {
		features[i].Properties = make(map[string]any)
	}

	sc := tbl.Schema()
	for c := 0; c < int(tbl.NumCols()); c++ {
		name := sc.Field(c).Name
		row := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				if err := setValue(&features[row], name, meta.PrimaryColumn, chunk, i); err != nil {
					return nil, errors.Wrapf(err, "row %d", row)
				}
				row++
			}
		}
	}

	return dataset.New(crs, features), nil
}

func setValue(f *dataset.Feature, name, geomColumn string, chunk arrow.Array, i int) error {
	if chunk.IsNull(i) {
		if name != geomColumn && name != PropertiesColumn {
			f.Properties[name] = nil
		}
		return nil
	}

	switch name {
	case geomColumn:
		bin, ok := chunk.(*array.Binary)
		if !ok {
			return errors.Newf("geometry column %q is not binary", name)
		}
		g, err := wkb.Unmarshal(bin.Value(i))
		if err != nil {
			return errors.Wrap(err, "failed to decode geometry")
		}
		f.Geometry = g
		return nil
	case PropertiesColumn:
		if s, ok := chunk.(*array.String); ok {
			return json.Unmarshal([]byte(s.Value(i)), &f.Properties)
		}
	}

	switch a := chunk.(type) {
	case *array.String:
		f.Properties[name] = a.Value(i)
	case *array.Int64:
		f.Properties[name] = a.Value(i)
	case *array.Int32:
		f.Properties[name] = int64(a.Value(i))
	case *array.Float64:
		f.Properties[name] = a.Value(i)
	case *array.Float32:
		f.Properties[name] = float64(a.Value(i))
	case *array.Boolean:
		f.Properties[name] = a.Value(i)
	default:
		f.Properties[name] = a.ValueStr(i)
	}
	return nil
}

func metadataCRS(meta geoMetadata) proj.CRS {
	col, ok := meta.Columns[meta.PrimaryColumn]
	if !ok {
		return proj.CRS{}
	}
	if col.CRS == nil {
		// GeoParquet defaults a missing crs to OGC:CRS84
		return proj.WGS84
	}
	if col.CRS.ID != nil {
		return proj.NewCRS(col.CRS.ID.Authority, col.CRS.ID.Code)
	}
	if c, err := proj.ParseCRS(col.CRS.Name); err == nil {
		return c
	}
	return proj.CRS{}
}
