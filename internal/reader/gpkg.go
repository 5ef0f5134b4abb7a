package reader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// gpkgLayer describes one feature table of a GeoPackage
type gpkgLayer struct {
	table      string
	geomColumn string
	srsID      int
}

func readGeoPackage(ctx context.Context, path string) (*dataset.Dataset, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&_query_only=1")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	layer, err := firstFeatureLayer(ctx, db)
	if err != nil {
		return nil, err
	}

	crs, err := gpkgCRS(ctx, db, layer.srsID)
	if err != nil {
		return nil, err
	}

	pk, err := primaryKey(ctx, db, layer.table)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s", quoteIdent(layer.table))
	if pk != "" {
		query += " ORDER BY " + quoteIdent(pk)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s", layer.table)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var features []dataset.Feature
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		f := dataset.Feature{Properties: make(map[string]any, len(cols))}
		for i, col := range cols {
			switch {
			case strings.EqualFold(col, layer.geomColumn):
				if blob, ok := values[i].([]byte); ok && blob != nil {
					g, err := decodeGeoPackageBinary(blob)
					if err != nil {
						return nil, errors.Wrapf(err, "feature %d", len(features))
					}
					f.Geometry = g
				}
			case strings.EqualFold(col, pk):
			default:
				f.Properties[col] = sqliteValue(values[i])
			}
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return dataset.New(crs, features), nil
}

func firstFeatureLayer(ctx context.Context, db *sql.DB) (gpkgLayer, error) {
	var l gpkgLayer
	err := db.QueryRowContext(ctx, `
		SELECT c.table_name, g.column_name, g.srs_id
		FROM gpkg_contents c
		JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
		WHERE c.data_type = 'features'
		ORDER BY c.table_name
		LIMIT 1`).Scan(&l.table, &l.geomColumn, &l.srsID)
	if err == sql.ErrNoRows {
		return l, errors.New("no feature table in GeoPackage")
	}
	if err != nil {
		return l, errors.Wrap(err, "not a GeoPackage")
	}
	return l, nil
}

// gpkgCRS resolves srs_id through gpkg_spatial_ref_sys. The reserved ids 0
// and -1 mean undefined geographic and cartesian systems, treated as absent.
func gpkgCRS(ctx context.Context, db *sql.DB, srsID int) (proj.CRS, error) {
	if srsID <= 0 {
		return proj.CRS{}, nil
	}
	var org string
	var code int
	err := db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id FROM gpkg_spatial_ref_sys WHERE srs_id = ?`,
		srsID).Scan(&org, &code)
	if err == sql.ErrNoRows {
		return proj.CRS{}, nil
	}
	if err != nil {
		return proj.CRS{}, err
	}
	if org == "" || code <= 0 {
		return proj.CRS{}, nil
	}
	return proj.NewCRS(org, code), nil
}

func primaryKey(ctx context.Context, db *sql.DB, table string) (string, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return "", err
		}
		if pk == 1 {
			return name, nil
		}
	}
	return "", rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func sqliteValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	}
	return v
}

// decodeGeoPackageBinary parses the GeoPackage geometry blob: a "GP" header
// with flags, srs id and optional envelope, followed by standard WKB.
func decodeGeoPackageBinary(b []byte) (orb.Geometry, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, errors.New("invalid GeoPackage geometry header")
	}
	flags := b[3]
	if flags&0x20 != 0 {
		return nil, errors.New("extended GeoPackage geometries are not supported")
	}

	var envelope int
	switch (flags >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, errors.New("invalid GeoPackage envelope indicator")
	}

	offset := 8 + envelope
	if len(b) < offset {
		return nil, errors.New("truncated GeoPackage geometry")
	}
	if flags&0x10 != 0 && len(b) == offset {
		return nil, nil
	}
	return wkb.Unmarshal(b[offset:])
}
