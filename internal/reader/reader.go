// Package reader turns vector files into datasets. The format is chosen by
// file extension.
package reader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

type readFunc func(ctx context.Context, path string) (*dataset.Dataset, error)

var formats = map[string]readFunc{
	".geojson": readGeoJSON,
	".json":    readGeoJSON,
	".gpkg":    readGeoPackage,
	".shp":     readShapefile,
	".osm":     readOSMXML,
	".pbf":     readOSMPBF,
	".parquet": readGeoParquet,
}

// SupportedExtensions returns the recognised file extensions, sorted
func SupportedExtensions() []string {
	exts := make([]string, 0, len(formats))
	for ext := range formats {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Supported reports whether path has a readable extension
func Supported(path string) bool {
	_, ok := formats[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FileReader reads any supported format
type FileReader struct{}

// New returns a FileReader
func New() *FileReader {
	return &FileReader{}
}

// Read reads path into a dataset. All failures are InputErrors carrying one
// of the messages "file not found: ...", "unsupported format: ..." or
// "cannot read file: ...".
func (r *FileReader) Read(ctx context.Context, path string) (*dataset.Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Inputf("file not found: %s", path)
		}
		return nil, errors.Input(err, "cannot read file")
	}

	ext := strings.ToLower(filepath.Ext(path))
	read, ok := formats[ext]
	if !ok {
		return nil, errors.WithHintf(errors.Inputf("unsupported format: %s", ext),
			"supported formats: %s", strings.Join(SupportedExtensions(), ", "))
	}

	ds, err := read(ctx, path)
	if err != nil {
		return nil, errors.Input(err, "cannot read file")
	}
	return ds, nil
}
