package reader

import (
	"context"

	"github.com/wegman-software/vector2pgsql-go/internal/dataset"
	"github.com/wegman-software/vector2pgsql-go/internal/parquet"
)

func readGeoParquet(ctx context.Context, path string) (*dataset.Dataset, error) {
	return parquet.ReadDataset(ctx, path)
}
