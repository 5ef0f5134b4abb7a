package cmd

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/wegman-software/vector2pgsql-go/internal/config"
	"github.com/wegman-software/vector2pgsql-go/internal/pipeline"
	"github.com/wegman-software/vector2pgsql-go/internal/postgis"
)

var indexCmd = &cobra.Command{
	Use:   "index <table>",
	Short: "Create the spatial index on an existing table",
	Long: `Create a GIST index on the geometry column of an existing table, then
ANALYZE it. Does nothing if an equivalent index already exists.`,
	Args: cobra.ExactArgs(1),
	Run:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().String("geometry-column", config.DefaultConfig().GeometryColumn, "Geometry column name")
}

func runIndex(cmd *cobra.Command, args []string) {
	table := args[0]
	ctx := context.Background()

	store, err := connect(ctx)
	if err != nil {
		exitWithCode(pipeline.ExitLoad, "failed to connect to database", err)
	}
	defer store.Close()

	if err := newLoader(store).EnsureSpatialIndex(ctx, table, cfg.GeometryColumn); err != nil {
		pterm.Error.Println(err.Error())
		exitCode = pipeline.ExitLoad
		return
	}
	pterm.Success.Printf("Spatial index %s ready\n", postgis.IndexName(table, cfg.GeometryColumn))
}
