package cmd

import (
	"context"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/pipeline"
	"github.com/wegman-software/vector2pgsql-go/internal/reader"
	"github.com/wegman-software/vector2pgsql-go/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate <input-file>",
	Short: "Validate a vector file without loading it",
	Long: `Read a vector file and report its feature count, geometry types,
geometry validity and CRS. Nothing is written.

Supported extensions: ` + strings.Join(reader.SupportedExtensions(), ", "),
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) {
	log := logger.Get()
	v := validator.New(reader.New(), validator.WithLogger(log), validator.WithWorkers(cfg.Workers))

	res, ds := v.Inspect(context.Background(), args[0])
	if !res.IsValid {
		for _, e := range res.Errors {
			pterm.Error.Println(e)
		}
		if hints := errors.FlattenHints(res.Err); hints != "" {
			pterm.Info.Println(hints)
		}
		exitCode = pipeline.ExitValidation
		return
	}

	pterm.Success.Println("File is valid")
	pterm.Println()

	pterm.Printf("%s\n", pterm.LightCyan("Metadata"))
	pterm.Printf("  %s %v\n", pterm.Yellow("Features:"), res.Metadata[validator.MetaFeatureCount])
	if types, ok := res.Metadata[validator.MetaGeometryTypes].([]string); ok && len(types) > 0 {
		pterm.Printf("  %s %s\n", pterm.Yellow("Geometry types:"), strings.Join(types, ", "))
	}
	pterm.Printf("  %s %s\n", pterm.Yellow("Columns:"), strings.Join(ds.Columns(), ", "))
	if e, ok := res.Metadata[validator.MetaExtent].([]float64); ok {
		pterm.Printf("  %s %g %g, %g %g\n", pterm.Yellow("Extent:"), e[0], e[1], e[2], e[3])
	}

	total, _ := res.Metadata[validator.MetaFeatureCount].(int)
	invalid, _ := res.Metadata[validator.MetaInvalidCount].(int)
	pct := 0.0
	if total > 0 {
		pct = float64(invalid) / float64(total) * 100
	}
	pterm.Printf("%s\n", pterm.LightCyan("Geometry validity"))
	pterm.Printf("  %s %d\n", pterm.Yellow("Valid:"), total-invalid)
	pterm.Printf("  %s %d (%.1f%%)\n", pterm.Yellow("Invalid:"), invalid, pct)

	crs := "Not set"
	if c, ok := validator.DetectCRS(ds); ok {
		crs = c.String()
	}
	pterm.Printf("%s %s\n", pterm.LightCyan("CRS:"), crs)

	for _, w := range res.Warnings {
		pterm.Warning.Println(w)
	}
}
