package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/cleaner"
	"github.com/wegman-software/vector2pgsql-go/internal/config"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/metrics"
	"github.com/wegman-software/vector2pgsql-go/internal/pipeline"
	"github.com/wegman-software/vector2pgsql-go/internal/reader"
	"github.com/wegman-software/vector2pgsql-go/internal/validator"
)

var (
	outputTable  string
	validateOnly bool
	skipCleaning bool
	dryRun       bool
	exportFile   string
	reportFile   string
)

var processCmd = &cobra.Command{
	Use:   "process <input-file>",
	Short: "Run the full pipeline (validate → clean → load)",
	Long: `Run the complete pipeline on one vector file:

  1. Validation: fail-fast, nothing runs after an unreadable input
  2. Cleaning: repair invalid geometries, reproject to --target-crs and
     drop duplicate geometries
  3. Loading: one transaction in batches of --batch-size rows; on any
     failure nothing is committed

Exit codes: 0 success, 1 usage or configuration error, 2 validation
failure, 3 cleaning failure, 4 load failure.`,
	Args: cobra.ExactArgs(1),
	Run:  runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
	d := config.DefaultConfig()

	processCmd.Flags().StringVarP(&outputTable, "output-table", "o", d.OutputTable, "Target table name")
	processCmd.Flags().BoolVar(&validateOnly, "validate-only", false, "Only validate the input")
	processCmd.Flags().BoolVar(&skipCleaning, "skip-cleaning", false, "Skip geometry repair (reprojection and dedup still run)")
	processCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and clean without touching the database")
	processCmd.Flags().StringVar(&exportFile, "export", "", "Write the cleaned dataset to this GeoParquet file")
	processCmd.Flags().StringVar(&reportFile, "report", "", "Write the run report to this YAML file")

	processCmd.Flags().String("target-crs", d.TargetCRS, "Target CRS (e.g., EPSG:4326, EPSG:3857)")
	processCmd.Flags().String("if-exists", d.IfExists, "What to do if the table exists: fail, replace or append")
	processCmd.Flags().Int("batch-size", d.BatchSize, "Rows written per batch")
	processCmd.Flags().Bool("create-indexes", d.CreateIndexes, "Create a spatial index after loading")
	processCmd.Flags().String("geometry-column", d.GeometryColumn, "Geometry column name")
	processCmd.Flags().Duration("load-timeout", d.LoadTimeout, "Upper bound on the transactional load")
}

func runProcess(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	cfg.OutputTable = outputTable
	cfg.ValidateOnly = validateOnly
	cfg.SkipCleaning = skipCleaning
	cfg.DryRun = dryRun
	cfg.ExportFile = exportFile
	cfg.ReportFile = reportFile

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}
	target, _ := cfg.CRS()
	mode, _ := cfg.Mode()
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting vector2pgsql-go",
		zap.String("input", cfg.InputFile),
		zap.String("output", fmt.Sprintf("%s:%d/%s.%s", cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.OutputTable)),
		zap.String("target_crs", target.String()),
		zap.String("if_exists", mode.String()),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("workers", cfg.Workers),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("validate_only", cfg.ValidateOnly))

	v := validator.New(reader.New(), validator.WithLogger(log), validator.WithWorkers(cfg.Workers))
	c := cleaner.New(cleaner.WithLogger(log), cleaner.WithWorkers(cfg.Workers))

	var opts []pipeline.Option
	opts = append(opts, pipeline.WithLogger(log))
	if cfg.MetricsInterval > 0 {
		opts = append(opts, pipeline.WithCollector(metrics.NewCollector(cfg.MetricsInterval, log)))
		log.Info("System metrics collection started", zap.Duration("interval", cfg.MetricsInterval))
	}

	// the database is only needed when the run can reach the loader; an
	// unreadable extension halts at validation
	var orch *pipeline.Orchestrator
	if cfg.ValidateOnly || cfg.DryRun || !reader.Supported(cfg.InputFile) {
		orch = pipeline.New(v, c, nil, opts...)
	} else {
		store, err := connect(ctx)
		if err != nil {
			exitWithCode(pipeline.ExitLoad, "failed to connect to database", err)
		}
		defer store.Close()
		orch = pipeline.New(v, c, newLoader(store), opts...)
	}

	report := orch.Process(ctx, pipeline.Options{
		InputFile:      cfg.InputFile,
		OutputTable:    cfg.OutputTable,
		GeometryColumn: cfg.GeometryColumn,
		TargetCRS:      target,
		IfExists:       mode,
		SkipCleaning:   cfg.SkipCleaning,
		ValidateOnly:   cfg.ValidateOnly,
		DryRun:         cfg.DryRun,
		CreateIndexes:  cfg.CreateIndexes,
		ExportFile:     cfg.ExportFile,
		LoadTimeout:    cfg.LoadTimeout,
	})

	printReport(report)
	if cfg.ReportFile != "" {
		if err := report.WriteYAML(cfg.ReportFile); err != nil {
			log.Warn("Run report not written", zap.String("file", cfg.ReportFile), zap.Error(err))
		} else {
			log.Info("Run report written", zap.String("file", cfg.ReportFile))
		}
	}
	exitCode = report.ExitCode()
}

func printReport(r *pipeline.RunReport) {
	pterm.Println()
	if r.InputBytes > 0 {
		pterm.Printf("%s %s (%s)\n", pterm.Gray("Input:"), r.InputFile, pipeline.FormatBytes(r.InputBytes))
	}
	if v := r.Validation; v != nil {
		pterm.Printf("%s\n", pterm.LightCyan("Validation"))
		for _, e := range v.Errors {
			pterm.Printf("  %s %s\n", pterm.Red("✗"), e)
		}
		for _, w := range v.Warnings {
			pterm.Printf("  %s %s\n", pterm.Yellow("!"), w)
		}
		if v.IsValid {
			pterm.Printf("  %s %v features\n", pterm.Green("✓"), v.Metadata[validator.MetaFeatureCount])
		}
	}

	if c := r.Cleaning; c != nil {
		pterm.Printf("%s\n", pterm.LightCyan("Cleaning"))
		for _, line := range c.Log {
			pterm.Printf("  %s %s\n", pterm.Gray("→"), line)
		}
		for _, w := range c.Warnings {
			pterm.Printf("  %s %s\n", pterm.Yellow("!"), w)
		}
		for _, e := range c.Errors {
			pterm.Printf("  %s %s\n", pterm.Red("✗"), e)
		}
	}

	if l := r.Load; l != nil && r.Mode == pipeline.ModeFull {
		pterm.Printf("%s\n", pterm.LightCyan("Loading"))
		pterm.Printf("  %s %d rows in %d batches (%s)\n", pterm.Gray("→"), l.RowsLoaded, l.Batches,
			pipeline.FormatDuration(time.Duration(l.LoadTimeSeconds*float64(time.Second))))
		for _, e := range l.Errors {
			pterm.Printf("  %s %s\n", pterm.Red("✗"), e)
		}
	}

	for _, w := range r.Warnings {
		pterm.Warning.Println(w)
	}
	if r.Resources != nil {
		pterm.Printf("%s peak RSS %.1f MB\n", pterm.Gray("Resources:"), r.Resources.PeakRSSMB)
	}

	pterm.Println()
	if r.Succeeded() {
		pterm.Success.Println(r.Summary())
	} else {
		pterm.Error.Println(r.Summary())
	}
	pterm.Printf("%s %s\n", pterm.Gray("Run ID:"), r.RunID)
}
