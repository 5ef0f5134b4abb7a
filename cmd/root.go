package cmd

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wegman-software/vector2pgsql-go/internal/config"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/logger"
	"github.com/wegman-software/vector2pgsql-go/internal/pipeline"
	"github.com/wegman-software/vector2pgsql-go/internal/postgis"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
	verbose    bool

	// exitCode is set by the command that ran
	exitCode = pipeline.ExitOK
)

// flagKeys maps flags to the configuration keys they override
var flagKeys = map[string]string{
	"db-host":          config.KeyDBHost,
	"db-port":          config.KeyDBPort,
	"db-name":          config.KeyDBName,
	"db-user":          config.KeyDBUser,
	"db-password":      config.KeyDBPassword,
	"db-schema":        config.KeyDBSchema,
	"db-sslmode":       config.KeyDBSSLMode,
	"workers":          config.KeyWorkers,
	"log-file":         config.KeyLogFile,
	"metrics-interval": config.KeyMetricsInterval,
	"batch-size":       config.KeyBatchSize,
	"target-crs":       config.KeyTargetCRS,
	"create-indexes":   config.KeyCreateIndexes,
	"if-exists":        config.KeyIfExists,
	"geometry-column":  config.KeyGeometryColumn,
	"load-timeout":     config.KeyLoadTimeout,
}

var rootCmd = &cobra.Command{
	Use:   "vector2pgsql-go",
	Short: "Validate, clean and load vector files into PostGIS",
	Long: `vector2pgsql-go is a staged data-quality and loading pipeline for
geospatial vector files.

Stages:
  - Validation: reads the file and reports structural and geometry problems
  - Cleaning: repairs invalid geometries, reprojects and removes duplicates
  - Loading: writes the cleaned data to PostGIS in one transaction and
    builds a spatial index

Supported inputs: GeoJSON, GeoPackage, Shapefile, OSM XML/PBF and GeoParquet.

Configuration is read from flags, then DB_* / ETL_* environment variables,
then the --config YAML file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := config.NewViper(configFile)
		if err != nil {
			return err
		}
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return bindErr
		}

		loaded, err := config.Load(v)
		if err != nil {
			return err
		}
		loaded.Verbose = verbose
		cfg = loaded

		if cfg.LogFile != "" {
			logger.InitWithFile(verbose, cfg.LogFile)
		} else {
			logger.Init(verbose)
		}
		return nil
	},
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return pipeline.ExitConfig
	}
	logger.Sync()
	return exitCode
}

func init() {
	d := config.DefaultConfig()

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().IntP("workers", "j", d.Workers, "Number of parallel workers for validity checks and repair")

	// Logging and metrics flags
	rootCmd.PersistentFlags().String("log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().Duration("metrics-interval", 0, "Interval for system metrics logging, 0 disables (e.g., 10s, 1m)")

	// Database flags (persistent so they're available to all subcommands)
	rootCmd.PersistentFlags().String("db-host", d.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().Int("db-port", d.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringP("db-name", "d", d.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringP("db-user", "U", d.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringP("db-password", "W", d.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().String("db-schema", d.DBSchema, "PostgreSQL schema")
	rootCmd.PersistentFlags().String("db-sslmode", d.DBSSLMode, "PostgreSQL sslmode")
}

// connect opens the PostGIS store and makes sure the extension and schema
// exist
func connect(ctx context.Context) (*postgis.Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout+5*time.Second)
	defer cancel()

	store, err := postgis.Connect(ctx, cfg.ConnectionString(), cfg.DBSchema, cfg.Workers+2)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func newLoader(store loader.Store) *loader.Loader {
	return loader.New(store,
		loader.WithBatchSize(cfg.BatchSize),
		loader.WithGeometryColumn(cfg.GeometryColumn),
		loader.WithLogger(logger.Get()),
	)
}

func exitWithError(msg string, err error) {
	exitWithCode(pipeline.ExitConfig, msg, err)
}

func exitWithCode(code int, msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(code)
}
