package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
	"github.com/wegman-software/vector2pgsql-go/internal/loader"
	"github.com/wegman-software/vector2pgsql-go/internal/proj"
)

// Config holds the configuration for one pipeline run
type Config struct {
	// Input settings
	InputFile string

	// Output settings
	OutputTable    string
	GeometryColumn string
	TargetCRS      string // e.g. "EPSG:4326"
	IfExists       string // fail, replace or append
	ExportFile     string // GeoParquet copy of the cleaned dataset
	ReportFile     string // YAML run report

	// Database settings
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSchema   string
	DBSSLMode  string

	// Processing settings
	Workers        int
	BatchSize      int
	LoadTimeout    time.Duration // upper bound on one transactional load
	ConnectTimeout time.Duration

	// Feature flags
	CreateIndexes bool
	SkipCleaning  bool // skip geometry repair only
	ValidateOnly  bool
	DryRun        bool
	Verbose       bool

	// Logging and metrics
	LogFile         string        // Path to log file (empty = no file logging)
	MetricsInterval time.Duration // Interval for system metrics logging, 0 disables
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputTable:     "processed_data",
		GeometryColumn:  "geometry",
		TargetCRS:       "EPSG:4326",
		IfExists:        "replace",
		DBHost:          "localhost",
		DBPort:          5432,
		DBName:          "vector_etl",
		DBUser:          "postgres",
		DBPassword:      "postgres",
		DBSchema:        "public",
		DBSSLMode:       "disable",
		Workers:         runtime.NumCPU(),
		BatchSize:       loader.DefaultBatchSize,
		LoadTimeout:     30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
		CreateIndexes:   true,
		MetricsInterval: 0,
	}
}

// ConnectionString returns a PostgreSQL connection string
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBSSLMode,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", quoteValue(c.DBPassword))
	}
	if c.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", int(c.ConnectTimeout.Seconds()))
	}
	if c.LoadTimeout > 0 {
		connStr += fmt.Sprintf(" statement_timeout=%d", c.LoadTimeout.Milliseconds())
	}
	return connStr
}

// quoteValue quotes a keyword/value DSN value when it holds spaces or quotes
func quoteValue(s string) string {
	if !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// CRS returns the parsed target CRS
func (c *Config) CRS() (proj.CRS, error) {
	return proj.ParseCRS(c.TargetCRS)
}

// Mode returns the parsed if-exists policy
func (c *Config) Mode() (loader.IfExists, error) {
	return loader.ParseIfExists(c.IfExists)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return errors.New("input file is required")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return errors.New("batch size must be at least 1")
	}
	if strings.TrimSpace(c.OutputTable) == "" {
		return errors.New("output table is required")
	}
	if strings.TrimSpace(c.GeometryColumn) == "" {
		return errors.New("geometry column is required")
	}
	if _, err := c.CRS(); err != nil {
		return errors.Wrap(err, "invalid target CRS")
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.LoadTimeout < 0 {
		return errors.New("load timeout must not be negative")
	}
	return nil
}
