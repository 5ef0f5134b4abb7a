package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/wegman-software/vector2pgsql-go/internal/errors"
)

// Configuration keys. Flags are bound to the same keys by the commands.
const (
	KeyDBHost          = "db.host"
	KeyDBPort          = "db.port"
	KeyDBName          = "db.name"
	KeyDBUser          = "db.user"
	KeyDBPassword      = "db.password"
	KeyDBSchema        = "db.schema"
	KeyDBSSLMode       = "db.sslmode"
	KeyBatchSize       = "etl.batch_size"
	KeyTargetCRS       = "etl.target_crs"
	KeyCreateIndexes   = "etl.create_indexes"
	KeyIfExists        = "etl.if_exists"
	KeyGeometryColumn  = "etl.geometry_column"
	KeyWorkers         = "etl.workers"
	KeyLoadTimeout     = "etl.load_timeout"
	KeyConnectTimeout  = "db.connect_timeout"
	KeyLogFile         = "log.file"
	KeyMetricsInterval = "log.metrics_interval"
)

// envBindings maps keys to the environment variables that override them
var envBindings = map[string]string{
	KeyDBHost:        "DB_HOST",
	KeyDBPort:        "DB_PORT",
	KeyDBName:        "DB_NAME",
	KeyDBUser:        "DB_USER",
	KeyDBPassword:    "DB_PASSWORD",
	KeyDBSchema:      "DB_SCHEMA",
	KeyDBSSLMode:     "DB_SSLMODE",
	KeyBatchSize:     "ETL_BATCH_SIZE",
	KeyTargetCRS:     "ETL_TARGET_CRS",
	KeyCreateIndexes: "ETL_CREATE_INDEXES",
	KeyIfExists:      "ETL_IF_EXISTS",
	KeyWorkers:       "ETL_WORKERS",
	KeyLoadTimeout:   "ETL_LOAD_TIMEOUT",
}

// SetDefaults registers DefaultConfig's values with v
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault(KeyDBHost, d.DBHost)
	v.SetDefault(KeyDBPort, d.DBPort)
	v.SetDefault(KeyDBName, d.DBName)
	v.SetDefault(KeyDBUser, d.DBUser)
	v.SetDefault(KeyDBPassword, d.DBPassword)
	v.SetDefault(KeyDBSchema, d.DBSchema)
	v.SetDefault(KeyDBSSLMode, d.DBSSLMode)
	v.SetDefault(KeyConnectTimeout, d.ConnectTimeout)
	v.SetDefault(KeyBatchSize, d.BatchSize)
	v.SetDefault(KeyTargetCRS, d.TargetCRS)
	v.SetDefault(KeyCreateIndexes, d.CreateIndexes)
	v.SetDefault(KeyIfExists, d.IfExists)
	v.SetDefault(KeyGeometryColumn, d.GeometryColumn)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyLoadTimeout, d.LoadTimeout)
	v.SetDefault(KeyLogFile, d.LogFile)
	v.SetDefault(KeyMetricsInterval, d.MetricsInterval)
}

// BindEnv binds the supported environment variables
func BindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return errors.Wrapf(err, "failed to bind %s", env)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults, environment bindings and,
// if configFile is set, the YAML file merged in. Precedence, highest first:
// bound flags, environment, config file, defaults.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	SetDefaults(v)
	if err := BindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", configFile)
		}
	}
	return v, nil
}

// Load builds a Config from v. Run-specific fields (input file, output table,
// mode flags) are left at their defaults for the caller to fill in.
func Load(v *viper.Viper) (*Config, error) {
	c := DefaultConfig()
	c.DBHost = v.GetString(KeyDBHost)
	c.DBPort = v.GetInt(KeyDBPort)
	c.DBName = v.GetString(KeyDBName)
	c.DBUser = v.GetString(KeyDBUser)
	c.DBPassword = v.GetString(KeyDBPassword)
	c.DBSchema = v.GetString(KeyDBSchema)
	c.DBSSLMode = v.GetString(KeyDBSSLMode)
	c.ConnectTimeout = v.GetDuration(KeyConnectTimeout)
	c.BatchSize = v.GetInt(KeyBatchSize)
	c.TargetCRS = v.GetString(KeyTargetCRS)
	c.CreateIndexes = v.GetBool(KeyCreateIndexes)
	c.IfExists = v.GetString(KeyIfExists)
	c.GeometryColumn = v.GetString(KeyGeometryColumn)
	c.Workers = v.GetInt(KeyWorkers)
	c.LoadTimeout = v.GetDuration(KeyLoadTimeout)
	c.LogFile = v.GetString(KeyLogFile)
	c.MetricsInterval = v.GetDuration(KeyMetricsInterval)

	if c.DBPort <= 0 || c.DBPort > 65535 {
		return nil, errors.Newf("invalid database port: %d", c.DBPort)
	}
	return c, nil
}
