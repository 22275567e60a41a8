package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the price pipelines.
type Config struct {
	Store    Store    `yaml:"store"`
	Tables   Tables   `yaml:"tables"`
	Pipeline Pipeline `yaml:"pipeline"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Logging  Logging  `yaml:"logging"`
}

// Store selects and configures the key-value backend.
type Store struct {
	Backend    string   `yaml:"backend"`
	PageSize   int      `yaml:"page_size"`
	DynamoDB   DynamoDB `yaml:"dynamodb"`
	SQLitePath string   `yaml:"sqlite_path"`
	DataDir    string   `yaml:"data_dir"`
	Postgres   DBConfig `yaml:"postgres"`
}

// Supported store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendParquet  = "parquet"
)

// DynamoDB holds the AWS region and an optional endpoint override
// (DynamoDB Local, LocalStack).
type DynamoDB struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// DBConfig holds PostgreSQL connection parameters.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Tables names the tables each pipeline reads and writes.
type Tables struct {
	// SourcePrefix is prepended to the instrument to name the copy source.
	SourcePrefix   string `yaml:"source_prefix"`
	MultiplePrices string `yaml:"multiple_prices"`
	DailyPrices    string `yaml:"daily_prices"`
}

// SourceTable returns the table holding raw prices for instrument.
func (t Tables) SourceTable(instrument string) string {
	return t.SourcePrefix + instrument
}

// Pipeline tunes the copy and aggregation runs.
type Pipeline struct {
	BatchSize int `yaml:"batch_size"`
}

// Alpaca holds credentials for the market-data API used to seed source
// tables.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
	// Timeframe is the bar width requested when seeding: 1Min, 1Hour or 1Day.
	Timeframe       string `yaml:"timeframe"`
	SymbolsPerCall  int    `yaml:"symbols_per_call"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at path, applies environment
// variable overrides and defaults, and validates the result. An empty path
// skips the file so the process can run on environment variables alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRICES_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Store.DynamoDB.Region = v
	}
	if v := os.Getenv("DYNAMODB_ENDPOINT"); v != "" {
		cfg.Store.DynamoDB.Endpoint = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}

	// libpq names, so an existing PG* environment just works.
	if v := os.Getenv("PGHOST"); v != "" {
		cfg.Store.Postgres.Host = v
	}
	if v := os.Getenv("PGPORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Store.Postgres.Port = port
		}
	}
	if v := os.Getenv("PGDATABASE"); v != "" {
		cfg.Store.Postgres.Name = v
	}
	if v := os.Getenv("PGUSER"); v != "" {
		cfg.Store.Postgres.User = v
	}
	if v := os.Getenv("PGPASSWORD"); v != "" {
		cfg.Store.Postgres.Password = v
	}

	if v := os.Getenv("SOURCE_TABLE_PREFIX"); v != "" {
		cfg.Tables.SourcePrefix = v
	}
	if v := os.Getenv("MULTIPLE_PRICES_TABLE"); v != "" {
		cfg.Tables.MultiplePrices = v
	}
	if v := os.Getenv("DAILY_PRICES_TABLE"); v != "" {
		cfg.Tables.DailyPrices = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Standard Alpaca env vars, the names the SDK itself reads.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills in zero values.
func (c *Config) applyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendDynamoDB
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "data/prices.db"
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = "data"
	}
	if c.Store.Postgres.Port == 0 {
		c.Store.Postgres.Port = 5432
	}
	if c.Store.Postgres.MaxConns == 0 {
		c.Store.Postgres.MaxConns = 4
	}

	if c.Tables.MultiplePrices == "" {
		c.Tables.MultiplePrices = "multiple_prices"
	}
	if c.Tables.DailyPrices == "" {
		c.Tables.DailyPrices = "daily_prices"
	}

	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 25
	}

	if c.Alpaca.Feed == "" {
		c.Alpaca.Feed = "iex"
	}
	if c.Alpaca.Timeframe == "" {
		c.Alpaca.Timeframe = "1Min"
	}
	if c.Alpaca.SymbolsPerCall == 0 {
		c.Alpaca.SymbolsPerCall = 100
	}
	if c.Alpaca.RateLimitPerMin == 0 {
		c.Alpaca.RateLimitPerMin = 200
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// tableNamePattern is the DynamoDB table naming rule, applied to every
// backend so a config that works locally also works in AWS.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,255}$`)

// ValidTableName reports whether name is usable as a table name.
func ValidTableName(name string) bool {
	return tableNamePattern.MatchString(name)
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendDynamoDB:
		if c.Store.DynamoDB.Region == "" {
			return errors.New("store.dynamodb.region is required")
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required")
		}
	case BackendParquet:
		if c.Store.DataDir == "" {
			return errors.New("store.data_dir is required")
		}
	case BackendPostgres:
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.backend %q is not one of dynamodb, sqlite, postgres, parquet", c.Store.Backend)
	}

	if c.Store.PageSize < 0 {
		return fmt.Errorf("store.page_size must be >= 0, got %d", c.Store.PageSize)
	}

	if !ValidTableName(c.Tables.MultiplePrices) {
		return fmt.Errorf("tables.multiple_prices %q is not a valid table name", c.Tables.MultiplePrices)
	}
	if !ValidTableName(c.Tables.DailyPrices) {
		return fmt.Errorf("tables.daily_prices %q is not a valid table name", c.Tables.DailyPrices)
	}

	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 25 {
		return fmt.Errorf("pipeline.batch_size must be between 1 and 25, got %d", c.Pipeline.BatchSize)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) must be <= max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
