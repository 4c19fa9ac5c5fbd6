// Package config loads and validates the ETL configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Postgres, Elastic, State, Redis, Kafka, ETL, Retry, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Elastic  ElasticConfig  `yaml:"elastic"`
	State    StateConfig    `yaml:"state"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	ETL      ETLConfig      `yaml:"etl"`
	Retry    RetryConfig    `yaml:"retry"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PostgresConfig holds PostgreSQL connection parameters for the source catalog.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	Schema          string        `yaml:"schema"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=movies-etl",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// ElasticConfig holds the search cluster address and write limits.
type ElasticConfig struct {
	URL               string  `yaml:"url"`
	Username          string  `yaml:"username"`
	Password          string  `yaml:"password"`
	BulkRatePerSecond float64 `yaml:"bulkRatePerSecond"`
}

// StateConfig selects the watermark store backend.
type StateConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// Supported state backends.
const (
	StateBackendFile   = "file"
	StateBackendSQLite = "sqlite"
	StateBackendRedis  = "redis"
)

// RedisConfig holds Redis connection parameters for the redis state backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds broker and topic settings for load notifications.
type KafkaConfig struct {
	Enabled bool        `yaml:"enabled"`
	Brokers []string    `yaml:"brokers"`
	Topics  KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexComplete string `yaml:"indexComplete"`
}

// ETLConfig controls which tables are tracked, page size, pacing, and the
// index each table is loaded into.
type ETLConfig struct {
	Tables          []string          `yaml:"tables"`
	PageSize        int               `yaml:"pageSize"`
	FetchDelay      time.Duration     `yaml:"fetchDelay"`
	CommitAfterLoad bool              `yaml:"commitAfterLoad"`
	Indices         map[string]string `yaml:"indices"`
}

// IndexFor returns the index name configured for table, falling back to the
// table name itself.
func (e ETLConfig) IndexFor(table string) string {
	if name, ok := e.Indices[table]; ok && name != "" {
		return name
	}
	return table
}

// RetryConfig controls the backoff applied to every remote call.
type RetryConfig struct {
	InitialDelay   time.Duration `yaml:"initialDelay"`
	MaxDelay       time.Duration `yaml:"maxDelay"`
	Multiplier     float64       `yaml:"multiplier"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics and health server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate reports configuration that the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ETL.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("etl.pageSize must be positive, got %d", c.ETL.PageSize))
	}
	if len(c.ETL.Tables) == 0 {
		errs = append(errs, errors.New("etl.tables must not be empty"))
	}
	if c.ETL.FetchDelay < 0 {
		errs = append(errs, fmt.Errorf("etl.fetchDelay must not be negative, got %v", c.ETL.FetchDelay))
	}
	switch c.State.Backend {
	case StateBackendFile, StateBackendSQLite:
		if c.State.Path == "" {
			errs = append(errs, fmt.Errorf("state.path is required for the %s backend", c.State.Backend))
		}
	case StateBackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown state.backend %q", c.State.Backend))
	}
	if c.Elastic.URL == "" {
		errs = append(errs, errors.New("elastic.url must not be empty"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers must not be empty when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func defaultConfig() *Config {
	return &Config{
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "movies_database",
			User:            "app",
			Password:        "localdev",
			SSLMode:         "disable",
			Schema:          "content",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Elastic: ElasticConfig{
			URL: "http://localhost:9200",
		},
		State: StateConfig{
			Backend: StateBackendFile,
			Path:    "state.json",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 4,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topics: KafkaTopics{
				IndexComplete: "index.complete",
			},
		},
		ETL: ETLConfig{
			Tables:          []string{"film_work", "genre", "person"},
			PageSize:        100,
			FetchDelay:      time.Second,
			CommitAfterLoad: true,
			Indices: map[string]string{
				"film_work": "movies",
				"genre":     "genres",
				"person":    "persons",
			},
		},
		Retry: RetryConfig{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads ETL_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ETL_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("ETL_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("ETL_POSTGRES_DB"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("ETL_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("ETL_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("ETL_ELASTIC_URL"); v != "" {
		cfg.Elastic.URL = v
	}
	if v := os.Getenv("ETL_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("ETL_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("ETL_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("ETL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ETL_PAGE_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.ETL.PageSize = size
		}
	}
	if v := os.Getenv("ETL_FETCH_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ETL.FetchDelay = d
		}
	}
	if v := os.Getenv("ETL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ETL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
