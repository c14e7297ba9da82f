// Package config loads the warehouse ledger service configuration from YAML
// with ${ENV} expansion, then applies WAREHOUSE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Lock    LockConfig    `yaml:"lock"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Tracing TracingConfig `yaml:"tracing"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	ShutdownTimeout    time.Duration `yaml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver       string `yaml:"driver"` // memory, sqlite or mysql
	DSN          string `yaml:"dsn"`
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type LockConfig struct {
	Driver string `yaml:"driver"` // memory or redis

	TTL              time.Duration `yaml:"-"`
	RetryInterval    time.Duration `yaml:"-"`
	TTLRaw           string        `yaml:"ttl"`
	RetryIntervalRaw string        `yaml:"retry_interval"`
}

type LedgerConfig struct {
	AllowNegativeStock bool `yaml:"allow_negative_stock"`
	AutoCreateStub     bool `yaml:"auto_create_stub"`
	HistoryPageSize    int  `yaml:"history_page_size"`
}

type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Workers   int      `yaml:"workers"`
	QueueSize int      `yaml:"queue_size"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:       "memory",
			Path:         "data/warehouse.db",
			MaxOpenConns: 100,
			MaxIdleConns: 10,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		Lock: LockConfig{
			Driver:        "memory",
			TTL:           10 * time.Second,
			RetryInterval: 25 * time.Millisecond,
		},
		Ledger: LedgerConfig{
			HistoryPageSize: 500,
		},
		Kafka: KafkaConfig{
			Brokers:   []string{"localhost:9092"},
			Topic:     "warehouse.ledger-events",
			Workers:   4,
			QueueSize: 10000,
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "warehouse-ledger",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path over the defaults. An empty path skips the file. Environment
// overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, empty when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"lock.ttl", cfg.Lock.TTLRaw, &cfg.Lock.TTL},
		{"lock.retry_interval", cfg.Lock.RetryIntervalRaw, &cfg.Lock.RetryInterval},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// applyEnv overrides file values from WAREHOUSE_* variables. MYSQL_DSN,
// REDIS_ADDR and KAFKA_BROKERS are read unprefixed.
func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	setString("WAREHOUSE_HTTP_ADDR", &cfg.Server.HTTPAddr)
	setString("WAREHOUSE_GRPC_ADDR", &cfg.Server.GRPCAddr)
	setString("WAREHOUSE_STORAGE_DRIVER", &cfg.Storage.Driver)
	setString("WAREHOUSE_SQLITE_PATH", &cfg.Storage.Path)
	setString("MYSQL_DSN", &cfg.Storage.DSN)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("WAREHOUSE_LOCK_DRIVER", &cfg.Lock.Driver)
	setString("WAREHOUSE_LOG_LEVEL", &cfg.Logging.Level)
	setString("WAREHOUSE_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	for key, dst := range map[string]*bool{
		"WAREHOUSE_ALLOW_NEGATIVE_STOCK": &cfg.Ledger.AllowNegativeStock,
		"WAREHOUSE_AUTO_CREATE_STUB":     &cfg.Ledger.AutoCreateStub,
		"WAREHOUSE_KAFKA_ENABLED":        &cfg.Kafka.Enabled,
		"WAREHOUSE_TRACING_ENABLED":      &cfg.Tracing.Enabled,
	} {
		if err := setBool(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate returns the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		return fmt.Errorf("at least one of server.http_addr or server.grpc_addr is required")
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "mysql":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, mysql", c.Storage.Driver)
	}

	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock driver")
		}
		if c.Lock.TTL <= 0 {
			return fmt.Errorf("lock.ttl must be positive")
		}
	default:
		return fmt.Errorf("lock.driver %q is not one of memory, redis", c.Lock.Driver)
	}

	if c.Ledger.HistoryPageSize <= 0 {
		return fmt.Errorf("ledger.history_page_size must be positive")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
		if c.Kafka.Workers <= 0 {
			return fmt.Errorf("kafka.workers must be positive")
		}
		if c.Kafka.QueueSize <= 0 {
			return fmt.Errorf("kafka.queue_size must be positive")
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not one of json, console", c.Logging.Format)
	}
	return nil
}
