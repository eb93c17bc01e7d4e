// Package config handles loading and parsing of the gateway configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Datasource    DatasourceConfig    `yaml:"datasource"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Domains are the domain names accepted for virtual-hosted-style requests.
	Domains []string `yaml:"domains"`
	// ShutdownTimeout is the graceful shutdown drain in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// AuthConfig holds the single static S3 credential pair. When both fields are
// empty the server runs unauthenticated and the multipart access-key binding
// is uniformly empty.
type AuthConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DatasourceConfig holds catalog database settings.
type DatasourceConfig struct {
	// Engine selects the catalog backend: "postgres", "sqlite", or "memory".
	Engine   string `yaml:"engine"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Schema   string `yaml:"schema"`
	// MaxConnections and MinConnections bound the connection pool.
	MaxConnections int `yaml:"max_connections"`
	MinConnections int `yaml:"min_connections"`
	// TestBeforeAcquire validates pooled connections on acquire.
	TestBeforeAcquire bool `yaml:"test_before_acquire"`
	// AcquireSlowThreshold logs a warning when connection acquisition exceeds
	// this many milliseconds.
	AcquireSlowThreshold int64 `yaml:"acquire_slow_threshold"`
	// SQLitePath is the database file path when Engine is "sqlite".
	SQLitePath string `yaml:"sqlite_path"`
}

// StorageConfig holds filesystem storage settings.
type StorageConfig struct {
	// Root is the base directory for object data. The CLI positional argument
	// overrides this.
	Root string `yaml:"root"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is the log output format: "text" or "json".
	Format string `yaml:"format"`
}

// ObservabilityConfig holds settings for metrics and health check endpoints.
type ObservabilityConfig struct {
	// Metrics enables the /metrics Prometheus endpoint.
	Metrics bool `yaml:"metrics"`
	// HealthCheck enables the /health probe.
	HealthCheck bool `yaml:"health_check"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config with defaults applied for unset values. If the primary path
// does not exist, config/default.yaml and config/local.yaml next to it are
// tried as fallbacks.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "default.yaml"),
			filepath.Join(filepath.Dir(path), "local.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8014,
			ShutdownTimeout: 10,
		},
		Datasource: DatasourceConfig{
			Engine:               "postgres",
			Host:                 "localhost",
			Port:                 5432,
			DB:                   "beggar",
			User:                 "beggar",
			Schema:               "public",
			MaxConnections:       10,
			MinConnections:       1,
			AcquireSlowThreshold: 1000,
			SQLitePath:           "./data/catalog.db",
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics:     true,
			HealthCheck: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value after
// YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8014
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}
	if cfg.Datasource.Engine == "" {
		cfg.Datasource.Engine = "postgres"
	}
	if cfg.Datasource.Host == "" {
		cfg.Datasource.Host = "localhost"
	}
	if cfg.Datasource.Port == 0 {
		cfg.Datasource.Port = 5432
	}
	if cfg.Datasource.Schema == "" {
		cfg.Datasource.Schema = "public"
	}
	if cfg.Datasource.MaxConnections == 0 {
		cfg.Datasource.MaxConnections = 10
	}
	if cfg.Datasource.MinConnections == 0 {
		cfg.Datasource.MinConnections = 1
	}
	if cfg.Datasource.AcquireSlowThreshold == 0 {
		cfg.Datasource.AcquireSlowThreshold = 1000
	}
	if cfg.Datasource.SQLitePath == "" {
		cfg.Datasource.SQLitePath = "./data/catalog.db"
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "./data"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
