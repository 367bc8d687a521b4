package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/livinlefevreloca/mjlogconv/internal/checkpoint"
	"github.com/livinlefevreloca/mjlogconv/internal/converter"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/stats"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// Backend names
const (
	BackendFile  = "file"
	BackendS3    = "s3"
	BackendRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	Run        RunConfig        `toml:"run"`
	Database   db.Config        `toml:"database"`
	Converter  converter.Config `toml:"converter"`
	Output     OutputConfig     `toml:"output"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Pool       worker.Config    `toml:"pool"`
	Progress   stats.Config     `toml:"progress"`
	Logging    LoggingConfig    `toml:"logging"`
}

// RunConfig selects which records a run covers
type RunConfig struct {
	// Year picks the default database file db/<year>.db
	Year int `toml:"year"`

	// Count caps the number of records read; 0 means all processed records
	Count int `toml:"count"`
}

// OutputConfig selects where artifacts are written
type OutputConfig struct {
	Backend string        `toml:"backend"`
	Dir     string        `toml:"dir"`
	S3      sink.S3Config `toml:"s3"`
}

// CheckpointConfig selects where the completed and failed sets live
type CheckpointConfig struct {
	Backend string                 `toml:"backend"`
	Path    string                 `toml:"path"`
	Redis   checkpoint.RedisConfig `toml:"redis"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	year := time.Now().Year()
	return &Config{
		Run: RunConfig{
			Year:  year,
			Count: 0,
		},
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             DefaultDSN(year),
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
			BatchSize:       db.DefaultBatchSize,
		},
		Converter: converter.DefaultConfig(),
		Output: OutputConfig{
			Backend: BackendFile,
			Dir:     "logs",
			S3:      sink.DefaultS3Config(),
		},
		Checkpoint: CheckpointConfig{
			Backend: BackendFile,
			Path:    filepath.Join("db", "convert.json"),
			Redis:   checkpoint.DefaultRedisConfig(),
		},
		Pool:     worker.DefaultConfig(),
		Progress: stats.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultDSN is the database file for a crawl year
func DefaultDSN(year int) string {
	return filepath.Join("db", strconv.Itoa(year)+".db")
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys in %s: %v", path, undecoded)
	}

	// A year set in the file moves the default database with it
	if meta.IsDefined("run", "year") && !meta.IsDefined("database", "dsn") {
		config.Database.DSN = DefaultDSN(config.Run.Year)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Run.Count < 0 {
		return fmt.Errorf("run count must not be negative")
	}

	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}
	if c.Database.BatchSize <= 0 {
		return fmt.Errorf("database batch_size must be positive")
	}

	// Converter validation
	if c.Converter.Command == "" {
		return fmt.Errorf("converter command must be specified")
	}
	if c.Converter.WorkDir == "" {
		return fmt.Errorf("converter work_dir must be specified")
	}
	if c.Converter.Timeout < 0 {
		return fmt.Errorf("converter timeout must not be negative")
	}

	// Output validation
	switch c.Output.Backend {
	case BackendFile:
		if c.Output.Dir == "" {
			return fmt.Errorf("output dir must be specified for the file backend")
		}
	case BackendS3:
		if c.Output.S3.Bucket == "" {
			return fmt.Errorf("output s3 bucket must be specified for the s3 backend")
		}
	default:
		return fmt.Errorf("unsupported output backend: %s (must be file or s3)", c.Output.Backend)
	}

	// Checkpoint validation
	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint path must be specified for the file backend")
		}
	case BackendRedis:
		if c.Checkpoint.Redis.Address == "" {
			return fmt.Errorf("checkpoint redis address must be specified for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported checkpoint backend: %s (must be file or redis)", c.Checkpoint.Backend)
	}

	// Pool validation
	if c.Pool.Workers <= 0 {
		return fmt.Errorf("pool workers must be positive")
	}
	if c.Progress.InboxBufferSize < 0 {
		return fmt.Errorf("progress inbox_buffer_size must not be negative")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
