package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	year := time.Now().Year()

	if cfg.Run.Year != year {
		t.Errorf("expected year %d, got %d", year, cfg.Run.Year)
	}
	if cfg.Run.Count != 0 {
		t.Errorf("expected count 0, got %d", cfg.Run.Count)
	}

	// Database defaults
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected driver sqlite3, got %s", cfg.Database.Driver)
	}
	wantDSN := filepath.Join("db", strconv.Itoa(year)+".db")
	if cfg.Database.DSN != wantDSN {
		t.Errorf("expected DSN %s, got %s", wantDSN, cfg.Database.DSN)
	}
	if cfg.Database.BatchSize != 1000 {
		t.Errorf("expected batch_size 1000, got %d", cfg.Database.BatchSize)
	}

	// Pipeline defaults
	if cfg.Converter.Command != "mjai" {
		t.Errorf("expected converter mjai, got %s", cfg.Converter.Command)
	}
	if cfg.Converter.Timeout != 0 {
		t.Errorf("expected no converter timeout, got %v", cfg.Converter.Timeout)
	}
	if cfg.Output.Backend != BackendFile || cfg.Output.Dir != "logs" {
		t.Errorf("unexpected output defaults: %+v", cfg.Output)
	}
	if cfg.Checkpoint.Backend != BackendFile || cfg.Checkpoint.Path != filepath.Join("db", "convert.json") {
		t.Errorf("unexpected checkpoint defaults: backend=%s path=%s", cfg.Checkpoint.Backend, cfg.Checkpoint.Path)
	}
	if cfg.Pool.Workers != 64 {
		t.Errorf("expected 64 workers, got %d", cfg.Pool.Workers)
	}
	if !cfg.Progress.Enabled {
		t.Error("expected progress enabled by default")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %s", cfg.Logging.Format)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
[database]
dsn = "/data/2019.db"
batch_size = 250

[converter]
command = "/usr/local/bin/mjai"
timeout = "2m"

[output]
backend = "s3"

[output.s3]
bucket = "mjlogs"
region = "ap-northeast-1"

[checkpoint]
backend = "redis"

[checkpoint.redis]
address = "redis:6379"

[pool]
workers = 8

[logging]
level = "debug"
format = "text"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Check overridden values
	if cfg.Database.DSN != "/data/2019.db" {
		t.Errorf("expected dsn /data/2019.db, got %s", cfg.Database.DSN)
	}
	if cfg.Database.BatchSize != 250 {
		t.Errorf("expected batch_size 250, got %d", cfg.Database.BatchSize)
	}
	if cfg.Converter.Command != "/usr/local/bin/mjai" {
		t.Errorf("unexpected converter command %s", cfg.Converter.Command)
	}
	if cfg.Converter.Timeout != 2*time.Minute {
		t.Errorf("expected timeout 2m, got %v", cfg.Converter.Timeout)
	}
	if cfg.Output.Backend != BackendS3 || cfg.Output.S3.Bucket != "mjlogs" {
		t.Errorf("unexpected output: %+v", cfg.Output)
	}
	if cfg.Checkpoint.Backend != BackendRedis || cfg.Checkpoint.Redis.Address != "redis:6379" {
		t.Errorf("unexpected checkpoint: %+v", cfg.Checkpoint)
	}
	if cfg.Pool.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Pool.Workers)
	}

	// Check default values still present
	if cfg.Output.S3.Prefix != "logs/" {
		t.Errorf("expected default s3 prefix logs/, got %s", cfg.Output.S3.Prefix)
	}
	if cfg.Checkpoint.Redis.Prefix != "mjlogconv:" {
		t.Errorf("expected default redis prefix, got %s", cfg.Checkpoint.Redis.Prefix)
	}
	if len(cfg.Converter.Args) != 1 || cfg.Converter.Args[0] != "convert" {
		t.Errorf("expected default converter args, got %v", cfg.Converter.Args)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to be valid: %v", err)
	}
}

func TestLoadFromFile_YearMovesDefaultDSN(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, "[run]\nyear = 2015\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.DSN != filepath.Join("db", "2015.db") {
		t.Errorf("expected db/2015.db, got %s", cfg.Database.DSN)
	}

	cfg, err = LoadFromFile(writeConfig(t, "[run]\nyear = 2015\n[database]\ndsn = \"x.db\"\n"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.DSN != "x.db" {
		t.Errorf("explicit dsn should win, got %s", cfg.Database.DSN)
	}
}

func TestLoadFromFile_UnknownKey(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "[pool]\nwrokers = 3\n"))
	if err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_Malformed(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "[pool\nworkers = "))
	if err == nil {
		t.Error("expected error for malformed file")
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected no error for empty config path, got %v", err)
	}

	// Should return defaults
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected default driver, got %s", cfg.Database.Driver)
	}
}

func TestValidate_Success(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"negative count", func(c *Config) { c.Run.Count = -1 }},
		{"empty driver", func(c *Config) { c.Database.Driver = "" }},
		{"invalid driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"empty DSN", func(c *Config) { c.Database.DSN = "" }},
		{"zero batch size", func(c *Config) { c.Database.BatchSize = 0 }},
		{"empty converter command", func(c *Config) { c.Converter.Command = "" }},
		{"empty work dir", func(c *Config) { c.Converter.WorkDir = "" }},
		{"negative timeout", func(c *Config) { c.Converter.Timeout = -time.Second }},
		{"unknown output backend", func(c *Config) { c.Output.Backend = "gcs" }},
		{"file output without dir", func(c *Config) { c.Output.Dir = "" }},
		{"s3 output without bucket", func(c *Config) { c.Output.Backend = BackendS3 }},
		{"unknown checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "etcd" }},
		{"file checkpoint without path", func(c *Config) { c.Checkpoint.Path = "" }},
		{"redis checkpoint without address", func(c *Config) {
			c.Checkpoint.Backend = BackendRedis
			c.Checkpoint.Redis.Address = ""
		}},
		{"zero workers", func(c *Config) { c.Pool.Workers = 0 }},
		{"invalid log level", func(c *Config) { c.Logging.Level = "invalid" }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected error for %s", tt.name)
			}
		})
	}
}
