package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livinlefevreloca/mjlogconv/internal/checkpoint"
	"github.com/livinlefevreloca/mjlogconv/internal/config"
	"github.com/livinlefevreloca/mjlogconv/internal/converter"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/orchestrator"
	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// loadConfig reads the config file and applies command-line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}

	if changed("year") {
		cfg.Run.Year = year
		cfg.Database.DSN = config.DefaultDSN(year)
	}
	if changed("db-path") {
		cfg.Database.DSN = dbPath
	}
	if changed("out-path") {
		cfg.Output.Dir = outPath
		cfg.Converter.WorkDir = outPath
	}
	if changed("count") {
		cfg.Run.Count = count
	}
	if changed("workers") {
		cfg.Pool.Workers = workers
	}
	if changed("log-level") {
		cfg.Logging.Level = strings.ToLower(logLevel)
	}
	if noProgress {
		cfg.Progress.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// app holds the components shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	database *db.DB
	store    *checkpoint.Store
	sink     sink.Sink
	closers  []func() error
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	logger.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	if _, err := os.Stat(cfg.Database.DSN); err != nil {
		return nil, fmt.Errorf("database %s: %w", cfg.Database.DSN, err)
	}
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.database = database
	a.closers = append(a.closers, database.Close)

	if err := database.CheckLogsTable(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("database %s: %w", cfg.Database.DSN, err)
	}

	backend, err := openBackend(ctx, cfg.Checkpoint)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, closer.Close)
	}
	a.store = checkpoint.NewStore(backend, logger)

	out, err := openSink(ctx, cfg.Output)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = out

	return a, nil
}

func openBackend(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		backend, err := checkpoint.NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to checkpoint redis: %w", err)
		}
		return backend, nil
	default:
		return checkpoint.NewFileBackend(cfg.Path), nil
	}
}

func openSink(ctx context.Context, cfg config.OutputConfig) (sink.Sink, error) {
	switch cfg.Backend {
	case config.BackendS3:
		out, err := sink.NewS3Sink(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to set up s3 output: %w", err)
		}
		return out, nil
	default:
		out, err := sink.NewFileSink(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to set up output dir: %w", err)
		}
		return out, nil
	}
}

// orchestrator wires the conversion pipeline. progress may be nil.
func (a *app) orchestrator(progress io.Writer) (*orchestrator.Orchestrator, error) {
	conv, err := converter.NewMjaiConverter(a.cfg.Converter, a.logger)
	if err != nil {
		return nil, err
	}

	processor := worker.NewProcessor(conv, a.sink, a.cfg.Converter.Marker, a.logger)
	return orchestrator.NewOrchestrator(orchestrator.Config{
		Count:     a.cfg.Run.Count,
		BatchSize: a.cfg.Database.BatchSize,
		Pool:      a.cfg.Pool,
		Stats:     a.cfg.Progress,
	}, orchestrator.Deps{
		Source:    a.database,
		Store:     a.store,
		Processor: processor,
		Sink:      a.sink,
		Progress:  progress,
	}, a.logger), nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
