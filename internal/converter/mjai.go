package converter

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/transform"
)

// Config configures the external tool invocation
type Config struct {
	// Command is the converter executable
	Command string `toml:"command"`

	// Args come before the input and output paths
	Args []string `toml:"args"`

	// WorkDir holds the intermediate .mjlog and .mjson files
	WorkDir string `toml:"work_dir"`

	// Timeout bounds a single invocation; zero waits for the tool to exit
	Timeout time.Duration `toml:"timeout"`

	// Marker is the substring a payload needs to be converted
	Marker string `toml:"marker"`

	// KeepIntermediate leaves the work files behind for debugging
	KeepIntermediate bool `toml:"keep_intermediate"`
}

// DefaultConfig runs `mjai convert <in> <out>` with no timeout
func DefaultConfig() Config {
	return Config{
		Command: "mjai",
		Args:    []string{"convert"},
		WorkDir: "logs",
		Timeout: 0,
		Marker:  DefaultMarker,
	}
}

// MjaiConverter runs the mjai conversion tool as a subprocess
type MjaiConverter struct {
	config Config
	logger *slog.Logger
}

// NewMjaiConverter creates the work directory and returns the converter
func NewMjaiConverter(config Config, logger *slog.Logger) (*MjaiConverter, error) {
	if config.Command == "" {
		return nil, errors.New("converter command must be specified")
	}
	if err := os.MkdirAll(config.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create converter work directory: %w", err)
	}
	return &MjaiConverter{config: config, logger: logger}, nil
}

// Convert writes the payload as a gzip'd .mjlog, runs the tool on it and
// parses the .mjson it leaves behind
func (c *MjaiConverter) Convert(ctx context.Context, id string, payload []byte) (transform.Sequence, error) {
	if err := db.ValidateID(id); err != nil {
		return nil, err
	}
	base := filepath.Join(c.config.WorkDir, id)
	inPath := base + ".mjlog"
	outPath := base + ".mjson"

	if !c.config.KeepIntermediate {
		defer os.Remove(inPath)
		defer os.Remove(outPath)
	}

	// A stale output from an earlier crashed attempt must not be mistaken for
	// this run's result
	if err := os.Remove(outPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to clear stale output: %w", err)
	}

	if err := writeGzip(inPath, payload); err != nil {
		return nil, fmt.Errorf("failed to write intermediate file: %w", err)
	}

	if err := c.run(ctx, id, inPath, outPath); err != nil {
		return nil, err
	}

	return readOutput(outPath)
}

func (c *MjaiConverter) run(ctx context.Context, id, inPath, outPath string) error {
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, c.config.Args...), inPath, outPath)
	cmd := exec.CommandContext(ctx, c.config.Command, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Children of the tool may hold stderr open after it is killed
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("converter finished",
		"record_id", id,
		"duration", time.Since(start),
		"error", err)

	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", ErrTimeout, c.config.Timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit code %d: %s", ErrToolFailed, exitErr.ExitCode(), tail(stderr.String()))
	}
	return fmt.Errorf("%w: %v", ErrToolFailed, err)
}

func writeGzip(path string, data []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

func readOutput(path string) (transform.Sequence, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrEmptyOutput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open converter output: %w", err)
	}
	defer f.Close()

	seq, err := transform.ParseLines(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if len(seq) == 0 {
		return nil, ErrEmptyOutput
	}
	return seq, nil
}

// tail keeps the end of the tool's stderr, where the actual error usually is
func tail(s string) string {
	const limit = 512
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
