package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/livinlefevreloca/mjlogconv/internal/db"
)

// FileSink writes artifacts into a directory
type FileSink struct {
	dir string
}

// NewFileSink creates the output directory if needed
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Name identifies the sink in logs
func (s *FileSink) Name() string {
	return "file:" + s.dir
}

// Path returns the artifact path for id
func (s *FileSink) Path(id string) (string, error) {
	if err := db.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, id+ArtifactExt), nil
}

// Write stores data through a synced temp file and rename. The artifact is
// durable when Write returns, so the record can be marked completed.
func (s *FileSink) Write(_ context.Context, id string, data []byte) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write artifact %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync artifact %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish artifact %s: %w", id, err)
	}
	if err := syncDir(s.dir); err != nil {
		return fmt.Errorf("failed to sync output directory: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Size returns the artifact size in bytes
func (s *FileSink) Size(_ context.Context, id string) (int64, error) {
	path, err := s.Path(id)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the artifact; a missing artifact is not an error
func (s *FileSink) Remove(_ context.Context, id string) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
