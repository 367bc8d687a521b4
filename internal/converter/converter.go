// Package converter turns a raw mjlog record into an mjai event log by
// running an external conversion tool.
package converter

import (
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/livinlefevreloca/mjlogconv/internal/transform"
)

// DefaultMarker identifies a standard four-player hanchan in mjlog XML
const DefaultMarker = `type="169"`

// Errors surfaced by converters. All of them are transient from the
// caller's point of view: the record may convert on a later run.
var (
	ErrToolFailed      = errors.New("converter: tool exited with error")
	ErrTimeout         = errors.New("converter: tool timed out")
	ErrEmptyOutput     = errors.New("converter: tool produced no output")
	ErrMalformedOutput = errors.New("converter: malformed tool output")
)

// Converter produces the event log of one record from its decompressed
// mjlog payload
type Converter interface {
	Convert(ctx context.Context, id string, payload []byte) (transform.Sequence, error)
}

// Decompress inflates a stored record payload (bzip2)
func Decompress(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty payload")
	}

	data, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return data, nil
}

// Matches reports whether the decompressed payload carries the game-mode
// marker. Records that do not match are not four-player games and are
// skipped entirely.
func Matches(payload []byte, marker string) bool {
	if marker == "" {
		marker = DefaultMarker
	}
	return bytes.Contains(payload, []byte(marker))
}
