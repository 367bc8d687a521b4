// Package sink stores converted event logs, one gzip artifact per record.
package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"

	"github.com/livinlefevreloca/mjlogconv/internal/transform"
)

// ArtifactExt is appended to the record ID to name its artifact
const ArtifactExt = ".json.gz"

// ErrNotFound is returned by Size when a record has no artifact
var ErrNotFound = errors.New("sink: artifact not found")

// Sink stores artifacts keyed by record ID. Write overwrites any existing
// artifact for the same ID, so retries are safe.
type Sink interface {
	Write(ctx context.Context, id string, data []byte) error
	Size(ctx context.Context, id string) (int64, error)
	Remove(ctx context.Context, id string) error
	Name() string
}

// Compress encodes the sequence as gzip'd JSON lines
func Compress(seq transform.Sequence) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := seq.Encode(zw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
