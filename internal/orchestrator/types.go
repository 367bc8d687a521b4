package orchestrator

import (
	"context"
	"io"

	"github.com/livinlefevreloca/mjlogconv/internal/checkpoint"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/stats"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// Source is the record table a run reads from
type Source interface {
	ResolveLimit(ctx context.Context, requested int) (int, error)
	EachRecordBatch(ctx context.Context, limit, batchSize int, fn func([]db.RawRecord) error) error
	EachProcessedID(ctx context.Context, limit int, fn func(id string) error) error
}

// Config controls a batch run
type Config struct {
	// Count caps the records read; 0 means every processed record
	Count int

	// Rows per source page
	BatchSize int

	Pool  worker.Config
	Stats stats.Config
}

// Deps are the components a run is wired from
type Deps struct {
	Source    Source
	Store     *checkpoint.Store
	Processor worker.RecordProcessor
	Sink      sink.Sink

	// Progress receives the progress bar; nil disables it
	Progress io.Writer
}

// ReconcileResult is the tally of a reconcile pass
type ReconcileResult struct {
	Scanned     int // Processed IDs examined
	Missing     int // No artifact in the sink
	Removed     int // Empty artifacts deleted
	Marked      int // Artifacts adopted into the completed set
	AlreadyDone int // Artifact present and ID already recorded
	Lost        int // Completed IDs whose artifact was empty and removed
}
