package worker

import (
	"fmt"
	"time"
)

// Status is where a record ended up after one pass through the pipeline
type Status int

const (
	StatusPending   Status = iota // Dispatched, not finished
	StatusSkipped                 // Not a four-player game; nothing recorded
	StatusCompleted               // Artifact written, marked completed
	StatusFailed                  // Event log structurally invalid, marked failed
	StatusTransient               // Anything else; retried on the next run
)

// String returns a human-readable representation of the status
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSkipped:
		return "skipped"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is recorded in the checkpoint store
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage names the pipeline step an outcome was decided in
type Stage string

const (
	StageDecompress Stage = "decompress"
	StageFilter     Stage = "filter"
	StageConvert    Stage = "convert"
	StageTransform  Stage = "transform"
	StageCompress   Stage = "compress"
	StageWrite      Stage = "write"
	StageCheckpoint Stage = "checkpoint"
)

// Outcome is the result of processing one record
type Outcome struct {
	RecordID string
	Status   Status
	Stage    Stage
	Err      error
	Bytes    int
	Duration time.Duration
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s: %s at %s: %v", o.RecordID, o.Status, o.Stage, o.Err)
	}
	return fmt.Sprintf("%s: %s", o.RecordID, o.Status)
}
