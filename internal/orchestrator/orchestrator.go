// Package orchestrator drives a batch conversion: it loads the checkpoint
// store, streams records from the source into the worker pool and makes
// sure every finished record is persisted before returning.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/stats"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// Orchestrator runs batch conversions. Run may be called again after it
// returns; each call is a separate run with its own run ID.
type Orchestrator struct {
	config Config
	deps   Deps
	logger *slog.Logger

	// Per-run state, reset by Run
	runID     string
	runLogger *slog.Logger
	state     State
	timing    PhaseTiming
	limit     int
	pool      *worker.Pool
	collector *stats.Collector
	summary   stats.Summary
	sourceErr error
	poolErr   error
	err       error

	// Optional state recorder for testing
	recorder *StateRecorder
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(config Config, deps Deps, logger *slog.Logger) *Orchestrator {
	if config.BatchSize <= 0 {
		config.BatchSize = db.DefaultBatchSize
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		logger: logger,
	}
}

// SetRecorder attaches a recorder that sees every state transition
func (o *Orchestrator) SetRecorder(r *StateRecorder) {
	o.recorder = r
}

// RunID returns the ID of the current or last run
func (o *Orchestrator) RunID() string {
	return o.runID
}

// GetStateName returns the current state name (for testing)
func (o *Orchestrator) GetStateName() string {
	if o.state == nil {
		return ""
	}
	return o.state.Name()
}

// Timing returns the phase boundaries of the last run
func (o *Orchestrator) Timing() PhaseTiming {
	return o.timing
}

// Run converts every record in scope that is not already completed or
// failed. Per-record errors are only counted; the returned error is set when
// the source could not be read, the checkpoint store could not be written,
// or ctx was cancelled.
func (o *Orchestrator) Run(ctx context.Context) (stats.Summary, error) {
	o.reset()
	o.runLogger.Info("starting conversion run",
		"count", o.config.Count,
		"workers", o.config.Pool.Workers,
		"checkpoint_backend", o.deps.Store.Backend(),
		"sink", o.deps.Sink.Name())

	for {
		switch o.state.(type) {
		case *LoadingState:
			o.runLoading(ctx)
		case *ResolvingState:
			o.runResolving(ctx)
		case *DispatchingState:
			o.runDispatching(ctx)
		case *DrainingState:
			o.runDraining()
		case *FlushingState:
			o.runFlushing(ctx)
		case *CompletedState:
			o.timing.CompletedAt = time.Now()
			o.runLogger.Info("conversion run completed", "summary", o.summary)
			return o.summary, nil
		case *FailedState:
			o.timing.CompletedAt = time.Now()
			o.runLogger.Error("conversion run failed", "error", o.err, "summary", o.summary)
			return o.summary, o.err
		case *CancelledState:
			o.timing.CompletedAt = time.Now()
			o.runLogger.Warn("conversion run interrupted", "error", o.err, "summary", o.summary)
			return o.summary, o.err
		default:
			o.err = fmt.Errorf("unknown state type %T", o.state)
			o.transitionTo(&FailedState{})
		}
	}
}

func (o *Orchestrator) reset() {
	o.runID = uuid.NewString()
	o.runLogger = o.logger.With("run_id", o.runID)
	o.state = &LoadingState{}
	o.timing = PhaseTiming{CreatedAt: time.Now()}
	o.limit = 0
	o.pool = nil
	o.collector = stats.NewCollector(o.config.Stats, o.deps.Progress, o.runLogger)
	o.summary = stats.Summary{}
	o.sourceErr = nil
	o.poolErr = nil
	o.err = nil
	if o.recorder != nil {
		o.recorder.Record(o.state)
	}
}

// transitionTo performs a state transition and logs it
func (o *Orchestrator) transitionTo(newState State) {
	oldStateName := o.state.Name()
	o.state = newState

	// Record state for testing if recorder is present
	if o.recorder != nil {
		o.recorder.Record(newState)
	}

	o.runLogger.Debug("state transition",
		"from", oldStateName,
		"to", newState.Name())
}

// runLoading reads the completed and failed sets
func (o *Orchestrator) runLoading(ctx context.Context) {
	state := o.state.(*LoadingState)

	if _, err := o.deps.Store.Load(ctx); err != nil {
		o.err = err
		o.transitionTo(state.ToFailed())
		return
	}

	o.timing.LoadedAt = time.Now()
	o.transitionTo(state.ToResolving())
}

// runResolving fixes the record limit and sets up the pool
func (o *Orchestrator) runResolving(ctx context.Context) {
	state := o.state.(*ResolvingState)

	limit, err := o.deps.Source.ResolveLimit(ctx, o.config.Count)
	if err != nil {
		if ctx.Err() != nil {
			o.err = fmt.Errorf("run interrupted: %w", ctx.Err())
			o.transitionTo(state.ToCancelled())
			return
		}
		o.err = fmt.Errorf("failed to resolve record count: %w", err)
		o.transitionTo(state.ToFailed())
		return
	}

	o.limit = limit
	if limit == 0 {
		o.runLogger.Info("no records to convert")
		o.transitionTo(state.ToCompleted())
		return
	}

	pool, err := worker.NewPool(ctx, o.config.Pool, o.deps.Processor, o.deps.Store, o.collector, o.runLogger)
	if err != nil {
		o.err = err
		o.transitionTo(state.ToFailed())
		return
	}
	o.pool = pool

	o.runLogger.Info("records resolved", "limit", limit)
	o.collector.Start(limit)
	o.transitionTo(state.ToDispatching())
}

// runDispatching streams batches into the pool. Records already completed
// or failed, and IDs seen earlier in this run, are not submitted.
func (o *Orchestrator) runDispatching(ctx context.Context) {
	state := o.state.(*DispatchingState)
	o.timing.DispatchStartedAt = time.Now()

	seen := make(map[string]struct{}, o.limit)
	o.sourceErr = o.deps.Source.EachRecordBatch(ctx, o.limit, o.config.BatchSize, func(batch []db.RawRecord) error {
		resumed, duplicate := 0, 0
		for _, rec := range batch {
			if _, ok := seen[rec.ID]; ok {
				duplicate++
				continue
			}
			seen[rec.ID] = struct{}{}

			if o.deps.Store.IsDone(rec.ID) {
				resumed++
				continue
			}

			if err := o.pool.Submit(ctx, rec); err != nil {
				o.collector.Resumed(resumed)
				return err
			}
		}

		o.collector.Resumed(resumed)
		o.runLogger.Debug("batch dispatched",
			"size", len(batch),
			"resumed", resumed,
			"duplicate", duplicate,
			"in_flight", o.pool.InFlight())
		return nil
	})

	o.transitionTo(state.ToDraining())
}

// runDraining waits for every submitted record
func (o *Orchestrator) runDraining() {
	state := o.state.(*DrainingState)

	o.poolErr = o.pool.Wait()
	o.timing.DrainedAt = time.Now()

	o.runLogger.Info("records drained", "submitted", o.pool.Submitted())
	o.transitionTo(state.ToFlushing())
}

// runFlushing saves the store one last time and decides how the run ended
func (o *Orchestrator) runFlushing(ctx context.Context) {
	state := o.state.(*FlushingState)

	// The run may be interrupted; the final save still has to happen
	flushErr := o.deps.Store.Flush(context.WithoutCancel(ctx))
	o.summary = o.collector.Stop()

	switch {
	case o.poolErr != nil:
		o.err = fmt.Errorf("checkpoint persistence failed: %w", o.poolErr)
		if flushErr != nil {
			o.runLogger.Error("final checkpoint flush failed", "error", flushErr)
		}
		o.transitionTo(state.ToFailed())
	case ctx.Err() != nil:
		o.err = fmt.Errorf("run interrupted: %w", ctx.Err())
		if flushErr != nil {
			o.runLogger.Error("final checkpoint flush failed", "error", flushErr)
		}
		o.transitionTo(state.ToCancelled())
	case o.sourceErr != nil:
		o.err = fmt.Errorf("failed to read records: %w", o.sourceErr)
		o.transitionTo(state.ToFailed())
	case flushErr != nil:
		o.err = fmt.Errorf("final checkpoint flush failed: %w", flushErr)
		o.transitionTo(state.ToFailed())
	default:
		o.transitionTo(state.ToCompleted())
	}
}

// Reconcile adopts artifacts written by runs that died before recording
// them. For every processed record in scope: an empty artifact is deleted,
// and a non-empty artifact whose ID is neither completed nor failed is
// marked completed. All adoptions are persisted in a single save.
func (o *Orchestrator) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	o.runID = uuid.NewString()
	logger := o.logger.With("run_id", o.runID)

	if _, err := o.deps.Store.Load(ctx); err != nil {
		return result, err
	}

	limit, err := o.deps.Source.ResolveLimit(ctx, o.config.Count)
	if err != nil {
		return result, fmt.Errorf("failed to resolve record count: %w", err)
	}
	if limit == 0 {
		logger.Info("no records to reconcile")
		return result, nil
	}

	logger.Info("starting reconcile", "limit", limit, "sink", o.deps.Sink.Name())

	var adopt []string
	err = o.deps.Source.EachProcessedID(ctx, limit, func(id string) error {
		result.Scanned++

		size, err := o.deps.Sink.Size(ctx, id)
		if errors.Is(err, sink.ErrNotFound) {
			result.Missing++
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stat artifact %s: %w", id, err)
		}

		if size == 0 {
			logger.Error("empty artifact removed", "record_id", id)
			if err := o.deps.Sink.Remove(ctx, id); err != nil {
				return fmt.Errorf("failed to remove artifact %s: %w", id, err)
			}
			result.Removed++
			if o.deps.Store.IsCompleted(id) {
				result.Lost++
				logger.Error("completed record has no artifact left", "record_id", id)
			}
			return nil
		}

		if o.deps.Store.IsDone(id) {
			result.AlreadyDone++
			return nil
		}
		adopt = append(adopt, id)
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("reconcile aborted: %w", err)
	}

	if len(adopt) > 0 {
		if err := o.deps.Store.MarkCompletedMany(ctx, adopt); err != nil {
			return result, fmt.Errorf("failed to record adopted artifacts: %w", err)
		}
	}
	result.Marked = len(adopt)

	logger.Info("reconcile finished",
		"scanned", result.Scanned,
		"missing", result.Missing,
		"removed", result.Removed,
		"marked", result.Marked,
		"already_done", result.AlreadyDone,
		"lost", result.Lost)
	return result, nil
}
