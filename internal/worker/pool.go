package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/mjlogconv/internal/checkpoint"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
)

// Config sizes the worker pool
type Config struct {
	Workers int `toml:"workers"`
}

// DefaultConfig returns default pool configuration
func DefaultConfig() Config {
	return Config{Workers: 64}
}

// Store is the part of the checkpoint store the pool writes to
type Store interface {
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// OutcomeReporter receives every finished outcome
type OutcomeReporter interface {
	Report(Outcome)
}

// Pool runs records through a RecordProcessor on a fixed number of
// goroutines and records terminal outcomes in the checkpoint store.
//
// A per-record error never leaves the worker. The only error Wait returns
// is a checkpoint persistence failure, which cancels the pool's context so
// no further records are dispatched.
type Pool struct {
	processor RecordProcessor
	store     Store
	reporter  OutcomeReporter
	logger    *slog.Logger

	group *errgroup.Group
	ctx   context.Context

	submitted atomic.Int64
	inFlight  atomic.Int64
}

// NewPool creates a pool bound to ctx
func NewPool(ctx context.Context, config Config, processor RecordProcessor, store Store, reporter OutcomeReporter, logger *slog.Logger) (*Pool, error) {
	if config.Workers <= 0 {
		return nil, fmt.Errorf("pool workers must be positive, got %d", config.Workers)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(config.Workers)

	return &Pool{
		processor: processor,
		store:     store,
		reporter:  reporter,
		logger:    logger,
		group:     group,
		ctx:       groupCtx,
	}, nil
}

// Submit dispatches rec, blocking while every worker is busy. It returns an
// error once ctx or the pool has been cancelled.
func (p *Pool) Submit(ctx context.Context, rec db.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}

	p.submitted.Add(1)
	p.group.Go(func() error {
		p.inFlight.Add(1)
		defer p.inFlight.Add(-1)
		return p.handle(rec)
	})
	return nil
}

// Wait blocks until every submitted record has finished
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// Submitted returns the number of records dispatched so far
func (p *Pool) Submitted() int64 {
	return p.submitted.Load()
}

// InFlight returns the number of records currently being processed
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

func (p *Pool) handle(rec db.RawRecord) error {
	// Work cancelled before it started is left for the next run
	if p.ctx.Err() != nil {
		return nil
	}

	out := p.processor.Process(p.ctx, rec)

	// Finished work is recorded even if the run is being interrupted
	storeCtx := context.WithoutCancel(p.ctx)

	var err error
	switch out.Status {
	case StatusCompleted:
		err = p.store.MarkCompleted(storeCtx, rec.ID)
	case StatusFailed:
		p.logger.Warn("record failed validation",
			"record_id", rec.ID,
			"error", out.Err)
		err = p.store.MarkFailed(storeCtx, rec.ID)
	case StatusTransient:
		if p.ctx.Err() != nil {
			p.logger.Info("record interrupted",
				"record_id", rec.ID,
				"stage", out.Stage)
			break
		}
		p.logger.Error("record conversion failed",
			"record_id", rec.ID,
			"stage", out.Stage,
			"error", out.Err)
	case StatusSkipped:
		p.logger.Debug("record skipped", "record_id", rec.ID)
	}

	if err != nil && errors.Is(err, checkpoint.ErrConflict) {
		p.logger.Warn("record already recorded with a different outcome",
			"record_id", rec.ID,
			"status", out.Status,
			"error", err)
		err = nil
	}

	if err != nil {
		out.Status = StatusTransient
		out.Stage = StageCheckpoint
		out.Err = err
		p.report(out)
		p.logger.Error("checkpoint persistence failed, aborting",
			"record_id", rec.ID,
			"error", err)
		return fmt.Errorf("record %s: %w", rec.ID, err)
	}

	p.report(out)
	return nil
}

func (p *Pool) report(out Outcome) {
	if p.reporter != nil {
		p.reporter.Report(out)
	}
}
