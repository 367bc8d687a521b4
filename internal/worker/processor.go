package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/livinlefevreloca/mjlogconv/internal/converter"
	"github.com/livinlefevreloca/mjlogconv/internal/db"
	"github.com/livinlefevreloca/mjlogconv/internal/sink"
	"github.com/livinlefevreloca/mjlogconv/internal/transform"
)

// RecordProcessor runs the conversion pipeline for a single record
type RecordProcessor interface {
	Process(ctx context.Context, rec db.RawRecord) Outcome
}

// Processor is the production pipeline: decompress, filter, convert,
// repair and validate, compress, write. It never touches the checkpoint
// store; the pool applies the outcome.
type Processor struct {
	converter converter.Converter
	sink      sink.Sink
	marker    string
	logger    *slog.Logger
}

// NewProcessor creates a processor. An empty marker uses converter.DefaultMarker.
func NewProcessor(conv converter.Converter, out sink.Sink, marker string, logger *slog.Logger) *Processor {
	if marker == "" {
		marker = converter.DefaultMarker
	}
	return &Processor{
		converter: conv,
		sink:      out,
		marker:    marker,
		logger:    logger,
	}
}

// Process converts one record and classifies the result
func (p *Processor) Process(ctx context.Context, rec db.RawRecord) (out Outcome) {
	start := time.Now()
	out = Outcome{RecordID: rec.ID, Status: StatusPending}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("record pipeline panic recovered",
				"record_id", rec.ID,
				"stage", out.Stage,
				"panic", r,
				"stack", string(debug.Stack()))
			out.Status = StatusTransient
			out.Err = fmt.Errorf("panic: %v", r)
		}
		out.Duration = time.Since(start)
	}()

	out.Stage = StageDecompress
	if err := db.ValidateID(rec.ID); err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out
	}
	payload, err := converter.Decompress(rec.Payload)
	if err != nil {
		return transient(out, err)
	}

	out.Stage = StageFilter
	if !converter.Matches(payload, p.marker) {
		out.Status = StatusSkipped
		return out
	}

	out.Stage = StageConvert
	seq, err := p.converter.Convert(ctx, rec.ID, payload)
	if err != nil {
		return transient(out, err)
	}

	out.Stage = StageTransform
	repaired, err := transform.Process(rec.ID, seq)
	if err != nil {
		var verr *transform.ValidationError
		if errors.As(err, &verr) {
			out.Status = StatusFailed
			out.Err = err
			return out
		}
		return transient(out, err)
	}

	out.Stage = StageCompress
	data, err := sink.Compress(repaired)
	if err != nil {
		return transient(out, err)
	}

	out.Stage = StageWrite
	if err := p.sink.Write(ctx, rec.ID, data); err != nil {
		return transient(out, err)
	}

	out.Status = StatusCompleted
	out.Bytes = len(data)
	return out
}

func transient(out Outcome, err error) Outcome {
	out.Status = StatusTransient
	out.Err = err
	return out
}
