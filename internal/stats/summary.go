package stats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary is the tally of one batch run
type Summary struct {
	Total     int // Records in scope after the limit
	Resumed   int // Already completed or failed before this run
	Completed int
	Failed    int
	Skipped   int
	Transient int

	Bytes       int64         // Artifact bytes written
	ConvertTime time.Duration // Sum of per-record pipeline time
	Elapsed     time.Duration
}

// Processed is the number of records that went through the pipeline
func (s Summary) Processed() int {
	return s.Completed + s.Failed + s.Skipped + s.Transient
}

// Rate is records processed per second of wall time
func (s Summary) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed()) / s.Elapsed.Seconds()
}

// LogValue implements slog.LogValuer
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", s.Total),
		slog.Int("resumed", s.Resumed),
		slog.Int("completed", s.Completed),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
		slog.Int("transient", s.Transient),
		slog.String("bytes", humanize.Bytes(uint64(s.Bytes))),
		slog.Duration("elapsed", s.Elapsed.Round(time.Millisecond)),
		slog.String("rate", fmt.Sprintf("%.1f/s", s.Rate())),
	)
}

// String renders the summary for terminal output
func (s Summary) String() string {
	return fmt.Sprintf("%s converted, %s failed, %s skipped, %s transient, %s resumed; %s written in %s",
		humanize.Comma(int64(s.Completed)),
		humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Skipped)),
		humanize.Comma(int64(s.Transient)),
		humanize.Comma(int64(s.Resumed)),
		humanize.Bytes(uint64(s.Bytes)),
		s.Elapsed.Round(time.Second))
}
