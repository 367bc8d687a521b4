// Package stats tallies record outcomes for a batch run, logs progress and
// drives the terminal progress bar.
package stats

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/livinlefevreloca/mjlogconv/internal/inbox"
	"github.com/livinlefevreloca/mjlogconv/internal/worker"
)

// Collector receives outcomes from the worker pool through an inbox and
// keeps the running totals. Report is safe for concurrent use; the totals
// are updated by a single goroutine.
type Collector struct {
	inbox    *inbox.Inbox[worker.Outcome]
	config   Config
	logger   *slog.Logger
	progress io.Writer

	// mu protects summary and bar
	mu      sync.Mutex
	summary Summary
	bar     *progressbar.ProgressBar
	started time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCollector creates a collector. The progress bar is drawn on progress
// when config.Enabled is set and progress is non-nil.
func NewCollector(config Config, progress io.Writer, logger *slog.Logger) *Collector {
	return &Collector{
		inbox:    inbox.New[worker.Outcome](config.InboxBufferSize, config.InboxSendTimeout, logger),
		config:   config,
		logger:   logger,
		progress: progress,
	}
}

// Start begins consuming outcomes. total sizes the progress bar.
func (c *Collector) Start(total int) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.summary.Total = total
		c.started = time.Now()
		if c.config.Enabled && c.progress != nil && total > 0 {
			c.bar = newProgressBar(c.progress, int64(total))
		}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.run()
	})
}

func newProgressBar(w io.Writer, total int64) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("converting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Report implements worker.OutcomeReporter
func (c *Collector) Report(out worker.Outcome) {
	if !c.inbox.Send(out) {
		c.logger.Warn("outcome dropped from stats", "record_id", out.RecordID, "status", out.Status)
	}
}

// Resumed counts records skipped because an earlier run already finished them
func (c *Collector) Resumed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary.Resumed += n
	c.advance(n)
}

// Stop drains pending outcomes and returns the final summary. Report must
// not be called after Stop.
func (c *Collector) Stop() Summary {
	c.stopOnce.Do(func() {
		c.logger.Debug("draining stats inbox", "pending", c.inbox.Len())
		c.inbox.Close()
		c.wg.Wait()

		c.mu.Lock()
		if c.bar != nil {
			_ = c.bar.Finish()
		}
		if !c.started.IsZero() {
			c.summary.Elapsed = time.Since(c.started)
		}
		c.mu.Unlock()

		if stats := c.inbox.GetStats(); stats.TimeoutCount > 0 {
			c.logger.Warn("stats inbox dropped outcomes", "dropped", stats.TimeoutCount)
		}
	})
	return c.Summary()
}

// Summary returns the totals so far
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.summary
	if s.Elapsed == 0 && !c.started.IsZero() {
		s.Elapsed = time.Since(c.started)
	}
	return s
}

// run is the collection loop
func (c *Collector) run() {
	defer c.wg.Done()

	for {
		out, ok := c.inbox.Receive()
		if !ok {
			return
		}
		c.record(out)
	}
}

func (c *Collector) record(out worker.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.summary
	s.ConvertTime += out.Duration

	switch out.Status {
	case worker.StatusCompleted:
		s.Completed++
		s.Bytes += int64(out.Bytes)
		c.logger.Info("record converted",
			"record_id", out.RecordID,
			"completed", s.Completed,
			"failed", s.Failed,
			"duration", out.Duration)
	case worker.StatusFailed:
		s.Failed++
		c.logger.Info("record marked failed",
			"record_id", out.RecordID,
			"completed", s.Completed,
			"failed", s.Failed)
	case worker.StatusSkipped:
		s.Skipped++
	case worker.StatusTransient:
		s.Transient++
	default:
		c.logger.Error("unexpected outcome status", "record_id", out.RecordID, "status", out.Status)
		return
	}

	c.advance(1)
}

// advance moves the progress bar; mu must be held
func (c *Collector) advance(n int) {
	if c.bar != nil && n > 0 {
		_ = c.bar.Add(n)
	}
}
