// Package inbox is a typed, buffered message channel with depth tracking
// and an optional send timeout.
package inbox

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox carries messages of type T from many producers to one consumer
type Inbox[T any] struct {
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	sent     atomic.Int64
	received atomic.Int64
	timeouts atomic.Int64
	maxDepth atomic.Int64

	closeOnce sync.Once
}

// Stats is a point-in-time view of inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox. A timeout <= 0 makes Send block until there is room.
func New[T any](bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
	}
}

// Send queues msg. It returns false if the timeout elapsed first.
func (ib *Inbox[T]) Send(msg T) bool {
	if ib.timeout <= 0 {
		ib.ch <- msg
		ib.sent.Add(1)
		ib.trackDepth()
		return true
	}

	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.sent.Add(1)
		ib.trackDepth()
		return true
	case <-timer.C:
		ib.timeouts.Add(1)
		ib.logger.Warn("inbox send timeout",
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	}
}

// Receive blocks for the next message. ok is false once the inbox is
// closed and drained.
func (ib *Inbox[T]) Receive() (T, bool) {
	msg, ok := <-ib.ch
	if ok {
		ib.received.Add(1)
	}
	return msg, ok
}

func (ib *Inbox[T]) trackDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepth.Load()
		if depth <= seen || ib.maxDepth.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// GetStats returns the current inbox statistics
func (ib *Inbox[T]) GetStats() Stats {
	return Stats{
		TotalSent:     ib.sent.Load(),
		TotalReceived: ib.received.Load(),
		TimeoutCount:  ib.timeouts.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepth.Load()),
	}
}

// Len returns the number of queued messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close stops the inbox. Sending after Close panics; closing twice is a no-op.
func (ib *Inbox[T]) Close() {
	ib.closeOnce.Do(func() {
		close(ib.ch)
	})
}
