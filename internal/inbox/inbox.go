package inbox

import (
	"log/slog"
	"sync/atomic"
)

// Mailbox is a bounded, typed message channel for single-consumer actors.
// Producers use TrySend and must treat a false return as backpressure;
// the consumer drains with TryReceive or blocks on Receive.
type Mailbox[T any] struct {
	ch     chan T
	logger *slog.Logger
	stats  *Stats
}

// Stats tracks mailbox usage. Dropped counts TrySend calls that found
// the mailbox full.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
}

// New creates a mailbox with the given buffer size.
func New[T any](bufferSize int, logger *slog.Logger) *Mailbox[T] {
	return &Mailbox[T]{
		ch:     make(chan T, bufferSize),
		logger: logger,
		stats:  &Stats{},
	}
}

// TrySend enqueues a message without blocking.
// Returns false if the mailbox is full; the message is dropped.
func (mb *Mailbox[T]) TrySend(msg T) bool {
	select {
	case mb.ch <- msg:
		atomic.AddInt64(&mb.stats.Sent, 1)
		return true
	default:
		atomic.AddInt64(&mb.stats.Dropped, 1)
		mb.logger.Warn("mailbox full, message dropped", "depth", len(mb.ch))
		return false
	}
}

// Receive blocks until a message is available or the mailbox is closed.
// The second return value is false once the mailbox is closed and drained.
func (mb *Mailbox[T]) Receive() (T, bool) {
	msg, ok := <-mb.ch
	if ok {
		atomic.AddInt64(&mb.stats.Received, 1)
	}
	return msg, ok
}

// TryReceive attempts to receive a message without blocking.
func (mb *Mailbox[T]) TryReceive() (T, bool) {
	select {
	case msg, ok := <-mb.ch:
		if ok {
			atomic.AddInt64(&mb.stats.Received, 1)
		}
		return msg, ok
	default:
		var zero T
		return zero, false
	}
}

// Drain returns all messages currently buffered without blocking.
// Used by actors to finish pending work during shutdown.
func (mb *Mailbox[T]) Drain() []T {
	var msgs []T
	for {
		msg, ok := mb.TryReceive()
		if !ok {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

// Len returns the current number of buffered messages.
func (mb *Mailbox[T]) Len() int {
	return len(mb.ch)
}

// Close closes the mailbox. Producers must not call TrySend afterwards.
func (mb *Mailbox[T]) Close() {
	close(mb.ch)
}

// GetStats returns a copy of the current mailbox statistics.
func (mb *Mailbox[T]) GetStats() Stats {
	return Stats{
		Sent:     atomic.LoadInt64(&mb.stats.Sent),
		Received: atomic.LoadInt64(&mb.stats.Received),
		Dropped:  atomic.LoadInt64(&mb.stats.Dropped),
	}
}
