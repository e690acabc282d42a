package audit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one telemetry record emitted per batch sub-response. It
// exists to make empty-page waste visible operationally: a sub-request
// that returned zero rows spent quota confirming a page that did not
// exist, which should stay at O(1) per date.
type Event struct {
	Batch        bool
	Site         string
	Date         string
	StartRow     int
	RowsReturned int
	AttemptCount int
	At           time.Time
}

// Store persists batches of audit events.
type Store interface {
	InsertAuditEvents(events []Event) error
}

// Config defines buffering thresholds for the audit writer.
type Config struct {
	// Maximum buffered events before Record starts reporting overflow
	MaxBuffered int `toml:"max_buffered"`

	// Channel buffer size for the background writer
	ChannelSize int `toml:"channel_size"`

	// Flushing - dual mechanism (size OR time triggers flush)
	FlushThreshold int           `toml:"flush_threshold"`
	FlushInterval  time.Duration `toml:"flush_interval"`
}

// DefaultConfig returns audit writer defaults sized for long syncs.
func DefaultConfig() Config {
	return Config{
		MaxBuffered:    10000,
		ChannelSize:    500,
		FlushThreshold: 100,
		FlushInterval:  2 * time.Second,
	}
}

func validateConfig(config Config) error {
	if config.MaxBuffered <= 0 {
		return fmt.Errorf("MaxBuffered must be positive, got %d", config.MaxBuffered)
	}
	if config.ChannelSize <= 0 {
		return fmt.Errorf("ChannelSize must be positive, got %d", config.ChannelSize)
	}
	if config.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", config.FlushThreshold)
	}
	if config.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", config.FlushInterval)
	}
	return nil
}

// Writer buffers audit events and writes them to the store in batches.
// Record is called from the scheduler's coordinator loop and must never
// block on I/O, so events travel buffer → channel → background writer.
type Writer struct {
	config Config
	logger *slog.Logger
	store  Store

	// Buffer owned by the recording goroutine; flushed on size or time.
	buffer    []Event
	lastFlush time.Time

	ch       chan []Event
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewWriter creates an audit writer over a store.
func NewWriter(config Config, store Store, logger *slog.Logger) (*Writer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Writer{
		config:    config,
		logger:    logger,
		store:     store,
		buffer:    make([]Event, 0),
		lastFlush: time.Now(),
		ch:        make(chan []Event, config.ChannelSize),
		shutdown:  make(chan struct{}),
	}, nil
}

// Start launches the background writer goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Record buffers one event and flushes when a threshold is hit.
// Returns error only when the buffer has exceeded its hard maximum.
func (w *Writer) Record(event Event) error {
	w.buffer = append(w.buffer, event)

	if len(w.buffer) > w.config.MaxBuffered {
		return fmt.Errorf("audit buffer exceeded maximum size: %d > %d",
			len(w.buffer), w.config.MaxBuffered)
	}

	if len(w.buffer) >= w.config.FlushThreshold ||
		time.Since(w.lastFlush) >= w.config.FlushInterval {
		w.Flush()
	}
	return nil
}

// Flush hands the buffered events to the background writer. When the
// channel is full the buffer is kept and retried on the next Record.
func (w *Writer) Flush() {
	if len(w.buffer) == 0 {
		return
	}

	select {
	case w.ch <- w.buffer:
		w.buffer = make([]Event, 0)
		w.lastFlush = time.Now()
	default:
		w.logger.Warn("audit channel full, keeping events buffered",
			"buffered", len(w.buffer))
	}
}

// Buffered returns the number of events not yet handed to the writer.
func (w *Writer) Buffered() int {
	return len(w.buffer)
}

// run drains event batches from the channel into the store.
func (w *Writer) run() {
	defer w.wg.Done()

	for events := range w.ch {
		if err := w.store.InsertAuditEvents(events); err != nil {
			w.logger.Error("failed to write audit events",
				"count", len(events),
				"error", err)
		} else {
			w.logger.Debug("wrote audit events", "count", len(events))
		}
	}
}

// Shutdown flushes remaining events and waits for the writer to drain.
func (w *Writer) Shutdown() {
	close(w.shutdown)

	w.Flush()
	close(w.ch)
	w.wg.Wait()

	w.logger.Debug("audit writer shut down")
}
