package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/herald/internal/observability"
)

// AsyncSink queues entries for a single background writer so recording
// never waits on disk. When the queue is full the entry is dropped.
type AsyncSink struct {
	writer  Writer
	logger  *slog.Logger
	metrics *observability.Metrics
	timeout time.Duration

	queue chan Entry
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// AsyncConfig configures an AsyncSink.
type AsyncConfig struct {
	// QueueSize bounds pending entries. Defaults to 256.
	QueueSize int

	// WriteTimeout bounds each write. Defaults to 5s.
	WriteTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewAsyncSink starts the writer goroutine.
func NewAsyncSink(writer Writer, config AsyncConfig) *AsyncSink {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &AsyncSink{
		writer:  writer,
		logger:  config.Logger.With("component", "history"),
		metrics: config.Metrics,
		timeout: config.WriteTimeout,
		queue:   make(chan Entry, config.QueueSize),
		done:    make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// Record queues entry. It never blocks.
func (s *AsyncSink) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.metrics.HistoryEntryDropped()
		s.logger.Warn("history queue full, dropping entry",
			"chat_id", entry.ChatID,
			"role", string(entry.Role),
		)
	}
}

func (s *AsyncSink) writeLoop() {
	defer close(s.done)
	for entry := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.writer.Write(ctx, entry); err != nil {
			s.metrics.RecordError("history", "write")
			s.logger.Error("failed to write history entry",
				"chat_id", entry.ChatID,
				"error", err,
			)
		}
		cancel()
	}
}

// Close stops accepting entries and waits for queued ones to be written, or
// for ctx to end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
