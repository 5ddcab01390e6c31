// Package logsink decouples logging from the goroutines that log: records
// are queued to a single background consumer that writes them to the real
// handler, so no pipeline stage ever blocks on terminal I/O. The sink is
// initialised first in main and drained last at shutdown.
//
// The consumer must never log back into the sink.
package logsink

import (
	"context"
	"log/slog"
	"sync"
)

// queueSize bounds the record queue. When the queue is full the record is
// written synchronously instead of being dropped.
const queueSize = 1024

// Sink owns the queue and the consumer goroutine.
type Sink struct {
	queue chan entry
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type entry struct {
	h slog.Handler
	r slog.Record
}

// New starts a sink draining into inner and returns it together with a
// logger that enqueues through it.
func New(inner slog.Handler) (*Sink, *slog.Logger) {
	s := &Sink{
		queue: make(chan entry, queueSize),
		done:  make(chan struct{}),
	}
	go s.consume()
	return s, slog.New(&handler{sink: s, inner: inner})
}

func (s *Sink) consume() {
	for e := range s.queue {
		_ = e.h.Handle(context.Background(), e.r)
	}
	close(s.done)
}

// enqueue hands a record to the consumer. After Close, and when the queue
// is saturated, the record is written synchronously so nothing is lost.
func (s *Sink) enqueue(h slog.Handler, r slog.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return h.Handle(context.Background(), r)
	}
	select {
	case s.queue <- entry{h: h, r: r}:
		return nil
	default:
		return h.Handle(context.Background(), r)
	}
}

// Close stops intake and blocks until every queued record has been
// written.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	<-s.done
	return nil
}

// handler enqueues records for its sink; attribute and group derivation
// wraps the inner handler, so derived loggers share the same queue.
type handler struct {
	sink  *Sink
	inner slog.Handler
}

func (h *handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	// Clone: the record's attrs may live on the caller's stack.
	return h.sink.enqueue(h.inner, r.Clone())
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{sink: h.sink, inner: h.inner.WithAttrs(attrs)}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{sink: h.sink, inner: h.inner.WithGroup(name)}
}
