package logsink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
)

// recordingHandler collects the messages it is asked to write.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.msgs...)
}

func TestSinkDrainsInOrderOnClose(t *testing.T) {
	inner := &recordingHandler{}
	sink, logger := New(inner)

	const n = 100
	for i := range n {
		logger.Info(fmt.Sprintf("record %d", i))
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	msgs := inner.messages()
	if len(msgs) != n {
		t.Fatalf("wrote %d records, want %d", len(msgs), n)
	}
	for i, msg := range msgs {
		if want := fmt.Sprintf("record %d", i); msg != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msg, want)
		}
	}
}

func TestSinkAfterCloseWritesSynchronously(t *testing.T) {
	inner := &recordingHandler{}
	sink, logger := New(inner)
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	logger.Info("late record")
	msgs := inner.messages()
	if len(msgs) != 1 || msgs[0] != "late record" {
		t.Errorf("messages = %v", msgs)
	}
}

func TestSinkCloseIdempotent(t *testing.T) {
	sink, _ := New(&recordingHandler{})
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestDerivedLoggersShareQueue(t *testing.T) {
	inner := &recordingHandler{}
	sink, logger := New(inner)

	logger.With("component", "archiver").Info("derived")
	logger.WithGroup("llm").Info("grouped")
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	if msgs := inner.messages(); len(msgs) != 2 {
		t.Errorf("messages = %v", msgs)
	}
}
