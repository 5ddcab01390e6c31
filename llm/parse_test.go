package llm

import (
	"context"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger { return nopLogger }

func TestParseResponseCompleted(t *testing.T) {
	body := `{
		"id": "resp_1",
		"status": "completed",
		"created_at": 1700000000,
		"output": [
			{"type": "reasoning", "id": "rs_1", "summary": [{"text": "thinking"}]},
			{"type": "message", "id": "msg_1", "content": [{"type": "output_text", "text": "hello there"}]}
		]
	}`

	resp, err := parseResponse([]byte(body), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if resp.ID != "resp_1" || resp.Status != "completed" || resp.CreatedAt != 1700000000 {
		t.Errorf("header = %+v", resp)
	}
	if len(resp.Outputs) != 2 {
		t.Fatalf("len(Outputs) = %d, want 2", len(resp.Outputs))
	}
	if r := resp.Outputs[0]; r.Type != "reasoning" || r.ReasoningID != "rs_1" || r.Summary != "thinking" {
		t.Errorf("reasoning output = %+v", r)
	}
	if m := resp.Outputs[1]; m.Type != "message" || m.Text != "hello there" || m.Refused {
		t.Errorf("message output = %+v", m)
	}
	if !resp.OK() {
		t.Error("OK() = false, want true")
	}
}

func TestParseResponseRefusal(t *testing.T) {
	body := `{
		"id": "resp_2",
		"status": "completed",
		"output": [{"type": "message", "content": [{"type": "refusal", "refusal": "cannot help"}]}]
	}`

	resp, err := parseResponse([]byte(body), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Outputs) != 1 {
		t.Fatalf("len(Outputs) = %d", len(resp.Outputs))
	}
	out := resp.Outputs[0]
	if !out.Refused || out.RefusalReason != "cannot help" || out.Text != "" {
		t.Errorf("output = %+v", out)
	}
	if _, ok := resp.FirstMessage(); ok {
		t.Error("FirstMessage found a non-refused message")
	}
}

func TestParseResponseError(t *testing.T) {
	body := `{"id": "resp_3", "status": "failed", "error": {"code": "rate_limited", "reason": "slow down"}}`

	resp, err := parseResponse([]byte(body), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if resp.FailureCode != "rate_limited" || resp.FailureReason != "slow down" {
		t.Errorf("failure = %q %q", resp.FailureCode, resp.FailureReason)
	}
	if resp.OK() {
		t.Error("OK() = true for failed response")
	}
}

func TestParseResponseToolAndUnknownTypes(t *testing.T) {
	var warned int
	logger := slog.New(countHandler{n: &warned})
	body := `{
		"id": "resp_4",
		"status": "completed",
		"output": [
			{"type": "web_search_call", "id": "ws_1"},
			{"type": "function_call", "id": "fc_1"},
			{"type": "hologram"},
			{"type": "message", "content": [{"text": "done"}]}
		]
	}`

	resp, err := parseResponse([]byte(body), logger)
	if err != nil {
		t.Fatal(err)
	}
	// hologram is dropped; the two tool calls survive as typed markers.
	if len(resp.Outputs) != 3 {
		t.Fatalf("len(Outputs) = %d, want 3", len(resp.Outputs))
	}
	if resp.Outputs[0].Type != "web_search_call" || resp.Outputs[1].Type != "function_call" {
		t.Errorf("tool markers = %+v", resp.Outputs[:2])
	}
	if warned != 1 {
		t.Errorf("unknown-type warnings = %d, want 1", warned)
	}
	if msg, ok := resp.FirstMessage(); !ok || msg.Text != "done" {
		t.Errorf("FirstMessage = %+v, %v", msg, ok)
	}
}

func TestParseResponseMalformed(t *testing.T) {
	if _, err := parseResponse([]byte(`{"status": `), discardLogger()); err == nil {
		t.Error("want decode error")
	}
}

// countHandler counts records at warn level or above.
type countHandler struct{ n *int }

func (countHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= slog.LevelWarn }
func (h countHandler) Handle(context.Context, slog.Record) error  { *h.n++; return nil }
func (h countHandler) WithAttrs([]slog.Attr) slog.Handler         { return h }
func (h countHandler) WithGroup(string) slog.Handler              { return h }
