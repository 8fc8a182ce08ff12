package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func TestFrom_AddsRunFields(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := WithRun(context.Background(), "run-1", "msedge")
	ctx = WithStep(ctx, "compose")
	From(ctx).Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	rec := lines[0]
	if rec["run_id"] != "run-1" || rec["channel"] != "msedge" || rec["step"] != "compose" {
		t.Fatalf("missing run fields: %v", rec)
	}
}

func TestWithRun_ResetsStep(t *testing.T) {
	ctx := WithStep(WithRun(context.Background(), "run-2", "chrome"), "send")
	ctx = WithRun(ctx, "run-2", "msedge")
	if RunID(ctx) != "run-2" || Channel(ctx) != "msedge" || infoFrom(ctx).step != "" {
		t.Fatalf("unexpected run info: %+v", infoFrom(ctx))
	}
	if RunID(context.Background()) != "" {
		t.Fatal("expected no run id on a bare context")
	}
}

func TestReplaceAttr_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	Pkg("session").Info("login", "gmail_pass", "hunter2", "user", "me@example.com")

	rec := decodeLines(t, &buf)[0]
	if rec["gmail_pass"] != "[REDACTED]" || rec["user"] != "me@example.com" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["pkg"] != "session" {
		t.Fatalf("missing pkg: %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, " INFO ": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// =============================================================================
// Step events
// =============================================================================

func TestLogStep_LevelsByOutcome(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutputForTests(&buf)
	defer restore()

	ctx := context.Background()
	LogStep(ctx, "flow", StepEvent{Name: "a", Outcome: "pass", Duration: 1500 * time.Microsecond})
	LogStep(ctx, "flow", StepEvent{Name: "b", Outcome: "fail", Err: errors.New("nope")})

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["level"] != "INFO" || lines[0]["dur_ms"].(float64) != 1.5 {
		t.Fatalf("unexpected pass record: %v", lines[0])
	}
	if lines[1]["level"] != "ERROR" || lines[1]["error"] != "nope" {
		t.Fatalf("unexpected fail record: %v", lines[1])
	}
}
