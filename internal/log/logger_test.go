package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Component: ComponentNav, JSON: true, Output: &buf})

	l.Info("built", FieldYear, 2024)
	l.WithComponent(ComponentLedger).Debug("loaded")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0][FieldComponent] != ComponentNav || lines[0][FieldYear] != float64(2024) {
		t.Errorf("first line = %v", lines[0])
	}
	if lines[1][FieldComponent] != ComponentLedger {
		t.Errorf("second line = %v", lines[1])
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Component: ComponentApp, JSON: true, Output: &buf})
	l.Info("hidden")
	l.Warn("shown")
	if lines := decodeLines(t, &buf); len(lines) != 1 || lines[0]["msg"] != "shown" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()).Component() != "unknown" {
		t.Fatalf("expected fallback logger")
	}

	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentHTTP, JSON: true, Output: &buf})
	ctx := context.WithValue(context.Background(), LoggerContextKey, l)
	ctx = WithRequestID(ctx, "req_1")
	FromContext(ctx).InfoContext(ctx, "hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0][FieldRequestID] != "req_1" || lines[0][FieldComponent] != ComponentHTTP {
		t.Fatalf("lines = %v", lines)
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Component: ComponentApp, JSON: true, Output: &buf})
	sl := NewStructuredLogger(l)
	ctx := context.WithValue(context.Background(), LoggerContextKey, l)

	sl.LogEntryChanged(ctx, OpCreate, 7, "expense", "家賃", 80000, "確定")
	sl.LogError(ctx, "boom", errors.New("disk full"), ComponentStorage, OpUpdate, nil)
	sl.LogHTTPEnd(ctx, httptest.NewRequest("GET", "/2024/1/expense", nil), 503, 12, "127.0.0.1")

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("got %d lines", len(lines))
	}
	if lines[0]["msg"] != "Ledger entry created" || lines[0][FieldEntryName] != "家賃" {
		t.Errorf("entry line = %v", lines[0])
	}
	if lines[1][FieldError] != "disk full" || lines[1][FieldComponent] != ComponentStorage {
		t.Errorf("error line = %v", lines[1])
	}
	if lines[2]["level"] != "ERROR" || lines[2][FieldSuccess] != false {
		t.Errorf("http line = %v", lines[2])
	}
}
