package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTeeHandlerRoutesByLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := newTeeHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		nil,
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With(Token("tok"))
	logger.Debug("hidden-debug")
	logger.Info("ingested")

	if strings.Contains(infoBuf.String(), "hidden-debug") {
		t.Fatalf("info handler received debug record: %s", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"token":"tok"`) {
		t.Fatalf("expected token attr on info handler: %s", infoBuf.String())
	}
	if strings.Count(debugBuf.String(), "\n") != 2 {
		t.Fatalf("expected both records on debug handler: %s", debugBuf.String())
	}
}

func TestNewTeeHandlerCollapses(t *testing.T) {
	if _, ok := newTeeHandler(nil, nil).(discardHandler); !ok {
		t.Fatal("expected discard handler when nothing is live")
	}
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	if newTeeHandler(nil, inner) != inner {
		t.Fatal("expected single handler returned unwrapped")
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("disk full") }

func TestTeeHandlerJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	ok := slog.NewJSONHandler(&buf, nil)
	h := newTeeHandler(failingHandler{ok}, ok)
	record := slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0)
	if err := h.Handle(context.Background(), record); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("healthy handler should still receive the record")
	}
}

func TestJSONHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, slog.LevelInfo, false))
	logger.Warn("stage failed", Stage("collage"), Event("stage_failed"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record["level"] != "warn" || record["msg"] != "stage failed" || record[FieldStage] != "collage" {
		t.Fatalf("unexpected record %v", record)
	}
	ts, _ := record["ts"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("ts %q not RFC3339: %v", ts, err)
	}
}

func TestConsoleValueQuoting(t *testing.T) {
	tests := []struct {
		value slog.Value
		want  string
	}{
		{slog.StringValue("plain"), "plain"},
		{slog.StringValue("two words"), `"two words"`},
		{slog.StringValue(""), `""`},
		{slog.IntValue(42), "42"},
		{slog.Float64Value(0.5), "0.5"},
		{slog.AnyValue(errors.New("a=b")), `"a=b"`},
	}
	for _, tt := range tests {
		if got := consoleValue(tt.value); got != tt.want {
			t.Fatalf("consoleValue(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestWarnWithContextFillsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	WarnWithContext(logger, "fetch retry", "fetch_retry", Hint("check the origin"))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record[FieldEventType] != "fetch_retry" || record[FieldErrorHint] != "check the origin" || record[FieldImpact] != defaultImpact {
		t.Fatalf("unexpected record %v", record)
	}
}
