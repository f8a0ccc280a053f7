package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestBuild_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Config{Level: "debug", Component: "extract"}, &buf)
	l.Debug().Int("bands", 3).Msg("read")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("not JSON: %v (%q)", err, buf.String())
	}
	if m["msg"] != "read" || m["component"] != "extract" || m["level"] != "debug" {
		t.Errorf("unexpected fields: %v", m)
	}
	if _, ok := m["timestamp"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestBuild_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := Build(Config{Level: "warn"}, &buf)
	l.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}
	l.Warn().Msg("shown")
	if buf.Len() == 0 {
		t.Error("warn not logged")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	parent := zerolog.New(&buf)
	ctx := WithStage(WithLayer(WithRequestID(context.Background(), "req-1"), "dem"), "encode")
	FromContext(ctx, &parent).Info().Msg("x")

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m["request_id"] != "req-1" || m["layer"] != "dem" || m["stage"] != "encode" {
		t.Errorf("context fields missing: %v", m)
	}
	if RequestID(ctx) != "req-1" {
		t.Errorf("RequestID = %q", RequestID(ctx))
	}
}

func TestWithRequestID_Generates(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestID(ctx) == "" {
		t.Error("expected a generated id")
	}
	if FromContext(ctx, nil) == nil {
		t.Error("nil parent should yield a discard logger")
	}
}
