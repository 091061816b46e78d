package observability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestFieldAccessors(t *testing.T) {
	if f := String("name", "doc.pdf"); f.Key() != "name" || f.Value() != "doc.pdf" {
		t.Fatalf("string field mismatch: %v=%v", f.Key(), f.Value())
	}
	if f := Int("pages", 3); f.Value() != 3 {
		t.Fatalf("int field mismatch")
	}
	if f := Int64("bytes", 42); f.Value() != int64(42) {
		t.Fatalf("int64 field mismatch")
	}
	if f := Float64("dpi", 150); f.Value() != float64(150) {
		t.Fatalf("float64 field mismatch")
	}
	cause := errors.New("boom")
	if f := Error("err", cause); f.Value() != cause {
		t.Fatalf("error field mismatch")
	}
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.With(String("file", "in.pdf")).Info("converted",
		Int("pages", 2), Int64("bytes", 1024), Error("err", nil))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Message != "converted" {
		t.Fatalf("unexpected message %q", entry.Message)
	}
	fields := entry.ContextMap()
	if fields["file"] != "in.pdf" {
		t.Fatalf("With field lost: %v", fields)
	}
	if fields["pages"] != int64(2) {
		t.Fatalf("pages field lost: %v", fields)
	}
}

func TestNewZapLoggerNil(t *testing.T) {
	if _, ok := NewZapLogger(nil).(NopLogger); !ok {
		t.Fatalf("nil zap logger should degrade to NopLogger")
	}
}
