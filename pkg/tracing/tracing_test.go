package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Enabled {
		t.Error("tracing should be disabled by default")
	}
	if cfg.ServiceName != "reelcast-client" {
		t.Errorf("expected service name 'reelcast-client', got '%s'", cfg.ServiceName)
	}
	if cfg.SampleRate != 1.0 {
		t.Errorf("expected sample rate 1.0, got %f", cfg.SampleRate)
	}
}

func TestInit_Disabled(t *testing.T) {
	tp, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown of disabled provider failed: %v", err)
	}
}

func TestTraceNegotiation_NoProvider(t *testing.T) {
	ctx, span := TraceNegotiation(context.Background(), "offer", "viewer-1", "stream-1")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	RecordError(ctx, errors.New("boom"))
	span.End()
}

func TestTraceSignal_NoProvider(t *testing.T) {
	_, span := TraceSignal(context.Background(), "send", "offer")
	if span == nil {
		t.Fatal("expected non-nil span")
	}
	span.End()
}
