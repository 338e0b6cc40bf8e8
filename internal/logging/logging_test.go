package logging

import (
	"context"
	"testing"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if logger := New(level, "text"); logger == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}

func TestNewJSONFormat(t *testing.T) {
	if logger := New("info", "json"); logger == nil {
		t.Fatal("New returned nil for json format")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID on empty context = %q, want empty", got)
	}
}

func TestAnalysisIDRoundTrip(t *testing.T) {
	ctx := WithAnalysisID(context.Background(), "AEGES_1_abc")
	if got := AnalysisID(ctx); got != "AEGES_1_abc" {
		t.Errorf("AnalysisID = %q, want AEGES_1_abc", got)
	}
}

func TestLWithContextIDs(t *testing.T) {
	logger := New("info", "text")
	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithAnalysisID(ctx, "AEGES_1_abc")
	if L(ctx) == nil {
		t.Fatal("L returned nil")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext returned nil")
	}
}
