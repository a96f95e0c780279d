package telemetry

import (
	"context"
	"testing"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("SPECWEAVE_OTEL_ENABLED", "")
	if Enabled() {
		t.Fatal("telemetry should be disabled")
	}
	ctx := context.Background()
	if err := Init(ctx, "specweave", "test"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, span := Tracer("").Start(ctx, "noop")
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should produce invalid span contexts")
	}
	span.End()
	Count(ctx, "", "specweave.test.count", 1)
	Shutdown(ctx)
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("firstNonEmpty = %q", got)
	}
	if got := firstNonEmpty("", ""); got != "" {
		t.Errorf("firstNonEmpty = %q", got)
	}
}
