package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	if _, ok := RequestID(ctx); ok {
		t.Fatalf("expected no request id on empty context")
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithProvider(ctx, "bfl")
	if got, ok := Provider(ctx); !ok || got != "bfl" {
		t.Fatalf("Provider mismatch: %v %v", got, ok)
	}

	ctx = WithProvider(ctx, "")
	if _, ok := Provider(ctx); ok {
		t.Fatalf("empty provider should report absent")
	}
}
