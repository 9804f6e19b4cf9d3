package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"brownie.dev/internal/auth"
)

func TestEventCarriesRequestAndPrincipalContext(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := NewLogger(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-123")
	ctx = auth.ContextWithPrincipal(ctx, auth.Principal{UserID: "u1", OrgID: "org-1"})

	if err := logger.Event(ctx, "incident.create", zap.String("incident_id", "inc-9")); err != nil {
		t.Fatalf("Event: %v", err)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for key, want := range map[string]string{
		"type":        "audit",
		"event":       "incident.create",
		"request_id":  "req-123",
		"user_id":     "u1",
		"org_id":      "org-1",
		"incident_id": "inc-9",
	} {
		if got := fields[key]; got != want {
			t.Fatalf("field %s = %v, want %s", key, got, want)
		}
	}
}

func TestEventRequiresName(t *testing.T) {
	logger := NewLogger(nil)
	if err := logger.Event(context.Background(), "  "); err == nil {
		t.Fatal("expected an error for a blank event name")
	}
}

func TestRequestIDHelpers(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context should carry no request id, got %q", got)
	}

	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("blank ids are ignored, got %q", got)
	}

	ctx = WithRequestID(context.Background(), "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Fatalf("unexpected request id %q", got)
	}
}
