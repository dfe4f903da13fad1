package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestEventCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	j := New(zap.New(core))

	ctx := WithRequestID(context.Background(), "req-42")
	j.Event(ctx, "session.login", zap.String("user_id", "u1"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["audit_event"] != "session.login" {
		t.Fatalf("audit_event = %v", fields["audit_event"])
	}
	if fields["request_id"] != "req-42" {
		t.Fatalf("request_id = %v", fields["request_id"])
	}
	if fields["user_id"] != "u1" {
		t.Fatalf("user_id = %v", fields["user_id"])
	}
}

func TestEventWithoutRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	j := New(zap.New(core))

	j.Event(context.Background(), "session.logout")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["request_id"]; ok {
		t.Fatal("request_id should be absent")
	}
}

func TestBlankEventIgnored(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	j := New(zap.New(core))

	j.Event(context.Background(), "   ")
	if n := len(logs.All()); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
}

func TestBlankRequestIDNotStored(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
