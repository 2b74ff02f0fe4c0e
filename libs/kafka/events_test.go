package kafka

import "testing"

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope("trades.settled", 1, "corr-1")
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := env.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if env.EventType != "trades.settled" {
		t.Fatalf("expected event type trades.settled, got %s", env.EventType)
	}
	if env.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation corr-1, got %s", env.CorrelationID)
	}
}

func TestNewEnvelopeRejectsMissingType(t *testing.T) {
	if _, err := NewEnvelope("", 1, ""); err == nil {
		t.Fatalf("expected error for missing event type")
	}
}

func TestNewEnvelopeRejectsBadVersion(t *testing.T) {
	if _, err := NewEnvelope("trades.settled", 0, ""); err == nil {
		t.Fatalf("expected error for zero version")
	}
}

func TestDeterministicEventID(t *testing.T) {
	a := DeterministicEventID("trades.settled", "trade-1")
	b := DeterministicEventID("trades.settled", "trade-1")
	c := DeterministicEventID("trades.settled", "trade-2")
	if a != b {
		t.Fatalf("expected stable id, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct parts")
	}
}
