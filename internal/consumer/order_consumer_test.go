package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/libs/kafka"
)

type fakeMatcher struct {
	regions []string
	err     error
}

func (f *fakeMatcher) RunMatch(ctx context.Context, regionID string) (*settle.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.regions = append(f.regions, regionID)
	return &settle.Summary{RegionID: regionID}, nil
}

func buildMessage(t *testing.T, mutate func(*OrderPostedEvent)) *sarama.ConsumerMessage {
	t.Helper()
	envelope, err := kafka.NewEnvelope(ordersPostedEventType, 1, "corr-1")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	event := OrderPostedEvent{
		Envelope: envelope,
		OrderID:  uuid.NewString(),
		Kind:     "offer",
		RegionID: "region-1",
		UserID:   uuid.NewString(),
	}
	if mutate != nil {
		mutate(&event)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: ordersPostedEventType, Value: raw}
}

func TestHandleMessageTriggersMatch(t *testing.T) {
	matcher := &fakeMatcher{}
	c := NewOrderConsumer(matcher, nil)

	if err := c.HandleMessage(context.Background(), buildMessage(t, nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(matcher.regions) != 1 || matcher.regions[0] != "region-1" {
		t.Fatalf("expected match for region-1, got %v", matcher.regions)
	}
}

func TestHandleMessageSkipsBusyRegion(t *testing.T) {
	matcher := &fakeMatcher{err: fmt.Errorf("wrapped: %w", settle.ErrRegionBusy)}
	c := NewOrderConsumer(matcher, nil)

	if err := c.HandleMessage(context.Background(), buildMessage(t, nil)); err != nil {
		t.Fatalf("busy region must not fail the message: %v", err)
	}
}

func TestHandleMessagePropagatesMatchError(t *testing.T) {
	matcher := &fakeMatcher{err: fmt.Errorf("ledger unavailable")}
	c := NewOrderConsumer(matcher, nil)

	if err := c.HandleMessage(context.Background(), buildMessage(t, nil)); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestHandleMessageRejectsBadEvent(t *testing.T) {
	c := NewOrderConsumer(&fakeMatcher{}, nil)

	if err := c.HandleMessage(context.Background(), buildMessage(t, func(e *OrderPostedEvent) {
		e.RegionID = ""
	})); err == nil {
		t.Fatalf("expected error for missing region")
	}
	if err := c.HandleMessage(context.Background(), buildMessage(t, func(e *OrderPostedEvent) {
		e.Kind = "swap"
	})); err == nil {
		t.Fatalf("expected error for bad kind")
	}
	if err := c.HandleMessage(context.Background(), &sarama.ConsumerMessage{}); err == nil {
		t.Fatalf("expected error for empty message")
	}
}
