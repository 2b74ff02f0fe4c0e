package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/IBM/sarama"

	"github.com/BraydenSmith1/kora/internal/settle"
	"github.com/BraydenSmith1/kora/libs/kafka"
)

const ordersPostedEventType = "orders.posted"

type OrderPostedEvent struct {
	kafka.Envelope
	OrderID  string `json:"order_id"`
	Kind     string `json:"kind"`
	RegionID string `json:"region_id"`
	UserID   string `json:"user_id"`
}

type Matcher interface {
	RunMatch(ctx context.Context, regionID string) (*settle.Summary, error)
}

// OrderConsumer reacts to posted orders by running a matching pass for the
// order's region. A busy region is fine: the pass already in flight reads the
// book after this order landed, or the next post triggers another.
type OrderConsumer struct {
	matcher Matcher
	logger  *slog.Logger
}

func NewOrderConsumer(matcher Matcher, logger *slog.Logger) *OrderConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderConsumer{matcher: matcher, logger: logger}
}

func (c *OrderConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil || len(msg.Value) == 0 {
		return fmt.Errorf("empty kafka message")
	}
	var event OrderPostedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode orders.posted: %w", err)
	}
	if err := event.Validate(); err != nil {
		return err
	}

	summary, err := c.matcher.RunMatch(ctx, event.RegionID)
	if err != nil {
		if errors.Is(err, settle.ErrRegionBusy) {
			c.logger.Info("region busy, skipping match trigger",
				"region_id", event.RegionID, "order_id", event.OrderID)
			return nil
		}
		return fmt.Errorf("match region %s: %w", event.RegionID, err)
	}

	c.logger.Info("order-triggered matching pass complete",
		"region_id", event.RegionID,
		"order_id", event.OrderID,
		"executed_trades", summary.ExecutedTrades)
	return nil
}

func (e *OrderPostedEvent) Validate() error {
	if err := e.Envelope.Validate(); err != nil {
		return err
	}
	if e.EventType != ordersPostedEventType {
		return fmt.Errorf("unexpected event_type: %s", e.EventType)
	}
	if strings.TrimSpace(e.OrderID) == "" {
		return fmt.Errorf("order_id is required")
	}
	if strings.TrimSpace(e.RegionID) == "" {
		return fmt.Errorf("region_id is required")
	}
	kind := strings.TrimSpace(e.Kind)
	if kind != "offer" && kind != "request" {
		return fmt.Errorf("kind must be offer or request")
	}
	return nil
}
