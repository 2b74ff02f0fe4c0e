package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"log/slog"
)

// MessageHandler processes one consumed message. Returning an error leaves
// the message unmarked; with a DLQ-wired group the runner forwards it there.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// consumeRetryBackoff paces reconnect attempts after a group-level error
// (broker restart, rebalance storm).
const consumeRetryBackoff = 2 * time.Second

// Consumer wraps a sarama consumer group for the match-trigger topics.
type Consumer struct {
	group   sarama.ConsumerGroup
	groupID string
	logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if groupID == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	// Old orders.posted events just trigger an extra no-op matching pass, so
	// starting from the oldest offset is safe for a fresh group.
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", groupID, err)
	}

	return &Consumer{
		group:   group,
		groupID: groupID,
		logger:  logger,
	}, nil
}

// Consume joins the group and processes the given topics until ctx is
// cancelled, rejoining after transient group errors.
func (c *Consumer) Consume(ctx context.Context, topics []string, handler MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("message handler required")
	}

	go c.drainGroupErrors(ctx)

	runner := &claimRunner{
		handler: handler,
		logger:  c.logger,
	}

	for {
		if err := c.group.Consume(ctx, topics, runner); err != nil {
			c.logger.Error("kafka consume session ended",
				"group", c.groupID, "topics", topics, "error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(consumeRetryBackoff)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) drainGroupErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("kafka group error", "group", c.groupID, "error", err)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

type claimRunner struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (r *claimRunner) Setup(session sarama.ConsumerGroupSession) error {
	r.logger.Info("kafka claims assigned", "claims", session.Claims())
	return nil
}

func (r *claimRunner) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (r *claimRunner) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := r.handler.HandleMessage(session.Context(), msg); err != nil {
			r.logger.Error("kafka message handler error",
				"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
