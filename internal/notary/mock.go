package notary

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/market"
)

// MockNotary stands in when no chain endpoint is configured. It fabricates a
// receipt locally so the settlement flow is identical either way.
type MockNotary struct {
	logger *slog.Logger
}

func NewMockNotary(logger *slog.Logger) *MockNotary {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockNotary{logger: logger}
}

func (n *MockNotary) RecordTrade(ctx context.Context, trade *market.Trade) (Receipt, error) {
	receipt := Receipt{
		TradeID: trade.ID,
		TxHash:  "mock_tx_" + uuid.NewString(),
		Mocked:  true,
	}
	n.logger.Debug("mock trade receipt issued", "trade_id", trade.ID, "tx_hash", receipt.TxHash)
	return receipt, nil
}
