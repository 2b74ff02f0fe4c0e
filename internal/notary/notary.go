// Package notary anchors settled trades on an external EVM chain. Anchoring
// is best effort: a trade settles in the database regardless of whether its
// receipt lands on chain.
package notary

import (
	"context"

	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/market"
)

const (
	EventChainReceipt     = "CHAIN_RECEIPT"
	EventChainReceiptMock = "CHAIN_RECEIPT_MOCK"
	EventChainError       = "CHAIN_ERROR"
)

// Receipt is proof that one trade was recorded, either on a live chain or by
// the mock notary when no chain is configured.
type Receipt struct {
	TradeID     uuid.UUID `json:"tradeId"`
	TxHash      string    `json:"txHash"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	ChainID     int64     `json:"chainId,omitempty"`
	Mocked      bool      `json:"mocked"`
}

func (r Receipt) EventType() string {
	if r.Mocked {
		return EventChainReceiptMock
	}
	return EventChainReceipt
}

type Notary interface {
	RecordTrade(ctx context.Context, trade *market.Trade) (Receipt, error)
}
