package notary

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/market"
)

func TestMockNotaryIssuesReceipt(t *testing.T) {
	trade := &market.Trade{ID: uuid.New(), RegionID: "region-1"}
	n := NewMockNotary(nil)

	receipt, err := n.RecordTrade(context.Background(), trade)
	if err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if !receipt.Mocked {
		t.Fatalf("expected mocked receipt")
	}
	if !strings.HasPrefix(receipt.TxHash, "mock_tx_") {
		t.Fatalf("unexpected tx hash %s", receipt.TxHash)
	}
	if receipt.TradeID != trade.ID {
		t.Fatalf("receipt bound to wrong trade")
	}
	if receipt.EventType() != EventChainReceiptMock {
		t.Fatalf("expected %s, got %s", EventChainReceiptMock, receipt.EventType())
	}
}

func TestReceiptEventType(t *testing.T) {
	live := Receipt{TxHash: "0xabc"}
	if live.EventType() != EventChainReceipt {
		t.Fatalf("expected %s, got %s", EventChainReceipt, live.EventType())
	}
}

func TestTradeKeyIsDeterministic(t *testing.T) {
	id := uuid.New().String()
	if tradeKey(id) != tradeKey(id) {
		t.Fatalf("trade key not stable")
	}
	if tradeKey(id) == tradeKey(uuid.New().String()) {
		t.Fatalf("distinct trades share a key")
	}
}

func TestWattHoursConversion(t *testing.T) {
	if got := wattHours(decimal.RequireFromString("2.5")); got.Int64() != 2500 {
		t.Fatalf("expected 2500 Wh, got %s", got)
	}
	if got := wattHours(decimal.RequireFromString("0.0004")); got.Int64() != 0 {
		t.Fatalf("expected sub-Wh to round to 0, got %s", got)
	}
}
