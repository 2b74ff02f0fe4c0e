package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/ledger"
	"github.com/BraydenSmith1/kora/internal/market"
	"github.com/BraydenSmith1/kora/internal/notary"
	"github.com/BraydenSmith1/kora/internal/storage"
	"github.com/BraydenSmith1/kora/libs/kafka"
)

const (
	TopicTradesSettled = "trades.settled"

	tradeSettledEventType = "trades.settled"
	tradeSettledVersion   = 1
)

// BookStore is the slice of the storage layer a matching pass touches.
type BookStore interface {
	OpenRequests(ctx context.Context, regionID string) ([]*market.Request, error)
	OpenOffers(ctx context.Context, regionID string) ([]*market.Offer, error)
	InsertTrade(ctx context.Context, in storage.NewTrade) (*market.Trade, error)
	ApplyFill(ctx context.Context, requestUpdate, offerUpdate market.OrderUpdate) error
	AppendEvent(ctx context.Context, eventType, refID string, payload any) (storage.Event, error)
}

// Funds is the wallet contract settlement depends on.
type Funds interface {
	Debit(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) (ledger.Entry, error)
	Credit(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) (ledger.Entry, error)
}

// ReceiptEntry reports the notary outcome for one trade: a receipt on
// success, an error string on failure. Settlement stands either way.
type ReceiptEntry struct {
	TradeID uuid.UUID       `json:"tradeId"`
	Receipt *notary.Receipt `json:"receipt,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type Summary struct {
	RegionID       string         `json:"regionId"`
	ExecutedTrades int            `json:"executedTrades"`
	Receipts       []ReceiptEntry `json:"receipts"`
}

// Orchestrator runs matching passes: load a region's open book, cross it in
// memory, then settle each crossing in produced order. Settlement of one
// crossing is: persist trade, debit buyer, credit seller, notarize (best
// effort), persist fills. A ledger failure aborts the pass and leaves the
// journal as ground truth for reconciliation.
type Orchestrator struct {
	store          BookStore
	funds          Funds
	notary         notary.Notary
	locker         Locker
	producer       kafka.Publisher
	tradesTopic    string
	receiptTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

type Option func(*Orchestrator)

func WithProducer(producer kafka.Publisher, topic string) Option {
	return func(o *Orchestrator) {
		o.producer = producer
		if topic != "" {
			o.tradesTopic = topic
		}
	}
}

func WithReceiptTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.receiptTimeout = timeout
		}
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

func New(store BookStore, funds Funds, n notary.Notary, locker Locker, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewLocalLocker()
	}
	o := &Orchestrator{
		store:          store,
		funds:          funds,
		notary:         n,
		locker:         locker,
		tradesTopic:    TopicTradesSettled,
		receiptTimeout: 30 * time.Second,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunMatch executes one matching pass for a region. Safe to call again after
// completion: settled orders leave the open book, so an unchanged book yields
// zero trades. Concurrent calls for the same region fail with ErrRegionBusy.
func (o *Orchestrator) RunMatch(ctx context.Context, regionID string) (*Summary, error) {
	if regionID == "" {
		return nil, fmt.Errorf("region id is required")
	}

	release, err := o.locker.Acquire(ctx, regionID)
	if err != nil {
		if errors.Is(err, ErrRegionBusy) {
			o.metrics.observeRegionBusy()
		}
		return nil, err
	}
	defer release()

	start := time.Now()
	summary, err := o.runLocked(ctx, regionID)
	status := "success"
	if err != nil {
		status = "error"
	}
	o.metrics.observePass(status, regionID, time.Since(start))
	return summary, err
}

func (o *Orchestrator) runLocked(ctx context.Context, regionID string) (*Summary, error) {
	requests, err := o.store.OpenRequests(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("load open requests: %w", err)
	}
	offers, err := o.store.OpenOffers(ctx, regionID)
	if err != nil {
		return nil, fmt.Errorf("load open offers: %w", err)
	}

	result, err := market.Cross(requests, offers)
	if err != nil {
		return nil, fmt.Errorf("cross region %s: %w", regionID, err)
	}

	summary := &Summary{RegionID: regionID, Receipts: []ReceiptEntry{}}
	for _, crossing := range result.Crossings {
		trade, err := o.settle(ctx, crossing)
		if err != nil {
			return summary, fmt.Errorf("settle crossing (request %s, offer %s): %w", crossing.RequestID, crossing.OfferID, err)
		}
		summary.ExecutedTrades++
		summary.Receipts = append(summary.Receipts, o.notarize(ctx, trade))
		o.publishTradeSettled(ctx, trade)
	}

	o.metrics.observeTrades(regionID, summary.ExecutedTrades)
	o.logger.Info("matching pass complete",
		"region_id", regionID,
		"executed_trades", summary.ExecutedTrades)
	return summary, nil
}

// settle persists the trade, moves the money, then records the fills. Debit
// runs before credit: a mid-failure leaves an undercredited seller rather
// than a debited buyer with no trade on record.
func (o *Orchestrator) settle(ctx context.Context, crossing market.Crossing) (*market.Trade, error) {
	tradeID := uuid.New()
	trade, err := o.store.InsertTrade(ctx, storage.NewTrade{
		ID:          tradeID,
		BuyerID:     crossing.BuyerID,
		SellerID:    crossing.SellerID,
		RegionID:    crossing.RegionID,
		OfferID:     crossing.OfferID,
		RequestID:   crossing.RequestID,
		PriceCents:  crossing.PriceCents,
		QuantityKwh: crossing.QuantityKwh,
		AmountCents: crossing.AmountCents,
	})
	if err != nil {
		return nil, fmt.Errorf("persist trade: %w", err)
	}

	if _, err := o.funds.Debit(ctx, crossing.BuyerID, crossing.AmountCents, DebitReference(tradeID)); err != nil {
		return nil, fmt.Errorf("debit buyer %s: %w", crossing.BuyerID, err)
	}
	if _, err := o.funds.Credit(ctx, crossing.SellerID, crossing.AmountCents, CreditReference(tradeID)); err != nil {
		return nil, fmt.Errorf("credit seller %s: %w", crossing.SellerID, err)
	}

	if err := o.store.ApplyFill(ctx, crossing.RequestUpdate, crossing.OfferUpdate); err != nil {
		return nil, fmt.Errorf("apply fills: %w", err)
	}
	return trade, nil
}

// notarize is best effort: failures land in the summary and the event log
// but never unwind the trade.
func (o *Orchestrator) notarize(ctx context.Context, trade *market.Trade) ReceiptEntry {
	entry := ReceiptEntry{TradeID: trade.ID}
	if o.notary == nil {
		return entry
	}

	notaryCtx, cancel := context.WithTimeout(ctx, o.receiptTimeout)
	defer cancel()

	receipt, err := o.notary.RecordTrade(notaryCtx, trade)
	if err != nil {
		entry.Error = err.Error()
		o.metrics.observeReceipt("error")
		o.logger.Warn("trade receipt failed", "trade_id", trade.ID, "error", err)
		if _, appendErr := o.store.AppendEvent(ctx, notary.EventChainError, trade.ID.String(), map[string]any{
			"tradeId": trade.ID,
			"error":   err.Error(),
		}); appendErr != nil {
			o.logger.Error("append chain error event failed", "trade_id", trade.ID, "error", appendErr)
		}
		return entry
	}

	entry.Receipt = &receipt
	o.metrics.observeReceipt("success")
	if _, appendErr := o.store.AppendEvent(ctx, receipt.EventType(), trade.ID.String(), receipt); appendErr != nil {
		o.logger.Error("append chain receipt event failed", "trade_id", trade.ID, "error", appendErr)
	}
	return entry
}

type tradeSettledEvent struct {
	kafka.Envelope
	TradeID     string `json:"trade_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	RegionID    string `json:"region_id"`
	PriceCents  int64  `json:"price_cents"`
	QuantityKwh string `json:"quantity_kwh"`
	AmountCents int64  `json:"amount_cents"`
}

func (o *Orchestrator) publishTradeSettled(ctx context.Context, trade *market.Trade) {
	if o.producer == nil {
		return
	}
	envelope, err := kafka.NewEnvelopeWithID(
		kafka.DeterministicEventID(tradeSettledEventType, trade.ID.String()),
		tradeSettledEventType, tradeSettledVersion, trade.ID.String())
	if err != nil {
		o.logger.Error("build trade event envelope", "trade_id", trade.ID, "error", err)
		return
	}
	event := tradeSettledEvent{
		Envelope:    envelope,
		TradeID:     trade.ID.String(),
		BuyerID:     trade.BuyerID.String(),
		SellerID:    trade.SellerID.String(),
		RegionID:    trade.RegionID,
		PriceCents:  trade.PriceCents,
		QuantityKwh: trade.QuantityKwh.String(),
		AmountCents: trade.AmountCents,
	}
	if _, _, err := o.producer.PublishJSON(ctx, o.tradesTopic, trade.RegionID, event); err != nil {
		o.logger.Error("publish trade settled event", "trade_id", trade.ID, "error", err)
	}
}

// DebitReference is the journal reference for a trade's buyer-side movement.
func DebitReference(tradeID uuid.UUID) string {
	return fmt.Sprintf("trade_%s_debit", tradeID)
}

// CreditReference is the journal reference for a trade's seller-side
// movement.
func CreditReference(tradeID uuid.UUID) string {
	return fmt.Sprintf("trade_%s_credit", tradeID)
}
