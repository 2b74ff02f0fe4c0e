package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/market"
	"github.com/BraydenSmith1/kora/internal/testutil"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}
	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(func() {
		_ = testutil.CleanupTestData(context.Background(), pool)
		pool.Close()
	})
	return New(pool, nil), pool
}

func createTestUser(t *testing.T, ctx context.Context, store *Store, email string) User {
	t.Helper()
	user, err := store.GetOrCreateUser(ctx, email, "Test User", "region-test")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	first := createTestUser(t, ctx, store, "idem@example.com")
	second := createTestUser(t, ctx, store, "IDEM@example.com")
	if first.ID != second.ID {
		t.Fatalf("expected same user, got %s and %s", first.ID, second.ID)
	}
}

func TestOfferLifecycle(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	user := createTestUser(t, ctx, store, "seller@example.com")

	offer, err := store.CreateOffer(ctx, NewOffer{
		UserID:      user.ID,
		RegionID:    "region-test",
		PriceCents:  10,
		QuantityKwh: decimal.NewFromInt(5),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Status != market.StatusOpen {
		t.Fatalf("expected OPEN, got %s", offer.Status)
	}

	open, err := store.OpenOffers(ctx, "region-test")
	if err != nil {
		t.Fatalf("open offers: %v", err)
	}
	if len(open) != 1 || open[0].ID != offer.ID {
		t.Fatalf("expected offer in open book")
	}

	if _, err := store.CancelOffer(ctx, offer.ID, uuid.New()); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	cancelled, err := store.CancelOffer(ctx, offer.ID, user.ID)
	if err != nil {
		t.Fatalf("cancel offer: %v", err)
	}
	if cancelled.Status != market.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	if _, err := store.CancelOffer(ctx, offer.ID, user.ID); !errors.Is(err, ErrOrderNotOpen) {
		t.Fatalf("expected ErrOrderNotOpen, got %v", err)
	}

	open, err = store.OpenOffers(ctx, "region-test")
	if err != nil {
		t.Fatalf("open offers: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("cancelled offer still in open book")
	}
}

func TestOpenBookOrdering(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	user := createTestUser(t, ctx, store, "book@example.com")

	cheap, err := store.CreateOffer(ctx, NewOffer{UserID: user.ID, RegionID: "region-test", PriceCents: 8, QuantityKwh: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := store.CreateOffer(ctx, NewOffer{UserID: user.ID, RegionID: "region-test", PriceCents: 12, QuantityKwh: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	offers, err := store.OpenOffers(ctx, "region-test")
	if err != nil {
		t.Fatalf("open offers: %v", err)
	}
	if len(offers) != 2 || offers[0].ID != cheap.ID {
		t.Fatalf("expected cheapest offer first")
	}

	if _, err := store.CreateRequest(ctx, NewRequest{UserID: user.ID, RegionID: "region-test", MaxPriceCents: 9, QuantityKwh: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("create request: %v", err)
	}
	rich, err := store.CreateRequest(ctx, NewRequest{UserID: user.ID, RegionID: "region-test", MaxPriceCents: 14, QuantityKwh: decimal.NewFromInt(1)})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	requests, err := store.OpenRequests(ctx, "region-test")
	if err != nil {
		t.Fatalf("open requests: %v", err)
	}
	if len(requests) != 2 || requests[0].ID != rich.ID {
		t.Fatalf("expected highest bid first")
	}
}

func TestInsertTradeAndApplyFill(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	seller := createTestUser(t, ctx, store, "rt-seller@example.com")
	buyer := createTestUser(t, ctx, store, "rt-buyer@example.com")

	offer, err := store.CreateOffer(ctx, NewOffer{UserID: seller.ID, RegionID: "region-test", PriceCents: 10, QuantityKwh: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	request, err := store.CreateRequest(ctx, NewRequest{UserID: buyer.ID, RegionID: "region-test", MaxPriceCents: 12, QuantityKwh: decimal.NewFromInt(3)})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	trade, err := store.InsertTrade(ctx, NewTrade{
		BuyerID:     buyer.ID,
		SellerID:    seller.ID,
		RegionID:    "region-test",
		OfferID:     offer.ID,
		RequestID:   request.ID,
		PriceCents:  10,
		QuantityKwh: decimal.NewFromInt(3),
		AmountCents: 30,
	})
	if err != nil {
		t.Fatalf("insert trade: %v", err)
	}
	if trade.Status != market.TradeStatusSettled {
		t.Fatalf("expected SETTLED, got %s", trade.Status)
	}

	err = store.ApplyFill(ctx,
		market.OrderUpdate{ID: request.ID, FilledKwh: decimal.NewFromInt(3), Status: market.StatusFilled},
		market.OrderUpdate{ID: offer.ID, FilledKwh: decimal.NewFromInt(3), Status: market.StatusOpen},
	)
	if err != nil {
		t.Fatalf("apply fill: %v", err)
	}

	gotOffer, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if !gotOffer.FilledKwh.Equal(decimal.NewFromInt(3)) || gotOffer.Status != market.StatusOpen {
		t.Fatalf("offer fill not applied: %s %s", gotOffer.FilledKwh, gotOffer.Status)
	}

	gotRequest, err := store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if gotRequest.Status != market.StatusFilled {
		t.Fatalf("request not filled: %s", gotRequest.Status)
	}

	trades, err := store.ListTrades(ctx, "region-test", buyer.ID, 10)
	if err != nil {
		t.Fatalf("list trades: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != trade.ID {
		t.Fatalf("expected recorded trade in listing")
	}
}

func TestAppendAndQueryEvents(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.AppendEvent(ctx, "PAYMENT_DEBIT", "trade_x_debit", map[string]any{"reference": "trade_x_debit", "amountCents": 30}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if _, err := store.AppendEvent(ctx, "CHAIN_RECEIPT_MOCK", "trade-1", map[string]any{"txHash": "mock_tx_1"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := store.EventsByTypes(ctx, []string{"PAYMENT_DEBIT"}, 10)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "PAYMENT_DEBIT" {
		t.Fatalf("expected single debit event, got %d", len(events))
	}
	if events[0].RefID != "trade_x_debit" {
		t.Fatalf("expected ref_id trade_x_debit, got %q", events[0].RefID)
	}
	if time.Since(events[0].CreatedAt) > time.Minute {
		t.Fatalf("event timestamp not recent: %s", events[0].CreatedAt)
	}
}
