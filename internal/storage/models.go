package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Name      string
	RegionID  string
	CreatedAt time.Time
}

// Event is one append-only audit row. RefID names the entity the event is
// about (a trade's movement reference, a region, a user); Payload is raw JSON
// so producers can attach whatever shape the event type calls for.
type Event struct {
	ID        uuid.UUID
	EventType string
	RefID     string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type NewOffer struct {
	UserID      uuid.UUID
	RegionID    string
	PriceCents  int64
	QuantityKwh decimal.Decimal
}

type NewRequest struct {
	UserID        uuid.UUID
	RegionID      string
	MaxPriceCents int64
	QuantityKwh   decimal.Decimal
}

// NewTrade carries a crossing into the trades table. ID is optional; when
// nil one is generated.
type NewTrade struct {
	ID          uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	RegionID    string
	OfferID     uuid.UUID
	RequestID   uuid.UUID
	PriceCents  int64
	QuantityKwh decimal.Decimal
	AmountCents int64
}

// Overview aggregates activity for the analytics endpoint. Totals cover
// settled trades; open counts cover the live book.
type Overview struct {
	RegionID          string
	OpenOffers        int64
	OpenRequests      int64
	ExecutedTrades    int64
	TradedKwh         decimal.Decimal
	TradedAmountCents int64
	LastTradeAt       *time.Time
}
