package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

type TradeStatus string

// Trades are final at creation; there is no pending or partial trade state.
const TradeStatusSettled TradeStatus = "SETTLED"

// Offer is a resting sell order: a seller posts energy at a fixed price in
// cents per kWh. FilledKwh only grows and never exceeds QuantityKwh.
type Offer struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	RegionID    string
	PriceCents  int64
	QuantityKwh decimal.Decimal
	FilledKwh   decimal.Decimal
	Status      Status
	CreatedAt   time.Time
}

func (o *Offer) Remaining() decimal.Decimal {
	return o.QuantityKwh.Sub(o.FilledKwh)
}

// Request is a resting buy order with a maximum acceptable price.
type Request struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	RegionID      string
	MaxPriceCents int64
	QuantityKwh   decimal.Decimal
	FilledKwh     decimal.Decimal
	Status        Status
	CreatedAt     time.Time
}

func (r *Request) Remaining() decimal.Decimal {
	return r.QuantityKwh.Sub(r.FilledKwh)
}

// Trade is the immutable settlement record for one crossing. The execution
// price is always the offer's posted price.
type Trade struct {
	ID          uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	RegionID    string
	OfferID     uuid.UUID
	RequestID   uuid.UUID
	PriceCents  int64
	QuantityKwh decimal.Decimal
	AmountCents int64
	Status      TradeStatus
	CreatedAt   time.Time
}

// AmountCents computes price * quantity rounded half-up to whole cents.
func AmountCents(priceCents int64, quantityKwh decimal.Decimal) int64 {
	return decimal.NewFromInt(priceCents).Mul(quantityKwh).Round(0).IntPart()
}
