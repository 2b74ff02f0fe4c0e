package market

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvariantViolation indicates the book snapshot is internally
// inconsistent (negative remaining quantity, zero-quantity crossing). A pass
// hitting this must abort without persisting anything for the bad crossing.
var ErrInvariantViolation = fmt.Errorf("matching invariant violation")

// OrderUpdate is the fill state to persist for one touched order after a
// crossing.
type OrderUpdate struct {
	ID        uuid.UUID
	FilledKwh decimal.Decimal
	Status    Status
}

// Crossing is one struck match: the trade intent plus the post-trade fill
// state of both participating orders.
type Crossing struct {
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	RegionID      string
	OfferID       uuid.UUID
	RequestID     uuid.UUID
	PriceCents    int64
	QuantityKwh   decimal.Decimal
	AmountCents   int64
	RequestUpdate OrderUpdate
	OfferUpdate   OrderUpdate
}

type Result struct {
	Crossings []Crossing
}

// Cross runs one matching pass over an in-memory snapshot of a region's open
// book. Requests are taken highest-max-price first, offers cheapest first,
// ties broken by creation time. The execution price is always the offer's
// price; quantities fill greedily with min(remaining, remaining). The inputs
// are not mutated; fill bookkeeping happens on local copies so the pass is a
// pure function of the snapshot.
func Cross(requests []*Request, offers []*Offer) (*Result, error) {
	bids := make([]*Request, len(requests))
	copy(bids, requests)
	asks := make([]*Offer, len(offers))
	copy(asks, offers)
	SortRequests(bids)
	SortOffers(asks)

	bidFilled := make([]decimal.Decimal, len(bids))
	for i, b := range bids {
		if b.FilledKwh.GreaterThan(b.QuantityKwh) {
			return nil, fmt.Errorf("%w: request %s filled %s exceeds quantity %s", ErrInvariantViolation, b.ID, b.FilledKwh, b.QuantityKwh)
		}
		bidFilled[i] = b.FilledKwh
	}
	askFilled := make([]decimal.Decimal, len(asks))
	for j, s := range asks {
		if s.FilledKwh.GreaterThan(s.QuantityKwh) {
			return nil, fmt.Errorf("%w: offer %s filled %s exceeds quantity %s", ErrInvariantViolation, s.ID, s.FilledKwh, s.QuantityKwh)
		}
		askFilled[j] = s.FilledKwh
	}

	result := &Result{}
	i, j := 0, 0
	for i < len(bids) && j < len(asks) {
		b := bids[i]
		s := asks[j]

		if b.MaxPriceCents < s.PriceCents {
			j++
			continue
		}

		bRem := b.QuantityKwh.Sub(bidFilled[i])
		sRem := s.QuantityKwh.Sub(askFilled[j])
		qty := decimal.Min(bRem, sRem)
		if qty.Sign() <= 0 {
			return nil, fmt.Errorf("%w: zero-quantity crossing between request %s and offer %s", ErrInvariantViolation, b.ID, s.ID)
		}

		bidFilled[i] = bidFilled[i].Add(qty)
		askFilled[j] = askFilled[j].Add(qty)

		result.Crossings = append(result.Crossings, Crossing{
			BuyerID:     b.UserID,
			SellerID:    s.UserID,
			RegionID:    s.RegionID,
			OfferID:     s.ID,
			RequestID:   b.ID,
			PriceCents:  s.PriceCents,
			QuantityKwh: qty,
			AmountCents: AmountCents(s.PriceCents, qty),
			RequestUpdate: OrderUpdate{
				ID:        b.ID,
				FilledKwh: bidFilled[i],
				Status:    fillStatus(bidFilled[i], b.QuantityKwh),
			},
			OfferUpdate: OrderUpdate{
				ID:        s.ID,
				FilledKwh: askFilled[j],
				Status:    fillStatus(askFilled[j], s.QuantityKwh),
			},
		})

		if bidFilled[i].GreaterThanOrEqual(b.QuantityKwh) {
			i++
		}
		if askFilled[j].GreaterThanOrEqual(s.QuantityKwh) {
			j++
		}
	}

	return result, nil
}

func fillStatus(filled, total decimal.Decimal) Status {
	if filled.GreaterThanOrEqual(total) {
		return StatusFilled
	}
	return StatusOpen
}

// SortRequests orders bids by willingness to pay, highest first, FIFO among
// equal prices.
func SortRequests(requests []*Request) {
	sort.SliceStable(requests, func(i, j int) bool {
		if requests[i].MaxPriceCents != requests[j].MaxPriceCents {
			return requests[i].MaxPriceCents > requests[j].MaxPriceCents
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}

// SortOffers orders asks cheapest first, FIFO among equal prices.
func SortOffers(offers []*Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].PriceCents != offers[j].PriceCents {
			return offers[i].PriceCents < offers[j].PriceCents
		}
		return offers[i].CreatedAt.Before(offers[j].CreatedAt)
	})
}
