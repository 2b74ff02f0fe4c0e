package market

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newOffer(price int64, qty string, createdAt time.Time) *Offer {
	return &Offer{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		RegionID:    "region-1",
		PriceCents:  price,
		QuantityKwh: dec(qty),
		FilledKwh:   decimal.Zero,
		Status:      StatusOpen,
		CreatedAt:   createdAt,
	}
}

func newRequest(maxPrice int64, qty string, createdAt time.Time) *Request {
	return &Request{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		RegionID:      "region-1",
		MaxPriceCents: maxPrice,
		QuantityKwh:   dec(qty),
		FilledKwh:     decimal.Zero,
		Status:        StatusOpen,
		CreatedAt:     createdAt,
	}
}

func TestCrossFullFill(t *testing.T) {
	now := time.Now()
	offer := newOffer(10, "5", now)
	request := newRequest(12, "5", now)

	result, err := Cross([]*Request{request}, []*Offer{offer})
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	if len(result.Crossings) != 1 {
		t.Fatalf("expected 1 crossing, got %d", len(result.Crossings))
	}

	c := result.Crossings[0]
	if c.PriceCents != 10 {
		t.Fatalf("expected execution at offer price 10, got %d", c.PriceCents)
	}
	if c.QuantityKwh.String() != "5" {
		t.Fatalf("expected quantity 5, got %s", c.QuantityKwh)
	}
	if c.AmountCents != 50 {
		t.Fatalf("expected amount 50, got %d", c.AmountCents)
	}
	if c.RequestUpdate.Status != StatusFilled || c.OfferUpdate.Status != StatusFilled {
		t.Fatalf("expected both orders FILLED, got %s/%s", c.RequestUpdate.Status, c.OfferUpdate.Status)
	}
}

func TestCrossPriceTimePriority(t *testing.T) {
	now := time.Now()
	offer := newOffer(10, "10", now)
	reqC := newRequest(15, "3", now.Add(-time.Minute))
	reqB := newRequest(10, "4", now)

	result, err := Cross([]*Request{reqB, reqC}, []*Offer{offer})
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	if len(result.Crossings) != 2 {
		t.Fatalf("expected 2 crossings, got %d", len(result.Crossings))
	}

	first, second := result.Crossings[0], result.Crossings[1]
	if first.RequestID != reqC.ID {
		t.Fatalf("expected higher bid to match first")
	}
	if first.PriceCents != 10 || first.QuantityKwh.String() != "3" {
		t.Fatalf("unexpected first crossing: price=%d qty=%s", first.PriceCents, first.QuantityKwh)
	}
	if second.RequestID != reqB.ID || second.QuantityKwh.String() != "4" {
		t.Fatalf("unexpected second crossing: qty=%s", second.QuantityKwh)
	}
	if second.OfferUpdate.FilledKwh.String() != "7" {
		t.Fatalf("expected offer filled 7, got %s", second.OfferUpdate.FilledKwh)
	}
	if second.OfferUpdate.Status != StatusOpen {
		t.Fatalf("expected offer to remain OPEN, got %s", second.OfferUpdate.Status)
	}
}

func TestCrossNoCompatiblePrices(t *testing.T) {
	now := time.Now()
	offer := newOffer(20, "5", now)
	request := newRequest(15, "5", now)

	result, err := Cross([]*Request{request}, []*Offer{offer})
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	if len(result.Crossings) != 0 {
		t.Fatalf("expected no crossings, got %d", len(result.Crossings))
	}
}

func TestCrossTimePriorityAmongEqualOffers(t *testing.T) {
	now := time.Now()
	offerA := newOffer(10, "5", now)
	offerB := newOffer(10, "5", now.Add(time.Second))
	request := newRequest(10, "8", now)

	result, err := Cross([]*Request{request}, []*Offer{offerB, offerA})
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	if len(result.Crossings) != 2 {
		t.Fatalf("expected 2 crossings, got %d", len(result.Crossings))
	}

	first, second := result.Crossings[0], result.Crossings[1]
	if first.OfferID != offerA.ID {
		t.Fatalf("expected earlier offer to fill first")
	}
	if first.QuantityKwh.String() != "5" || first.OfferUpdate.Status != StatusFilled {
		t.Fatalf("expected first offer fully filled, got qty=%s status=%s", first.QuantityKwh, first.OfferUpdate.Status)
	}
	if second.OfferID != offerB.ID || second.QuantityKwh.String() != "3" {
		t.Fatalf("expected second offer partial fill of 3, got %s", second.QuantityKwh)
	}
	if second.OfferUpdate.Status != StatusOpen {
		t.Fatalf("expected second offer OPEN, got %s", second.OfferUpdate.Status)
	}
	if second.RequestUpdate.Status != StatusFilled {
		t.Fatalf("expected request FILLED, got %s", second.RequestUpdate.Status)
	}
}

func TestCrossConservation(t *testing.T) {
	now := time.Now()
	offers := []*Offer{
		newOffer(10, "4.5", now),
		newOffer(12, "2.25", now.Add(time.Second)),
		newOffer(30, "9", now.Add(2*time.Second)),
	}
	requests := []*Request{
		newRequest(14, "3.75", now),
		newRequest(11, "6", now.Add(time.Second)),
	}

	result, err := Cross(requests, offers)
	if err != nil {
		t.Fatalf("cross: %v", err)
	}

	traded := decimal.Zero
	for _, c := range result.Crossings {
		traded = traded.Add(c.QuantityKwh)
	}

	offerFilled := map[uuid.UUID]decimal.Decimal{}
	requestFilled := map[uuid.UUID]decimal.Decimal{}
	for _, c := range result.Crossings {
		offerFilled[c.OfferID] = c.OfferUpdate.FilledKwh
		requestFilled[c.RequestID] = c.RequestUpdate.FilledKwh
	}

	removedFromOffers := decimal.Zero
	for _, filled := range offerFilled {
		removedFromOffers = removedFromOffers.Add(filled)
	}
	removedFromRequests := decimal.Zero
	for _, filled := range requestFilled {
		removedFromRequests = removedFromRequests.Add(filled)
	}

	if !traded.Equal(removedFromOffers) || !traded.Equal(removedFromRequests) {
		t.Fatalf("conservation broken: traded=%s offers=%s requests=%s", traded, removedFromOffers, removedFromRequests)
	}

	for _, c := range result.Crossings {
		if c.RequestUpdate.FilledKwh.Sign() < 0 || c.OfferUpdate.FilledKwh.Sign() < 0 {
			t.Fatalf("negative fill state")
		}
	}
}

func TestCrossDeterministic(t *testing.T) {
	now := time.Now()
	offers := []*Offer{
		newOffer(10, "4", now),
		newOffer(10, "4", now.Add(time.Second)),
		newOffer(15, "2", now),
	}
	requests := []*Request{
		newRequest(15, "7", now),
		newRequest(12, "3", now.Add(time.Second)),
	}

	first, err := Cross(requests, offers)
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	second, err := Cross(requests, offers)
	if err != nil {
		t.Fatalf("cross: %v", err)
	}

	if len(first.Crossings) != len(second.Crossings) {
		t.Fatalf("non-deterministic crossing count: %d vs %d", len(first.Crossings), len(second.Crossings))
	}
	for i := range first.Crossings {
		a, b := first.Crossings[i], second.Crossings[i]
		if a.OfferID != b.OfferID || a.RequestID != b.RequestID || !a.QuantityKwh.Equal(b.QuantityKwh) || a.PriceCents != b.PriceCents {
			t.Fatalf("crossing %d differs between runs", i)
		}
	}
}

func TestCrossDoesNotMutateInputs(t *testing.T) {
	now := time.Now()
	offer := newOffer(10, "5", now)
	request := newRequest(12, "3", now)

	if _, err := Cross([]*Request{request}, []*Offer{offer}); err != nil {
		t.Fatalf("cross: %v", err)
	}
	if !offer.FilledKwh.Equal(decimal.Zero) || !request.FilledKwh.Equal(decimal.Zero) {
		t.Fatalf("inputs mutated: offer=%s request=%s", offer.FilledKwh, request.FilledKwh)
	}
}

func TestCrossRejectsOverfilledOrder(t *testing.T) {
	now := time.Now()
	offer := newOffer(10, "5", now)
	offer.FilledKwh = dec("6")
	request := newRequest(12, "3", now)

	if _, err := Cross([]*Request{request}, []*Offer{offer}); err == nil {
		t.Fatalf("expected invariant violation for overfilled offer")
	}
}

func TestCrossRejectsZeroQuantityCrossing(t *testing.T) {
	now := time.Now()
	offer := newOffer(10, "5", now)
	offer.FilledKwh = dec("5")
	request := newRequest(12, "3", now)

	_, err := Cross([]*Request{request}, []*Offer{offer})
	if err == nil {
		t.Fatalf("expected invariant violation for exhausted offer in book")
	}
}

func TestAmountCentsRoundsHalfUp(t *testing.T) {
	if got := AmountCents(3, dec("2.5")); got != 8 {
		t.Fatalf("expected 7.5 to round to 8, got %d", got)
	}
	if got := AmountCents(10, dec("0.333")); got != 3 {
		t.Fatalf("expected 3.33 to round to 3, got %d", got)
	}
}
