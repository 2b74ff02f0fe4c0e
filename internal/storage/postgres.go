package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/BraydenSmith1/kora/internal/market"
)

var (
	ErrOfferNotFound   = errors.New("offer not found")
	ErrRequestNotFound = errors.New("request not found")
	ErrUserNotFound    = errors.New("user not found")
	ErrOrderNotOpen    = errors.New("order is not open")
	ErrNotOwner        = errors.New("order belongs to another user")
)

type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- users ---

// GetOrCreateUser provisions a user on first login. Email is the natural key;
// a concurrent insert loses the race and reads back the winner's row.
func (s *Store) GetOrCreateUser(ctx context.Context, email, name, regionID string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	user, err := s.getUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	id := uuid.New()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, region_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO NOTHING
	`, id, email, name, regionID, now)
	if err != nil {
		return User{}, err
	}
	return s.getUserByEmail(ctx, email)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, region_id, created_at
		FROM users
		WHERE id = $1
	`, id)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RegionID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) getUserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, name, region_id, created_at
		FROM users
		WHERE email = $1
	`, email)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.RegionID, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		return User{}, err
	}
	return u, nil
}

// --- offers ---

func (s *Store) CreateOffer(ctx context.Context, in NewOffer) (*market.Offer, error) {
	if in.PriceCents <= 0 {
		return nil, fmt.Errorf("price_cents must be positive")
	}
	if in.QuantityKwh.Sign() <= 0 {
		return nil, fmt.Errorf("quantity_kwh must be positive")
	}
	offer := &market.Offer{
		ID:          uuid.New(),
		UserID:      in.UserID,
		RegionID:    in.RegionID,
		PriceCents:  in.PriceCents,
		QuantityKwh: in.QuantityKwh,
		FilledKwh:   decimal.Zero,
		Status:      market.StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO offers (id, user_id, region_id, price_cents, quantity_kwh, filled_kwh, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`, offer.ID, offer.UserID, offer.RegionID, offer.PriceCents, offer.QuantityKwh.String(), string(offer.Status), offer.CreatedAt)
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *Store) GetOffer(ctx context.Context, id uuid.UUID) (*market.Offer, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, region_id, price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM offers
		WHERE id = $1
	`, id)
	offer, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, id)
		}
		return nil, err
	}
	return offer, nil
}

// OpenOffers returns a region's resting sell side in matching priority order:
// cheapest first, FIFO among equal prices.
func (s *Store) OpenOffers(ctx context.Context, regionID string) ([]*market.Offer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, region_id, price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM offers
		WHERE region_id = $1 AND status = 'OPEN'
		ORDER BY price_cents ASC, created_at ASC
	`, regionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func (s *Store) ListOffers(ctx context.Context, regionID string, limit int32) ([]*market.Offer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, region_id, price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM offers
		WHERE ($1 = '' OR region_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, regionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

// CancelOffer moves an OPEN offer to CANCELLED. The filled quantity stays as
// is; only the unfilled remainder leaves the book.
func (s *Store) CancelOffer(ctx context.Context, id, userID uuid.UUID) (*market.Offer, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT id, user_id, region_id, price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM offers
		WHERE id = $1
		FOR UPDATE
	`, id)
	offer, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, id)
		}
		return nil, err
	}
	if offer.UserID != userID {
		return nil, ErrNotOwner
	}
	if offer.Status != market.StatusOpen {
		return nil, fmt.Errorf("%w: offer %s is %s", ErrOrderNotOpen, id, offer.Status)
	}

	if _, err := tx.Exec(ctx, `UPDATE offers SET status = 'CANCELLED' WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	offer.Status = market.StatusCancelled
	return offer, nil
}

// --- requests ---

func (s *Store) CreateRequest(ctx context.Context, in NewRequest) (*market.Request, error) {
	if in.MaxPriceCents <= 0 {
		return nil, fmt.Errorf("max_price_cents must be positive")
	}
	if in.QuantityKwh.Sign() <= 0 {
		return nil, fmt.Errorf("quantity_kwh must be positive")
	}
	request := &market.Request{
		ID:            uuid.New(),
		UserID:        in.UserID,
		RegionID:      in.RegionID,
		MaxPriceCents: in.MaxPriceCents,
		QuantityKwh:   in.QuantityKwh,
		FilledKwh:     decimal.Zero,
		Status:        market.StatusOpen,
		CreatedAt:     time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO requests (id, user_id, region_id, max_price_cents, quantity_kwh, filled_kwh, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7)
	`, request.ID, request.UserID, request.RegionID, request.MaxPriceCents, request.QuantityKwh.String(), string(request.Status), request.CreatedAt)
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*market.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, region_id, max_price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM requests
		WHERE id = $1
	`, id)
	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	return request, nil
}

// OpenRequests returns a region's resting buy side in matching priority
// order: highest willingness to pay first, FIFO among equal prices.
func (s *Store) OpenRequests(ctx context.Context, regionID string) ([]*market.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, region_id, max_price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM requests
		WHERE region_id = $1 AND status = 'OPEN'
		ORDER BY max_price_cents DESC, created_at ASC
	`, regionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *Store) ListRequests(ctx context.Context, regionID string, limit int32) ([]*market.Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, region_id, max_price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM requests
		WHERE ($1 = '' OR region_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, regionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *Store) CancelRequest(ctx context.Context, id, userID uuid.UUID) (*market.Request, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx, `
		SELECT id, user_id, region_id, max_price_cents, quantity_kwh::text, filled_kwh::text, status, created_at
		FROM requests
		WHERE id = $1
		FOR UPDATE
	`, id)
	request, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
		}
		return nil, err
	}
	if request.UserID != userID {
		return nil, ErrNotOwner
	}
	if request.Status != market.StatusOpen {
		return nil, fmt.Errorf("%w: request %s is %s", ErrOrderNotOpen, id, request.Status)
	}

	if _, err := tx.Exec(ctx, `UPDATE requests SET status = 'CANCELLED' WHERE id = $1`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true
	request.Status = market.StatusCancelled
	return request, nil
}

// --- trades ---

// InsertTrade persists one struck crossing as an immutable SETTLED trade row.
// The caller supplies the id so ledger references can be minted against it
// before settlement runs.
func (s *Store) InsertTrade(ctx context.Context, in NewTrade) (*market.Trade, error) {
	id := in.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	trade := &market.Trade{
		ID:          id,
		BuyerID:     in.BuyerID,
		SellerID:    in.SellerID,
		RegionID:    in.RegionID,
		OfferID:     in.OfferID,
		RequestID:   in.RequestID,
		PriceCents:  in.PriceCents,
		QuantityKwh: in.QuantityKwh,
		AmountCents: in.AmountCents,
		Status:      market.TradeStatusSettled,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, buyer_id, seller_id, region_id, offer_id, request_id, price_cents, quantity_kwh, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, trade.ID, trade.BuyerID, trade.SellerID, trade.RegionID, trade.OfferID, trade.RequestID,
		trade.PriceCents, trade.QuantityKwh.String(), trade.AmountCents, string(trade.Status), trade.CreatedAt)
	if err != nil {
		return nil, err
	}
	return trade, nil
}

// ApplyFill writes the post-trade fill state of both parent orders in one
// transaction.
func (s *Store) ApplyFill(ctx context.Context, requestUpdate, offerUpdate market.OrderUpdate) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE requests SET filled_kwh = $1, status = $2 WHERE id = $3
	`, requestUpdate.FilledKwh.String(), string(requestUpdate.Status), requestUpdate.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrRequestNotFound, requestUpdate.ID)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE offers SET filled_kwh = $1, status = $2 WHERE id = $3
	`, offerUpdate.FilledKwh.String(), string(offerUpdate.Status), offerUpdate.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrOfferNotFound, offerUpdate.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) ListTrades(ctx context.Context, regionID string, userID uuid.UUID, limit int32) ([]*market.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, buyer_id, seller_id, region_id, offer_id, request_id, price_cents, quantity_kwh::text, amount_cents, status, created_at
		FROM trades
		WHERE ($1 = '' OR region_id = $1)
		  AND ($2::uuid IS NULL OR buyer_id = $2 OR seller_id = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, regionID, nullableUUID(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*market.Trade
	for rows.Next() {
		var t market.Trade
		var qtyStr, status string
		if err := rows.Scan(&t.ID, &t.BuyerID, &t.SellerID, &t.RegionID, &t.OfferID, &t.RequestID,
			&t.PriceCents, &qtyStr, &t.AmountCents, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("parse trade quantity: %w", err)
		}
		t.QuantityKwh = qty
		t.Status = market.TradeStatus(status)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// --- event log ---

func (s *Store) AppendEvent(ctx context.Context, eventType, refID string, payload any) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("event type is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	ev := Event{
		ID:        uuid.New(),
		EventType: eventType,
		RefID:     refID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO event_log (id, event_type, ref_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ID, ev.EventType, ev.RefID, []byte(ev.Payload), ev.CreatedAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// EventsByTypes returns the newest events of the given types, newest first.
func (s *Store) EventsByTypes(ctx context.Context, types []string, limit int32) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, ref_id, payload, created_at
		FROM event_log
		WHERE event_type = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`, types, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.RefID, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- analytics ---

func (s *Store) AnalyticsOverview(ctx context.Context, regionID string) (Overview, error) {
	ov := Overview{RegionID: regionID, TradedKwh: decimal.Zero}

	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM offers   WHERE status = 'OPEN' AND ($1 = '' OR region_id = $1)),
			(SELECT count(*) FROM requests WHERE status = 'OPEN' AND ($1 = '' OR region_id = $1)),
			(SELECT count(*) FROM trades   WHERE $1 = '' OR region_id = $1),
			(SELECT COALESCE(sum(quantity_kwh), 0)::text FROM trades WHERE $1 = '' OR region_id = $1),
			(SELECT COALESCE(sum(amount_cents), 0) FROM trades WHERE $1 = '' OR region_id = $1),
			(SELECT max(created_at) FROM trades WHERE $1 = '' OR region_id = $1)
	`, regionID)

	var tradedStr string
	var lastTrade *time.Time
	if err := row.Scan(&ov.OpenOffers, &ov.OpenRequests, &ov.ExecutedTrades, &tradedStr, &ov.TradedAmountCents, &lastTrade); err != nil {
		return Overview{}, err
	}
	traded, err := decimal.NewFromString(tradedStr)
	if err != nil {
		return Overview{}, fmt.Errorf("parse traded volume: %w", err)
	}
	ov.TradedKwh = traded
	ov.LastTradeAt = lastTrade
	return ov, nil
}

// Regions lists every region id seen on either side of the book.
func (s *Store) Regions(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT region_id FROM offers
		UNION
		SELECT region_id FROM requests
		ORDER BY region_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var region string
		if err := rows.Scan(&region); err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	return regions, rows.Err()
}

// --- scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(row rowScanner) (*market.Offer, error) {
	var o market.Offer
	var qtyStr, filledStr, status string
	if err := row.Scan(&o.ID, &o.UserID, &o.RegionID, &o.PriceCents, &qtyStr, &filledStr, &status, &o.CreatedAt); err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("parse offer quantity: %w", err)
	}
	filled, err := decimal.NewFromString(filledStr)
	if err != nil {
		return nil, fmt.Errorf("parse offer filled: %w", err)
	}
	o.QuantityKwh = qty
	o.FilledKwh = filled
	o.Status = market.Status(status)
	return &o, nil
}

func scanRequest(row rowScanner) (*market.Request, error) {
	var r market.Request
	var qtyStr, filledStr, status string
	if err := row.Scan(&r.ID, &r.UserID, &r.RegionID, &r.MaxPriceCents, &qtyStr, &filledStr, &status, &r.CreatedAt); err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("parse request quantity: %w", err)
	}
	filled, err := decimal.NewFromString(filledStr)
	if err != nil {
		return nil, fmt.Errorf("parse request filled: %w", err)
	}
	r.QuantityKwh = qty
	r.FilledKwh = filled
	r.Status = market.Status(status)
	return &r, nil
}

func collectOffers(rows pgx.Rows) ([]*market.Offer, error) {
	var offers []*market.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

func collectRequests(rows pgx.Rows) ([]*market.Request, error) {
	var requests []*market.Request
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
