package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	EventPaymentDebit  = "PAYMENT_DEBIT"
	EventPaymentCredit = "PAYMENT_CREDIT"

	directionDebit  = "debit"
	directionCredit = "credit"
)

var ErrInvalidAmount = errors.New("amount must be positive")

type Wallet struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	BalanceCents int64
	UpdatedAt    time.Time
}

// Entry is the result of one applied movement: the wallet's post-movement
// state plus the audit event that recorded it. EventID doubles as the
// movement's transaction reference.
type Entry struct {
	EventID      uuid.UUID
	WalletID     uuid.UUID
	UserID       uuid.UUID
	AmountCents  int64
	BalanceCents int64
	Direction    string
	Reference    string
	Timestamp    time.Time
}

// Ledger moves money between user wallets. Every movement lands a
// PAYMENT_DEBIT or PAYMENT_CREDIT row in the event log inside the same
// transaction as the balance change, so the log is a faithful journal.
type Ledger struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
}

func New(pool *pgxpool.Pool, logger *slog.Logger, metrics *Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{pool: pool, logger: logger, metrics: metrics}
}

// Debit removes funds from a user's wallet. Balances have no floor: a debit
// beyond the current balance leaves the wallet negative, the amount-owed state
// the settlement views report. The wallet is auto-provisioned at zero if the
// user has never held one.
func (l *Ledger) Debit(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) (Entry, error) {
	entry, err := l.apply(ctx, userID, amountCents, reference, directionDebit)
	if err != nil {
		l.metrics.observeMovementError(directionDebit, movementErrorReason(err))
		return Entry{}, err
	}
	l.metrics.observeMovement(directionDebit, amountCents)
	return entry, nil
}

// Credit adds funds to a user's wallet, provisioning it on first touch.
func (l *Ledger) Credit(ctx context.Context, userID uuid.UUID, amountCents int64, reference string) (Entry, error) {
	entry, err := l.apply(ctx, userID, amountCents, reference, directionCredit)
	if err != nil {
		l.metrics.observeMovementError(directionCredit, movementErrorReason(err))
		return Entry{}, err
	}
	l.metrics.observeMovement(directionCredit, amountCents)
	return entry, nil
}

func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (Wallet, error) {
	var w Wallet
	row := l.pool.QueryRow(ctx, `
		SELECT id, user_id, balance_cents, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID)
	if err := row.Scan(&w.ID, &w.UserID, &w.BalanceCents, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l.metrics.observeLookup("empty")
			return Wallet{UserID: userID, BalanceCents: 0}, nil
		}
		l.metrics.observeLookup("error")
		return Wallet{}, err
	}
	l.metrics.observeLookup("success")
	return w, nil
}

func (l *Ledger) apply(ctx context.Context, userID uuid.UUID, amountCents int64, reference, direction string) (Entry, error) {
	if userID == uuid.Nil {
		return Entry{}, fmt.Errorf("user_id is required")
	}
	if amountCents <= 0 {
		return Entry{}, fmt.Errorf("%w: %d", ErrInvalidAmount, amountCents)
	}

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Entry{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	// Serialize movements per user so a wallet's balance history and journal
	// order stay consistent under concurrent settlement.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String()); err != nil {
		return Entry{}, err
	}

	wallet, err := l.getOrCreateWalletForUpdate(ctx, tx, userID)
	if err != nil {
		return Entry{}, err
	}

	newBalance := wallet.BalanceCents
	switch direction {
	case directionDebit:
		newBalance -= amountCents
	case directionCredit:
		newBalance += amountCents
	default:
		return Entry{}, fmt.Errorf("unknown direction %q", direction)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE wallets SET balance_cents = $1, updated_at = $2 WHERE id = $3
	`, newBalance, now, wallet.ID); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		EventID:      uuid.New(),
		WalletID:     wallet.ID,
		UserID:       userID,
		AmountCents:  amountCents,
		BalanceCents: newBalance,
		Direction:    direction,
		Reference:    reference,
		Timestamp:    now,
	}
	eventType := EventPaymentCredit
	if direction == directionDebit {
		eventType = EventPaymentDebit
	}
	payload, err := json.Marshal(movementPayload{
		WalletID:     entry.WalletID,
		UserID:       entry.UserID,
		AmountCents:  entry.AmountCents,
		BalanceCents: entry.BalanceCents,
		Direction:    entry.Direction,
		Reference:    entry.Reference,
		Timestamp:    entry.Timestamp,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("marshal movement payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO event_log (id, event_type, ref_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.EventID, eventType, entry.Reference, payload, now); err != nil {
		return Entry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	committed = true

	l.logger.Debug("wallet movement applied",
		"user_id", userID,
		"direction", direction,
		"amount_cents", amountCents,
		"balance_cents", newBalance,
		"reference", reference)
	return entry, nil
}

func (l *Ledger) getOrCreateWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (Wallet, error) {
	var w Wallet
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, balance_cents, updated_at
		FROM wallets
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	err := row.Scan(&w.ID, &w.UserID, &w.BalanceCents, &w.UpdatedAt)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, err
	}

	w = Wallet{
		ID:           uuid.New(),
		UserID:       userID,
		BalanceCents: 0,
		UpdatedAt:    time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, user_id, balance_cents, updated_at)
		VALUES ($1, $2, $3, $4)
	`, w.ID, w.UserID, w.BalanceCents, w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	l.metrics.observeWalletCreated()
	return w, nil
}

type movementPayload struct {
	WalletID     uuid.UUID `json:"walletId"`
	UserID       uuid.UUID `json:"userId"`
	AmountCents  int64     `json:"amountCents"`
	BalanceCents int64     `json:"balanceCents"`
	Direction    string    `json:"direction"`
	Reference    string    `json:"reference"`
	Timestamp    time.Time `json:"timestamp"`
}

func movementErrorReason(err error) string {
	if errors.Is(err, ErrInvalidAmount) {
		return "invalid_amount"
	}
	return "internal"
}
