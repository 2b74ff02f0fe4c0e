package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/BraydenSmith1/kora/internal/testutil"
)

func setupLedger(t *testing.T) *Ledger {
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
	return New(pool, nil, nil)
}

func insertLedgerUser(t *testing.T, ctx context.Context, l *Ledger) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := l.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, region_id, created_at)
		VALUES ($1, $2, 'Ledger Test', 'region-test', now())
	`, id, id.String()+"@example.com")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	return id
}

func TestCreditProvisionsWallet(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	entry, err := l.Credit(ctx, userID, 500, "topup_test")
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if entry.BalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", entry.BalanceCents)
	}
	if entry.Direction != "credit" || entry.Reference != "topup_test" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	wallet, err := l.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.BalanceCents != 500 {
		t.Fatalf("expected balance 500, got %d", wallet.BalanceCents)
	}
}

func TestDebitBeyondBalanceGoesNegative(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	if _, err := l.Credit(ctx, userID, 100, "topup_test"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	entry, err := l.Debit(ctx, userID, 150, "trade_x_debit")
	if err != nil {
		t.Fatalf("debit beyond balance must apply: %v", err)
	}
	if entry.BalanceCents != -50 {
		t.Fatalf("expected balance -50, got %d", entry.BalanceCents)
	}

	wallet, err := l.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.BalanceCents != -50 {
		t.Fatalf("expected amount-owed balance -50, got %d", wallet.BalanceCents)
	}

	// The wallet keeps working from the negative state.
	entry, err = l.Credit(ctx, userID, 80, "topup_recovery")
	if err != nil {
		t.Fatalf("credit after overdraft: %v", err)
	}
	if entry.BalanceCents != 30 {
		t.Fatalf("expected balance 30, got %d", entry.BalanceCents)
	}
}

func TestDebitOnFreshWalletGoesNegative(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	entry, err := l.Debit(ctx, userID, 40, "trade_y_debit")
	if err != nil {
		t.Fatalf("debit on fresh wallet: %v", err)
	}
	if entry.BalanceCents != -40 {
		t.Fatalf("expected balance -40, got %d", entry.BalanceCents)
	}
}

func TestDebitRecordsJournalEvent(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	if _, err := l.Credit(ctx, userID, 300, "topup_test"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	entry, err := l.Debit(ctx, userID, 120, "trade_abc_debit")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if entry.BalanceCents != 180 {
		t.Fatalf("expected balance 180, got %d", entry.BalanceCents)
	}

	var eventType, refID string
	row := l.pool.QueryRow(ctx, `SELECT event_type, ref_id FROM event_log WHERE id = $1`, entry.EventID)
	if err := row.Scan(&eventType, &refID); err != nil {
		t.Fatalf("journal event missing: %v", err)
	}
	if eventType != EventPaymentDebit {
		t.Fatalf("expected %s, got %s", EventPaymentDebit, eventType)
	}
	if refID != "trade_abc_debit" {
		t.Fatalf("expected ref_id trade_abc_debit, got %s", refID)
	}
}

func TestConcurrentDebitsSerialize(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	if _, err := l.Credit(ctx, userID, 100, "topup_test"); err != nil {
		t.Fatalf("credit: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Debit(ctx, userID, 60, "trade_race_debit")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("unexpected debit error: %v", err)
		}
	}

	// All four apply; serialization means no lost update, not a floor.
	wallet, err := l.Balance(ctx, userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if wallet.BalanceCents != -140 {
		t.Fatalf("expected balance -140, got %d", wallet.BalanceCents)
	}
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	l := setupLedger(t)
	ctx := context.Background()
	userID := insertLedgerUser(t, ctx, l)

	if _, err := l.Credit(ctx, userID, 0, "topup_test"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := l.Debit(ctx, userID, -5, "trade_x_debit"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}
