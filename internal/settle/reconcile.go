package settle

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/BraydenSmith1/kora/internal/ledger"
	"github.com/BraydenSmith1/kora/internal/storage"
)

// JournalReader is the event-log slice reconciliation reads from.
type JournalReader interface {
	EventsByTypes(ctx context.Context, types []string, limit int32) ([]storage.Event, error)
}

// Report pairs the payment journal by trade. A trade with a debit but no
// credit is an orphaned debit: the buyer paid and the seller was never
// credited, the failure mode the debit-before-credit ordering accepts.
type Report struct {
	CheckedEvents   int      `json:"checkedEvents"`
	BalancedTrades  int      `json:"balancedTrades"`
	OrphanedDebits  []string `json:"orphanedDebits"`
	OrphanedCredits []string `json:"orphanedCredits"`
}

type journalSide struct {
	debit  bool
	credit bool
}

// Reconcile scans the most recent payment journal entries and pairs them by
// trade id using each entry's reference id. Non-trade references (topups,
// adjustments) are skipped.
func Reconcile(ctx context.Context, journal JournalReader, limit int32) (*Report, error) {
	if limit <= 0 {
		limit = 1000
	}
	events, err := journal.EventsByTypes(ctx, []string{ledger.EventPaymentDebit, ledger.EventPaymentCredit}, limit)
	if err != nil {
		return nil, fmt.Errorf("load payment journal: %w", err)
	}

	trades := make(map[string]*journalSide)
	for _, ev := range events {
		tradeID, side, ok := parseTradeReference(ev.RefID)
		if !ok {
			continue
		}
		entry := trades[tradeID]
		if entry == nil {
			entry = &journalSide{}
			trades[tradeID] = entry
		}
		switch side {
		case "debit":
			entry.debit = true
		case "credit":
			entry.credit = true
		}
	}

	report := &Report{
		CheckedEvents:   len(events),
		OrphanedDebits:  []string{},
		OrphanedCredits: []string{},
	}
	for tradeID, sides := range trades {
		switch {
		case sides.debit && sides.credit:
			report.BalancedTrades++
		case sides.debit:
			report.OrphanedDebits = append(report.OrphanedDebits, tradeID)
		case sides.credit:
			report.OrphanedCredits = append(report.OrphanedCredits, tradeID)
		}
	}
	sort.Strings(report.OrphanedDebits)
	sort.Strings(report.OrphanedCredits)
	return report, nil
}

func parseTradeReference(reference string) (tradeID, side string, ok bool) {
	rest, found := strings.CutPrefix(reference, "trade_")
	if !found {
		return "", "", false
	}
	if tradeID, found = strings.CutSuffix(rest, "_debit"); found {
		return tradeID, "debit", true
	}
	if tradeID, found = strings.CutSuffix(rest, "_credit"); found {
		return tradeID, "credit", true
	}
	return "", "", false
}
