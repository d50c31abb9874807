package normalize

import (
	"context"
	"sort"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/shopspring/decimal"
)

// Reconciled is the chronologically ordered ledger of one statement.
type Reconciled struct {
	Transactions []domain.Transaction
	// HasBalance is false when no balance column was found and every
	// Balance is zero.
	HasBalance    bool
	BalanceColumn string
}

// Reconciler fills running balances and orders transactions by date.
type Reconciler struct {
	decimalComma bool
}

// NewReconciler creates a Reconciler using the same separator convention as
// the sanitizer.
func NewReconciler(decimalComma bool) *Reconciler {
	return &Reconciler{decimalComma: decimalComma}
}

// Reconcile reads balances from the mapped balance column or, failing that,
// from the first unmapped column whose name contains "balance" or "saldo".
// Transactions are then stably sorted by date with undated rows last.
func (r *Reconciler) Reconcile(ctx context.Context, f *Frame, entries []Entry) Reconciled {
	log := logger.FromContext(ctx)

	col, ok := f.SourceColumn(ColBalance)
	if !ok {
		col, ok = findBalanceColumn(f.Unmapped())
	}

	txs := make([]domain.Transaction, len(entries))
	for i, e := range entries {
		tx := e.Transaction
		tx.Balance = decimal.Zero
		if ok {
			tx.Balance = ParseBalance(f.Source.Cell(e.Row, col), r.decimalComma)
		}
		txs[i] = tx
	}

	SortByDate(txs)

	if !ok {
		log.Debug().Msg("No balance column found, balances default to zero")
		col = ""
	}
	return Reconciled{Transactions: txs, HasBalance: ok, BalanceColumn: col}
}

func findBalanceColumn(columns []string) (string, bool) {
	for _, c := range columns {
		if looksLikeBalance(c) {
			return c, true
		}
	}
	return "", false
}

// SortByDate orders transactions ascending by date, undated rows last, and
// keeps the input order among equal dates.
func SortByDate(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i].Date, txs[j].Date
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}
