package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow is one ledger row in the transactions table.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	StatementKey  string `bigquery:"statement_key"`   // REQUIRED
	PipelineRunID string `bigquery:"pipeline_run_id"` // REQUIRED

	TransactionDate bigquery.NullDate `bigquery:"transaction_date"` // NULLABLE, unparsable dates
	Description     string            `bigquery:"description"`      // REQUIRED

	Debits  *big.Rat `bigquery:"debits"`  // REQUIRED NUMERIC
	Credits *big.Rat `bigquery:"credits"` // REQUIRED NUMERIC
	Balance *big.Rat `bigquery:"balance"` // REQUIRED NUMERIC
	Fees    *big.Rat `bigquery:"fees"`    // REQUIRED NUMERIC

	Category   string               `bigquery:"category"`   // REQUIRED
	Confidence bigquery.NullFloat64 `bigquery:"confidence"` // NULLABLE, ML assignments only

	LineNo int64 `bigquery:"line_no"` // ledger order within the statement

	CreatedTS time.Time `bigquery:"created_ts"` // REQUIRED
}

// NewTransactionRow converts a ledger transaction for insertion.
func NewTransactionRow(tx domain.Transaction, statementKey, runID string, lineNo int, now time.Time) *TransactionRow {
	row := &TransactionRow{
		TransactionID: tx.ID,
		StatementKey:  statementKey,
		PipelineRunID: runID,
		Description:   tx.Description,
		Debits:        tx.Debits.Rat(),
		Credits:       tx.Credits.Rat(),
		Balance:       tx.Balance.Rat(),
		Fees:          tx.Fees.Rat(),
		Category:      tx.Category,
		LineNo:        int64(lineNo),
		CreatedTS:     now,
	}
	if tx.Date != nil {
		row.TransactionDate = bigquery.NullDate{Date: civil.DateOf(*tx.Date), Valid: true}
	}
	if tx.Confidence != nil {
		row.Confidence = bigquery.NullFloat64{Float64: *tx.Confidence, Valid: true}
	}
	return row
}

// Transaction converts the row back into a ledger transaction.
func (r *TransactionRow) Transaction() domain.Transaction {
	tx := domain.Transaction{
		ID:          r.TransactionID,
		Description: r.Description,
		Debits:      ratToDecimal(r.Debits),
		Credits:     ratToDecimal(r.Credits),
		Balance:     ratToDecimal(r.Balance),
		Fees:        ratToDecimal(r.Fees),
		Category:    r.Category,
	}
	if r.TransactionDate.Valid {
		d := r.TransactionDate.Date.In(time.UTC)
		tx.Date = &d
	}
	if r.Confidence.Valid {
		c := r.Confidence.Float64
		tx.Confidence = &c
	}
	return tx
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(9))
	if err != nil {
		return decimal.Zero
	}
	return d
}
