package analytics

import (
	"strings"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	FeeATM         = "ATM Fees"
	FeeService     = "Service Fees"
	FeeTransaction = "Transaction Fees"
	FeeCommission  = "Commission"
	FeeOther       = "Other Fees"
)

var feeKeywords = []string{"fee", "charge", "service", "atm", "commission", "monthly fee", "transaction fee"}

// FeeBucket totals one fee type.
type FeeBucket struct {
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// FeeReport breaks bank fees down by type.
type FeeReport struct {
	TotalFees decimal.Decimal      `json:"total_fees"`
	FeeTypes  map[string]FeeBucket `json:"fee_types"`
	FeeCount  int                  `json:"fee_count"`
}

// IsFee reports whether a description names a bank fee.
func IsFee(description string) bool {
	lc := strings.ToLower(description)
	for _, kw := range feeKeywords {
		if strings.Contains(lc, kw) {
			return true
		}
	}
	return false
}

// FeeType buckets a fee description by keyword priority.
func FeeType(description string) string {
	lc := strings.ToLower(description)
	switch {
	case strings.Contains(lc, "atm"):
		return FeeATM
	case strings.Contains(lc, "service"), strings.Contains(lc, "monthly"):
		return FeeService
	case strings.Contains(lc, "transaction"):
		return FeeTransaction
	case strings.Contains(lc, "commission"):
		return FeeCommission
	default:
		return FeeOther
	}
}

// BankFees sums the debits of fee transactions by fee type.
func BankFees(txs []domain.Transaction) FeeReport {
	r := FeeReport{FeeTypes: make(map[string]FeeBucket)}
	for _, tx := range txs {
		if !IsFee(tx.Description) {
			continue
		}
		kind := FeeType(tx.Description)
		b := r.FeeTypes[kind]
		b.Amount = b.Amount.Add(tx.Debits)
		b.Count++
		r.FeeTypes[kind] = b

		r.TotalFees = r.TotalFees.Add(tx.Debits)
		r.FeeCount++
	}
	return r
}
