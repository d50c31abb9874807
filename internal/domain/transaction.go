package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Uncategorized is the category of a transaction no stage could label.
	Uncategorized = "Uncategorized"
	// Other is the bucket analytics use for spend outside the known categories.
	Other = "Other"
	// UnknownDescription fills the description of statements without one.
	UnknownDescription = "Unknown"

	// DateLayout is the canonical ISO date format used on the wire.
	DateLayout = "2006-01-02"
)

// Transaction is one canonical ledger row. Amounts are never negative:
// money out is carried in Debits, money in in Credits.
type Transaction struct {
	ID string

	// Date is nil when the statement cell could not be parsed. Such rows are
	// kept and sort after every dated row.
	Date        *time.Time
	Description string

	Debits  decimal.Decimal
	Credits decimal.Decimal
	Balance decimal.Decimal
	Fees    decimal.Decimal

	Category string
	// Confidence is set only when the trained classifier picked Category.
	Confidence *float64
}

// HasDate reports whether the transaction carries a parsed date.
func (t Transaction) HasDate() bool {
	return t.Date != nil
}

// DayKey returns the calendar date as YYYY-MM-DD, or "" for undated rows.
func (t Transaction) DayKey() string {
	if t.Date == nil {
		return ""
	}
	return t.Date.Format(DateLayout)
}

// Net returns credits minus debits.
func (t Transaction) Net() decimal.Decimal {
	return t.Credits.Sub(t.Debits)
}

type transactionJSON struct {
	ID          string          `json:"id"`
	Date        *string         `json:"date"`
	Description string          `json:"description"`
	Debits      decimal.Decimal `json:"debits"`
	Credits     decimal.Decimal `json:"credits"`
	Balance     decimal.Decimal `json:"balance"`
	Fees        decimal.Decimal `json:"fees"`
	Category    string          `json:"category"`
	Confidence  *float64        `json:"confidence,omitempty"`
}

// MarshalJSON renders the date as YYYY-MM-DD (or null) and amounts as decimal strings.
func (t Transaction) MarshalJSON() ([]byte, error) {
	out := transactionJSON{
		ID:          t.ID,
		Description: t.Description,
		Debits:      t.Debits,
		Credits:     t.Credits,
		Balance:     t.Balance,
		Fees:        t.Fees,
		Category:    t.Category,
		Confidence:  t.Confidence,
	}
	if t.Date != nil {
		s := t.Date.Format(DateLayout)
		out.Date = &s
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in transactionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Transaction{
		ID:          in.ID,
		Description: in.Description,
		Debits:      in.Debits,
		Credits:     in.Credits,
		Balance:     in.Balance,
		Fees:        in.Fees,
		Category:    in.Category,
		Confidence:  in.Confidence,
	}
	if in.Date != nil {
		d, err := time.Parse(DateLayout, *in.Date)
		if err != nil {
			return err
		}
		t.Date = &d
	}
	return nil
}
