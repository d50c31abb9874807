// Package analytics computes summaries, trends, anomalies, fee breakdowns and
// budget recommendations over a categorized ledger. Every function is pure.
package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/shopspring/decimal"
)

// DateRange is an inclusive calendar-day range. A nil bound is open.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

// IsZero reports whether the range has no bounds.
func (r DateRange) IsZero() bool {
	return r.Start == nil && r.End == nil
}

// Contains reports whether t falls within the range, comparing dates only.
func (r DateRange) Contains(t time.Time) bool {
	day := truncateDay(t)
	if r.Start != nil && day.Before(truncateDay(*r.Start)) {
		return false
	}
	if r.End != nil && day.After(truncateDay(*r.End)) {
		return false
	}
	return true
}

// Key identifies the range in cache keys.
func (r DateRange) Key() string {
	format := func(t *time.Time) string {
		if t == nil {
			return "*"
		}
		return t.Format(domain.DateLayout)
	}
	return format(r.Start) + ".." + format(r.End)
}

// ParseDateRange parses optional YYYY-MM-DD bounds. An empty string leaves
// that side open; a start after the end is rejected.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	if start != "" {
		t, err := time.Parse(domain.DateLayout, start)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
		r.Start = &t
	}
	if end != "" {
		t, err := time.Parse(domain.DateLayout, end)
		if err != nil {
			return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
		}
		r.End = &t
	}
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return DateRange{}, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return r, nil
}

// FilterByDate returns the transactions inside r, preserving order. Undated
// transactions are kept only when r is unbounded.
func FilterByDate(txs []domain.Transaction, r DateRange) []domain.Transaction {
	if r.IsZero() {
		return txs
	}
	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Date != nil && r.Contains(*tx.Date) {
			out = append(out, tx)
		}
	}
	return out
}

// Flow aggregates money in and out.
type Flow struct {
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
	Net     decimal.Decimal `json:"net"`
	Count   int             `json:"count"`
}

func (f *Flow) add(tx domain.Transaction) {
	f.Debits = f.Debits.Add(tx.Debits)
	f.Credits = f.Credits.Add(tx.Credits)
	f.Net = f.Credits.Sub(f.Debits)
	f.Count++
}

// CategoryFlow is the flow of one category.
type CategoryFlow struct {
	Flow
	MeanDebit decimal.Decimal `json:"mean_debit"`
}

// Summary holds the ledger totals.
type Summary struct {
	TotalDebits      decimal.Decimal         `json:"total_debits"`
	TotalCredits     decimal.Decimal         `json:"total_credits"`
	NetFlow          decimal.Decimal         `json:"net_flow"`
	TransactionCount int                     `json:"transaction_count"`
	DailyFlow        map[string]Flow         `json:"daily_flow"`
	Categories       map[string]CategoryFlow `json:"categories"`
}

// Days returns the keys of DailyFlow in ascending order.
func (s Summary) Days() []string {
	days := make([]string, 0, len(s.DailyFlow))
	for d := range s.DailyFlow {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// CategoryLabel returns the reporting bucket of a transaction. Rows no
// classifier stage could label are reported as Other.
func CategoryLabel(tx domain.Transaction) string {
	if tx.Category == "" || tx.Category == domain.Uncategorized {
		return domain.Other
	}
	return tx.Category
}

// Summarize totals txs overall, per day and per category. Undated rows count
// towards the totals but not the daily flow.
func Summarize(txs []domain.Transaction) Summary {
	s := Summary{
		DailyFlow:  make(map[string]Flow),
		Categories: make(map[string]CategoryFlow),
	}
	for _, tx := range txs {
		s.TotalDebits = s.TotalDebits.Add(tx.Debits)
		s.TotalCredits = s.TotalCredits.Add(tx.Credits)
		s.TransactionCount++

		if day := tx.DayKey(); day != "" {
			f := s.DailyFlow[day]
			f.add(tx)
			s.DailyFlow[day] = f
		}

		label := CategoryLabel(tx)
		c := s.Categories[label]
		c.add(tx)
		s.Categories[label] = c
	}
	s.NetFlow = s.TotalCredits.Sub(s.TotalDebits)

	for label, c := range s.Categories {
		if c.Count > 0 {
			c.MeanDebit = c.Debits.Div(decimal.NewFromInt(int64(c.Count)))
		}
		s.Categories[label] = c
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// HasBalance reports whether any transaction carries a non-zero balance,
// which is how a ledger read back from storage tells whether its statements
// had a balance column.
func HasBalance(txs []domain.Transaction) bool {
	for _, tx := range txs {
		if !tx.Balance.IsZero() {
			return true
		}
	}
	return false
}
