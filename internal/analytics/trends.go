package analytics

import (
	"sort"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

const (
	DefaultMonthlyWindow     = 6
	DefaultUnusualMultiplier = 2.0
	TopCategoryCount         = 5

	daysPerMonth = 30
)

// MonthFlow is the flow of one calendar month, keyed YYYY-MM.
type MonthFlow struct {
	Month   string          `json:"month"`
	Debits  decimal.Decimal `json:"debits"`
	Credits decimal.Decimal `json:"credits"`
	Net     decimal.Decimal `json:"net"`
}

// MonthlyTrends re-buckets the daily flow by month over a trailing window of
// months*30 days ending at now. Months are returned in ascending order.
func MonthlyTrends(s Summary, months int, now time.Time) []MonthFlow {
	if months <= 0 {
		months = DefaultMonthlyWindow
	}
	cutoff := now.Add(-time.Duration(months*daysPerMonth) * 24 * time.Hour)

	byMonth := make(map[string]*MonthFlow)
	for dayKey, f := range s.DailyFlow {
		day, err := time.Parse(domain.DateLayout, dayKey)
		if err != nil || day.Before(cutoff) {
			continue
		}
		key := day.Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = &MonthFlow{Month: key}
			byMonth[key] = m
		}
		m.Debits = m.Debits.Add(f.Debits)
		m.Credits = m.Credits.Add(f.Credits)
		m.Net = m.Net.Add(f.Net)
	}

	out := make([]MonthFlow, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// CategoryShare is one category's debit total and share of all debits.
type CategoryShare struct {
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	Percentage float64         `json:"percentage"`
}

// Insights ranks spending categories.
type Insights struct {
	TotalExpenses   decimal.Decimal    `json:"total_expenses"`
	TopCategories   []CategoryShare    `json:"top_categories"`
	Percentages     map[string]float64 `json:"category_percentages"`
	Ranked          []CategoryShare    `json:"-"`
	TotalCategories int                `json:"total_categories"`
}

// CategoryInsights ranks categories with positive debits by amount,
// descending, with ties in name order.
func CategoryInsights(s Summary) Insights {
	in := Insights{Percentages: make(map[string]float64)}
	for label, c := range s.Categories {
		if !c.Debits.IsPositive() {
			continue
		}
		in.Ranked = append(in.Ranked, CategoryShare{Category: label, Amount: c.Debits})
		in.TotalExpenses = in.TotalExpenses.Add(c.Debits)
	}
	sort.Slice(in.Ranked, func(i, j int) bool {
		if cmp := in.Ranked[i].Amount.Cmp(in.Ranked[j].Amount); cmp != 0 {
			return cmp > 0
		}
		return in.Ranked[i].Category < in.Ranked[j].Category
	})

	hundred := decimal.NewFromInt(100)
	for i := range in.Ranked {
		pct := in.Ranked[i].Amount.Div(in.TotalExpenses).Mul(hundred).InexactFloat64()
		in.Ranked[i].Percentage = pct
		in.Percentages[in.Ranked[i].Category] = pct
	}
	in.TotalCategories = len(in.Ranked)

	top := in.Ranked
	if len(top) > TopCategoryCount {
		top = top[:TopCategoryCount]
	}
	in.TopCategories = append([]CategoryShare{}, top...)
	return in
}

// UnusualTransactions returns the rows whose debit exceeds the mean plus k
// sample standard deviations of all positive debits. Fewer than two positive
// debits yield no rows.
func UnusualTransactions(txs []domain.Transaction, k float64) []domain.Transaction {
	var debits stats.Float64Data
	for _, tx := range txs {
		if tx.Debits.IsPositive() {
			debits = append(debits, tx.Debits.InexactFloat64())
		}
	}
	if len(debits) < 2 {
		return nil
	}

	mean, err := stats.Mean(debits)
	if err != nil {
		return nil
	}
	sd, err := stats.StandardDeviationSample(debits)
	if err != nil {
		return nil
	}
	threshold := mean + k*sd

	var out []domain.Transaction
	for _, tx := range txs {
		if tx.Debits.InexactFloat64() > threshold {
			out = append(out, tx)
		}
	}
	return out
}
