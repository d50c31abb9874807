package analytics

import (
	"sort"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

const (
	DefaultVelocityWindow  = 30
	DefaultStartingBalance = 10000

	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"

	trendSampleDays = 5
)

// Velocity describes daily spending over a trailing window.
type Velocity struct {
	AvgDailySpending    float64 `json:"avg_daily_spending"`
	MaxDailySpending    float64 `json:"max_daily_spending"`
	MinDailySpending    float64 `json:"min_daily_spending"`
	Trend               string  `json:"spending_trend"`
	DaysAnalyzed        int     `json:"days_analyzed"`
	TotalPeriodSpending float64 `json:"total_period_spending"`
}

// SpendingVelocity sums debits per day for transactions dated within the
// last days days before now. The trend compares the mean of the last five
// days with transactions against the first five. It returns nil when the
// window holds no transactions.
func SpendingVelocity(txs []domain.Transaction, days int, now time.Time) *Velocity {
	if days <= 0 {
		days = DefaultVelocityWindow
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	daily := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		if tx.Date == nil || tx.Date.Before(cutoff) {
			continue
		}
		key := tx.DayKey()
		daily[key] = daily[key].Add(tx.Debits)
	}
	if len(daily) == 0 {
		return nil
	}

	keys := make([]string, 0, len(daily))
	for k := range daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	series := make(stats.Float64Data, len(keys))
	for i, k := range keys {
		series[i] = daily[k].InexactFloat64()
	}

	v := &Velocity{DaysAnalyzed: len(series), Trend: TrendDecreasing}
	v.AvgDailySpending, _ = stats.Mean(series)
	v.MaxDailySpending, _ = stats.Max(series)
	v.MinDailySpending, _ = stats.Min(series)
	v.TotalPeriodSpending, _ = stats.Sum(series)

	n := trendSampleDays
	if n > len(series) {
		n = len(series)
	}
	first, _ := stats.Mean(series[:n])
	last, _ := stats.Mean(series[len(series)-n:])
	if last > first {
		v.Trend = TrendIncreasing
	}
	return v
}

// BalanceEstimate is the average balance over a period.
type BalanceEstimate struct {
	AverageBalance decimal.Decimal `json:"average_balance"`
	Trend          string          `json:"balance_trend"`
	// Estimated is set when no balance column existed and the average was
	// derived from the starting balance and net flow.
	Estimated bool `json:"estimated"`
}

// AverageBalance averages the running balance of chronologically ordered
// txs. Without a balance column it approximates startingBalance + net/2.
func AverageBalance(txs []domain.Transaction, hasBalance bool, startingBalance decimal.Decimal) BalanceEstimate {
	if len(txs) == 0 {
		return BalanceEstimate{AverageBalance: decimal.Zero, Trend: TrendStable}
	}

	if hasBalance {
		balances := make([]decimal.Decimal, len(txs))
		for i, tx := range txs {
			balances[i] = tx.Balance
		}
		est := BalanceEstimate{AverageBalance: decimal.Avg(balances[0], balances[1:]...), Trend: TrendDecreasing}
		if balances[len(balances)-1].GreaterThan(balances[0]) {
			est.Trend = TrendIncreasing
		}
		return est
	}

	net := decimal.Zero
	for _, tx := range txs {
		net = net.Add(tx.Net())
	}
	est := BalanceEstimate{
		AverageBalance: startingBalance.Add(net.Div(decimal.NewFromInt(2))),
		Trend:          TrendDecreasing,
		Estimated:      true,
	}
	if net.IsPositive() {
		est.Trend = TrendIncreasing
	}
	return est
}
