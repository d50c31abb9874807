package analytics

import (
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/shopspring/decimal"
)

// Options tunes the engine. Zero values select the defaults.
type Options struct {
	StartingBalance     decimal.Decimal
	UnusualMultiplier   float64
	MonthlyWindowMonths int
	VelocityWindowDays  int
	Now                 func() time.Time
}

// Engine computes reports with fixed options.
type Engine struct {
	opts Options
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.StartingBalance.IsZero() {
		opts.StartingBalance = decimal.NewFromInt(DefaultStartingBalance)
	}
	if opts.UnusualMultiplier <= 0 {
		opts.UnusualMultiplier = DefaultUnusualMultiplier
	}
	if opts.MonthlyWindowMonths <= 0 {
		opts.MonthlyWindowMonths = DefaultMonthlyWindow
	}
	if opts.VelocityWindowDays <= 0 {
		opts.VelocityWindowDays = DefaultVelocityWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{opts: opts}
}

// Report bundles every analysis of one ledger range.
type Report struct {
	Range     string               `json:"range"`
	Summary   Summary              `json:"summary"`
	Monthly   []MonthFlow          `json:"monthly_trends"`
	Insights  Insights             `json:"category_insights"`
	Unusual   []domain.Transaction `json:"unusual_transactions"`
	Budget    Budget               `json:"budget"`
	Velocity  *Velocity            `json:"spending_velocity"`
	Balance   BalanceEstimate      `json:"average_balance"`
	Fees      FeeReport            `json:"bank_fees"`
	Generated time.Time            `json:"generated_at"`
}

// Report filters txs to r and runs every analysis. txs must be in ledger
// order, oldest first.
func (e *Engine) Report(txs []domain.Transaction, hasBalance bool, r DateRange) *Report {
	now := e.opts.Now()
	filtered := FilterByDate(txs, r)

	summary := Summarize(filtered)
	insights := CategoryInsights(summary)
	unusual := UnusualTransactions(filtered, e.opts.UnusualMultiplier)
	if unusual == nil {
		unusual = []domain.Transaction{}
	}

	return &Report{
		Range:     r.Key(),
		Summary:   summary,
		Monthly:   MonthlyTrends(summary, e.opts.MonthlyWindowMonths, now),
		Insights:  insights,
		Unusual:   unusual,
		Budget:    BudgetRecommendations(insights),
		Velocity:  SpendingVelocity(filtered, e.opts.VelocityWindowDays, now),
		Balance:   AverageBalance(filtered, hasBalance, e.opts.StartingBalance),
		Fees:      BankFees(filtered),
		Generated: now,
	}
}
