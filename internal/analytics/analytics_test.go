package analytics

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func day(s string) *time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tx(date, desc, debit, credit, category string) domain.Transaction {
	t := domain.Transaction{Description: desc, Debits: dec(debit), Credits: dec(credit), Category: category}
	if date != "" {
		t.Date = day(date)
	}
	return t
}

func scenario() []domain.Transaction {
	return []domain.Transaction{
		tx("2024-01-05", "WOOLWORTHS", "450.00", "0", "Groceries"),
		tx("2024-01-06", "SALARY", "0", "20000.00", domain.Uncategorized),
		tx("2024-01-07", "NETFLIX", "199.00", "0", domain.Uncategorized),
	}
}

func TestSummarizeScenario(t *testing.T) {
	s := Summarize(scenario())

	if !s.TotalDebits.Equal(dec("649")) {
		t.Errorf("TotalDebits = %s, want 649", s.TotalDebits)
	}
	if !s.TotalCredits.Equal(dec("20000")) {
		t.Errorf("TotalCredits = %s, want 20000", s.TotalCredits)
	}
	if !s.NetFlow.Equal(dec("19351")) {
		t.Errorf("NetFlow = %s, want 19351", s.NetFlow)
	}
	if s.TransactionCount != 3 {
		t.Errorf("TransactionCount = %d", s.TransactionCount)
	}
	if diff := cmp.Diff([]string{"2024-01-05", "2024-01-06", "2024-01-07"}, s.Days()); diff != "" {
		t.Errorf("Days() mismatch (-want +got):\n%s", diff)
	}

	other := s.Categories[domain.Other]
	if other.Count != 2 || !other.Debits.Equal(dec("199")) || !other.MeanDebit.Equal(dec("99.5")) {
		t.Errorf("Other flow = %+v", other)
	}

	in := CategoryInsights(s)
	if len(in.TopCategories) != 2 {
		t.Fatalf("TopCategories = %+v", in.TopCategories)
	}
	if in.TopCategories[0].Category != "Groceries" || in.TopCategories[1].Category != domain.Other {
		t.Errorf("ranking = %q, %q; want Groceries above Other", in.TopCategories[0].Category, in.TopCategories[1].Category)
	}
}

func TestSummarizeUndated(t *testing.T) {
	s := Summarize([]domain.Transaction{tx("", "mystery", "5", "0", "")})
	if len(s.DailyFlow) != 0 {
		t.Errorf("undated row in daily flow: %v", s.DailyFlow)
	}
	if !s.TotalDebits.Equal(dec("5")) {
		t.Errorf("TotalDebits = %s", s.TotalDebits)
	}
}

func TestFilterByDate(t *testing.T) {
	txs := append(scenario(), tx("", "undated", "1", "0", ""))

	got := FilterByDate(txs, DateRange{Start: day("2024-01-06"), End: day("2024-01-06")})
	if len(got) != 1 || got[0].Description != "SALARY" {
		t.Errorf("FilterByDate() = %+v", got)
	}
	if got := FilterByDate(txs, DateRange{}); len(got) != 4 {
		t.Errorf("unbounded FilterByDate() returned %d rows, want 4", len(got))
	}
	if got := FilterByDate(txs, DateRange{Start: day("2024-01-06")}); len(got) != 2 {
		t.Errorf("open-ended FilterByDate() returned %d rows, want 2", len(got))
	}
}

func TestMonthlyTrends(t *testing.T) {
	txs := []domain.Transaction{
		tx("2023-10-01", "old", "100", "0", "A"),
		tx("2024-01-10", "a", "10", "0", "A"),
		tx("2024-01-20", "b", "5", "50", "A"),
		tx("2024-02-03", "c", "7", "0", "A"),
	}
	now := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)

	got := MonthlyTrends(Summarize(txs), 2, now)
	want := []MonthFlow{
		{Month: "2024-01", Debits: dec("15"), Credits: dec("50"), Net: dec("35")},
		{Month: "2024-02", Debits: dec("7"), Credits: dec("0"), Net: dec("-7")},
	}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("MonthlyTrends() mismatch (-want +got):\n%s", diff)
	}
}

func TestCategoryInsightsTopFive(t *testing.T) {
	var txs []domain.Transaction
	for i, c := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		txs = append(txs, tx("2024-01-01", c, decimal.NewFromInt(int64(10*(i+1))).String(), "0", c))
	}
	txs = append(txs, tx("2024-01-01", "income", "0", "999", "Income"))

	in := CategoryInsights(Summarize(txs))
	if in.TotalCategories != 7 {
		t.Errorf("TotalCategories = %d, want 7", in.TotalCategories)
	}
	if len(in.TopCategories) != TopCategoryCount {
		t.Fatalf("TopCategories has %d entries", len(in.TopCategories))
	}
	if in.TopCategories[0].Category != "G" || in.TopCategories[4].Category != "C" {
		t.Errorf("TopCategories = %+v", in.TopCategories)
	}
	if !in.TotalExpenses.Equal(dec("280")) {
		t.Errorf("TotalExpenses = %s", in.TotalExpenses)
	}
	if _, ok := in.Percentages["Income"]; ok {
		t.Error("credit-only category has a share")
	}
	var sum float64
	for _, p := range in.Percentages {
		sum += p
	}
	if sum < 99.999 || sum > 100.001 {
		t.Errorf("percentages sum to %v", sum)
	}
}

func TestUnusualTransactions(t *testing.T) {
	txs := []domain.Transaction{
		tx("2024-01-01", "a", "10", "0", ""),
		tx("2024-01-02", "b", "10", "0", ""),
		tx("2024-01-03", "c", "10", "0", ""),
		tx("2024-01-04", "d", "10", "0", ""),
		tx("2024-01-05", "big", "100", "0", ""),
		tx("2024-01-06", "salary", "0", "5000", ""),
	}
	// mean 28, sample stddev ~40.25

	got := UnusualTransactions(txs, 1)
	if len(got) != 1 || got[0].Description != "big" {
		t.Errorf("k=1 flagged %+v", got)
	}
	if got := UnusualTransactions(txs, 2); len(got) != 0 {
		t.Errorf("k=2 flagged %+v", got)
	}
	if got := UnusualTransactions(txs[:1], 0); got != nil {
		t.Errorf("single sample flagged %+v", got)
	}
}

func TestBudgetRecommendationBands(t *testing.T) {
	tests := []struct {
		name           string
		groceries      float64
		wantAlert      bool
		wantSuggestion bool
		wantStatus     string
	}{
		{"just below alert", 15 * 1.49, false, false, StatusOver},
		{"exactly at alert", 22.5, false, false, StatusOver},
		{"just above alert", 15 * 1.51, true, false, StatusOver},
		{"ideal", 15, false, false, StatusGood},
		{"under band", 11.9, false, false, StatusUnder},
		{"below suggestion", 4.4, false, true, StatusUnder},
		{"above suggestion", 4.6, false, false, StatusUnder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Insights{Percentages: map[string]float64{"Groceries": tt.groceries}}
			b := BudgetRecommendations(in)

			if got := len(b.Alerts) == 1; got != tt.wantAlert {
				t.Errorf("alerts = %v", b.Alerts)
			}
			gotSuggestion := len(b.Suggestions) == 1 && b.Suggestions[0] != BalancedMessage
			if gotSuggestion != tt.wantSuggestion {
				t.Errorf("suggestions = %v", b.Suggestions)
			}
			if !tt.wantAlert && !tt.wantSuggestion {
				if diff := cmp.Diff([]string{BalancedMessage}, b.Suggestions); diff != "" {
					t.Errorf("acknowledgement mismatch (-want +got):\n%s", diff)
				}
			}
			if b.Allocation[0].Category != "Groceries" || b.Allocation[0].Status != tt.wantStatus {
				t.Errorf("allocation = %+v, want status %q", b.Allocation[0], tt.wantStatus)
			}
		})
	}
}

func TestBudgetSummary(t *testing.T) {
	b := BudgetRecommendations(CategoryInsights(Summarize(scenario())))
	if b.Summary.TopCategory != "Groceries" || b.Summary.CategoriesAnalyzed != 2 {
		t.Errorf("Summary = %+v", b.Summary)
	}
	if len(b.Alerts) != 1 {
		t.Errorf("Alerts = %v, want one for Groceries", b.Alerts)
	}

	empty := BudgetRecommendations(CategoryInsights(Summarize(nil)))
	if empty.Summary.TopCategory != "None" {
		t.Errorf("empty TopCategory = %q", empty.Summary.TopCategory)
	}
}

func TestSpendingVelocity(t *testing.T) {
	now := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	var txs []domain.Transaction
	for i := 1; i <= 10; i++ {
		d := time.Date(2024, 1, 20+i, 0, 0, 0, 0, time.UTC).Format(domain.DateLayout)
		txs = append(txs, tx(d, "spend", decimal.NewFromInt(int64(i*10)).String(), "0", ""))
	}
	txs = append(txs, tx("2023-12-01", "too old", "1000", "0", ""))

	v := SpendingVelocity(txs, 30, now)
	if v == nil {
		t.Fatal("SpendingVelocity() = nil")
	}
	if v.DaysAnalyzed != 10 || v.Trend != TrendIncreasing {
		t.Errorf("velocity = %+v", v)
	}
	if v.MaxDailySpending != 100 || v.MinDailySpending != 10 || v.AvgDailySpending != 55 || v.TotalPeriodSpending != 550 {
		t.Errorf("velocity stats = %+v", v)
	}

	if got := SpendingVelocity(txs[10:], 30, now); got != nil {
		t.Errorf("window without transactions = %+v, want nil", got)
	}
}

func TestAverageBalance(t *testing.T) {
	withBalance := []domain.Transaction{
		{Date: day("2024-01-01"), Balance: dec("100")},
		{Date: day("2024-01-02"), Balance: dec("200")},
		{Date: day("2024-01-03"), Balance: dec("300")},
	}
	got := AverageBalance(withBalance, true, dec("10000"))
	if !got.AverageBalance.Equal(dec("200")) || got.Trend != TrendIncreasing || got.Estimated {
		t.Errorf("AverageBalance(with balance) = %+v", got)
	}

	flows := []domain.Transaction{
		tx("2024-01-01", "in", "0", "1000", ""),
		tx("2024-01-02", "out", "400", "0", ""),
	}
	got = AverageBalance(flows, false, dec("10000"))
	if !got.AverageBalance.Equal(dec("10300")) || got.Trend != TrendIncreasing || !got.Estimated {
		t.Errorf("AverageBalance(estimated) = %+v", got)
	}

	got = AverageBalance(nil, false, dec("10000"))
	if !got.AverageBalance.IsZero() || got.Trend != TrendStable {
		t.Errorf("AverageBalance(empty) = %+v", got)
	}
}

func TestBankFees(t *testing.T) {
	txs := []domain.Transaction{
		tx("2024-01-01", "ATM withdrawal fee", "10", "0", ""),
		tx("2024-01-02", "Monthly account fee", "65", "0", ""),
		tx("2024-01-03", "Transaction fee", "3.50", "0", ""),
		tx("2024-01-04", "Commission charge", "20", "0", ""),
		tx("2024-01-05", "Late charge", "50", "0", ""),
		tx("2024-01-06", "Service fee", "5", "0", ""),
		tx("2024-01-07", "WOOLWORTHS", "450", "0", ""),
	}
	r := BankFees(txs)

	if r.FeeCount != 6 || !r.TotalFees.Equal(dec("153.5")) {
		t.Errorf("FeeReport = %+v", r)
	}
	want := map[string]int{FeeATM: 1, FeeService: 2, FeeTransaction: 1, FeeCommission: 1, FeeOther: 1}
	for kind, n := range want {
		if r.FeeTypes[kind].Count != n {
			t.Errorf("%s count = %d, want %d", kind, r.FeeTypes[kind].Count, n)
		}
	}
	if !r.FeeTypes[FeeService].Amount.Equal(dec("70")) {
		t.Errorf("service fees = %s, want 70", r.FeeTypes[FeeService].Amount)
	}
}

func TestEngineReport(t *testing.T) {
	now := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
	e := NewEngine(Options{Now: func() time.Time { return now }})

	r := e.Report(scenario(), false, DateRange{Start: day("2024-01-01"), End: day("2024-01-31")})
	if !r.Summary.NetFlow.Equal(dec("19351")) {
		t.Errorf("NetFlow = %s", r.Summary.NetFlow)
	}
	if r.Range != "2024-01-01..2024-01-31" {
		t.Errorf("Range = %q", r.Range)
	}
	if r.Velocity == nil || r.Velocity.DaysAnalyzed != 3 {
		t.Errorf("Velocity = %+v", r.Velocity)
	}
	if !r.Balance.Estimated || !r.Balance.AverageBalance.Equal(dec("19675.5")) {
		t.Errorf("Balance = %+v", r.Balance)
	}
	if r.Unusual == nil {
		t.Error("Unusual should be empty, not nil")
	}
	if len(r.Monthly) != 1 || r.Monthly[0].Month != "2024-01" {
		t.Errorf("Monthly = %+v", r.Monthly)
	}
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	var calls atomic.Int32
	compute := func(_ context.Context, r DateRange) (*Report, error) {
		calls.Add(1)
		return &Report{Range: r.Key()}, nil
	}

	r := DateRange{Start: day("2024-01-01")}
	for i := 0; i < 3; i++ {
		if _, err := c.Get(ctx, r, compute); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("compute called %d times, want 1", calls.Load())
	}

	c.Invalidate()
	if _, err := c.Get(ctx, r, compute); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("compute called %d times after Invalidate, want 2", calls.Load())
	}
	if c.Version() != 1 {
		t.Errorf("Version() = %d", c.Version())
	}

	boom := errors.New("boom")
	_, err := c.Get(ctx, DateRange{}, func(context.Context, DateRange) (*Report, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want boom", err)
	}
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		want       string
		wantErr    bool
	}{
		{name: "open", want: "*..*"},
		{name: "start only", start: "2024-01-01", want: "2024-01-01..*"},
		{name: "both", start: "2024-01-01", end: "2024-01-31", want: "2024-01-01..2024-01-31"},
		{name: "same day", start: "2024-01-05", end: "2024-01-05", want: "2024-01-05..2024-01-05"},
		{name: "inverted", start: "2024-02-01", end: "2024-01-01", wantErr: true},
		{name: "bad format", start: "01/02/2024", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseDateRange(tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDateRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && r.Key() != tt.want {
				t.Errorf("Key() = %q, want %q", r.Key(), tt.want)
			}
		})
	}
}

func TestHasBalance(t *testing.T) {
	txs := scenario()
	if HasBalance(txs) {
		t.Error("HasBalance() = true for a ledger without balances")
	}
	txs[1].Balance = dec("-5.00")
	if !HasBalance(txs) {
		t.Error("HasBalance() = false with a negative balance")
	}
}
