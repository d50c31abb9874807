package analytics

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	StatusOver  = "over"
	StatusUnder = "under"
	StatusGood  = "good"

	alertFactor      = 1.5
	suggestionFactor = 0.3
	overFactor       = 1.2
	underFactor      = 0.8

	BalancedMessage = "Your spending appears to be well-balanced across categories!"
)

// IdealShare is the recommended percentage of spending for a category.
type IdealShare struct {
	Category string
	Percent  float64
}

// IdealAllocation is the reference budget, in report order.
var IdealAllocation = []IdealShare{
	{"Groceries", 15},
	{"Transport", 12},
	{"Utilities", 10},
	{"Insurance", 8},
	{"Entertainment", 5},
	{"Medical", 5},
	{"Shopping", 8},
	{"Banking", 2},
}

// Allocation compares a category's actual share against its ideal.
type Allocation struct {
	Category    string  `json:"category"`
	Actual      float64 `json:"actual"`
	Recommended float64 `json:"recommended"`
	Status      string  `json:"status"`
}

// BudgetSummary describes the spending the recommendations were based on.
type BudgetSummary struct {
	TotalExpenses      decimal.Decimal `json:"total_expenses"`
	CategoriesAnalyzed int             `json:"categories_analyzed"`
	TopCategory        string          `json:"top_category"`
	TopCategoryShare   float64         `json:"top_category_share"`
}

// Budget holds alerts, suggestions and the per-category allocation.
type Budget struct {
	Alerts      []string      `json:"alerts"`
	Suggestions []string      `json:"suggestions"`
	Allocation  []Allocation  `json:"budget_allocation"`
	Summary     BudgetSummary `json:"summary"`
}

// BudgetRecommendations compares insights against IdealAllocation. A
// category above 1.5x its ideal share raises an alert; one present but below
// 0.3x raises a suggestion. With neither, a single acknowledgement is
// returned as the only suggestion.
func BudgetRecommendations(in Insights) Budget {
	b := Budget{
		Alerts:      []string{},
		Suggestions: []string{},
		Summary: BudgetSummary{
			TotalExpenses:      in.TotalExpenses,
			CategoriesAnalyzed: len(in.Percentages),
			TopCategory:        "None",
		},
	}
	if len(in.Ranked) > 0 {
		b.Summary.TopCategory = in.Ranked[0].Category
		b.Summary.TopCategoryShare = in.Ranked[0].Percentage
	}

	for _, ideal := range IdealAllocation {
		actual := in.Percentages[ideal.Category]

		switch {
		case actual > ideal.Percent*alertFactor:
			b.Alerts = append(b.Alerts, fmt.Sprintf("High spending in %s: %.1f%% vs recommended %g%%", ideal.Category, actual, ideal.Percent))
		case actual > 0 && actual < ideal.Percent*suggestionFactor:
			b.Suggestions = append(b.Suggestions, fmt.Sprintf("Very low spending in %s: %.1f%% - consider if this is adequate", ideal.Category, actual))
		}

		b.Allocation = append(b.Allocation, Allocation{
			Category:    ideal.Category,
			Actual:      actual,
			Recommended: ideal.Percent,
			Status:      allocationStatus(actual, ideal.Percent),
		})
	}

	if len(b.Alerts) == 0 && len(b.Suggestions) == 0 {
		b.Suggestions = append(b.Suggestions, BalancedMessage)
	}
	return b
}

func allocationStatus(actual, ideal float64) string {
	switch {
	case actual > ideal*overFactor:
		return StatusOver
	case actual < ideal*underFactor:
		return StatusUnder
	default:
		return StatusGood
	}
}
