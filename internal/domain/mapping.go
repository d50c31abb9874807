package domain

import (
	"fmt"
	"strings"
	"time"
)

// CategoryType groups categories for budgeting.
type CategoryType string

const (
	NecessaryExpenses     CategoryType = "Necessary Expenses"
	DiscretionaryExpenses CategoryType = "Discretionary Expenses"
	InvestmentSpending    CategoryType = "Investment Spending"
	Income                CategoryType = "Income"
	Notices               CategoryType = "Notices"
	Special               CategoryType = "Special"
)

// CategoryTypes lists every valid CategoryType in display order.
var CategoryTypes = []CategoryType{
	NecessaryExpenses,
	DiscretionaryExpenses,
	InvestmentSpending,
	Income,
	Notices,
	Special,
}

// ParseCategoryType matches s case-insensitively against CategoryTypes.
func ParseCategoryType(s string) (CategoryType, error) {
	for _, ct := range CategoryTypes {
		if strings.EqualFold(strings.TrimSpace(s), string(ct)) {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown category type %q", s)
}

// CategoryMapping is a user-added keyword rule. Mappings are append-only.
type CategoryMapping struct {
	Term         string       `json:"term"`
	Category     string       `json:"category"`
	CategoryType CategoryType `json:"category_type"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Validate checks that the mapping can be used as a rule.
func (m CategoryMapping) Validate() error {
	if strings.TrimSpace(m.Term) == "" {
		return fmt.Errorf("mapping term is required")
	}
	if strings.TrimSpace(m.Category) == "" {
		return fmt.Errorf("mapping category is required")
	}
	if _, err := ParseCategoryType(string(m.CategoryType)); err != nil {
		return err
	}
	return nil
}
