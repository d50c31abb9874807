package pipeline

import (
	"context"

	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/tables"
)

// TableExtractor turns document elements into one merged statement table.
type TableExtractor interface {
	Extract(ctx context.Context, elements []domain.Element) (*tables.Table, []tables.Warning, error)
}

// Classifier labels transactions. It must not fail: rows it cannot label
// come back Uncategorized.
// This interface enables mocking and testing of the classify step.
type Classifier interface {
	Classify(ctx context.Context, txs []domain.Transaction, opts categorize.ClassifyOptions) []domain.Transaction
}

var (
	_ TableExtractor = (*tables.Extractor)(nil)
	_ Classifier     = (*categorize.Service)(nil)
)
