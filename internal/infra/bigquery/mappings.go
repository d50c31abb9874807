package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"google.golang.org/api/iterator"
)

// CategoryMappingRow is one user keyword mapping. The table is append-only.
type CategoryMappingRow struct {
	Term         string    `bigquery:"term"`          // REQUIRED
	Category     string    `bigquery:"category"`      // REQUIRED
	CategoryType string    `bigquery:"category_type"` // REQUIRED
	CreatedTS    time.Time `bigquery:"created_ts"`    // REQUIRED
}

// NewCategoryMappingRow converts a mapping for insertion.
func NewCategoryMappingRow(m domain.CategoryMapping) *CategoryMappingRow {
	return &CategoryMappingRow{
		Term:         m.Term,
		Category:     m.Category,
		CategoryType: string(m.CategoryType),
		CreatedTS:    m.CreatedAt,
	}
}

// Mapping converts the row back into a mapping.
func (r *CategoryMappingRow) Mapping() domain.CategoryMapping {
	return domain.CategoryMapping{
		Term:         r.Term,
		Category:     r.Category,
		CategoryType: domain.CategoryType(r.CategoryType),
		CreatedAt:    r.CreatedTS,
	}
}

// InsertCategoryMappingWithClient appends a mapping.
func InsertCategoryMappingWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *CategoryMappingRow) error {
	inserter := ds.handle(client, mappingsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("InsertCategoryMapping: inserting row: %w", err)
	}
	return nil
}

// ListCategoryMappingsWithClient returns every mapping in insertion order.
func ListCategoryMappingsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset) ([]*CategoryMappingRow, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
		  term,
		  category,
		  category_type,
		  created_ts
		FROM %s
		ORDER BY created_ts, term
	`, ds.table(mappingsTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategoryMappings: query read: %w", err)
	}

	var rows []*CategoryMappingRow
	for {
		var r CategoryMappingRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategoryMappings: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
