package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-analytics/internal/domain"
)

// LedgerRepository provides an interface for ledger storage.
// This interface enables mocking and testing of the pipeline and API.
type LedgerRepository interface {
	// StartPipelineRun records a RUNNING pipeline run and returns its id.
	StartPipelineRun(ctx context.Context, statementKey string) (string, error)

	// MarkPipelineRunFailed sets status=FAILED and the error message.
	MarkPipelineRunFailed(ctx context.Context, runID string, runErr error)

	// MarkPipelineRunSucceeded sets status=SUCCESS with row counts.
	MarkPipelineRunSucceeded(ctx context.Context, runID string, transactions, warnings int) error

	// InsertTransactions inserts the ledger rows of one run.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	// QueryTransactions returns ledger rows within an optional date range.
	QueryTransactions(ctx context.Context, start, end *time.Time) ([]*TransactionRow, error)

	// UpdateCategory relabels a single transaction.
	UpdateCategory(ctx context.Context, transactionID, category string) error
}

// MappingRepository provides an interface for category mapping storage.
type MappingRepository interface {
	// InsertMapping appends a mapping.
	InsertMapping(ctx context.Context, m domain.CategoryMapping) error

	// ListMappings returns every mapping in insertion order.
	ListMappings(ctx context.Context) ([]domain.CategoryMapping, error)
}

var (
	_ LedgerRepository  = (*BigQueryRepository)(nil)
	_ MappingRepository = (*BigQueryRepository)(nil)
)

// BigQueryRepository implements LedgerRepository and MappingRepository with
// a shared BigQuery client.
type BigQueryRepository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewBigQueryRepository creates a repository for ds.
func NewBigQueryRepository(ctx context.Context, ds Dataset) (*BigQueryRepository, error) {
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRepository: creating client: %w", err)
	}
	return &BigQueryRepository{client: client, ds: ds}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// StartPipelineRun delegates to StartPipelineRunWithClient.
func (r *BigQueryRepository) StartPipelineRun(ctx context.Context, statementKey string) (string, error) {
	return StartPipelineRunWithClient(ctx, r.client, r.ds, statementKey)
}

// MarkPipelineRunFailed delegates to MarkPipelineRunFailedWithClient.
func (r *BigQueryRepository) MarkPipelineRunFailed(ctx context.Context, runID string, runErr error) {
	MarkPipelineRunFailedWithClient(ctx, r.client, r.ds, runID, runErr)
}

// MarkPipelineRunSucceeded delegates to MarkPipelineRunSucceededWithClient.
func (r *BigQueryRepository) MarkPipelineRunSucceeded(ctx context.Context, runID string, transactions, warnings int) error {
	return MarkPipelineRunSucceededWithClient(ctx, r.client, r.ds, runID, transactions, warnings)
}

// InsertTransactions delegates to InsertTransactionsWithClient.
func (r *BigQueryRepository) InsertTransactions(ctx context.Context, rows []*TransactionRow) error {
	return InsertTransactionsWithClient(ctx, r.client, r.ds, rows)
}

// QueryTransactions delegates to QueryTransactionsWithClient.
func (r *BigQueryRepository) QueryTransactions(ctx context.Context, start, end *time.Time) ([]*TransactionRow, error) {
	return QueryTransactionsWithClient(ctx, r.client, r.ds, start, end)
}

// UpdateCategory delegates to UpdateCategoryWithClient.
func (r *BigQueryRepository) UpdateCategory(ctx context.Context, transactionID, category string) error {
	return UpdateCategoryWithClient(ctx, r.client, r.ds, transactionID, category)
}

// InsertMapping converts and appends a mapping.
func (r *BigQueryRepository) InsertMapping(ctx context.Context, m domain.CategoryMapping) error {
	return InsertCategoryMappingWithClient(ctx, r.client, r.ds, NewCategoryMappingRow(m))
}

// ListMappings returns every stored mapping.
func (r *BigQueryRepository) ListMappings(ctx context.Context) ([]domain.CategoryMapping, error) {
	rows, err := ListCategoryMappingsWithClient(ctx, r.client, r.ds)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CategoryMapping, len(rows))
	for i, row := range rows {
		out[i] = row.Mapping()
	}
	return out, nil
}

// Transactions converts rows into ledger transactions.
func Transactions(rows []*TransactionRow) []domain.Transaction {
	out := make([]domain.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.Transaction()
	}
	return out
}
