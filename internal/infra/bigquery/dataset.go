// Package bigquery stores the categorized ledger, user category mappings and
// pipeline run records in BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
)

const (
	transactionsTable = "transactions"
	mappingsTable     = "category_mappings"
	pipelineRunsTable = "pipeline_runs"

	dateFormat = "2006-01-02"
)

// Dataset names the project and dataset holding the ledger tables.
type Dataset struct {
	ProjectID string
	DatasetID string
}

func (d Dataset) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", d.ProjectID, d.DatasetID, name)
}

func (d Dataset) handle(client *bigquery.Client, name string) *bigquery.Table {
	return client.DatasetInProject(d.ProjectID, d.DatasetID).Table(name)
}

// runQuery runs a DML statement and waits for it to finish.
func runQuery(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
