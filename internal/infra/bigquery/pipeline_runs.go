package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/google/uuid"
)

const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"

	maxErrorMessageLen = 2000
)

// PipelineRunRow records one pipeline execution over a statement.
type PipelineRunRow struct {
	PipelineRunID string `bigquery:"pipeline_run_id"` // REQUIRED
	StatementKey  string `bigquery:"statement_key"`   // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`        // REQUIRED
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	TransactionCount bigquery.NullInt64 `bigquery:"transaction_count"` // NULLABLE
	WarningCount     bigquery.NullInt64 `bigquery:"warning_count"`     // NULLABLE
}

// StartPipelineRunWithClient inserts a RUNNING run and returns its id.
func StartPipelineRunWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, statementKey string) (string, error) {
	runID := uuid.NewString()

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			pipeline_run_id,
			statement_key,
			started_ts,
			status
		)
		VALUES (
			@pipeline_run_id,
			@statement_key,
			@started_ts,
			@status
		)
	`, ds.table(pipelineRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "pipeline_run_id", Value: runID},
		{Name: "statement_key", Value: statementKey},
		{Name: "started_ts", Value: time.Now()},
		{Name: "status", Value: RunStatusRunning},
	}

	if err := runQuery(ctx, q); err != nil {
		return "", fmt.Errorf("StartPipelineRun: %w", err)
	}
	return runID, nil
}

// MarkPipelineRunFailedWithClient sets status=FAILED. Failures are logged,
// not returned, since the caller is already handling an error.
func MarkPipelineRunFailedWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, runErr error) {
	log := logger.FromContext(ctx)

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE pipeline_run_id = @pipeline_run_id
	`, ds.table(pipelineRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: truncateError(runErr)},
		{Name: "pipeline_run_id", Value: runID},
	}

	if err := runQuery(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("pipeline_run_id", runID).
			Msg("MarkPipelineRunFailed: update failed")
	}
}

// MarkPipelineRunSucceededWithClient sets status=SUCCESS with row counts.
func MarkPipelineRunSucceededWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, runID string, transactions, warnings int) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    transaction_count = @transaction_count,
		    warning_count = @warning_count
		WHERE pipeline_run_id = @pipeline_run_id
	`, ds.table(pipelineRunsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusSuccess},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "transaction_count", Value: transactions},
		{Name: "warning_count", Value: warnings},
		{Name: "pipeline_run_id", Value: runID},
	}

	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("MarkPipelineRunSucceeded: %w", err)
	}
	return nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
