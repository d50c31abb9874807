package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// InsertTransactionsWithClient streams rows into the transactions table. The
// transaction id doubles as the insert id, so retried inserts of the same
// statement are deduplicated.
func InsertTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, rows []*TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, len(rows))
	for i, r := range rows {
		savers[i] = &bigquery.StructSaver{Struct: r, InsertID: r.TransactionID}
	}

	inserter := ds.handle(client, transactionsTable).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// QueryTransactionsWithClient returns the ledger from successful pipeline
// runs, oldest first with undated rows last. Nil bounds leave the range open;
// undated rows are returned only when both bounds are nil. When a statement
// was ingested more than once, the latest copy of each transaction wins.
func QueryTransactionsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, start, end *time.Time) ([]*TransactionRow, error) {
	var conds []string
	var params []bigquery.QueryParameter
	if start != nil {
		conds = append(conds, "t.transaction_date >= @start_date")
		params = append(params, bigquery.QueryParameter{Name: "start_date", Value: start.Format(dateFormat)})
	}
	if end != nil {
		conds = append(conds, "t.transaction_date <= @end_date")
		params = append(params, bigquery.QueryParameter{Name: "end_date", Value: end.Format(dateFormat)})
	}
	where := ""
	if len(conds) > 0 {
		where = "AND " + strings.Join(conds, " AND ")
	}

	q := client.Query(fmt.Sprintf(`
		SELECT
			t.transaction_id,
			t.statement_key,
			t.pipeline_run_id,
			t.transaction_date,
			t.description,
			t.debits,
			t.credits,
			t.balance,
			t.fees,
			t.category,
			t.confidence,
			t.line_no,
			t.created_ts
		FROM %s t
		INNER JOIN %s pr
		  ON t.pipeline_run_id = pr.pipeline_run_id
		WHERE pr.status = 'SUCCESS'
		  %s
		QUALIFY ROW_NUMBER() OVER (PARTITION BY t.transaction_id ORDER BY t.created_ts DESC) = 1
		ORDER BY t.transaction_date IS NULL, t.transaction_date, t.statement_key, t.line_no
	`, ds.table(transactionsTable), ds.table(pipelineRunsTable), where))
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query read: %w", err)
	}

	var rows []*TransactionRow
	for {
		var r TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// UpdateCategoryWithClient relabels one transaction, clearing its confidence.
func UpdateCategoryWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, transactionID, category string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET category = @category,
		    confidence = NULL
		WHERE transaction_id = @transaction_id
	`, ds.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category", Value: category},
		{Name: "transaction_id", Value: transactionID},
	}
	if err := runQuery(ctx, q); err != nil {
		return fmt.Errorf("UpdateCategory: %w", err)
	}
	return nil
}
