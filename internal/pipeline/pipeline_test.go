package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/normalize"
	"github.com/dvloznov/statement-analytics/internal/pipeline"
	"github.com/dvloznov/statement-analytics/internal/tables"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

// MockLedgerRepository is a mock implementation of LedgerRepository for testing.
type MockLedgerRepository struct {
	StartPipelineRunFunc         func(ctx context.Context, statementKey string) (string, error)
	MarkPipelineRunFailedFunc    func(ctx context.Context, runID string, runErr error)
	MarkPipelineRunSucceededFunc func(ctx context.Context, runID string, transactions, warnings int) error
	InsertTransactionsFunc       func(ctx context.Context, rows []*infra.TransactionRow) error
}

var _ infra.LedgerRepository = (*MockLedgerRepository)(nil)

func (m *MockLedgerRepository) StartPipelineRun(ctx context.Context, statementKey string) (string, error) {
	if m.StartPipelineRunFunc != nil {
		return m.StartPipelineRunFunc(ctx, statementKey)
	}
	return "run-1", nil
}

func (m *MockLedgerRepository) MarkPipelineRunFailed(ctx context.Context, runID string, runErr error) {
	if m.MarkPipelineRunFailedFunc != nil {
		m.MarkPipelineRunFailedFunc(ctx, runID, runErr)
	}
}

func (m *MockLedgerRepository) MarkPipelineRunSucceeded(ctx context.Context, runID string, transactions, warnings int) error {
	if m.MarkPipelineRunSucceededFunc != nil {
		return m.MarkPipelineRunSucceededFunc(ctx, runID, transactions, warnings)
	}
	return nil
}

func (m *MockLedgerRepository) InsertTransactions(ctx context.Context, rows []*infra.TransactionRow) error {
	if m.InsertTransactionsFunc != nil {
		return m.InsertTransactionsFunc(ctx, rows)
	}
	return nil
}

func (m *MockLedgerRepository) QueryTransactions(context.Context, *time.Time, *time.Time) ([]*infra.TransactionRow, error) {
	return nil, nil
}

func (m *MockLedgerRepository) UpdateCategory(context.Context, string, string) error {
	return nil
}

const statementHTML = `<table>
<thead><tr><th>Date</th><th>Description</th><th>Debit</th><th>Credit</th><th>Balance</th></tr></thead>
<tbody>
<tr><td>15/01/2024</td><td>NETFLIX</td><td>199.00</td><td></td><td>29351.00</td></tr>
<tr><td>05/01/2024</td><td>WOOLWORTHS</td><td>450.00</td><td></td><td>9550.00</td></tr>
<tr><td>10/01/2024</td><td>SALARY</td><td></td><td>20,000.00</td><td>29550.00</td></tr>
<tr><td></td><td>Closing balance</td><td></td><td></td><td>29351.00</td></tr>
</tbody>
</table>`

func testContext() context.Context {
	return logger.WithContext(context.Background(), logger.Nop())
}

func testDocument() domain.StatementDocument {
	return domain.StatementDocument{
		ID:       "stmt-jan",
		Filename: "01 Jan 2024 - 31 Jan 2024.pdf",
		Elements: []domain.Element{
			{Category: "text", Content: domain.ElementContent{Text: "Account summary"}},
			{Category: domain.ElementCategoryTable, PageNumber: 1, Content: domain.ElementContent{HTML: `<p>no table here</p>`}},
			{Category: domain.ElementCategoryTable, PageNumber: 1, Content: domain.ElementContent{HTML: statementHTML}},
		},
	}
}

func testDeps(ledger infra.LedgerRepository) pipeline.Deps {
	norm := normalize.NewNormalizer(normalize.Options{}, nil)
	return pipeline.Deps{
		Extractor:  tables.NewExtractor(norm.Synonyms),
		Normalizer: norm,
		Classifier: categorize.NewService(nil, nil, nil, categorize.DefaultConfidenceThreshold),
		Ledger:     ledger,
		Now:        func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) },
	}
}

type row struct {
	Day         string
	Description string
	Debits      string
	Credits     string
	Balance     string
	Category    string
}

func rowsOf(txs []domain.Transaction) []row {
	out := make([]row, len(txs))
	for i, tx := range txs {
		out[i] = row{
			Day:         tx.DayKey(),
			Description: tx.Description,
			Debits:      tx.Debits.String(),
			Credits:     tx.Credits.String(),
			Balance:     tx.Balance.String(),
			Category:    tx.Category,
		}
	}
	return out
}

func TestRunStatement(t *testing.T) {
	res, err := pipeline.RunStatement(testContext(), testDocument(), testDeps(nil))
	if err != nil {
		t.Fatalf("RunStatement() error = %v", err)
	}

	want := []row{
		{"2024-01-05", "WOOLWORTHS", "450", "0", "9550", "Groceries"},
		{"2024-01-10", "SALARY", "0", "20000", "29550", domain.Uncategorized},
		{"2024-01-15", "NETFLIX", "199", "0", "29351", domain.Uncategorized},
	}
	if diff := cmp.Diff(want, rowsOf(res.Transactions)); diff != "" {
		t.Errorf("transactions mismatch (-want +got):\n%s", diff)
	}
	if !res.HasBalance {
		t.Error("HasBalance = false, want true")
	}
	if len(res.Warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(res.Warnings))
	}
	if res.RunID != "" {
		t.Errorf("RunID = %q without a ledger", res.RunID)
	}

	total := decimal.Zero
	for _, tx := range res.Transactions {
		total = total.Add(tx.Debits)
	}
	if !total.Equal(decimal.NewFromInt(649)) {
		t.Errorf("total debits = %s, want 649", total)
	}
}

func TestRunStatement_Idempotent(t *testing.T) {
	deps := testDeps(nil)
	first, err := pipeline.RunStatement(testContext(), testDocument(), deps)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := pipeline.RunStatement(testContext(), testDocument(), deps)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	ids := func(txs []domain.Transaction) []string {
		out := make([]string, len(txs))
		for i, tx := range txs {
			out[i] = tx.ID
		}
		return out
	}
	if diff := cmp.Diff(ids(first.Transactions), ids(second.Transactions)); diff != "" {
		t.Errorf("ids differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(rowsOf(first.Transactions), rowsOf(second.Transactions)); diff != "" {
		t.Errorf("rows differ between runs (-first +second):\n%s", diff)
	}
	seen := map[string]bool{}
	for _, id := range ids(first.Transactions) {
		if id == "" || seen[id] {
			t.Errorf("id %q is empty or duplicated", id)
		}
		seen[id] = true
	}
}

func TestRunStatement_InvalidThreshold(t *testing.T) {
	started := false
	ledger := &MockLedgerRepository{
		StartPipelineRunFunc: func(context.Context, string) (string, error) {
			started = true
			return "run-1", nil
		},
	}
	deps := testDeps(ledger)
	deps.Classify = categorize.ClassifyOptions{UseML: true, Threshold: categorize.Threshold(1.2)}

	_, err := pipeline.RunStatement(testContext(), testDocument(), deps)
	if !errors.Is(err, categorize.ErrInvalidThreshold) {
		t.Fatalf("RunStatement() error = %v, want ErrInvalidThreshold", err)
	}
	if started {
		t.Error("pipeline run started for an invalid threshold")
	}
}

func TestRunStatement_ZeroThresholdAccepted(t *testing.T) {
	deps := testDeps(nil)
	deps.Classify = categorize.ClassifyOptions{Threshold: categorize.Threshold(0)}

	if _, err := pipeline.RunStatement(testContext(), testDocument(), deps); err != nil {
		t.Fatalf("RunStatement() error = %v", err)
	}
}

func TestRunStatement_NoTables(t *testing.T) {
	doc := domain.StatementDocument{ID: "empty", Elements: []domain.Element{
		{Category: domain.ElementCategoryTable, Content: domain.ElementContent{HTML: `<table><tr><th>Account</th></tr><tr><td>1</td></tr></table>`}},
	}}

	var failed error
	ledger := &MockLedgerRepository{
		MarkPipelineRunFailedFunc: func(_ context.Context, runID string, runErr error) {
			failed = runErr
		},
	}

	_, err := pipeline.RunStatement(testContext(), doc, testDeps(ledger))
	if !errors.Is(err, tables.ErrNoTables) {
		t.Fatalf("RunStatement() error = %v, want ErrNoTables", err)
	}
	if !errors.Is(failed, tables.ErrNoTables) {
		t.Errorf("run marked failed with %v, want ErrNoTables", failed)
	}
}

func TestRunStatement_PersistsLedger(t *testing.T) {
	var inserted []*infra.TransactionRow
	var succeeded struct {
		runID        string
		transactions int
		warnings     int
	}
	ledger := &MockLedgerRepository{
		StartPipelineRunFunc: func(_ context.Context, key string) (string, error) {
			if key != "stmt-jan" {
				t.Errorf("StartPipelineRun key = %q", key)
			}
			return "run-42", nil
		},
		InsertTransactionsFunc: func(_ context.Context, rows []*infra.TransactionRow) error {
			inserted = rows
			return nil
		},
		MarkPipelineRunSucceededFunc: func(_ context.Context, runID string, transactions, warnings int) error {
			succeeded.runID, succeeded.transactions, succeeded.warnings = runID, transactions, warnings
			return nil
		},
	}

	res, err := pipeline.RunStatement(testContext(), testDocument(), testDeps(ledger))
	if err != nil {
		t.Fatalf("RunStatement() error = %v", err)
	}
	if res.RunID != "run-42" {
		t.Errorf("RunID = %q, want run-42", res.RunID)
	}
	if len(inserted) != 3 {
		t.Fatalf("inserted %d rows, want 3", len(inserted))
	}
	for i, r := range inserted {
		if r.PipelineRunID != "run-42" || r.StatementKey != "stmt-jan" || r.LineNo != int64(i) {
			t.Errorf("row %d = run %q statement %q line %d", i, r.PipelineRunID, r.StatementKey, r.LineNo)
		}
		if r.TransactionID != res.Transactions[i].ID {
			t.Errorf("row %d id = %q, want %q", i, r.TransactionID, res.Transactions[i].ID)
		}
	}
	if succeeded.runID != "run-42" || succeeded.transactions != 3 || succeeded.warnings != 1 {
		t.Errorf("MarkPipelineRunSucceeded got %+v", succeeded)
	}
}

func TestRunStatement_InsertFailureMarksRunFailed(t *testing.T) {
	boom := errors.New("quota exceeded")
	var failedRun string
	ledger := &MockLedgerRepository{
		InsertTransactionsFunc: func(context.Context, []*infra.TransactionRow) error { return boom },
		MarkPipelineRunFailedFunc: func(_ context.Context, runID string, _ error) {
			failedRun = runID
		},
		MarkPipelineRunSucceededFunc: func(context.Context, string, int, int) error {
			t.Error("MarkPipelineRunSucceeded called after insert failure")
			return nil
		},
	}

	_, err := pipeline.RunStatement(testContext(), testDocument(), testDeps(ledger))
	if !errors.Is(err, boom) {
		t.Fatalf("RunStatement() error = %v, want %v", err, boom)
	}
	if failedRun != "run-1" {
		t.Errorf("failed run = %q, want run-1", failedRun)
	}
}

type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}

func TestPipelineExecute_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran []int
	p := pipeline.NewPipeline(
		stepFunc(func(context.Context, *pipeline.PipelineState) error { ran = append(ran, 1); return nil }),
		stepFunc(func(context.Context, *pipeline.PipelineState) error { ran = append(ran, 2); return boom }),
		stepFunc(func(context.Context, *pipeline.PipelineState) error { ran = append(ran, 3); return nil }),
	)

	err := p.Execute(context.Background(), &pipeline.PipelineState{})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want %v", err, boom)
	}
	if err.Error() != "pipeline step 2 failed: boom" {
		t.Errorf("Execute() error = %q", err.Error())
	}
	if diff := cmp.Diff([]int{1, 2}, ran); diff != "" {
		t.Errorf("steps run mismatch (-want +got):\n%s", diff)
	}
}
