package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/normalize"
	"github.com/dvloznov/statement-analytics/internal/tables"
)

// PipelineStep represents a single step in the statement pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Document     domain.StatementDocument
	StatementKey string
	RunID        string

	Table        *tables.Table
	Frame        *normalize.Frame
	Entries      []normalize.Entry
	Reconciled   normalize.Reconciled
	Transactions []domain.Transaction
	Warnings     []tables.Warning
}

// fail marks the pipeline run as failed when one was started.
func (s *PipelineState) fail(ctx context.Context, ledger infra.LedgerRepository, err error) {
	if ledger != nil && s.RunID != "" {
		ledger.MarkPipelineRunFailed(ctx, s.RunID, err)
	}
}

// Step 0: StartRunStep records a RUNNING pipeline run.
type StartRunStep struct {
	Ledger infra.LedgerRepository
}

func (s *StartRunStep) Execute(ctx context.Context, state *PipelineState) error {
	runID, err := s.Ledger.StartPipelineRun(ctx, state.StatementKey)
	if err != nil {
		return fmt.Errorf("StartRunStep: %w", err)
	}
	state.RunID = runID
	return nil
}

// Step 1: ExtractTablesStep parses the document's table fragments.
type ExtractTablesStep struct {
	Extractor TableExtractor
	Ledger    infra.LedgerRepository
}

func (s *ExtractTablesStep) Execute(ctx context.Context, state *PipelineState) error {
	table, warnings, err := s.Extractor.Extract(ctx, state.Document.Elements)
	state.Warnings = append(state.Warnings, warnings...)
	if err != nil {
		err = fmt.Errorf("ExtractTablesStep: %w", err)
		state.fail(ctx, s.Ledger, err)
		return err
	}
	state.Table = table
	return nil
}

// Step 2: NormalizeColumnsStep maps source headers to canonical columns.
type NormalizeColumnsStep struct {
	Synonyms normalize.Synonyms
}

func (s *NormalizeColumnsStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Frame = s.Synonyms.NormalizeColumns(ctx, state.Table)
	return nil
}

// Step 3: SanitizeValuesStep drops summary rows and coerces cells.
type SanitizeValuesStep struct {
	Sanitizer *normalize.Sanitizer
}

func (s *SanitizeValuesStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Entries = s.Sanitizer.Sanitize(ctx, state.Frame, state.StatementKey)
	return nil
}

// Step 4: ReconcileBalanceStep fills balances and sorts by date.
type ReconcileBalanceStep struct {
	Reconciler *normalize.Reconciler
}

func (s *ReconcileBalanceStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Reconciled = s.Reconciler.Reconcile(ctx, state.Frame, state.Entries)
	state.Transactions = state.Reconciled.Transactions
	return nil
}

// Step 5: ClassifyStep assigns categories.
type ClassifyStep struct {
	Classifier Classifier
	Options    categorize.ClassifyOptions
}

func (s *ClassifyStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ClassifyStep: %w", err)
	}
	state.Transactions = s.Classifier.Classify(ctx, state.Transactions, s.Options)
	return nil
}

// Step 6: PersistLedgerStep writes the ledger rows and marks the run SUCCESS.
type PersistLedgerStep struct {
	Ledger infra.LedgerRepository
	Now    func() time.Time
}

func (s *PersistLedgerStep) Execute(ctx context.Context, state *PipelineState) error {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}

	rows := make([]*infra.TransactionRow, len(state.Transactions))
	for i, tx := range state.Transactions {
		rows[i] = infra.NewTransactionRow(tx, state.StatementKey, state.RunID, i, now)
	}
	if err := s.Ledger.InsertTransactions(ctx, rows); err != nil {
		err = fmt.Errorf("PersistLedgerStep: %w", err)
		state.fail(ctx, s.Ledger, err)
		return err
	}
	if err := s.Ledger.MarkPipelineRunSucceeded(ctx, state.RunID, len(rows), len(state.Warnings)); err != nil {
		return fmt.Errorf("PersistLedgerStep: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("run_id", state.RunID).
		Str("statement", state.StatementKey).
		Int("transactions", len(rows)).
		Msg("Persisted ledger rows")
	return nil
}
