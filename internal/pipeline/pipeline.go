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

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// Deps are the collaborators of a statement run. Ledger is optional; without
// it the run is purely in memory.
type Deps struct {
	Extractor  TableExtractor
	Normalizer *normalize.Normalizer
	Classifier Classifier
	Classify   categorize.ClassifyOptions
	Ledger     infra.LedgerRepository
	Now        func() time.Time
}

// Result is the outcome of one statement run.
type Result struct {
	RunID        string               `json:"run_id,omitempty"`
	Transactions []domain.Transaction `json:"transactions"`
	Warnings     []tables.Warning     `json:"-"`
	HasBalance   bool                 `json:"has_balance"`
}

// NewStatementPipeline creates the standard statement pipeline for deps.
func NewStatementPipeline(deps Deps) *Pipeline {
	var steps []PipelineStep
	if deps.Ledger != nil {
		steps = append(steps, &StartRunStep{Ledger: deps.Ledger})
	}
	steps = append(steps,
		&ExtractTablesStep{Extractor: deps.Extractor, Ledger: deps.Ledger},
		&NormalizeColumnsStep{Synonyms: deps.Normalizer.Synonyms},
		&SanitizeValuesStep{Sanitizer: deps.Normalizer.Sanitizer},
		&ReconcileBalanceStep{Reconciler: deps.Normalizer.Reconciler},
		&ClassifyStep{Classifier: deps.Classifier, Options: deps.Classify},
	)
	if deps.Ledger != nil {
		steps = append(steps, &PersistLedgerStep{Ledger: deps.Ledger, Now: deps.Now})
	}
	return NewPipeline(steps...)
}

// RunStatement turns one OCR document into a categorized ledger. Running it
// twice on the same document yields the same transactions, ids included.
func RunStatement(ctx context.Context, doc domain.StatementDocument, deps Deps) (*Result, error) {
	log := logger.FromContext(ctx).With().Str("statement", doc.Key()).Logger()
	ctx = logger.WithContext(ctx, log)

	if err := deps.Classify.Validate(); err != nil {
		return nil, fmt.Errorf("RunStatement: %w", err)
	}

	state := &PipelineState{Document: doc, StatementKey: doc.Key()}
	if err := NewStatementPipeline(deps).Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("RunStatement: %w", err)
	}

	log.Info().
		Int("transactions", len(state.Transactions)).
		Int("warnings", len(state.Warnings)).
		Bool("has_balance", state.Reconciled.HasBalance).
		Msg("Statement processed")

	return &Result{
		RunID:        state.RunID,
		Transactions: state.Transactions,
		Warnings:     state.Warnings,
		HasBalance:   state.Reconciled.HasBalance,
	}, nil
}
