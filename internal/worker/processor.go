// Package worker runs queued ingest and train jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/jobs"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/pipeline"
	"github.com/dvloznov/statement-analytics/internal/statements"
	"github.com/dvloznov/statement-analytics/internal/tables"
)

// StatementSource loads raw statement documents.
type StatementSource interface {
	GetDocument(ctx context.Context, id string) (domain.StatementDocument, error)
}

// LedgerReader reads persisted ledger rows.
type LedgerReader interface {
	QueryTransactions(ctx context.Context, start, end *time.Time) ([]*infra.TransactionRow, error)
}

// Trainer fits and swaps in a new category model.
type Trainer interface {
	Train(ctx context.Context, txs []domain.Transaction, opts categorize.TrainOptions) (*categorize.Report, error)
}

// Invalidator drops cached analytics after the ledger changes.
type Invalidator interface {
	Invalidate()
}

var (
	_ StatementSource = (*statements.Store)(nil)
	_ LedgerReader    = (infra.LedgerRepository)(nil)
	_ Trainer         = (*categorize.Service)(nil)
)

// Processor dispatches jobs by type.
type Processor struct {
	Statements StatementSource
	Pipeline   pipeline.Deps
	Ledger     LedgerReader
	Trainer    Trainer
	Cache      Invalidator
	Train      categorize.TrainOptions
}

// Handle implements jobs.JobHandler.
func (p *Processor) Handle(ctx context.Context, job *jobs.Job) error {
	switch job.Type {
	case jobs.JobTypeIngest:
		return p.ingest(ctx, job)
	case jobs.JobTypeTrain:
		return p.train(ctx, job)
	default:
		return jobs.Permanent(fmt.Errorf("Handle: unknown job type %q", job.Type))
	}
}

func (p *Processor) ingest(ctx context.Context, job *jobs.Job) error {
	log := logger.FromContext(ctx).With().Str("statement_id", job.StatementID).Logger()

	doc, err := p.Statements.GetDocument(ctx, job.StatementID)
	if err != nil {
		err = fmt.Errorf("ingest: loading statement: %w", err)
		if errors.Is(err, statements.ErrNotFound) {
			return jobs.Permanent(err)
		}
		return err
	}

	deps := p.Pipeline
	deps.Classify.UseML = job.UseML

	res, err := pipeline.RunStatement(ctx, doc, deps)
	if err != nil {
		err = fmt.Errorf("ingest: %w", err)
		if errors.Is(err, tables.ErrNoTables) || errors.Is(err, categorize.ErrInvalidThreshold) {
			return jobs.Permanent(err)
		}
		return err
	}

	job.RunID = res.RunID
	job.Transactions = len(res.Transactions)
	if p.Cache != nil {
		p.Cache.Invalidate()
	}

	log.Info().
		Str("run_id", res.RunID).
		Int("transactions", len(res.Transactions)).
		Msg("Statement ingested")
	return nil
}

func (p *Processor) train(ctx context.Context, job *jobs.Job) error {
	log := logger.FromContext(ctx)

	rows, err := p.Ledger.QueryTransactions(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("train: loading ledger: %w", err)
	}

	report, err := p.Trainer.Train(ctx, infra.Transactions(rows), p.Train)
	if err != nil {
		err = fmt.Errorf("train: %w", err)
		if errors.Is(err, categorize.ErrInsufficientData) || errors.Is(err, categorize.ErrEmptyVocabulary) {
			return jobs.Permanent(err)
		}
		return err
	}

	log.Info().
		Str("version", report.Version).
		Int("samples", report.Samples).
		Float64("accuracy", report.Accuracy).
		Msg("Category model trained")
	return nil
}
