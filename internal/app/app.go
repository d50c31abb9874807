// Package app builds the stores and services shared by the command binaries
// from a loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/config"
	"github.com/dvloznov/statement-analytics/internal/gcsuploader"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/normalize"
	"github.com/dvloznov/statement-analytics/internal/pipeline"
	"github.com/dvloznov/statement-analytics/internal/statements"
	"github.com/dvloznov/statement-analytics/internal/suggest"
	"github.com/dvloznov/statement-analytics/internal/tables"
	"github.com/shopspring/decimal"
)

// ArtifactPrefix is the object prefix of model artifacts in a bucket.
const ArtifactPrefix = "models/category"

// Closer releases a resource opened by this package.
type Closer func() error

// OpenStatements connects to MongoDB and returns the statement store.
func OpenStatements(ctx context.Context, cfg *config.Config) (*statements.Store, Closer, error) {
	client, err := statements.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, nil, fmt.Errorf("OpenStatements: %w", err)
	}
	coll := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
	return statements.NewStore(coll), func() error { return client.Disconnect(context.Background()) }, nil
}

// OpenLedger creates the BigQuery ledger repository.
func OpenLedger(ctx context.Context, cfg *config.Config) (*infra.BigQueryRepository, error) {
	repo, err := infra.NewBigQueryRepository(ctx, infra.Dataset{
		ProjectID: cfg.GCP.ProjectID,
		DatasetID: cfg.GCP.Dataset,
	})
	if err != nil {
		return nil, fmt.Errorf("OpenLedger: %w", err)
	}
	return repo, nil
}

// OpenArchive returns the upload archive bucket, or nil when none is
// configured.
func OpenArchive(ctx context.Context, cfg *config.Config) (*gcsuploader.BucketStore, error) {
	if cfg.GCP.Bucket == "" {
		return nil, nil
	}
	store, err := gcsuploader.NewBucketStore(ctx, cfg.GCP.Bucket)
	if err != nil {
		return nil, fmt.Errorf("OpenArchive: %w", err)
	}
	return store, nil
}

// Rules returns the configured keyword table.
func Rules(cfg *config.Config) (*categorize.Rules, error) {
	if cfg.Classifier.RulesFile == "" {
		return categorize.DefaultRules(), nil
	}
	rules, err := categorize.LoadRulesFile(cfg.Classifier.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("Rules: %w", err)
	}
	return rules, nil
}

// ArtifactStore picks the model artifact store: a bucket when one is
// configured, otherwise a local directory.
func ArtifactStore(ctx context.Context, cfg *config.Config) (categorize.ArtifactStore, Closer, error) {
	if cfg.Classifier.ArtifactBucket == "" {
		return categorize.NewFileArtifactStore(cfg.Classifier.ArtifactDir), func() error { return nil }, nil
	}
	bucket, err := gcsuploader.NewBucketStore(ctx, cfg.Classifier.ArtifactBucket)
	if err != nil {
		return nil, nil, fmt.Errorf("ArtifactStore: %w", err)
	}
	return categorize.NewGCSArtifactStore(bucket, ArtifactPrefix), bucket.Close, nil
}

// NewCategorizer builds the classifier service and loads user mappings.
// mappings may be nil, in which case only the keyword table applies.
func NewCategorizer(ctx context.Context, cfg *config.Config, mappings categorize.MappingStore) (*categorize.Service, Closer, error) {
	rules, err := Rules(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("NewCategorizer: %w", err)
	}
	artifacts, closeArtifacts, err := ArtifactStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("NewCategorizer: %w", err)
	}

	svc := categorize.NewService(rules, mappings, artifacts, cfg.Classifier.ConfidenceThreshold)
	if err := svc.LoadMappings(ctx); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to load category mappings, using keyword rules only")
	}
	return svc, closeArtifacts, nil
}

// Normalizer builds the column and value normalizer.
func Normalizer(cfg *config.Config) *normalize.Normalizer {
	return normalize.NewNormalizer(normalize.Options{
		DecimalComma:   cfg.Normalize.DecimalComma,
		SummaryMarkers: cfg.Normalize.SummaryMarkers,
	}, cfg.Normalize.ColumnSynonyms)
}

// PipelineDeps assembles a statement run. ledger may be nil for an in-memory
// run.
func PipelineDeps(cfg *config.Config, classifier pipeline.Classifier, ledger infra.LedgerRepository) pipeline.Deps {
	norm := Normalizer(cfg)
	return pipeline.Deps{
		Extractor:  tables.NewExtractor(norm.Synonyms),
		Normalizer: norm,
		Classifier: classifier,
		Classify:   categorize.ClassifyOptions{Threshold: categorize.Threshold(cfg.Classifier.ConfidenceThreshold)},
		Ledger:     ledger,
	}
}

// Engine builds the analytics engine.
func Engine(cfg *config.Config) *analytics.Engine {
	return analytics.NewEngine(analytics.Options{
		StartingBalance:     decimal.NewFromFloat(cfg.Analytics.AssumedStartingBalance),
		UnusualMultiplier:   cfg.Analytics.UnusualMultiplier,
		MonthlyWindowMonths: cfg.Analytics.MonthlyWindowMonths,
		VelocityWindowDays:  cfg.Analytics.VelocityWindowDays,
	})
}

// Suggester builds the Gemini-backed suggester.
func Suggester(ctx context.Context, cfg *config.Config) (*suggest.Suggester, error) {
	gen, err := suggest.NewGeminiGenerator(ctx, cfg.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("Suggester: %w", err)
	}
	return suggest.NewSuggester(gen), nil
}
