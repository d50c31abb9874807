package categorize

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
)

// Classifier defaults and ModelInfo statuses.
const (
	DefaultConfidenceThreshold = 0.7

	StatusNotTrained = "Not trained"
	StatusTrained    = "Trained"
)

// MappingStore persists user-defined keyword mappings.
type MappingStore interface {
	InsertMapping(ctx context.Context, m domain.CategoryMapping) error
	ListMappings(ctx context.Context) ([]domain.CategoryMapping, error)
}

// ModelInfo describes the currently loaded model.
type ModelInfo struct {
	Status         string     `json:"status"`
	Categories     []string   `json:"categories,omitempty"`
	VocabularySize int        `json:"vocab_size,omitempty"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
}

// ClassifyOptions controls one Classify call.
type ClassifyOptions struct {
	// UseML consults the trained model for rows no rule matched.
	UseML bool
	// Threshold is the minimum probability for an ML label, within [0,1].
	// Nil selects the service threshold; zero accepts every prediction.
	Threshold *float64
}

// Threshold returns v as a ClassifyOptions threshold.
func Threshold(v float64) *float64 {
	return &v
}

// Validate rejects a threshold outside [0,1].
func (o ClassifyOptions) Validate() error {
	if o.Threshold != nil && !validThreshold(*o.Threshold) {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, *o.Threshold)
	}
	return nil
}

// validThreshold is false for NaN.
func validThreshold(v float64) bool {
	return v >= 0 && v <= 1
}

// Service is the long-lived classifier context. It is safe for concurrent
// use; a retrained model replaces the current one in a single swap.
type Service struct {
	base      *Rules
	mappings  MappingStore
	artifacts ArtifactStore
	threshold float64

	mu          sync.RWMutex
	rules       *Rules
	userTerms   []domain.CategoryMapping
	model       *Model
	modelLoaded bool

	trainMu sync.Mutex
	now     func() time.Time
}

// NewService creates a Service. mappings and artifacts may be nil, which
// disables mapping persistence and the ML stage respectively. A threshold
// outside [0,1] selects DefaultConfidenceThreshold.
func NewService(base *Rules, mappings MappingStore, artifacts ArtifactStore, threshold float64) *Service {
	if base == nil {
		base = DefaultRules()
	}
	if !validThreshold(threshold) {
		threshold = DefaultConfidenceThreshold
	}
	return &Service{
		base:      base,
		mappings:  mappings,
		artifacts: artifacts,
		threshold: threshold,
		rules:     base,
		now:       time.Now,
	}
}

// LoadMappings rebuilds the rule snapshot from the mapping store.
func (s *Service) LoadMappings(ctx context.Context) error {
	if s.mappings == nil {
		return nil
	}
	ms, err := s.mappings.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("LoadMappings: %w", err)
	}
	s.mu.Lock()
	s.userTerms = ms
	s.rules = s.base.WithMappings(ms)
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Debug().Int("mappings", len(ms)).Msg("Loaded category mappings")
	return nil
}

// AddMapping validates and persists a mapping, then makes it visible to
// subsequent Classify calls.
func (s *Service) AddMapping(ctx context.Context, m domain.CategoryMapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("AddMapping: %w", err)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	if s.mappings != nil {
		if err := s.mappings.InsertMapping(ctx, m); err != nil {
			return fmt.Errorf("AddMapping: %w", err)
		}
	}

	s.mu.Lock()
	s.userTerms = append(s.userTerms, m)
	s.rules = s.base.WithMappings(s.userTerms)
	s.mu.Unlock()

	log := logger.FromContext(ctx)
	log.Info().
		Str("term", m.Term).
		Str("category", m.Category).
		Msg("Added category mapping")
	return nil
}

// Mappings returns the user mappings currently applied.
func (s *Service) Mappings() []domain.CategoryMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.CategoryMapping(nil), s.userTerms...)
}

// Rules returns the current rule snapshot.
func (s *Service) Rules() *Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Classify returns a categorized copy of txs. Rules run first; when
// opts.UseML is set, rows left Uncategorized go to the model and keep its
// label only at or above the threshold. A row that fails to classify stays
// Uncategorized.
func (s *Service) Classify(ctx context.Context, txs []domain.Transaction, opts ClassifyOptions) []domain.Transaction {
	log := logger.FromContext(ctx)

	threshold := s.threshold
	if err := opts.Validate(); err != nil {
		log.Warn().Err(err).Float64("threshold", threshold).Msg("Ignoring classification threshold")
	} else if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	rules := s.Rules()
	var model *Model
	if opts.UseML {
		m, err := s.loadedModel(ctx)
		switch {
		case errors.Is(err, ErrNotTrained):
			log.Debug().Msg("No trained model, using rules only")
		case err != nil:
			log.Warn().Err(err).Msg("Failed to load category model, using rules only")
		default:
			model = m
		}
	}

	out := make([]domain.Transaction, len(txs))
	copy(out, txs)
	for i := range out {
		if err := s.classifyOne(rules, model, threshold, &out[i]); err != nil {
			log.Warn().Err(err).Str("transaction_id", out[i].ID).Msg("Failed to classify transaction")
			out[i].Category = domain.Uncategorized
			out[i].Confidence = nil
		}
	}
	return out
}

func (s *Service) classifyOne(rules *Rules, model *Model, threshold float64, tx *domain.Transaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifyOne: panic: %v", r)
		}
	}()

	tx.Confidence = nil
	if category, ok := rules.Match(tx.Description); ok {
		tx.Category = category
		return nil
	}
	tx.Category = domain.Uncategorized
	if model == nil {
		return nil
	}

	p, err := model.Predict(tx.Description)
	if err != nil {
		return err
	}
	if p.Category != "" && p.Probability >= threshold {
		prob := p.Probability
		tx.Category = p.Category
		tx.Confidence = &prob
	}
	return nil
}

// Train fits a new model on labelled transactions, persists it and swaps it
// in. Only one training run may be active at a time.
func (s *Service) Train(ctx context.Context, txs []domain.Transaction, opts TrainOptions) (*Report, error) {
	if !s.trainMu.TryLock() {
		return nil, ErrTrainingInProgress
	}
	defer s.trainMu.Unlock()

	if opts.Now == nil {
		opts.Now = s.now
	}
	model, report, err := Train(ctx, txs, opts)
	if err != nil {
		return nil, fmt.Errorf("Service.Train: %w", err)
	}

	if s.artifacts != nil {
		bundle, err := model.Encode()
		if err != nil {
			return nil, fmt.Errorf("Service.Train: %w", err)
		}
		if err := s.artifacts.Save(ctx, bundle); err != nil {
			return nil, fmt.Errorf("Service.Train: saving artifacts: %w", err)
		}
	}

	s.mu.Lock()
	s.model = model
	s.modelLoaded = true
	s.mu.Unlock()
	return report, nil
}

// ReloadModel discards the in-memory model so the next ML use reads the
// artifact store again.
func (s *Service) ReloadModel(ctx context.Context) error {
	s.mu.Lock()
	s.model = nil
	s.modelLoaded = false
	s.mu.Unlock()

	_, err := s.loadedModel(ctx)
	if errors.Is(err, ErrNotTrained) {
		return nil
	}
	return err
}

// ModelInfo reports the state of the model, loading it if needed.
func (s *Service) ModelInfo(ctx context.Context) ModelInfo {
	m, err := s.loadedModel(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotTrained) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to load category model")
		}
		return ModelInfo{Status: StatusNotTrained}
	}
	trainedAt := m.TrainedAt()
	return ModelInfo{
		Status:         StatusTrained,
		Categories:     append([]string(nil), m.Labels.Classes...),
		VocabularySize: m.Vectorizer.Size(),
		LastModified:   &trainedAt,
	}
}

// loadedModel returns the current model, loading it from the artifact store
// on first use. A missing model is remembered until Train or ReloadModel.
func (s *Service) loadedModel(ctx context.Context) (*Model, error) {
	s.mu.RLock()
	model, loaded := s.model, s.modelLoaded
	s.mu.RUnlock()
	if loaded {
		if model == nil {
			return nil, ErrNotTrained
		}
		return model, nil
	}
	if s.artifacts == nil {
		return nil, ErrNotTrained
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modelLoaded {
		if s.model == nil {
			return nil, ErrNotTrained
		}
		return s.model, nil
	}

	bundle, err := s.artifacts.Load(ctx)
	if err == nil {
		model, err = DecodeModel(bundle)
	}
	if err != nil {
		if errors.Is(err, ErrNotTrained) {
			s.modelLoaded = true
		}
		return nil, fmt.Errorf("loadedModel: %w", err)
	}
	s.model = model
	s.modelLoaded = true
	log := logger.FromContext(ctx)
	log.Info().
		Str("version", model.Version()).
		Int("classes", model.Labels.Len()).
		Msg("Loaded category model")
	return model, nil
}
