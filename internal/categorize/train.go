package categorize

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/google/uuid"
)

// Training defaults, used where TrainOptions leaves a field zero.
const (
	DefaultMinSamples      = 10
	DefaultValidationSplit = 0.2
	DefaultSeed            = 42
)

// TrainOptions configures a training run. Zero values select the defaults.
type TrainOptions struct {
	MinSamples      int
	ValidationSplit float64
	Seed            int64
	Now             func() time.Time
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.MinSamples <= 0 {
		o.MinSamples = DefaultMinSamples
	}
	if o.ValidationSplit <= 0 || o.ValidationSplit >= 1 {
		o.ValidationSplit = DefaultValidationSplit
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ClassReport holds validation metrics for one category.
type ClassReport struct {
	Category  string  `json:"category"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarizes a training run.
type Report struct {
	Version        string        `json:"version"`
	TrainedAt      time.Time     `json:"trained_at"`
	Samples        int           `json:"samples"`
	TrainSize      int           `json:"train_size"`
	ValidationSize int           `json:"validation_size"`
	VocabularySize int           `json:"vocabulary_size"`
	Accuracy       float64       `json:"accuracy"`
	Classes        []ClassReport `json:"classes"`
}

type sample struct {
	text  string
	label string
}

// Train fits a model on every transaction whose category is set and not
// Uncategorized. It needs at least MinSamples such rows spanning two or more
// categories.
func Train(ctx context.Context, txs []domain.Transaction, opts TrainOptions) (*Model, *Report, error) {
	log := logger.FromContext(ctx)
	opts = opts.withDefaults()

	var samples []sample
	for _, tx := range txs {
		if tx.Category == "" || tx.Category == domain.Uncategorized {
			continue
		}
		samples = append(samples, sample{text: Preprocess(tx.Description), label: tx.Category})
	}

	labelNames := make([]string, len(samples))
	for i, s := range samples {
		labelNames[i] = s.label
	}
	labels := NewLabelEncoder(labelNames)
	if len(samples) < opts.MinSamples || labels.Len() < 2 {
		return nil, nil, &InsufficientDataError{Samples: len(samples), MinSamples: opts.MinSamples, Classes: labels.Len()}
	}

	train, validation := stratifiedSplit(samples, opts.ValidationSplit, opts.Seed)
	log.Info().
		Int("samples", len(samples)).
		Int("train", len(train)).
		Int("validation", len(validation)).
		Int("classes", labels.Len()).
		Msg("Training category model")

	vec := NewVectorizer()
	docs := make([]string, len(train))
	for i, s := range train {
		docs[i] = s.text
	}
	if err := vec.Fit(docs); err != nil {
		return nil, nil, fmt.Errorf("Train: fitting vectorizer: %w", err)
	}

	cl, err := newClassifier(labels)
	if err != nil {
		return nil, nil, fmt.Errorf("Train: %w", err)
	}
	for _, s := range train {
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("Train: %w", err)
		}
		terms := vec.Terms(s.text)
		if len(terms) == 0 {
			continue
		}
		cl.Learn(terms, classOf(s.label))
	}
	cl.ConvertTermsFreqToTfIdf()

	version := uuid.NewString()
	trainedAt := opts.Now().UTC()
	vec.Version = version
	vec.TrainedAt = trainedAt
	labels.Version = version
	model := &Model{Vectorizer: vec, Labels: labels, classifier: cl}

	report, err := evaluate(ctx, model, validation)
	if err != nil {
		return nil, nil, fmt.Errorf("Train: %w", err)
	}
	report.Version = version
	report.TrainedAt = trainedAt
	report.Samples = len(samples)
	report.TrainSize = len(train)
	report.VocabularySize = vec.Size()

	log.Info().
		Str("version", version).
		Float64("accuracy", report.Accuracy).
		Int("vocabulary", vec.Size()).
		Msg("Category model trained")
	return model, report, nil
}

// stratifiedSplit holds out about frac of every category. A category always
// keeps at least one training sample.
func stratifiedSplit(samples []sample, frac float64, seed int64) (train, validation []sample) {
	rng := rand.New(rand.NewSource(seed))

	byLabel := make(map[string][]sample)
	var order []string
	for _, s := range samples {
		if _, ok := byLabel[s.label]; !ok {
			order = append(order, s.label)
		}
		byLabel[s.label] = append(byLabel[s.label], s)
	}
	sort.Strings(order)

	for _, label := range order {
		group := byLabel[label]
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		n := int(math.Round(float64(len(group)) * frac))
		if n >= len(group) {
			n = len(group) - 1
		}
		validation = append(validation, group[:n]...)
		train = append(train, group[n:]...)
	}
	return train, validation
}

func evaluate(ctx context.Context, m *Model, validation []sample) (*Report, error) {
	report := &Report{ValidationSize: len(validation)}
	if len(validation) == 0 {
		return report, nil
	}

	type counts struct{ tp, fp, fn, support int }
	perClass := make(map[string]*counts, m.Labels.Len())
	for _, c := range m.Labels.Classes {
		perClass[c] = &counts{}
	}

	correct := 0
	for _, s := range validation {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := m.Predict(s.text)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
		perClass[s.label].support++
		if p.Category == s.label {
			correct++
			perClass[s.label].tp++
			continue
		}
		perClass[s.label].fn++
		if c, ok := perClass[p.Category]; ok {
			c.fp++
		}
	}

	report.Accuracy = float64(correct) / float64(len(validation))
	for _, class := range m.Labels.Classes {
		c := perClass[class]
		cr := ClassReport{Category: class, Support: c.support}
		if c.tp+c.fp > 0 {
			cr.Precision = float64(c.tp) / float64(c.tp+c.fp)
		}
		if c.tp+c.fn > 0 {
			cr.Recall = float64(c.tp) / float64(c.tp+c.fn)
		}
		if cr.Precision+cr.Recall > 0 {
			cr.F1 = 2 * cr.Precision * cr.Recall / (cr.Precision + cr.Recall)
		}
		report.Classes = append(report.Classes, cr)
	}
	return report, nil
}
