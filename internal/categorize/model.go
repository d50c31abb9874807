package categorize

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/jbrukh/bayesian"
)

// Prediction is the most likely category of a description and its
// probability.
type Prediction struct {
	Category    string
	Probability float64
}

// Model is a fitted vectorizer, label encoder and naive Bayes classifier.
// A Model is immutable once built and safe for concurrent use.
type Model struct {
	Vectorizer *Vectorizer
	Labels     *LabelEncoder
	classifier *bayesian.Classifier
}

// Version identifies the training run that produced the model.
func (m *Model) Version() string {
	return m.Vectorizer.Version
}

// TrainedAt returns when the model was fitted.
func (m *Model) TrainedAt() time.Time {
	return m.Vectorizer.TrainedAt
}

// Predict returns the arg-max category for a raw description. A description
// with no in-vocabulary terms yields a zero-probability prediction.
func (m *Model) Predict(description string) (p Prediction, err error) {
	terms := m.Vectorizer.Terms(Preprocess(description))
	if len(terms) == 0 {
		return Prediction{Category: "", Probability: 0}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Predict: classifier panic: %v", r)
		}
	}()
	scores, _, _ := m.classifier.LogScores(terms)
	probs := softmax(scores)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	label, err := m.Labels.Label(best)
	if err != nil {
		return Prediction{}, fmt.Errorf("Predict: %w", err)
	}
	return Prediction{Category: label, Probability: probs[best]}, nil
}

func softmax(logScores []float64) []float64 {
	out := make([]float64, len(logScores))
	if len(logScores) == 0 {
		return out
	}
	max := math.Inf(-1)
	for _, s := range logScores {
		if s > max {
			max = s
		}
	}
	var sum float64
	for i, s := range logScores {
		out[i] = math.Exp(s - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func newClassifier(labels *LabelEncoder) (c *bayesian.Classifier, err error) {
	if labels.Len() < 2 {
		return nil, fmt.Errorf("newClassifier: need at least 2 classes, got %d", labels.Len())
	}
	classes := make([]bayesian.Class, labels.Len())
	for i, l := range labels.Classes {
		classes[i] = bayesian.Class(l)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("newClassifier: %v", r)
		}
	}()
	return bayesian.NewClassifierTfIdf(classes...), nil
}

// Encode serializes the model into its three artifacts.
func (m *Model) Encode() (*Bundle, error) {
	vec, err := m.Vectorizer.marshal()
	if err != nil {
		return nil, fmt.Errorf("Encode: vectorizer: %w", err)
	}
	labels, err := m.Labels.marshal()
	if err != nil {
		return nil, fmt.Errorf("Encode: labels: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(m.Version())
	buf.WriteByte('\n')
	if err := m.classifier.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("Encode: weights: %w", err)
	}
	return &Bundle{Vectorizer: vec, Labels: labels, Weights: buf.Bytes()}, nil
}

// DecodeModel rebuilds a model from its artifacts. Artifacts from different
// training runs are rejected with ErrNotTrained.
func DecodeModel(b *Bundle) (*Model, error) {
	if b == nil || len(b.Vectorizer) == 0 || len(b.Labels) == 0 || len(b.Weights) == 0 {
		return nil, ErrNotTrained
	}
	vec, err := unmarshalVectorizer(b.Vectorizer)
	if err != nil {
		return nil, fmt.Errorf("DecodeModel: %w", err)
	}
	labels, err := unmarshalLabels(b.Labels)
	if err != nil {
		return nil, fmt.Errorf("DecodeModel: %w", err)
	}

	r := bufio.NewReader(bytes.NewReader(b.Weights))
	version, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("DecodeModel: reading weights header: %w", err)
	}
	version = strings.TrimSuffix(version, "\n")
	if version != vec.Version || labels.Version != vec.Version {
		return nil, fmt.Errorf("DecodeModel: artifact versions differ (vectorizer %q, labels %q, weights %q): %w",
			vec.Version, labels.Version, version, ErrNotTrained)
	}

	cl, err := readClassifier(r)
	if err != nil {
		return nil, fmt.Errorf("DecodeModel: %w", err)
	}
	if len(cl.Classes) != labels.Len() {
		return nil, fmt.Errorf("DecodeModel: classifier has %d classes, labels have %d", len(cl.Classes), labels.Len())
	}
	for i, c := range cl.Classes {
		if string(c) != labels.Classes[i] {
			return nil, fmt.Errorf("DecodeModel: class %d is %q, labels say %q", i, c, labels.Classes[i])
		}
	}
	return &Model{Vectorizer: vec, Labels: labels, classifier: cl}, nil
}

func readClassifier(r io.Reader) (c *bayesian.Classifier, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("readClassifier: %v", p)
		}
	}()
	c, err = bayesian.NewClassifierFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("readClassifier: %w", err)
	}
	return c, nil
}

func classOf(label string) bayesian.Class {
	return bayesian.Class(label)
}
