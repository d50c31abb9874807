package categorize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Vocabulary limits of a fitted Vectorizer.
const (
	DefaultMaxFeatures = 2000
	DefaultMinDF       = 2
	DefaultMaxDF       = 0.95
	DefaultNGramMax    = 2
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Vectorizer turns preprocessed text into the n-gram terms of a fitted
// vocabulary. Its exported state is the serialized vectorizer artifact.
type Vectorizer struct {
	Version     string    `json:"version"`
	TrainedAt   time.Time `json:"trained_at"`
	MaxFeatures int       `json:"max_features"`
	MinDF       int       `json:"min_df"`
	MaxDF       float64   `json:"max_df"`
	NGramMax    int       `json:"ngram_max"`
	// Vocabulary maps each kept term to its feature index.
	Vocabulary map[string]int `json:"vocabulary"`
}

// NewVectorizer returns an unfitted vectorizer with default parameters.
func NewVectorizer() *Vectorizer {
	return &Vectorizer{
		MaxFeatures: DefaultMaxFeatures,
		MinDF:       DefaultMinDF,
		MaxDF:       DefaultMaxDF,
		NGramMax:    DefaultNGramMax,
	}
}

// Fit builds the vocabulary from docs. Terms found in fewer than MinDF
// documents or in more than MaxDF of them are dropped; of the rest, the
// MaxFeatures with the highest document frequency are kept, ties broken
// alphabetically.
func (v *Vectorizer) Fit(docs []string) error {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range v.analyze(doc) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	maxDocs := v.MaxDF * float64(len(docs))
	type candidate struct {
		term string
		df   int
	}
	var kept []candidate
	for term, n := range df {
		if n < v.MinDF || float64(n) > maxDocs {
			continue
		}
		kept = append(kept, candidate{term, n})
	}
	sort.Slice(kept, func(i, j int) bool {
		if kept[i].df != kept[j].df {
			return kept[i].df > kept[j].df
		}
		return kept[i].term < kept[j].term
	})
	if v.MaxFeatures > 0 && len(kept) > v.MaxFeatures {
		kept = kept[:v.MaxFeatures]
	}
	if len(kept) == 0 {
		return ErrEmptyVocabulary
	}

	terms := make([]string, len(kept))
	for i, c := range kept {
		terms[i] = c.term
	}
	sort.Strings(terms)
	v.Vocabulary = make(map[string]int, len(terms))
	for i, t := range terms {
		v.Vocabulary[t] = i
	}
	return nil
}

// Terms returns the in-vocabulary n-grams of doc, repeats included.
func (v *Vectorizer) Terms(doc string) []string {
	var out []string
	for _, term := range v.analyze(doc) {
		if _, ok := v.Vocabulary[term]; ok {
			out = append(out, term)
		}
	}
	return out
}

// Size returns the vocabulary size.
func (v *Vectorizer) Size() int {
	return len(v.Vocabulary)
}

func (v *Vectorizer) analyze(doc string) []string {
	tokens := tokenPattern.FindAllString(doc, -1)
	n := v.NGramMax
	if n < 1 {
		n = 1
	}
	terms := make([]string, 0, len(tokens)*n)
	for size := 1; size <= n; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+size], " "))
		}
	}
	return terms
}

func (v *Vectorizer) marshal() ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalVectorizer(data []byte) (*Vectorizer, error) {
	var v Vectorizer
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("unmarshalVectorizer: %w", err)
	}
	if len(v.Vocabulary) == 0 {
		return nil, fmt.Errorf("unmarshalVectorizer: %w", ErrEmptyVocabulary)
	}
	return &v, nil
}
