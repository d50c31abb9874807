// Package suggest asks a language model to propose category mappings for
// descriptions the rules could not label. Proposals are never applied
// automatically; a user accepts them through AddMapping.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
)

// MaxBatch caps how many descriptions go into one prompt.
const MaxBatch = 50

// Generator returns the model's text answer to prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Suggestion is a proposed mapping for one description.
type Suggestion struct {
	Description  string              `json:"description"`
	Term         string              `json:"term"`
	Category     string              `json:"category"`
	CategoryType domain.CategoryType `json:"category_type"`
	// Existing is true when Category is already a known category.
	Existing bool `json:"existing"`
}

// Mapping converts the suggestion into a mapping ready for AddMapping.
func (s Suggestion) Mapping() domain.CategoryMapping {
	return domain.CategoryMapping{Term: s.Term, Category: s.Category, CategoryType: s.CategoryType}
}

// Suggester builds prompts and validates model answers.
type Suggester struct {
	gen Generator
}

// NewSuggester creates a Suggester backed by gen.
func NewSuggester(gen Generator) *Suggester {
	return &Suggester{gen: gen}
}

type answer struct {
	Description  string `json:"description"`
	Term         string `json:"term"`
	Category     string `json:"category"`
	CategoryType string `json:"category_type"`
}

// Suggest proposes a mapping for each distinct description, in batches of
// MaxBatch. Answers naming an unknown category type, or a description that
// was not asked about, are dropped.
func (s *Suggester) Suggest(ctx context.Context, descriptions []string, categories []string) ([]Suggestion, error) {
	log := logger.FromContext(ctx)

	asked := uniqueDescriptions(descriptions)
	known := make(map[string]string, len(categories))
	for _, c := range categories {
		known[strings.ToLower(c)] = c
	}

	var out []Suggestion
	for start := 0; start < len(asked); start += MaxBatch {
		end := min(start+MaxBatch, len(asked))
		batch := asked[start:end]

		raw, err := s.gen.Generate(ctx, buildPrompt(batch, categories))
		if err != nil {
			return nil, fmt.Errorf("Suggest: generate: %w", err)
		}

		var answers []answer
		if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &answers); err != nil {
			return nil, fmt.Errorf("Suggest: unmarshal JSON: %w", err)
		}

		inBatch := make(map[string]string, len(batch))
		for _, d := range batch {
			inBatch[strings.ToLower(d)] = d
		}
		for _, a := range answers {
			desc, ok := inBatch[strings.ToLower(strings.TrimSpace(a.Description))]
			if !ok {
				log.Debug().Str("description", a.Description).Msg("Dropping suggestion for unknown description")
				continue
			}
			ct, err := domain.ParseCategoryType(a.CategoryType)
			if err != nil {
				log.Debug().Err(err).Str("description", desc).Msg("Dropping suggestion")
				continue
			}
			category := strings.TrimSpace(a.Category)
			if category == "" || strings.EqualFold(category, domain.Uncategorized) {
				continue
			}
			existing := false
			if c, ok := known[strings.ToLower(category)]; ok {
				category, existing = c, true
			}
			out = append(out, Suggestion{
				Description:  desc,
				Term:         chooseTerm(desc, a.Term),
				Category:     category,
				CategoryType: ct,
				Existing:     existing,
			})
			delete(inBatch, strings.ToLower(desc))
		}
	}

	log.Info().Int("asked", len(asked)).Int("suggested", len(out)).Msg("Mapping suggestions ready")
	return out, nil
}

// Uncategorized returns the distinct descriptions of txs left Uncategorized,
// most frequent first.
func Uncategorized(txs []domain.Transaction) []string {
	counts := map[string]int{}
	var order []string
	for _, tx := range txs {
		if tx.Category != domain.Uncategorized && tx.Category != "" {
			continue
		}
		if counts[tx.Description] == 0 {
			order = append(order, tx.Description)
		}
		counts[tx.Description]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order
}

// chooseTerm keeps the model's term when it occurs in the description and
// otherwise falls back to the cleaned description.
func chooseTerm(desc, term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term != "" && strings.Contains(strings.ToLower(desc), term) {
		return term
	}
	if cleaned := categorize.Preprocess(desc); cleaned != "" {
		return cleaned
	}
	return strings.ToLower(strings.TrimSpace(desc))
}

func uniqueDescriptions(descriptions []string) []string {
	seen := make(map[string]bool, len(descriptions))
	var out []string
	for _, d := range descriptions {
		d = strings.TrimSpace(d)
		key := strings.ToLower(d)
		if d == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, d)
	}
	return out
}

func buildPrompt(descriptions []string, categories []string) string {
	types := make([]string, len(domain.CategoryTypes))
	for i, ct := range domain.CategoryTypes {
		types[i] = string(ct)
	}

	var b strings.Builder
	b.WriteString("You categorize bank statement transaction descriptions.\n\n")
	b.WriteString("Known categories (prefer these):\n")
	for _, c := range categories {
		b.WriteString("- " + c + "\n")
	}
	b.WriteString("\nCategory types (category_type must be exactly one of these):\n")
	for _, t := range types {
		b.WriteString("- " + t + "\n")
	}
	b.WriteString("\nDescriptions:\n")
	for _, d := range descriptions {
		b.WriteString("- " + d + "\n")
	}
	b.WriteString("\nRules:\n" +
		"- Output a JSON array with one object per description.\n" +
		"- Each object has \"description\" (copied verbatim), \"term\" (a short lower-case keyword " +
		"taken from the description that identifies the merchant), \"category\" and \"category_type\".\n" +
		"- Use \"Uncategorized\" as category when unsure.\n\n" +
		"Return ONLY valid raw JSON.\n" +
		"Do NOT wrap the response in code fences.\n" +
		"Output must begin with \"[\" and end with \"]\".\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and text around the JSON array.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
