// Package normalize maps raw statement tables onto the canonical ledger
// schema, cleans their values and orders the result.
package normalize

import (
	"context"
	"strings"

	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/tables"
)

// Canonical column names.
const (
	ColDate        = "date"
	ColDescription = "description"
	ColDebits      = "debits"
	ColCredits     = "credits"
	ColBalance     = "balance"
	ColFees        = "fees"
)

// CanonicalColumns lists the canonical schema in output order.
var CanonicalColumns = []string{ColDate, ColDescription, ColDebits, ColCredits, ColBalance, ColFees}

// Synonyms maps an observed header, matched exactly, onto a canonical column.
type Synonyms map[string]string

// DefaultSynonyms returns the built-in header table.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		"Date":             ColDate,
		"Transaction Date": ColDate,
		"Trans Date":       ColDate,
		"Description":      ColDescription,
		"Details":          ColDescription,
		"Trans Details":    ColDescription,
		"Debit":            ColDebits,
		"Debits":           ColDebits,
		"Credit":           ColCredits,
		"Credits":          ColCredits,
		"Balance":          ColBalance,
		"Running Balance":  ColBalance,
		"Saldo":            ColBalance,
		"Fee":              ColFees,
		"Fees":             ColFees,
	}
}

// With returns a copy of s extended by extra. Entries whose target is not a
// canonical column are ignored.
func (s Synonyms) With(extra map[string]string) Synonyms {
	out := make(Synonyms, len(s)+len(extra))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range extra {
		if isCanonical(v) {
			out[k] = v
		}
	}
	return out
}

// Known reports whether a header belongs to the transaction vocabulary. It
// is used by the table extractor to discard unrelated tables.
func (s Synonyms) Known(column string) bool {
	if _, ok := s[column]; ok {
		return true
	}
	return isCanonical(column) || looksLikeBalance(column)
}

func isCanonical(name string) bool {
	for _, c := range CanonicalColumns {
		if c == name {
			return true
		}
	}
	return false
}

func looksLikeBalance(column string) bool {
	lc := strings.ToLower(column)
	return strings.Contains(lc, "balance") || strings.Contains(lc, "saldo")
}

var _ tables.Vocabulary = Synonyms(nil)

// Frame is a raw table viewed through the canonical schema. Canonical columns
// missing from the source are synthesized with defaults.
type Frame struct {
	Source  *tables.Table
	mapping map[string]int
}

// NormalizeColumns maps the source headers onto canonical columns. When two
// source columns map to the same canonical column the first one wins.
func (s Synonyms) NormalizeColumns(ctx context.Context, t *tables.Table) *Frame {
	log := logger.FromContext(ctx)
	f := &Frame{Source: t, mapping: map[string]int{}}
	for i, col := range t.Columns {
		canon, ok := s[col]
		if !ok && isCanonical(col) {
			canon, ok = col, true
		}
		if !ok {
			continue
		}
		if prev, dup := f.mapping[canon]; dup {
			log.Debug().
				Str("canonical", canon).
				Str("kept", t.Columns[prev]).
				Str("ignored", col).
				Msg("Duplicate column mapping")
			continue
		}
		f.mapping[canon] = i
	}

	for _, c := range CanonicalColumns {
		if _, ok := f.mapping[c]; !ok {
			log.Debug().Str("column", c).Msg("Synthesizing missing column")
		}
	}
	return f
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Source.Rows)
}

// Has reports whether the canonical column came from the source table.
func (f *Frame) Has(canonical string) bool {
	_, ok := f.mapping[canonical]
	return ok
}

// SourceColumn returns the source header behind a canonical column.
func (f *Frame) SourceColumn(canonical string) (string, bool) {
	i, ok := f.mapping[canonical]
	if !ok {
		return "", false
	}
	return f.Source.Columns[i], true
}

// Value returns the raw cell for a canonical column. Synthesized columns
// yield UnknownDescription for description and "" otherwise.
func (f *Frame) Value(row int, canonical string) string {
	i, ok := f.mapping[canonical]
	if !ok {
		if canonical == ColDescription {
			return unknownDescription
		}
		return ""
	}
	return f.Source.Rows[row][i]
}

// Unmapped returns the source columns that no canonical column claimed.
func (f *Frame) Unmapped() []string {
	claimed := map[int]bool{}
	for _, i := range f.mapping {
		claimed[i] = true
	}
	var out []string
	for i, c := range f.Source.Columns {
		if !claimed[i] {
			out = append(out, c)
		}
	}
	return out
}
