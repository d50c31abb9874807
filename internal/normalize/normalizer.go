package normalize

import (
	"context"

	"github.com/dvloznov/statement-analytics/internal/tables"
)

// Normalizer chains column mapping, sanitizing and reconciliation.
type Normalizer struct {
	Synonyms   Synonyms
	Sanitizer  *Sanitizer
	Reconciler *Reconciler
}

// NewNormalizer builds a Normalizer from the default synonym table extended
// by extraSynonyms.
func NewNormalizer(opts Options, extraSynonyms map[string]string) *Normalizer {
	return &Normalizer{
		Synonyms:   DefaultSynonyms().With(extraSynonyms),
		Sanitizer:  NewSanitizer(opts),
		Reconciler: NewReconciler(opts.DecimalComma),
	}
}

// Normalize runs the three stages over one extracted table.
func (n *Normalizer) Normalize(ctx context.Context, t *tables.Table, statementKey string) Reconciled {
	frame := n.Synonyms.NormalizeColumns(ctx, t)
	entries := n.Sanitizer.Sanitize(ctx, frame, statementKey)
	return n.Reconciler.Reconcile(ctx, frame, entries)
}
