package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds how many fragments are parsed at once.
const DefaultConcurrency = 8

var errNoKnownColumns = errors.New("no transaction columns")

// Extractor parses table fragments and keeps those that look like
// transaction tables.
type Extractor struct {
	vocab       Vocabulary
	concurrency int
}

// NewExtractor creates an Extractor that filters fragments with vocab.
func NewExtractor(vocab Vocabulary) *Extractor {
	return &Extractor{vocab: vocab, concurrency: DefaultConcurrency}
}

// WithConcurrency overrides the parse fan-out. Values below 1 mean 1.
func (e *Extractor) WithConcurrency(n int) *Extractor {
	if n < 1 {
		n = 1
	}
	e.concurrency = n
	return e
}

// Extract parses every "table" element and concatenates the fragments that
// carry at least one known column. Malformed fragments are skipped and
// reported as warnings. The only errors are context cancellation and
// ErrNoTables when nothing usable remains.
func (e *Extractor) Extract(ctx context.Context, elements []domain.Element) (*Table, []Warning, error) {
	log := logger.FromContext(ctx)

	type job struct {
		index int
		page  int
		html  string
	}
	var jobs []job
	for i, el := range elements {
		if el.Category != domain.ElementCategoryTable || strings.TrimSpace(el.Content.HTML) == "" {
			continue
		}
		jobs = append(jobs, job{index: i, page: el.PageNumber, html: el.Content.HTML})
	}

	parsed := make([]*Table, len(jobs))
	failures := make([]error, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := safeParse(j.html)
			if err == nil && !e.hasKnownColumn(t) {
				err = fmt.Errorf("%w in %v", errNoKnownColumns, t.Columns)
			}
			if err != nil {
				failures[i] = err
				return nil
			}
			parsed[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("Extract: %w", err)
	}

	var warnings []Warning
	var kept []*Table
	for i, j := range jobs {
		if failures[i] != nil {
			w := Warning{Index: j.index, Page: j.page, Err: failures[i]}
			warnings = append(warnings, w)
			log.Warn().
				Err(failures[i]).
				Int("fragment", j.index).
				Int("page", j.page).
				Msg("Skipping table fragment")
			continue
		}
		kept = append(kept, parsed[i])
	}

	if len(kept) == 0 {
		return nil, warnings, ErrNoTables
	}

	merged := concat(kept)
	log.Debug().
		Int("fragments", len(jobs)).
		Int("kept", len(kept)).
		Int("rows", len(merged.Rows)).
		Strs("columns", merged.Columns).
		Msg("Extracted statement tables")

	return merged, warnings, nil
}

func (e *Extractor) hasKnownColumn(t *Table) bool {
	if e.vocab == nil {
		return true
	}
	for _, c := range t.Columns {
		if e.vocab.Known(c) {
			return true
		}
	}
	return false
}

// safeParse converts a parser panic into an error so one bad fragment never
// takes the batch down.
func safeParse(fragment string) (t *Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			t, err = nil, fmt.Errorf("parser panic: %v", r)
		}
	}()
	return parseFragment(fragment)
}

// concat stacks tables under the union of their columns in first-seen order.
func concat(parts []*Table) *Table {
	if len(parts) == 1 {
		return parts[0]
	}
	out := &Table{}
	pos := map[string]int{}
	for _, p := range parts {
		for _, c := range p.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, p := range parts {
		for _, r := range p.Rows {
			row := make([]string, len(out.Columns))
			for i, c := range p.Columns {
				row[pos[c]] = r[i]
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}
