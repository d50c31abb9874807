package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const unknownDescription = domain.UnknownDescription

// DefaultSummaryMarkers identify printed totals that are not transactions.
var DefaultSummaryMarkers = []string{
	"Total Charges",
	"Closing balance",
	"Opening balance",
	"Balance brought forward",
}

// transactionNamespace seeds deterministic transaction ids.
var transactionNamespace = uuid.MustParse("6f1c1b7e-3f5a-4c53-9a39-2d0c8f8a4e21")

var (
	amountJunk  = regexp.MustCompile(`[^\d.,]`)
	balanceJunk = regexp.MustCompile(`[^\d.,-]`)
	debitSuffix = regexp.MustCompile(`(?i)\bdr\b`)
)

// dateLayouts are tried in order. Slash and dot dates are day-first.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"02-01-2006",
	"02.01.2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 Jan 06",
	"2 January 2006",
	"02 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2-Jan-06",
	"20060102",
}

// Options configures a Sanitizer.
type Options struct {
	// DecimalComma reads ',' as the decimal separator and '.' as thousands.
	DecimalComma bool
	// SummaryMarkers extend DefaultSummaryMarkers.
	SummaryMarkers []string
}

// Entry is a sanitized transaction together with its source row, which the
// balance reconciler needs to look up extra columns.
type Entry struct {
	Row         int
	Transaction domain.Transaction
}

// Sanitizer filters summary rows and coerces cell values.
type Sanitizer struct {
	markers      []string
	decimalComma bool
}

// NewSanitizer creates a Sanitizer from opts.
func NewSanitizer(opts Options) *Sanitizer {
	markers := make([]string, 0, len(DefaultSummaryMarkers)+len(opts.SummaryMarkers))
	for _, m := range append(append([]string{}, DefaultSummaryMarkers...), opts.SummaryMarkers...) {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Sanitizer{markers: markers, decimalComma: opts.DecimalComma}
}

// Sanitize turns every non-summary row of f into a typed transaction.
// Unparsable numbers become zero and unparsable dates become nil; no row is
// ever rejected for its values. statementKey seeds the transaction ids.
func (s *Sanitizer) Sanitize(ctx context.Context, f *Frame, statementKey string) []Entry {
	log := logger.FromContext(ctx)

	out := make([]Entry, 0, f.Len())
	var dropped, undated int
	for r := 0; r < f.Len(); r++ {
		desc := strings.TrimSpace(f.Value(r, ColDescription))
		if desc == "" {
			desc = unknownDescription
		}
		if s.IsSummaryRow(desc) {
			dropped++
			continue
		}

		tx := domain.Transaction{
			Date:        ParseDate(f.Value(r, ColDate)),
			Description: desc,
			Debits:      ParseAmount(f.Value(r, ColDebits), s.decimalComma),
			Credits:     ParseAmount(f.Value(r, ColCredits), s.decimalComma),
			Fees:        ParseAmount(f.Value(r, ColFees), s.decimalComma),
			Balance:     decimal.Zero,
			Category:    domain.Uncategorized,
		}
		if tx.Date == nil {
			undated++
		}
		tx.ID = transactionID(statementKey, r, tx)
		out = append(out, Entry{Row: r, Transaction: tx})
	}

	log.Debug().
		Int("rows", f.Len()).
		Int("kept", len(out)).
		Int("summary_rows", dropped).
		Int("undated", undated).
		Msg("Sanitized statement rows")

	return out
}

// IsSummaryRow reports whether desc contains a summary marker, ignoring case.
func (s *Sanitizer) IsSummaryRow(desc string) bool {
	lc := strings.ToLower(desc)
	for _, m := range s.markers {
		if strings.Contains(lc, m) {
			return true
		}
	}
	return false
}

// ParseAmount parses a money cell into a non-negative decimal. A cell may
// hold several whitespace-separated amounts, which are summed. Tokens that
// do not parse contribute zero.
func ParseAmount(cell string, decimalComma bool) decimal.Decimal {
	total := decimal.Zero
	for _, tok := range strings.Fields(cell) {
		cleaned := amountJunk.ReplaceAllString(tok, "")
		if d, ok := parseNumber(cleaned, decimalComma); ok {
			total = total.Add(d)
		}
	}
	return total.Abs()
}

// ParseBalance parses a running balance, keeping its sign so overdrafts
// stay negative. Unparsable cells yield zero.
func ParseBalance(cell string, decimalComma bool) decimal.Decimal {
	cleaned := balanceJunk.ReplaceAllString(cell, "")
	negative := strings.HasPrefix(cleaned, "-") || strings.HasSuffix(cleaned, "-") ||
		debitSuffix.MatchString(cell)
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	d, ok := parseNumber(cleaned, decimalComma)
	if !ok {
		return decimal.Zero
	}
	if negative {
		return d.Neg()
	}
	return d
}

// parseNumber resolves separators in a string made of digits, '.' and ','.
// In the default mode ',' is a thousands separator and, when several '.'
// remain, only the last one is kept as the decimal point.
func parseNumber(s string, decimalComma bool) (decimal.Decimal, bool) {
	if decimalComma {
		s = strings.ReplaceAll(s, ".", "")
		if i := strings.LastIndex(s, ","); i >= 0 {
			s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
		}
	} else {
		s = strings.ReplaceAll(s, ",", "")
		if strings.Count(s, ".") > 1 {
			i := strings.LastIndex(s, ".")
			s = strings.ReplaceAll(s[:i], ".", "") + s[i:]
		}
	}
	if s == "" || s == "." {
		return decimal.Zero, false
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	s = strings.TrimSuffix(s, ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseDate parses a statement date. It returns nil instead of failing.
func ParseDate(cell string) *time.Time {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func transactionID(statementKey string, row int, tx domain.Transaction) string {
	key := fmt.Sprintf("%s|%d|%s|%s|%s|%s",
		statementKey, row, tx.DayKey(), tx.Description, tx.Debits.String(), tx.Credits.String())
	return uuid.NewSHA1(transactionNamespace, []byte(key)).String()
}
