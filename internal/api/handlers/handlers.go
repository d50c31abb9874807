// Package handlers implements the HTTP endpoints of the statement analytics API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/api/middleware"
	"github.com/dvloznov/statement-analytics/internal/categorize"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/statements"
	"github.com/dvloznov/statement-analytics/internal/suggest"
)

// maxUploadBytes caps the size of an uploaded statement document.
const maxUploadBytes = 32 << 20

// StatementStore stores raw statement documents.
type StatementStore interface {
	InsertDocument(ctx context.Context, doc domain.StatementDocument) (string, error)
	FindDocuments(ctx context.Context, q statements.Query) ([]domain.StatementDocument, error)
	CountDocuments(ctx context.Context, q statements.Query) (int64, error)
}

// Ledger reads and relabels persisted transactions.
type Ledger interface {
	QueryTransactions(ctx context.Context, start, end *time.Time) ([]*infra.TransactionRow, error)
	UpdateCategory(ctx context.Context, transactionID, category string) error
}

// Categorizer exposes the classifier's mappings and model state.
type Categorizer interface {
	AddMapping(ctx context.Context, m domain.CategoryMapping) error
	Mappings() []domain.CategoryMapping
	Rules() *categorize.Rules
	ModelInfo(ctx context.Context) categorize.ModelInfo
}

// Suggester proposes mappings for uncategorized descriptions.
type Suggester interface {
	Suggest(ctx context.Context, descriptions []string, categories []string) ([]suggest.Suggestion, error)
}

var (
	_ StatementStore = (*statements.Store)(nil)
	_ Ledger         = (infra.LedgerRepository)(nil)
	_ Categorizer    = (*categorize.Service)(nil)
	_ Suggester      = (*suggest.Suggester)(nil)
)

// parseRange reads the start_date and end_date query parameters.
func parseRange(r *http.Request) (analytics.DateRange, error) {
	q := r.URL.Query()
	return analytics.ParseDateRange(q.Get("start_date"), q.Get("end_date"))
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(v)
}

// queryInt reads a non-negative integer query parameter, ignoring bad values.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
