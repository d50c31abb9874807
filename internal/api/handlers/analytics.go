package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/dvloznov/statement-analytics/internal/analytics"
	"github.com/dvloznov/statement-analytics/internal/api/middleware"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/logger"
)

// AnalyticsHandler serves reports and the ledger behind them.
type AnalyticsHandler struct {
	ledger Ledger
	engine *analytics.Engine
	cache  *analytics.Cache
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(ledger Ledger, engine *analytics.Engine, cache *analytics.Cache) *AnalyticsHandler {
	return &AnalyticsHandler{ledger: ledger, engine: engine, cache: cache}
}

// compute builds the report for dr from the persisted ledger.
func (h *AnalyticsHandler) compute(ctx context.Context, dr analytics.DateRange) (*analytics.Report, error) {
	rows, err := h.ledger.QueryTransactions(ctx, dr.Start, dr.End)
	if err != nil {
		return nil, err
	}
	txs := infra.Transactions(rows)
	return h.engine.Report(txs, analytics.HasBalance(txs), dr), nil
}

func (h *AnalyticsHandler) report(w http.ResponseWriter, r *http.Request) (*analytics.Report, bool) {
	ctx := r.Context()

	dr, err := parseRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	rep, err := h.cache.Get(ctx, dr, h.compute)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("range", dr.Key()).Msg("Failed to compute report")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute report")
		return nil, false
	}
	return rep, true
}

// GetReport handles GET /api/analytics/report
func (h *AnalyticsHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.report(w, r); ok {
		middleware.WriteJSON(w, http.StatusOK, rep)
	}
}

// GetSummary handles GET /api/analytics/summary
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.report(w, r); ok {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"range":   rep.Range,
			"summary": rep.Summary,
		})
	}
}

// ListTransactions handles GET /api/transactions
func (h *AnalyticsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dr, err := parseRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.ledger.QueryTransactions(ctx, dr.Start, dr.End)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	txs := infra.Transactions(rows)
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := make([]domain.Transaction, 0, len(txs))
		for _, tx := range txs {
			if strings.EqualFold(tx.Category, category) {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	// Return array directly for frontend compatibility
	middleware.WriteJSON(w, http.StatusOK, txs)
}

// UpdateCategory handles POST /api/transactions/{id}/category
func (h *AnalyticsHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := r.PathValue("id")

	var req struct {
		Category string `json:"category"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		middleware.WriteError(w, http.StatusBadRequest, "category is required")
		return
	}

	if err := h.ledger.UpdateCategory(ctx, txID, req.Category); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("transaction_id", txID).Msg("Failed to update category")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to update category")
		return
	}
	h.cache.Invalidate()

	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"transaction_id": txID,
		"category":       req.Category,
	})
}
