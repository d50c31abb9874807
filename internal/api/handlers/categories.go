package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/statement-analytics/internal/api/middleware"
	"github.com/dvloznov/statement-analytics/internal/domain"
	infra "github.com/dvloznov/statement-analytics/internal/infra/bigquery"
	"github.com/dvloznov/statement-analytics/internal/jobs"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/suggest"
)

// CategoriesHandler handles mappings, the category model and suggestions.
type CategoriesHandler struct {
	categorizer Categorizer
	publisher   jobs.Publisher
	ledger      Ledger
	// suggester is nil when no language model is configured.
	suggester Suggester
}

// NewCategoriesHandler creates a new categories handler. suggester may be nil.
func NewCategoriesHandler(categorizer Categorizer, publisher jobs.Publisher, ledger Ledger, suggester Suggester) *CategoriesHandler {
	return &CategoriesHandler{
		categorizer: categorizer,
		publisher:   publisher,
		ledger:      ledger,
		suggester:   suggester,
	}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := h.categorizer.Rules().Categories()
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"count":      len(categories),
	})
}

// ListMappings handles GET /api/mappings
func (h *CategoriesHandler) ListMappings(w http.ResponseWriter, r *http.Request) {
	mappings := h.categorizer.Mappings()
	if mappings == nil {
		mappings = []domain.CategoryMapping{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"mappings": mappings,
		"count":    len(mappings),
	})
}

// AddMapping handles POST /api/mappings
func (h *CategoriesHandler) AddMapping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var m domain.CategoryMapping
	if err := decodeJSON(w, r, &m); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := m.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ct, _ := domain.ParseCategoryType(string(m.CategoryType))
	m.CategoryType = ct
	m.CreatedAt = time.Now().UTC()

	if err := h.categorizer.AddMapping(ctx, m); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("term", m.Term).Msg("Failed to add mapping")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to add mapping")
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, m)
}

// GetModel handles GET /api/model
func (h *CategoriesHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.categorizer.ModelInfo(r.Context()))
}

// TrainModel handles POST /api/model/train
func (h *CategoriesHandler) TrainModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	job := &jobs.Job{Type: jobs.JobTypeTrain}
	if err := h.publisher.Publish(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue train job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue train job")
		return
	}

	log.Info().Str("job_id", job.JobID).Msg("Train job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// Suggest handles POST /api/suggestions
// The body may list descriptions; otherwise the uncategorized descriptions
// of the ledger in the optional date range are used. Suggestions are only
// returned, never applied.
func (h *CategoriesHandler) Suggest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.suggester == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Suggestions are not configured")
		return
	}

	var req struct {
		Descriptions []string `json:"descriptions"`
	}
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	descriptions := req.Descriptions
	if len(descriptions) == 0 {
		dr, err := parseRange(r)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		rows, err := h.ledger.QueryTransactions(ctx, dr.Start, dr.End)
		if err != nil {
			log.Error().Err(err).Msg("Failed to query transactions")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
			return
		}
		descriptions = suggest.Uncategorized(infra.Transactions(rows))
		if limit := queryInt(r, "limit"); limit > 0 && len(descriptions) > limit {
			descriptions = descriptions[:limit]
		}
	}

	suggestions, err := h.suggester.Suggest(ctx, descriptions, h.categorizer.Rules().Categories())
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate suggestions")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to generate suggestions")
		return
	}
	if suggestions == nil {
		suggestions = []suggest.Suggestion{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"suggestions": suggestions,
		"count":       len(suggestions),
		"requested":   len(descriptions),
	})
}
