package handlers

import (
	"net/http"

	"github.com/dvloznov/statement-analytics/internal/api/middleware"
	"github.com/rs/zerolog"
)

// Handlers groups the endpoint handlers served by NewRouter.
type Handlers struct {
	Statements *StatementsHandler
	Jobs       *JobsHandler
	Analytics  *AnalyticsHandler
	Categories *CategoriesHandler
}

// NewRouter registers every endpoint and wraps the mux in the middleware
// chain: recovery, request id, request logging, then CORS.
func NewRouter(h Handlers, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Statements endpoints
	mux.HandleFunc("POST /api/statements", h.Statements.UploadStatement)
	mux.HandleFunc("GET /api/statements", h.Statements.ListStatements)

	// Jobs endpoints
	mux.HandleFunc("GET /api/jobs", h.Jobs.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.Jobs.GetJob)

	// Ledger and analytics endpoints
	mux.HandleFunc("GET /api/transactions", h.Analytics.ListTransactions)
	mux.HandleFunc("POST /api/transactions/{id}/category", h.Analytics.UpdateCategory)
	mux.HandleFunc("GET /api/analytics/report", h.Analytics.GetReport)
	mux.HandleFunc("GET /api/analytics/summary", h.Analytics.GetSummary)

	// Categorization endpoints
	mux.HandleFunc("GET /api/categories", h.Categories.ListCategories)
	mux.HandleFunc("GET /api/mappings", h.Categories.ListMappings)
	mux.HandleFunc("POST /api/mappings", h.Categories.AddMapping)
	mux.HandleFunc("GET /api/model", h.Categories.GetModel)
	mux.HandleFunc("POST /api/model/train", h.Categories.TrainModel)
	mux.HandleFunc("POST /api/suggestions", h.Categories.Suggest)

	// Health check endpoint
	mux.HandleFunc("GET /health", Health)

	return middleware.Chain(mux,
		middleware.Recovery(log),
		middleware.RequestID,
		middleware.Logger(log),
		middleware.CORS,
	)
}
