package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/dvloznov/statement-analytics/internal/api/middleware"
	"github.com/dvloznov/statement-analytics/internal/domain"
	"github.com/dvloznov/statement-analytics/internal/gcsuploader"
	"github.com/dvloznov/statement-analytics/internal/jobs"
	"github.com/dvloznov/statement-analytics/internal/logger"
	"github.com/dvloznov/statement-analytics/internal/statements"
)

// archivePrefix is the object prefix of archived uploads.
const archivePrefix = "statements"

// StatementsHandler handles statement upload and listing.
type StatementsHandler struct {
	store     StatementStore
	publisher jobs.Publisher
	// objects archives the raw upload when set.
	objects gcsuploader.ObjectStore
	now     func() time.Time
}

// NewStatementsHandler creates a new statements handler. objects may be nil.
func NewStatementsHandler(store StatementStore, publisher jobs.Publisher, objects gcsuploader.ObjectStore) *StatementsHandler {
	return &StatementsHandler{
		store:     store,
		publisher: publisher,
		objects:   objects,
		now:       time.Now,
	}
}

// statementSummary is the listing view of a stored statement.
type statementSummary struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename,omitempty"`
	Period     *domain.Period `json:"period,omitempty"`
	UploadedAt time.Time      `json:"uploaded_at"`
	Elements   int            `json:"elements"`
}

// UploadStatement handles POST /api/statements
// The body is the OCR document JSON. The statement is stored and an ingest
// job is queued; the response carries the job id to poll.
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Statement too large")
		return
	}

	var doc domain.StatementDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid statement document")
		return
	}
	if len(doc.Elements) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Statement has no elements")
		return
	}
	if name := r.URL.Query().Get("filename"); name != "" {
		doc.Filename = path.Base(name)
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = h.now().UTC()
	}

	id, err := h.store.InsertDocument(ctx, doc)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store statement")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store statement")
		return
	}
	log = log.With().Str("statement_id", id).Logger()

	if h.objects != nil {
		filename := doc.Filename
		if filename == "" {
			filename = "statement.json"
		}
		object := gcsuploader.ObjectName(archivePrefix, id, filename+".json", doc.UploadedAt)
		if err := h.objects.Upload(ctx, object, body, "application/json"); err != nil {
			log.Warn().Err(err).Str("object", object).Msg("Failed to archive statement upload")
		} else {
			log.Debug().Str("object", object).Msg("Archived statement upload")
		}
	}

	job := &jobs.Job{
		Type:        jobs.JobTypeIngest,
		StatementID: id,
		Filename:    doc.Filename,
		UseML:       r.URL.Query().Get("use_ml") == "true",
	}
	if err := h.publisher.Publish(ctx, job); err != nil {
		log.Error().Err(err).Msg("Failed to enqueue ingest job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue ingest job")
		return
	}

	log.Info().Str("job_id", job.JobID).Msg("Ingest job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"statement_id": id,
		"job_id":       job.JobID,
		"status":       string(job.Status),
	})
}

// ListStatements handles GET /api/statements
func (h *StatementsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	dr, err := parseRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := statements.Query{Start: dr.Start, End: dr.End, Limit: int64(queryInt(r, "limit"))}

	docs, err := h.store.FindDocuments(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}
	total, err := h.store.CountDocuments(ctx, statements.Query{Start: dr.Start, End: dr.End})
	if err != nil {
		log.Error().Err(err).Msg("Failed to count statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}

	out := make([]statementSummary, len(docs))
	for i, d := range docs {
		out[i] = statementSummary{
			ID:         d.ID,
			Filename:   d.Filename,
			Period:     d.Period,
			UploadedAt: d.UploadedAt,
			Elements:   len(d.Elements),
		}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"statements": out,
		"count":      len(out),
		"total":      total,
	})
}
