package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/ingest"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/stats"
	"github.com/fraudguard-io/fraudguard/internal/workflow"
)

// BatchNameHeader carries the batch name on CSV imports.
const BatchNameHeader = "X-Batch-Name"

// Handler holds dependencies for API handlers.
type Handler struct {
	workflow    *workflow.Service
	stats       *stats.Service
	engine      *scoring.Engine
	repo        domain.Repository
	cache       domain.Cache
	version     string
	asyncStages bool
}

// NewHandler creates a new API handler.
func NewHandler(wf *workflow.Service, statsSvc *stats.Service, engine *scoring.Engine, repo domain.Repository, cache domain.Cache, version string, asyncStages bool) *Handler {
	return &Handler{
		workflow:    wf,
		stats:       statsSvc,
		engine:      engine,
		repo:        repo,
		cache:       cache,
		version:     version,
		asyncStages: asyncStages,
	}
}

// CreateBatch handles POST /batches.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	batch, err := h.workflow.CreateBatch(r.Context(), req.Name, req.Records)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, batch)
}

// ImportBatch handles POST /batches/import with a CSV body.
func (h *Handler) ImportBatch(w http.ResponseWriter, r *http.Request) {
	records, err := ingest.ParseCSV(r.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}

	batch, err := h.workflow.CreateBatch(r.Context(), r.Header.Get(BatchNameHeader), records)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, batch)
}

// ListBatches handles GET /batches.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.workflow.ListBatches(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetBatch handles GET /batches/{id}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := h.workflow.GetBatch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// RunStep handles POST /batches/{id}/steps/{step}.
func (h *Handler) RunStep(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	step, err := strconv.Atoi(chi.URLParam(r, "step"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "step must be a number",
		})
		return
	}

	if h.asyncStages {
		if err := h.workflow.RequestStage(r.Context(), batchID, step); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
		})
		return
	}

	batch, err := h.workflow.RunStage(r.Context(), batchID, step)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, batch)
}

// Assessments handles GET /batches/{id}/assessments.
func (h *Handler) Assessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := h.workflow.Assessments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": assessments,
		"count":       len(assessments),
	})
}

// Groups handles GET /batches/{id}/groups?by=city|pincode&view=ranked|high-risk.
func (h *Handler) Groups(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "id")

	var key domain.GroupKey
	switch r.URL.Query().Get("by") {
	case "", "city":
		key = domain.GroupByCity
	case "pincode":
		key = domain.GroupByPincode
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "by must be city or pincode",
		})
		return
	}

	var profiles []domain.GroupRiskProfile
	var err error
	switch r.URL.Query().Get("view") {
	case "", "ranked":
		profiles, err = h.workflow.GroupProfiles(r.Context(), batchID, key)
	case "high-risk":
		profiles, err = h.workflow.HighRiskView(r.Context(), batchID, key)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "view must be ranked or high-risk",
		})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": profiles,
		"count":  len(profiles),
	})
}

// Export handles GET /batches/{id}/export, streaming assessments as CSV.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	batchID := chi.URLParam(r, "id")

	records, err := h.workflow.Records(ctx, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	assessments, err := h.workflow.Assessments(ctx, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", batchID+"-assessments.csv"))

	if err := ingest.WriteAssessmentsCSV(w, records, assessments); err != nil {
		slog.Error("failed to write export", "batch_id", batchID, "error", err)
	}
}

// Stats handles GET /stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.stats.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

// GetScoring handles GET /scoring, returning the active expression.
func (h *Handler) GetScoring(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Current())
}

// UpdateScoringRequest is the request body for PUT /scoring.
type UpdateScoringRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
}

// UpdateScoring handles PUT /scoring: validates the CEL expression,
// persists it as the single active config, and hot-swaps the engine.
func (h *Handler) UpdateScoring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateScoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id and expression are required",
		})
		return
	}

	if err := h.engine.Validate(req.Expression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	cfg := &domain.ScoringConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Enabled:     true,
	}

	if h.repo != nil {
		if err := h.repo.SaveScoringConfig(ctx, cfg); err != nil {
			slog.Error("failed to save scoring config", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save scoring config",
			})
			return
		}
	}

	if err := h.engine.Reload(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to reload scoring engine: " + err.Error(),
		})
		return
	}

	slog.Info("scoring expression updated", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusOK, cfg)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps workflow errors to HTTP statuses: validation 400,
// unknown batch 404, out-of-sequence stage 409, engine failure 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "validation failed",
			"rows":  verr.Rows,
		})
	case errors.Is(err, domain.ErrBatchNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "batch not found",
		})
	case errors.Is(err, domain.ErrStageLocked):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
