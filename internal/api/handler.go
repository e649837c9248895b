package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/audit"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	scorer   *scoring.Scorer
	auditor  *audit.Recorder
	policies *policy.Engine
	weights  []float64
	names    []string
	version  string
}

// NewHandler creates a new API handler. Feature weights and names feed
// the global importance endpoint and may be nil when the classifier
// does not expose them.
func NewHandler(repo domain.Repository, cache domain.Cache, scorer *scoring.Scorer,
	auditor *audit.Recorder, policies *policy.Engine,
	names []string, weights []float64, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		scorer:   scorer,
		auditor:  auditor,
		policies: policies,
		weights:  weights,
		names:    names,
		version:  version,
	}
}

// ScoreRequest is the request body for POST /score.
type ScoreRequest struct {
	Application *domain.CreditApplication `json:"application"`
	RequestID   string                    `json:"request_id,omitempty"`
	UserID      string                    `json:"user_id,omitempty"`
}

// ScoreResponse is the response for POST /score.
type ScoreResponse struct {
	RequestID       string                `json:"request_id"`
	ApplicationID   string                `json:"application_id"`
	PredictionScore float64               `json:"prediction_score"`
	RiskCategory    domain.RiskCategory   `json:"risk_category"`
	Decision        domain.Decision       `json:"decision"`
	Ratios          *domain.DerivedRatios `json:"ratios,omitempty"`
	Explanation     *domain.Explanation   `json:"explanation,omitempty"`
	AppliedPolicy   *domain.PolicyResult  `json:"applied_policy,omitempty"`
	ModelVersion    string                `json:"model_version"`
	Metadata        struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Application == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application is required",
		})
		return
	}
	if err := req.Application.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	result, err := h.scorer.Score(ctx, &scoring.Request{
		Application: req.Application,
		RequestID:   req.RequestID,
		UserID:      req.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, feature.ErrDegenerateInput):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, domain.ErrClassifierUnavailable):
			slog.Error("classifier unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "scoring temporarily unavailable",
			})
		default:
			slog.Error("scoring failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "scoring failed",
			})
		}
		return
	}

	// Persist the application; the decision already stands, so a save
	// failure is logged but not surfaced.
	if h.repo != nil {
		if err := h.repo.SaveApplication(ctx, result.RequestID, req.Application); err != nil {
			slog.Error("failed to save application",
				"application_id", req.Application.ApplicationID,
				"error", err,
			)
		}
	}

	resp := ScoreResponse{
		RequestID:       result.RequestID,
		ApplicationID:   result.ApplicationID,
		PredictionScore: result.Prediction.Probability,
		RiskCategory:    result.Prediction.RiskCategory,
		Decision:        result.Prediction.Decision,
		Ratios:          result.Ratios,
		Explanation:     result.Explanation,
		AppliedPolicy:   result.AppliedPolicy,
		ModelVersion:    result.ModelVersion,
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// GetApplication retrieves a stored application by ID.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	if appID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "application id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	app, err := h.repo.GetApplication(ctx, appID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get application", "id", appID, "error", err)
		}
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "application not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// GetScore retrieves a cached score snapshot by request ID.
func (h *Handler) GetScore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "id")

	if requestID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "request id is required",
		})
		return
	}

	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "cache not available",
		})
		return
	}

	snap, err := h.cache.GetScore(ctx, requestID)
	if err != nil {
		slog.Error("failed to get cached score", "request_id", requestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read score cache",
		})
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "score not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// maxAuditLimit caps the number of audit rows returned per query.
const maxAuditLimit = 1000

// AuditLogs handles GET /audit-log with optional date range and limit.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	startDate := r.URL.Query().Get("start_date")
	endDate := r.URL.Query().Get("end_date")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	logs, err := h.auditor.Query(ctx, startDate, endDate, limit)
	if err != nil {
		slog.Error("audit query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to query audit log",
		})
		return
	}

	if logs == nil {
		logs = []*domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_records": len(logs),
		"logs":          logs,
	})
}

// AuditExport handles GET /audit-log/export, streaming the full log as CSV.
func (h *Handler) AuditExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit_log.csv"`)

	if err := h.auditor.Export(ctx, w); err != nil {
		if errors.Is(err, audit.ErrNoAuditLog) {
			w.Header().Del("Content-Disposition")
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no audit log entries recorded",
			})
			return
		}
		slog.Error("audit export failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to export audit log",
		})
	}
}

// GetModel returns the active model registry record.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetActiveModelRecord(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No registry entry; serve what the process is running.
			writeJSON(w, http.StatusOK, map[string]string{
				"version": h.scorer.ModelVersion(),
			})
			return
		}
		slog.Error("failed to get model record", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get model record",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ModelImportance returns the global feature importance ranking.
func (h *Handler) ModelImportance(w http.ResponseWriter, r *http.Request) {
	if len(h.weights) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "model does not expose feature weights",
		})
		return
	}

	ranked, err := explain.GlobalImportance(h.names, h.weights)
	if err != nil {
		slog.Error("failed to rank feature importance", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to rank feature importance",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_version": h.scorer.ModelVersion(),
		"importance":    ranked,
	})
}

// ListPolicies returns all loaded underwriting policies.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	loaded := h.policies.LoadedPolicies()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": loaded,
		"count":    len(loaded),
		"source":   "database",
	})
}

// CreatePolicyRequest is the request body for creating a policy.
type CreatePolicyRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Expression  string          `json:"expression"`
	Action      domain.Decision `json:"action"`
	Reason      string          `json:"reason,omitempty"`
	Priority    int             `json:"priority"`
	Enabled     bool            `json:"enabled"`
}

// CreatePolicy creates a new underwriting policy and saves it to the
// database. Call POST /policies/reload to apply.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	cfg := &domain.PolicyConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Action:      req.Action,
		Reason:      req.Reason,
		Priority:    req.Priority,
		Enabled:     req.Enabled,
	}

	if err := h.policies.ValidatePolicy(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid policy: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SavePolicy(ctx, cfg); err != nil {
			slog.Error("failed to save policy", "id", cfg.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save policy",
			})
			return
		}
	}

	slog.Info("policy created", "id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  cfg,
		"message": "Policy created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads all policies from the database into the engine.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.policies == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "policy engine not available",
		})
		return
	}

	configs, err := h.repo.ListPolicies(ctx)
	if err != nil {
		slog.Error("failed to list policies from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policies from database",
		})
		return
	}

	if err := h.policies.ReloadPolicies(configs); err != nil {
		slog.Error("failed to reload policies into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policies: " + err.Error(),
		})
		return
	}

	slog.Info("policies reloaded from database", "count", len(configs))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded successfully",
		"count":   len(configs),
	})
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

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
