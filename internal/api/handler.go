package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-survey/kestrel/internal/domain"
	"github.com/opensource-survey/kestrel/internal/engine"
	"github.com/opensource-survey/kestrel/internal/repository"
	"github.com/opensource-survey/kestrel/internal/thresholds"
	"github.com/opensource-survey/kestrel/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	store     *thresholds.Store
	processor *worker.Worker
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, store *thresholds.Store, processor *worker.Worker, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		store:     store,
		processor: processor,
		version:   version,
	}
}

// GPSInfo is an optional GPS fix on an ingested submission.
type GPSInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SubmissionRequest is the request body for POST /api/v1/submissions.
type SubmissionRequest struct {
	ID                    string         `json:"id,omitempty"`
	EnumeratorID          string         `json:"enumeratorId"`
	QuestionnaireFormID   string         `json:"questionnaireFormId,omitempty"`
	SubmittedAt           *time.Time     `json:"submittedAt,omitempty"`
	GPS                   *GPSInfo       `json:"gps,omitempty"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty"`
	Data                  map[string]any `json:"data,omitempty"`
}

// IngestResponse is the response for POST /api/v1/submissions.
type IngestResponse struct {
	SubmissionID string `json:"submissionId"`
	Status       string `json:"status"`
	TraceID      string `json:"traceId,omitempty"`
}

// IngestSubmission handles POST /api/v1/submissions. The submission is
// persisted and queued for async evaluation on the event bus.
func (h *Handler) IngestSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.EnumeratorID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "enumeratorId is required",
		})
		return
	}
	if req.CompletionTimeSeconds != nil && *req.CompletionTimeSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "completionTimeSeconds must not be negative",
		})
		return
	}

	now := time.Now().UTC()
	sub := &domain.Submission{
		ID:                    req.ID,
		EnumeratorID:          req.EnumeratorID,
		QuestionnaireFormID:   req.QuestionnaireFormID,
		SubmittedAt:           now,
		CompletionTimeSeconds: req.CompletionTimeSeconds,
		RawData:               req.Data,
		CreatedAt:             now,
	}
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if req.SubmittedAt != nil {
		sub.SubmittedAt = req.SubmittedAt.UTC()
	}
	if req.GPS != nil {
		lat, lon := req.GPS.Latitude, req.GPS.Longitude
		sub.GPSLatitude = &lat
		sub.GPSLongitude = &lon
	}

	if err := h.repo.SaveSubmission(ctx, sub); err != nil {
		slog.Error("failed to save submission", "id", sub.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save submission",
		})
		return
	}

	payload, _ := json.Marshal(worker.SubmissionMessage{SubmissionID: sub.ID})
	if err := h.bus.Publish(ctx, domain.TopicSubmissionIngested, payload); err != nil {
		slog.Error("failed to publish submission event", "id", sub.ID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		SubmissionID: sub.ID,
		Status:       "queued",
		TraceID:      GetTraceID(ctx),
	})
}

// GetSubmission retrieves a submission by ID.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	sub, err := h.repo.GetSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "submission not found",
			})
			return
		}
		slog.Error("failed to get submission", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load submission",
		})
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

// EvaluateSubmission handles POST /api/v1/submissions/{id}/evaluate.
// Runs the full pipeline synchronously: evaluate, persist, publish.
func (h *Handler) EvaluateSubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	result, err := h.processor.Process(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrSubmissionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "submission not found",
			})
			return
		}
		slog.Error("evaluation failed", "submission_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetDetection retrieves a detection result by ID.
func (h *Handler) GetDetection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	det, err := h.repo.GetDetection(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "detection not found",
			})
			return
		}
		slog.Error("failed to get detection", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load detection",
		})
		return
	}

	writeJSON(w, http.StatusOK, det)
}

// GetDetectionBySubmission retrieves the latest detection for a submission.
func (h *Handler) GetDetectionBySubmission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	det, err := h.repo.GetDetectionBySubmission(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no detection for submission",
			})
			return
		}
		slog.Error("failed to get detection", "submission_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load detection",
		})
		return
	}

	writeJSON(w, http.StatusOK, det)
}

// CreateFormRequest is the request body for POST /api/v1/forms.
type CreateFormRequest struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Schema *domain.FormSchema `json:"schema,omitempty"`
}

// CreateForm registers a questionnaire form definition. The schema feeds
// the speed-run theoretical minimum and straight-lining battery detection.
func (h *Handler) CreateForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}

	form := &domain.QuestionnaireForm{
		ID:        req.ID,
		Name:      req.Name,
		Schema:    req.Schema,
		CreatedAt: time.Now().UTC(),
	}
	if form.ID == "" {
		form.ID = uuid.New().String()
	}

	if err := h.repo.SaveForm(ctx, form); err != nil {
		slog.Error("failed to save form", "id", form.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save form",
		})
		return
	}

	slog.Info("form registered", "id", form.ID, "name", form.Name)
	writeJSON(w, http.StatusCreated, form)
}

// GetForm retrieves a questionnaire form by ID.
func (h *Handler) GetForm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	form, err := h.repo.GetForm(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "form not found",
			})
			return
		}
		slog.Error("failed to get form", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load form",
		})
		return
	}

	writeJSON(w, http.StatusOK, form)
}

// ListThresholds returns the active threshold set grouped by category.
func (h *Handler) ListThresholds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := h.store.ActiveThresholds(ctx)
	if err != nil {
		slog.Error("failed to list thresholds", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load thresholds",
		})
		return
	}

	grouped := make(map[string][]*domain.ThresholdConfig)
	configVersion := 1
	for _, t := range active {
		grouped[string(t.Category)] = append(grouped[string(t.Category)], t)
		if t.Version > configVersion {
			configVersion = t.Version
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"thresholds":    grouped,
		"count":         len(active),
		"configVersion": configVersion,
	})
}

// UpdateThresholdRequest is the request body for PUT /api/v1/thresholds/{ruleKey}.
type UpdateThresholdRequest struct {
	Value         *float64 `json:"value"`
	UpdatedBy     string   `json:"updatedBy,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	SeverityFloor *string  `json:"severityFloor,omitempty"`
	IsActive      *bool    `json:"isActive,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
}

// UpdateThreshold appends a new version of a threshold rule. The change
// applies to the next evaluation; no restart needed.
func (h *Handler) UpdateThreshold(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleKey := chi.URLParam(r, "ruleKey")

	var req UpdateThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Value == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "value is required",
		})
		return
	}

	next, err := h.store.UpdateThreshold(ctx, ruleKey, *req.Value, req.UpdatedBy, &thresholds.UpdateOptions{
		Weight:        req.Weight,
		SeverityFloor: req.SeverityFloor,
		IsActive:      req.IsActive,
		Notes:         req.Notes,
	})
	if err != nil {
		if errors.Is(err, thresholds.ErrRuleNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "threshold rule not found",
			})
			return
		}
		if errors.Is(err, repository.ErrVersionConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": "threshold was updated concurrently, retry",
			})
			return
		}
		slog.Error("failed to update threshold", "rule_key", ruleKey, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update threshold",
		})
		return
	}

	writeJSON(w, http.StatusOK, next)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

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

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
