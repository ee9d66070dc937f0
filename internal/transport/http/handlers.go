// Package http provides HTTP handlers and router configuration.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/emanuelef/gallery-dl-api-go/internal/domain"
	"github.com/emanuelef/gallery-dl-api-go/internal/service/queue"
	"github.com/emanuelef/gallery-dl-api-go/internal/transport/http/middleware"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// JobService is the pipeline boundary the handlers drive.
type JobService interface {
	Submit(input, bundleName string) (*domain.Job, error)
	Poll(id string) (domain.JobSnapshot, error)
	Retrieve(id string) ([]byte, string, error)
	Retry(id string) (string, error)
}

// QueueStats reports scheduler load for the health check.
type QueueStats interface {
	QueueSize() int
	WorkerCount() int
}

// JobCounter reports how many jobs are held.
type JobCounter interface {
	Len() int
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	jobs      JobService
	queue     QueueStats
	store     JobCounter
	validator *middleware.SiteValidator
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(jobs JobService, q QueueStats, store JobCounter, validator *middleware.SiteValidator) *Handlers {
	if validator == nil {
		validator = middleware.NewSiteValidator(nil)
	}
	return &Handlers{
		jobs:      jobs,
		queue:     q,
		store:     store,
		validator: validator,
	}
}

// HealthHandler handles GET /api/health requests.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &domain.HealthResponse{
		Status:    "ok",
		QueueSize: h.queue.QueueSize(),
		Workers:   h.queue.WorkerCount(),
		Jobs:      h.store.Len(),
	})
}

// StartHandler handles POST /api/start requests.
func (h *Handlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	if err := h.validator.Validate(req.URL); err != nil {
		slog.Warn("URL validation failed",
			"url", req.URL,
			"error", err,
			"ip", middleware.GetClientIP(r),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
		return
	}

	job, err := h.jobs.Submit(req.URL, req.ZipName)
	if err != nil {
		var invalid *domain.InvalidReferenceError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
		case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrDispatcherStopped):
			writeError(w, http.StatusServiceUnavailable, "server is busy, please try again later", "QUEUE_FULL")
		default:
			slog.Error("Failed to create job", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create job", "INTERNAL_ERROR")
		}
		return
	}

	slog.Info("Album job accepted",
		"job_id", job.ID(),
		"ip", middleware.GetClientIP(r),
	)
	writeJSON(w, http.StatusAccepted, &domain.JobResponse{JobID: job.ID()})
}

// StatusHandler handles GET /api/status/{job_id} requests.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	snap, err := h.jobs.Poll(jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.ToStatusResponse())
}

// DownloadHandler handles GET /api/download/{job_id} requests.
func (h *Handlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	bundle, name, err := h.jobs.Retrieve(jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(bundle)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(bundle); err != nil {
		slog.Debug("Bundle write interrupted", "job_id", jobID, "error", err)
	}
}

// RetryHandler handles POST /api/retry/{job_id} requests.
func (h *Handlers) RetryHandler(w http.ResponseWriter, r *http.Request) {
	jobID, ok := jobIDParam(w, r)
	if !ok {
		return
	}

	mode, err := h.jobs.Retry(jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}

	slog.Info("Album job re-queued", "job_id", jobID, "mode", mode)
	writeJSON(w, http.StatusAccepted, &domain.JobResponse{JobID: jobID, Mode: mode})
}

func (h *Handlers) writeJobError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, domain.ErrBundleNotReady):
		writeError(w, http.StatusNotFound, "zip not ready", "ZIP_NOT_READY")
	case errors.Is(err, domain.ErrJobInProgress):
		writeError(w, http.StatusConflict, "job is still running", "JOB_IN_PROGRESS")
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrDispatcherStopped):
		writeError(w, http.StatusServiceUnavailable, "server is busy, please try again later", "QUEUE_FULL")
	default:
		slog.Error("Job request failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required", "MISSING_JOB_ID")
		return "", false
	}
	if _, err := uuid.Parse(jobID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid job_id format", "INVALID_JOB_ID")
		return "", false
	}
	return jobID, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
