// Package api exposes the control operations over JSON/HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/control"
	"github.com/djlord-it/councilor/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = control.DefaultPageSize
	MaxLimit     = control.MaxPageSize

	defaultReportSize = 10
)

type Service interface {
	Schedule(ctx context.Context, job domain.Job) (domain.Job, error)
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) (time.Time, error)
	Remove(ctx context.Context, jobID string) error
	Reload(ctx context.Context, jobID string) (control.Status, error)
	GetStatus(ctx context.Context, jobID string) (control.Status, error)
	ListJobs(ctx context.Context) ([]control.Status, error)
	Executions(ctx context.Context, jobID string, limit, offset int) ([]domain.ExecutionRecord, error)
	LatestExecution(ctx context.Context, jobID string) (domain.ExecutionRecord, error)
	Report(ctx context.Context, jobID string, recent int) (control.Report, error)
	Health(ctx context.Context) error
}

type Handler struct {
	svc      Service
	channels []string
	logger   zerolog.Logger
}

func NewHandler(svc Service) *Handler {
	return &Handler{
		svc:    svc,
		logger: log.Logger.With().Str("component", "api").Logger(),
	}
}

// WithChannels restricts notification.channel to the configured channel names.
func (h *Handler) WithChannels(names ...string) *Handler {
	h.channels = names
	return h
}

func (h *Handler) WithLogger(logger zerolog.Logger) *Handler {
	h.logger = logger.With().Str("component", "api").Logger()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "health" && r.Method == http.MethodGet:
		h.health(w, r)

	case len(parts) == 1 && parts[0] == "jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case len(parts) < 2 || parts[0] != "jobs":
		writeError(w, http.StatusNotFound, "not found")

	default:
		h.routeJob(w, r, parts[1], parts[2:])
	}
}

func (h *Handler) routeJob(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	if err := validateJobID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	route := strings.Join(rest, "/")
	switch {
	case route == "" && r.Method == http.MethodPut:
		h.scheduleJob(w, r, id)
	case route == "" && r.Method == http.MethodGet:
		h.getStatus(w, r, id)
	case route == "" && r.Method == http.MethodDelete:
		h.removeJob(w, r, id)
	case route == "pause" && r.Method == http.MethodPost:
		h.pauseJob(w, r, id)
	case route == "resume" && r.Method == http.MethodPost:
		h.resumeJob(w, r, id)
	case route == "reload" && r.Method == http.MethodPost:
		h.reloadJob(w, r, id)
	case route == "executions" && r.Method == http.MethodGet:
		h.listExecutions(w, r, id)
	case route == "executions/latest" && r.Method == http.MethodGet:
		h.latestExecution(w, r, id)
	case route == "report" && r.Method == http.MethodGet:
		h.report(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{Status: "ok", Components: make(map[string]string)}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	if err := h.svc.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["store"] = "unhealthy: " + err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Components["store"] = "healthy"
	}

	writeJSON(w, status, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) scheduleJob(w http.ResponseWriter, r *http.Request, id string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateScheduleJob(req, h.channels); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.svc.Schedule(r.Context(), req.toJob(id)); err != nil {
		h.writeServiceError(w, "schedule job", id, err)
		return
	}
	h.writeStatus(w, r, id)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request, id string) {
	h.writeStatus(w, r, id)
}

func (h *Handler) removeJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Remove(r.Context(), id); err != nil {
		h.writeServiceError(w, "remove job", id, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseJob(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Pause(r.Context(), id); err != nil {
		h.writeServiceError(w, "pause job", id, err)
		return
	}
	h.writeStatus(w, r, id)
}

func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.svc.Resume(r.Context(), id); err != nil {
		h.writeServiceError(w, "resume job", id, err)
		return
	}
	h.writeStatus(w, r, id)
}

func (h *Handler) reloadJob(w http.ResponseWriter, r *http.Request, id string) {
	status, err := h.svc.Reload(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "reload job", id, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

func (h *Handler) writeStatus(w http.ResponseWriter, r *http.Request, id string) {
	status, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "get status", id, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.svc.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, "list jobs", "", err)
		return
	}

	resp := ListJobsResponse{Jobs: make([]StatusResponse, len(statuses))}
	for i, s := range statuses {
		resp.Jobs[i] = toStatusResponse(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request, id string) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.svc.Executions(r.Context(), id, limit, offset)
	if err != nil {
		h.writeServiceError(w, "list executions", id, err)
		return
	}
	writeJSON(w, http.StatusOK, ListExecutionsResponse{Executions: toExecutionResponses(recs)})
}

func (h *Handler) latestExecution(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.svc.LatestExecution(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "latest execution", id, err)
		return
	}
	writeJSON(w, http.StatusOK, toExecutionResponse(rec))
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request, id string) {
	recent := defaultReportSize
	if v := r.URL.Query().Get("recent"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxLimit {
			writeError(w, http.StatusBadRequest, "recent must be between 1 and "+strconv.Itoa(MaxLimit))
			return
		}
		recent = n
	}

	rep, err := h.svc.Report(r.Context(), id, recent)
	if err != nil {
		h.writeServiceError(w, "report", id, err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{
		StatusResponse:   toStatusResponse(rep.Status),
		RecentExecutions: toExecutionResponses(rep.Recent),
	})
}

// writeServiceError maps error kinds to status codes. Only unexpected
// errors are logged at error level.
func (h *Handler) writeServiceError(w http.ResponseWriter, op, id string, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.logger.Warn().Err(err).Str("op", op).Str("job_id", id).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		h.logger.Error().Err(err).Str("op", op).Str("job_id", id).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "api").Msg("json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// limit=0 or an absent limit means DefaultLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
