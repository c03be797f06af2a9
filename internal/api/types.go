package api

import (
	"time"

	"github.com/djlord-it/councilor/internal/control"
	"github.com/djlord-it/councilor/internal/domain"
)

type TriggerRequest struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Timezone string `json:"timezone,omitempty"`
}

type TaskRequest struct {
	TargetID       string `json:"target_id,omitempty"` // defaults to the job id
	Name           string `json:"name,omitempty"`
	Payload        string `json:"payload,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // 0 = executor default
}

type NotificationRequest struct {
	OnSuccess bool   `json:"on_success"`
	OnWarning bool   `json:"on_warning"`
	OnError   bool   `json:"on_error"`
	Channel   string `json:"channel,omitempty"`
}

type ScheduleJobRequest struct {
	Name         string               `json:"name"`
	Trigger      TriggerRequest       `json:"trigger"`
	Task         TaskRequest          `json:"task"`
	Notification *NotificationRequest `json:"notification,omitempty"` // omitted = notify on error
	Enabled      *bool                `json:"enabled,omitempty"`      // omitted = true
}

type JobResponse struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Trigger      TriggerRequest      `json:"trigger"`
	Task         TaskRequest         `json:"task"`
	Notification NotificationRequest `json:"notification"`
	Enabled      bool                `json:"enabled"`
	CreatedAt    string              `json:"created_at"`
	UpdatedAt    string              `json:"updated_at"`
}

type StatsResponse struct {
	TotalExecutions int64   `json:"total_executions"`
	SuccessCount    int64   `json:"success_count"`
	SuccessRate     float64 `json:"success_rate"`
	LastExecutionAt *string `json:"last_execution_at"`
}

type StatusResponse struct {
	Job       JobResponse   `json:"job"`
	State     string        `json:"state"`
	NextRunAt *string       `json:"next_run_at"`
	Stats     StatsResponse `json:"stats"`
}

type ExecutionResponse struct {
	ID            string `json:"id"`
	JobID         string `json:"job_id"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at"`
	DurationMs    int64  `json:"duration_ms"`
	Status        string `json:"status"`
	Severity      string `json:"severity"`
	OutputSummary string `json:"output_summary"`
	ErrorDetail   string `json:"error_detail,omitempty"`
}

type ListJobsResponse struct {
	Jobs []StatusResponse `json:"jobs"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type ReportResponse struct {
	StatusResponse
	RecentExecutions []ExecutionResponse `json:"recent_executions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (req ScheduleJobRequest) toJob(id string) domain.Job {
	job := domain.Job{
		ID:   id,
		Name: req.Name,
		Trigger: domain.TriggerSpec{
			Type:     domain.TriggerType(req.Trigger.Type),
			Value:    req.Trigger.Value,
			Timezone: req.Trigger.Timezone,
		},
		Task: domain.TaskSpec{
			TargetID: req.Task.TargetID,
			Name:     req.Task.Name,
			Payload:  req.Task.Payload,
			Timeout:  time.Duration(req.Task.TimeoutSeconds) * time.Second,
		},
		Notification: domain.NotificationPolicy{OnError: true},
		Enabled:      req.Enabled == nil || *req.Enabled,
	}
	if n := req.Notification; n != nil {
		job.Notification = domain.NotificationPolicy{
			OnSuccess: n.OnSuccess,
			OnWarning: n.OnWarning,
			OnError:   n.OnError,
			Channel:   n.Channel,
		}
	}
	return job
}

func toJobResponse(job domain.Job) JobResponse {
	return JobResponse{
		ID:   job.ID,
		Name: job.Name,
		Trigger: TriggerRequest{
			Type:     string(job.Trigger.Type),
			Value:    job.Trigger.Value,
			Timezone: job.Trigger.Timezone,
		},
		Task: TaskRequest{
			TargetID:       job.Task.TargetID,
			Name:           job.Task.Name,
			Payload:        job.Task.Payload,
			TimeoutSeconds: int(job.Task.Timeout / time.Second),
		},
		Notification: NotificationRequest{
			OnSuccess: job.Notification.OnSuccess,
			OnWarning: job.Notification.OnWarning,
			OnError:   job.Notification.OnError,
			Channel:   job.Notification.Channel,
		},
		Enabled:   job.Enabled,
		CreatedAt: formatTime(job.CreatedAt),
		UpdatedAt: formatTime(job.UpdatedAt),
	}
}

func toStatusResponse(s control.Status) StatusResponse {
	return StatusResponse{
		Job:       toJobResponse(s.Job),
		State:     string(s.State),
		NextRunAt: formatTimePtr(s.NextRunAt),
		Stats: StatsResponse{
			TotalExecutions: s.Stats.TotalExecutions,
			SuccessCount:    s.Stats.SuccessCount,
			SuccessRate:     s.Stats.SuccessRate(),
			LastExecutionAt: formatTimePtr(s.Stats.LastExecutionAt),
		},
	}
}

func toExecutionResponse(rec domain.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		ID:            rec.ID.String(),
		JobID:         rec.JobID,
		StartedAt:     formatTime(rec.StartedAt),
		CompletedAt:   formatTime(rec.CompletedAt),
		DurationMs:    rec.Duration.Milliseconds(),
		Status:        string(rec.Status),
		Severity:      string(rec.Severity),
		OutputSummary: rec.OutputSummary,
		ErrorDetail:   rec.ErrorDetail,
	}
}

func toExecutionResponses(recs []domain.ExecutionRecord) []ExecutionResponse {
	out := make([]ExecutionResponse, len(recs))
	for i, rec := range recs {
		out[i] = toExecutionResponse(rec)
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
