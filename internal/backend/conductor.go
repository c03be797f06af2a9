// Package backend invokes monitored agents through the Conductor HTTP API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/metrics"
)

const (
	DefaultPrompt  = "Analyze the project and provide insights"
	defaultTimeout = 10 * time.Minute

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// MetricsSink defines the interface for recording backend metrics.
type MetricsSink interface {
	BackendRequestCompleted(statusClass string, duration time.Duration)
}

type executeRequest struct {
	AgentName   string `json:"agent_name"`
	Prompt      string `json:"prompt"`
	InstanceID  string `json:"instance_id"`
	ContextMode string `json:"context_mode"`
	Timeout     int    `json:"timeout"`
}

type executeResponse struct {
	Result *string `json:"result"`
}

// Conductor is a client for POST {base}/conductor/execute.
type Conductor struct {
	baseURL string
	client  *http.Client
	clock   func() time.Time
	metrics MetricsSink // optional, nil = disabled
	logger  zerolog.Logger
}

func NewConductor(baseURL string) *Conductor {
	return &Conductor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		clock:   time.Now,
		logger:  log.Logger.With().Str("component", "backend").Logger(),
	}
}

func (c *Conductor) WithHTTPClient(client *http.Client) *Conductor {
	c.client = client
	return c
}

func (c *Conductor) WithMetrics(sink MetricsSink) *Conductor {
	c.metrics = sink
	return c
}

func (c *Conductor) WithLogger(logger zerolog.Logger) *Conductor {
	c.logger = logger.With().Str("component", "backend").Logger()
	return c
}

// Invoke runs task.TargetID statelessly and returns the agent's output text.
// The caller's context bounds the request; task.Timeout is forwarded to the
// Conductor so it can stop the agent on its side.
func (c *Conductor) Invoke(ctx context.Context, task domain.TaskSpec) (string, error) {
	if task.TargetID == "" {
		return "", &domain.ValidationError{Field: "task.target_id", Message: "required"}
	}

	started := c.clock()
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	prompt := task.Payload
	if prompt == "" {
		prompt = DefaultPrompt
	}

	payload := executeRequest{
		AgentName:   task.TargetID,
		Prompt:      prompt,
		InstanceID:  fmt.Sprintf("councilor_%s_%d", task.TargetID, started.UnixMilli()),
		ContextMode: "stateless",
		Timeout:     int(timeout / time.Second),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/conductor/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("agent", task.TargetID).Str("instance_id", payload.InstanceID).Msg("invoking agent")

	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(0, err, started)
		return "", fmt.Errorf("conductor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(resp.StatusCode, err, started)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("conductor returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	return extractResult(raw), nil
}

func (c *Conductor) observe(status int, err error, started time.Time) {
	if c.metrics != nil {
		c.metrics.BackendRequestCompleted(metrics.ClassifyStatus(status, err), c.clock().Sub(started))
	}
}

// extractResult returns the response's result field, or the raw body when
// the response is not a JSON object carrying one.
func extractResult(raw []byte) string {
	var resp executeResponse
	if err := json.Unmarshal(raw, &resp); err == nil && resp.Result != nil {
		return *resp.Result
	}
	return string(raw)
}

// snippet trims an error body to at most 200 runes.
func snippet(raw []byte) string {
	const n = 200
	s := strings.TrimSpace(string(raw))
	if utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n]) + "..."
	}
	return s
}
