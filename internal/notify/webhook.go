package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	HeaderSignature   = "X-Councilor-Signature"
	HeaderExecutionID = "X-Councilor-Execution-ID"
	HeaderSeverity    = "X-Councilor-Severity"
)

// WebhookChannel posts notifications as signed JSON.
type WebhookChannel struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		secret:  secret,
		timeout: 30 * time.Second,
		client:  &http.Client{},
	}
}

func (w *WebhookChannel) WithTimeout(d time.Duration) *WebhookChannel {
	if d > 0 {
		w.timeout = d
	}
	return w
}

func (w *WebhookChannel) Name() string { return "webhook" }

// Notify posts n with an HMAC-SHA256 signature of the body. Non-2xx responses are errors.
func (w *WebhookChannel) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderExecutionID, n.ExecutionID)
	req.Header.Set(HeaderSeverity, string(n.Severity))
	req.Header.Set(HeaderSignature, computeSignature(w.secret, body))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
