package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/domain"
	"github.com/djlord-it/councilor/internal/notify"
)

func fetchSummary(t *testing.T, baseURL string) summary {
	t.Helper()
	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	var s summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

func TestReceiver_AcceptsSignedNotification(t *testing.T) {
	rc := newReceiver("s3cret", 2, zerolog.Nop())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	ch := notify.NewWebhookChannel(srv.URL+"/hook", "s3cret")
	for _, sev := range []domain.Severity{domain.SeverityWarning, domain.SeverityError, domain.SeverityError} {
		err := ch.Notify(context.Background(), notify.Notification{JobID: "nightly", ExecutionID: "e1", Severity: sev})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	s := fetchSummary(t, srv.URL)
	if s.Count != 3 {
		t.Errorf("count = %d, want 3", s.Count)
	}
	if len(s.Last) != 2 {
		t.Errorf("kept %d, want 2", len(s.Last))
	}
	if s.BySev["error"] != 2 || s.BySev["warning"] != 1 {
		t.Errorf("by_severity = %v", s.BySev)
	}
	if !s.Last[0].SignatureOK || s.Last[0].Notification.JobID != "nightly" {
		t.Errorf("unexpected entry: %+v", s.Last[0])
	}
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	rc := newReceiver("s3cret", 10, zerolog.Nop())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	ch := notify.NewWebhookChannel(srv.URL+"/hook", "other")
	err := ch.Notify(context.Background(), notify.Notification{JobID: "nightly", Severity: domain.SeverityError})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 error, got %v", err)
	}

	s := fetchSummary(t, srv.URL)
	if s.Count != 0 || s.Rejected != 1 {
		t.Errorf("count=%d rejected=%d, want 0/1", s.Count, s.Rejected)
	}
}

func TestReceiver_NoSecretAcceptsAll(t *testing.T) {
	rc := newReceiver("", 10, zerolog.Nop())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hook", "application/json", strings.NewReader(`{"job_id":"j","severity":"warning"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	s := fetchSummary(t, srv.URL)
	if s.Count != 1 || s.Last[0].SignatureOK {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestReceiver_Reset(t *testing.T) {
	rc := newReceiver("", 10, zerolog.Nop())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	resp, _ := http.Post(srv.URL+"/hook", "application/json", strings.NewReader(`{"job_id":"j"}`))
	resp.Body.Close()
	resp, _ = http.Post(srv.URL+"/reset", "", nil)
	resp.Body.Close()

	if s := fetchSummary(t, srv.URL); s.Count != 0 || len(s.Last) != 0 {
		t.Errorf("expected empty summary after reset, got %+v", s)
	}
}

func TestReceiver_RejectsMalformedBody(t *testing.T) {
	rc := newReceiver("", 10, zerolog.Nop())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hook", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
