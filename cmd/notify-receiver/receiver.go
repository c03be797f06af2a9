package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/councilor/internal/notify"
)

const maxBodyBytes = 1 << 20

type received struct {
	ReceivedAt   time.Time           `json:"received_at"`
	SignatureOK  bool                `json:"signature_ok"`
	Notification notify.Notification `json:"notification"`
}

type summary struct {
	Count    int64          `json:"count"`
	Rejected int64          `json:"rejected"`
	BySev    map[string]int `json:"by_severity"`
	Last     []received     `json:"last"`
	Since    string         `json:"since"`
}

// receiver collects webhook notifications for local testing. When secret
// is set, requests with a bad signature are rejected with 401.
type receiver struct {
	secret  string
	keep    int
	logger  zerolog.Logger
	nowFunc func() time.Time

	mu       sync.Mutex
	count    int64
	rejected int64
	bySev    map[string]int
	last     []received
	since    time.Time
}

func newReceiver(secret string, keep int, logger zerolog.Logger) *receiver {
	r := &receiver{secret: secret, keep: keep, logger: logger, nowFunc: time.Now}
	r.reset()
	return r
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count = 0
	rc.rejected = 0
	rc.bySev = make(map[string]int)
	rc.last = nil
	rc.since = rc.nowFunc().UTC()
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sigOK := notify.VerifySignature(rc.secret, body, r.Header.Get(notify.HeaderSignature))
	if rc.secret != "" && !sigOK {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		rc.logger.Warn().Str("execution_id", r.Header.Get(notify.HeaderExecutionID)).Msg("signature mismatch")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var n notify.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	rc.count++
	rc.bySev[string(n.Severity)]++
	rc.last = append(rc.last, received{ReceivedAt: rc.nowFunc().UTC(), SignatureOK: sigOK, Notification: n})
	if len(rc.last) > rc.keep {
		rc.last = rc.last[len(rc.last)-rc.keep:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.logger.Info().
		Int64("n", current).
		Str("job_id", n.JobID).
		Str("severity", string(n.Severity)).
		Str("summary", n.Summary).
		Msg("notification received")
	w.WriteHeader(http.StatusOK)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := summary{
		Count:    rc.count,
		Rejected: rc.rejected,
		BySev:    make(map[string]int, len(rc.bySev)),
		Last:     append([]received(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	for k, v := range rc.bySev {
		s.BySev[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}
