package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.Classified("relevant")
	m.Classified("relevant")
	m.Outcome("backfill", "forwarded")
	m.ForwardAttempt(PathFallback)
	m.ChatFailed()
	m.BackfillDuration(3 * time.Second)

	if got := testutil.ToFloat64(m.classifications.WithLabelValues("relevant")); got != 2 {
		t.Errorf("classifications{relevant} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("backfill", "forwarded")); got != 1 {
		t.Errorf("messages{backfill,forwarded} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.forwards.WithLabelValues(PathFallback)); got != 1 {
		t.Errorf("forward_attempts{fallback} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.chatFailures); got != 1 {
		t.Errorf("backfill_chat_failures = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.backfillSeconds); n != 1 {
		t.Errorf("backfill histogram series = %d, want 1", n)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Classified("relevant")
	m.Outcome("live", "forwarded")
	m.ForwardAttempt(PathNative)
	m.ChatFailed()
	m.BackfillDuration(time.Second)
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.Outcome("live", "forwarded")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("unexpected health response: %d %v", resp.StatusCode, body)
	}

	resp, err = http.Post(srv.URL+"/healthz", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(data), `leadpipe_messages_total{outcome="forwarded",runner="live"} 1`) {
		t.Errorf("metrics output missing counter:\n%s", data)
	}
}
