package observability

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.ObserveAPI("POST", "/v1/analyses", 202, 30*time.Millisecond)
	m.ObserveAPI("POST", "/v1/analyses", 202, 70*time.Millisecond)
	m.ObserveStage("transcribe", errors.New("boom"), 3*time.Second)
	m.IncAnalysis("succeeded")
	m.IncCacheLookup(true)

	var buf bytes.Buffer
	if err := m.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`# TYPE podium_api_requests_total counter`,
		`podium_api_requests_total{method="POST",route="/v1/analyses",status="202"} 2`,
		`podium_api_request_duration_seconds_bucket{method="POST",route="/v1/analyses",le="0.05"} 1`,
		`podium_api_request_duration_seconds_bucket{method="POST",route="/v1/analyses",le="+Inf"} 2`,
		`podium_pipeline_stage_duration_seconds_count{stage="transcribe",status="error"} 1`,
		`podium_analyses_total{outcome="succeeded"} 1`,
		`podium_transcript_cache_lookups_total{result="hit"} 1`,
		`# TYPE podium_redis_up gauge`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/healthz", 200, time.Millisecond)
	m.ObserveStage("prepare", nil, time.Second)
	m.IncAnalysis("failed")
	m.ObserveTranscription("openai", nil, time.Second)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 503 {
		t.Fatalf("status: want=503 got=%d", rec.Code)
	}
}

func TestHistogramIsCumulative(t *testing.T) {
	h := NewHistogramVec("h", "help", []float64{1, 2}, "k")
	for _, v := range []float64{0.5, 1.5, 3} {
		h.Observe(v, "a")
	}
	if h.Count("a") != 3 {
		t.Fatalf("count: want=3 got=%d", h.Count("a"))
	}
	var buf bytes.Buffer
	_ = h.WritePrometheus(&buf)
	for _, want := range []string{`h_bucket{k="a",le="1"} 1`, `h_bucket{k="a",le="2"} 2`, `h_bucket{k="a",le="+Inf"} 3`, `h_sum{k="a"} 5`} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("missing %q in:\n%s", want, buf.String())
		}
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("api-key=abc, bad ,x=,team=podium")
	if len(got) != 2 || got["api-key"] != "abc" || got["team"] != "podium" {
		t.Fatalf("headers: %v", got)
	}
	if parseHeaders("") != nil {
		t.Fatalf("empty should be nil")
	}
}
