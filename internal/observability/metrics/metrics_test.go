package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"/v1/emails/process":     "/v1/emails/process",
		"/v1/emails/abc":         "/v1/emails/{email_id}",
		"/v1/emails/abc/process": "/v1/emails/{email_id}/process",
		"/v1/stats":              "/v1/stats",
		"/v1/stats/export.xlsx":  "/v1/stats/export.xlsx",
	}
	for in, want := range tests {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHTTPMetricsExposePipelineSeries(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/emails/m-1", nil))

	m.Pipeline().ObserveStage(domain.StageClassify, domain.OutcomeSucceeded, 20*time.Millisecond)
	m.Pipeline().ObserveRecord(domain.StatusCompleted, time.Second)
	m.Pipeline().ObserveDegraded([]string{"category \"Roofing\" coerced to General Inquiry"})
	m.RecordBatch("api", 3, 1, nil)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`maintenance_http_requests_total{method="GET",path="/v1/emails/{email_id}",service="api",status="202"} 1`,
		`maintenance_pipeline_stage_total{service="api",stage="classify",status="succeeded"} 1`,
		`maintenance_pipeline_records_total{service="api",status="completed"} 1`,
		`maintenance_pipeline_degraded_classifications_total{reason="category",service="api"} 1`,
		`maintenance_batch_emails_total{result="errored",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing series %s in\n%s", want, body)
		}
	}
}

func TestWorkerMetrics(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartEmail()
	m.FinishEmail("worker", time.Second, errors.New("boom"))
	m.ObservePoll("worker", 2, nil)

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`maintenance_worker_email_process_total{service="worker",status="error"} 1`,
		`maintenance_worker_email_process_in_flight{service="worker"} 0`,
		`maintenance_worker_emails_published_total{service="worker"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing series %s in\n%s", want, body)
		}
	}
}

func TestPipelineMetricsRecordCollaboratorCalls(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	m.Pipeline().ObserveCall("gmail.list", 3, errors.New("503"))
	m.Pipeline().ObserveCall("gmail.list", 1, nil)
	m.Pipeline().ObserveCall("slack.chat.postMessage", 0, errors.New("circuit breaker is open"))
	m.Pipeline().ObserveBreakerState("slack.chat.postMessage", "open")

	body := scrape(t, m.Handler())
	for _, want := range []string{
		`maintenance_collaborator_calls_total{operation="gmail.list",result="error",service="api"} 1`,
		`maintenance_collaborator_calls_total{operation="gmail.list",result="success",service="api"} 1`,
		`maintenance_collaborator_calls_total{operation="slack.chat.postMessage",result="rejected",service="api"} 1`,
		`maintenance_collaborator_call_attempts_count{operation="gmail.list",service="api"} 2`,
		`maintenance_collaborator_breaker_open{operation="slack.chat.postMessage",service="api"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %s\n%s", want, body)
		}
	}
}
