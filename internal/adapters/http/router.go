package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/config"
	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/report"
	"github.com/kirillkom/maintenance-supervisor/internal/observability/metrics"
)

const (
	serviceName       = "api"
	defaultMaxResults = 10
)

type Router struct {
	cfg       config.Config
	processor ports.EmailProcessor
	records   ports.RecordReader
	stats     ports.StatsProvider
	inbox     ports.InboxReader
	metrics   *metrics.HTTPServerMetrics
	storeKind string
}

func NewRouter(
	cfg config.Config,
	processor ports.EmailProcessor,
	records ports.RecordReader,
	stats ports.StatsProvider,
) *Router {
	storeKind := "memory"
	if strings.TrimSpace(cfg.PostgresDSN) != "" {
		storeKind = "postgres"
	}
	return &Router{
		cfg:       cfg,
		processor: processor,
		records:   records,
		stats:     stats,
		storeKind: storeKind,
	}
}

// WithMetrics enables /metrics and request instrumentation.
func (rt *Router) WithMetrics(m *metrics.HTTPServerMetrics) *Router {
	rt.metrics = m
	return rt
}

// WithInbox enables the unread listing and classify-only preview routes.
func (rt *Router) WithInbox(inbox ports.InboxReader) *Router {
	rt.inbox = inbox
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	mux.HandleFunc("GET /openapi.yaml", rt.openAPISpec)
	mux.HandleFunc("GET /v1/config/status", rt.configStatus)
	mux.HandleFunc("GET /v1/categories", rt.categories)
	mux.HandleFunc("GET /v1/emails", rt.listRecords)
	mux.HandleFunc("POST /v1/emails/process", rt.processUnread)
	mux.HandleFunc("GET /v1/emails/{email_id}", rt.getRecord)
	mux.HandleFunc("POST /v1/emails/{email_id}/process", rt.processOne)
	if rt.inbox != nil {
		mux.HandleFunc("GET /v1/inbox", rt.listInbox)
		mux.HandleFunc("POST /v1/emails/{email_id}/classify", rt.classifyOne)
	}
	mux.HandleFunc("GET /v1/stats", rt.getStats)
	mux.HandleFunc("GET /v1/stats/export.xlsx", rt.exportStats)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if openAPIRouter, err := loadOpenAPIRouter(); err != nil {
		slog.Error("openapi_validation_disabled", "error", err)
	} else {
		handler = openAPIValidationMiddleware(openAPIRouter, handler)
	}
	var onReject rejectionRecorder
	if rt.metrics != nil {
		onReject = func(reason string) { rt.metrics.RecordRejected(serviceName, reason) }
	}
	handler = bodyLimitMiddleware(handler, rt.cfg.APIRequestBodyMaxBytes, onReject)
	wait := time.Duration(rt.cfg.APIBackpressureWaitMS) * time.Millisecond
	handler = backpressureMiddlewareWithRecorder(handler, rt.cfg.APIMaxInFlight, wait, onReject)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onReject)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

type configStatusResponse struct {
	Gmail       bool   `json:"gmail"`
	Notion      bool   `json:"notion"`
	Slack       bool   `json:"slack"`
	LLM         bool   `json:"llm"`
	LLMProvider string `json:"llm_provider"`
	Store       string `json:"store"`
	Queue       bool   `json:"queue"`
	Message     string `json:"message"`
}

func (rt *Router) configStatus(w http.ResponseWriter, _ *http.Request) {
	resp := configStatusResponse{
		Gmail:       rt.cfg.GmailConfigured(),
		Notion:      rt.cfg.NotionConfigured(),
		Slack:       rt.cfg.SlackConfigured(),
		LLM:         rt.cfg.LLMConfigured(),
		LLMProvider: rt.cfg.LLMProvider,
		Store:       rt.storeKind,
		Queue:       strings.TrimSpace(rt.cfg.NATSURL) != "",
	}
	if resp.Gmail && resp.Notion && resp.Slack && resp.LLM {
		resp.Message = "All services configured"
	} else {
		resp.Message = "Some services not configured"
	}
	writeJSON(w, http.StatusOK, resp)
}

type enumEntry struct {
	Name  string `json:"name"`
	Emoji string `json:"emoji"`
}

func (rt *Router) categories(w http.ResponseWriter, _ *http.Request) {
	categories := make([]enumEntry, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		categories = append(categories, enumEntry{Name: string(c), Emoji: c.Emoji()})
	}
	priorities := make([]enumEntry, 0, len(domain.Priorities()))
	for _, p := range domain.Priorities() {
		priorities = append(priorities, enumEntry{Name: string(p), Emoji: p.Emoji()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": categories,
		"priorities": priorities,
	})
}

type processBatchRequest struct {
	MaxResults        *int  `json:"max_results"`
	SendNotifications *bool `json:"send_notifications"`
}

func (rt *Router) processUnread(w http.ResponseWriter, r *http.Request) {
	var req processBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, errors.New("invalid json"))
		return
	}
	opts := domain.BatchOptions{MaxResults: defaultMaxResults, SendNotifications: true}
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 {
			writeError(w, r, http.StatusBadRequest, errors.New("max_results must be positive"))
			return
		}
		opts.MaxResults = *req.MaxResults
	}
	if req.SendNotifications != nil {
		opts.SendNotifications = *req.SendNotifications
	}

	result, err := rt.processor.ProcessUnread(r.Context(), opts)
	if rt.metrics != nil {
		processed, failed := 0, 0
		if result != nil {
			processed, failed = len(result.Records), len(result.Errors)
		}
		rt.metrics.RecordBatch(serviceName, processed, failed, err)
	}
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processed": len(result.Records),
		"failed":    len(result.Errors),
		"records":   result.Records,
		"errors":    result.Errors,
	})
}

func (rt *Router) processOne(w http.ResponseWriter, r *http.Request) {
	record, err := rt.processor.ProcessOne(r.Context(), r.PathValue("email_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) getRecord(w http.ResponseWriter, r *http.Request) {
	record, err := rt.records.GetRecord(r.Context(), r.PathValue("email_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (rt *Router) listRecords(w http.ResponseWriter, r *http.Request) {
	records, err := rt.records.ListRecords(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []domain.ProcessingRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (rt *Router) listInbox(w http.ResponseWriter, r *http.Request) {
	limit := defaultMaxResults
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, errors.New("max_results must be a positive integer"))
			return
		}
		limit = n
	}
	items, err := rt.inbox.ListUnread(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "emails": items})
}

// classifyOne previews the classification of one email. Nothing is stored.
func (rt *Router) classifyOne(w http.ResponseWriter, r *http.Request) {
	preview, err := rt.inbox.Preview(r.Context(), r.PathValue("email_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (rt *Router) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.stats.GetStats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) exportStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.stats.GetStats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	records, err := rt.records.ListRecords(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="maintenance-stats.xlsx"`)
	if err := report.WriteWorkbook(w, stats, recordSeq(records)); err != nil {
		slog.Error("stats_export_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func recordSeq(records []domain.ProcessingRecord) func(func(domain.ProcessingRecord, error) bool) {
	return func(yield func(domain.ProcessingRecord, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"request_id": requestIDFromContext(r.Context()),
	})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "request_id", requestIDFromContext(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, r, status, err)
}
