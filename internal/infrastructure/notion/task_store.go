package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	APIVersion     = "2022-06-28"

	statusOpen = "Open"
)

// TaskStore files each classified email as a page in a Notion database.
type TaskStore struct {
	baseURL    string
	token      string
	databaseID string
	httpClient *http.Client
	executor   *resilience.Executor
	now        func() time.Time
}

type Options struct {
	BaseURL            string
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(token, databaseID string, options Options) *TaskStore {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TaskStore{
		baseURL:    baseURL,
		token:      token,
		databaseID: databaseID,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
		now:        time.Now,
	}
}

type pageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (s *TaskStore) CreateTask(ctx context.Context, email domain.EmailRecord, cls domain.Classification) (domain.Reference, error) {
	if strings.TrimSpace(s.databaseID) == "" {
		return domain.Reference{}, domain.WrapError(domain.ErrInvalidInput, "notion create task", errors.New("database id is not configured"))
	}
	payload := s.buildPage(email, cls)

	page, err := resilience.Call(ctx, s.executor, "notion.pages.create", func(callCtx context.Context) (pageResponse, error) {
		var out pageResponse
		if err := s.postJSON(callCtx, "/v1/pages", payload, &out); err != nil {
			return pageResponse{}, err
		}
		return out, nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return domain.Reference{}, resilience.WrapHTTPError("notion create task", err)
	}
	if strings.TrimSpace(page.ID) == "" {
		return domain.Reference{}, errors.New("notion create task: response has no page id")
	}
	return domain.Reference{ID: page.ID, URL: page.URL}, nil
}

func (s *TaskStore) buildPage(email domain.EmailRecord, cls domain.Classification) map[string]any {
	date := email.ReceivedAt
	if date.IsZero() {
		date = s.now()
	}
	bullets := make([]string, 0, len(cls.ActionItems))
	for _, item := range cls.ActionItems {
		bullets = append(bullets, "• "+item)
	}

	return map[string]any{
		"parent": map[string]any{"database_id": s.databaseID},
		"properties": map[string]any{
			"Subject":  map[string]any{"title": richText(email.Subject)},
			"Category": map[string]any{"select": map[string]string{"name": string(cls.Category)}},
			"Priority": map[string]any{"select": map[string]string{"name": string(cls.Priority)}},
			"Sender":   map[string]any{"rich_text": richText(email.Sender)},
			"Date":     map[string]any{"date": map[string]string{"start": date.UTC().Format(time.RFC3339)}},
			"Status":   map[string]any{"select": map[string]string{"name": statusOpen}},
		},
		"children": []any{
			heading("📋 Summary"),
			paragraph(cls.Summary),
			heading("🔍 Root Cause"),
			paragraph(cls.RootCause),
			heading("✅ Action Items"),
			paragraph(strings.Join(bullets, "\n")),
		},
	}
}

func richText(content string) []any {
	return []any{map[string]any{
		"type": "text",
		"text": map[string]string{"content": truncate(content, domain.MaxTextLength)},
	}}
}

func heading(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "heading_2",
		"heading_2": map[string]any{"rich_text": richText(text)},
	}
}

func paragraph(text string) map[string]any {
	return map[string]any{
		"object":    "block",
		"type":      "paragraph",
		"paragraph": map[string]any{"rich_text": richText(text)},
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func (s *TaskStore) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Notion-Version", APIVersion)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("notion", "pages.create", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode notion response: %w", err)
	}
	return nil
}
