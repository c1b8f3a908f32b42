package slack

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

const DefaultBaseURL = "https://slack.com/api"

// Notifier posts Block Kit messages to one channel with a bot token.
type Notifier struct {
	baseURL    string
	token      string
	channel    string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	BaseURL            string
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
}

func New(token, channel string, options Options) *Notifier {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Notifier{
		baseURL:    baseURL,
		token:      token,
		channel:    channel,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
	}
}

// APIError is a chat.postMessage reply with ok=false.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return "slack api error: " + e.Code
}

type message struct {
	Channel string  `json:"channel"`
	Text    string  `json:"text"`
	Blocks  []block `json:"blocks"`
}

type block struct {
	Type   string  `json:"type"`
	Text   *text   `json:"text,omitempty"`
	Fields []*text `json:"fields,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type postResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	TS      string `json:"ts"`
	Channel string `json:"channel"`
}

func (n *Notifier) Notify(ctx context.Context, notification domain.Notification) (domain.Reference, error) {
	return n.post(ctx, buildNotification(n.channel, notification))
}

// Digest posts a statistics report, with the model summary when present.
func (n *Notifier) Digest(ctx context.Context, report domain.Report) (domain.Reference, error) {
	return n.post(ctx, buildDigest(n.channel, report))
}

func (n *Notifier) post(ctx context.Context, msg message) (domain.Reference, error) {
	if strings.TrimSpace(n.channel) == "" {
		return domain.Reference{}, domain.WrapError(domain.ErrInvalidInput, "slack post message", errors.New("channel is not configured"))
	}
	resp, err := resilience.Call(ctx, n.executor, "slack.chat.postMessage", func(callCtx context.Context) (postResponse, error) {
		return n.postMessage(callCtx, msg)
	}, classifySlackError)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case isAuthError(apiErr.Code):
				return domain.Reference{}, domain.WrapError(domain.ErrUnauthorized, "slack post message", err)
			case classifySlackError(err).Retryable:
				return domain.Reference{}, domain.WrapError(domain.ErrTemporary, "slack post message", err)
			}
			return domain.Reference{}, fmt.Errorf("slack post message: %w", err)
		}
		return domain.Reference{}, resilience.WrapHTTPError("slack post message", err)
	}
	return domain.Reference{ID: resp.TS}, nil
}

func (n *Notifier) postMessage(ctx context.Context, msg message) (postResponse, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return postResponse{}, fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return postResponse{}, fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return postResponse{}, fmt.Errorf("slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return postResponse{}, resilience.NewHTTPStatusError("slack", "chat.postMessage", resp)
	}
	var out postResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return postResponse{}, fmt.Errorf("decode slack response: %w", err)
	}
	if !out.OK {
		return postResponse{}, &APIError{Code: out.Error}
	}
	return out, nil
}

func classifySlackError(err error) resilience.ErrorClassification {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == "ratelimited" || apiErr.Code == "service_unavailable" || apiErr.Code == "internal_error"
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	return resilience.ClassifyHTTPError(err)
}

func isAuthError(code string) bool {
	switch code {
	case "not_authed", "invalid_auth", "account_inactive", "token_revoked", "token_expired", "missing_scope":
		return true
	default:
		return false
	}
}

func buildNotification(channel string, n domain.Notification) message {
	cls := n.Classification
	categoryEmoji := cls.Category.Emoji()
	priorityEmoji := cls.Priority.Emoji()

	bullets := make([]string, 0, len(cls.ActionItems))
	for _, item := range cls.ActionItems {
		bullets = append(bullets, "• "+item)
	}
	actions := strings.Join(bullets, "\n")
	if actions == "" {
		actions = "_none_"
	}

	blocks := []block{
		{Type: "header", Text: &text{Type: "plain_text", Text: categoryEmoji + " New Maintenance Request"}},
		{Type: "section", Fields: []*text{
			{Type: "mrkdwn", Text: fmt.Sprintf("*Category:*\n%s %s", categoryEmoji, cls.Category)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Priority:*\n%s %s", priorityEmoji, cls.Priority)},
		}},
		mrkdwn(fmt.Sprintf("*Subject:*\n%s\n*From:* %s", n.Email.Subject, n.Email.Sender)),
		{Type: "divider"},
		mrkdwn("*📋 Summary:*\n" + orPlaceholder(cls.Summary)),
		mrkdwn("*🔍 Root Cause:*\n" + orPlaceholder(cls.RootCause)),
		mrkdwn("*✅ Action Items:*\n" + actions),
	}
	switch {
	case n.TaskRef != nil && n.TaskRef.URL != "":
		blocks = append(blocks, mrkdwn(fmt.Sprintf("*Task:* <%s|%s>", n.TaskRef.URL, n.TaskRef.ID)))
	case n.TaskRef != nil:
		blocks = append(blocks, mrkdwn("*Task:* "+n.TaskRef.ID))
	case n.FilingError != "":
		blocks = append(blocks, mrkdwn("⚠️ *Task was not filed:* "+n.FilingError))
	}

	return message{
		Channel: channel,
		Text:    fmt.Sprintf("%s %s - %s Priority: %s", categoryEmoji, cls.Category, cls.Priority, n.Email.Subject),
		Blocks:  blocks,
	}
}

func buildDigest(channel string, report domain.Report) message {
	stats := report.Stats
	title := report.Title
	if strings.TrimSpace(title) == "" {
		title = "Maintenance Summary"
	}

	var categories []string
	for _, share := range stats.CategoryBreakdown {
		if share.Count == 0 {
			continue
		}
		categories = append(categories, fmt.Sprintf("%s %s: %d (%.1f%%)", share.Emoji, share.Category, share.Count, share.Percentage))
	}
	if len(categories) == 0 {
		categories = append(categories, "_no classified requests_")
	}

	var priorities []string
	for _, p := range domain.Priorities() {
		priorities = append(priorities, fmt.Sprintf("%s %s: %d", p.Emoji(), p, stats.ByPriority[p]))
	}

	var issues []string
	for _, item := range report.TopIssues() {
		issues = append(issues, fmt.Sprintf("• %s %s [%s %s] (%s)", item.Category.Emoji(), item.Subject, item.Priority.Emoji(), item.Priority, item.Status))
	}
	if len(issues) == 0 {
		issues = append(issues, "_nothing yet_")
	}

	blocks := []block{
		{Type: "header", Text: &text{Type: "plain_text", Text: "📊 " + title}},
		mrkdwn("📅 " + report.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC")),
		{Type: "section", Fields: []*text{
			{Type: "mrkdwn", Text: fmt.Sprintf("*Total:*\n%d", stats.Total)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Degraded:*\n%d", stats.Degraded)},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Completed:*\n%d", stats.ByOutcome[domain.StatusCompleted])},
			{Type: "mrkdwn", Text: fmt.Sprintf("*Partially failed:*\n%d", stats.ByOutcome[domain.StatusPartiallyFailed])},
		}},
		mrkdwn("*By category:*\n" + strings.Join(categories, "\n")),
		mrkdwn("*By priority:*\n" + strings.Join(priorities, "\n")),
	}
	if summary := strings.TrimSpace(report.Summary); summary != "" {
		blocks = append(blocks, block{Type: "divider"}, mrkdwn("*📝 Executive summary:*\n"+summary))
	}
	blocks = append(blocks, block{Type: "divider"}, mrkdwn("*🚨 Top issues:*\n"+strings.Join(issues, "\n")))

	return message{
		Channel: channel,
		Text:    fmt.Sprintf("📊 %s: %d requests", title, stats.Total),
		Blocks:  blocks,
	}
}

func mrkdwn(s string) block {
	return block{Type: "section", Text: &text{Type: "mrkdwn", Text: truncate(s, 3000)}}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "_n/a_"
	}
	return s
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
