package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/infrastructure/resilience"
)

const (
	DefaultBaseURL = "https://gmail.googleapis.com"
	TokenURL       = "https://oauth2.googleapis.com/token"

	unreadQuery = "is:unread"
	maxPageSize = 100
)

type Source struct {
	baseURL    string
	user       string
	httpClient *http.Client
	executor   *resilience.Executor
	logger     *slog.Logger
}

type Options struct {
	BaseURL            string
	User               string
	HTTPClient         *http.Client
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

// NewOAuthClient returns an HTTP client that refreshes Gmail access tokens
// from a long-lived refresh token.
func NewOAuthClient(ctx context.Context, clientID, clientSecret, refreshToken string) *http.Client {
	cfg := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: TokenURL},
		Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
	client := cfg.Client(ctx, &oauth2.Token{RefreshToken: refreshToken})
	client.Timeout = 30 * time.Second
	return client
}

func New(options Options) *Source {
	baseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	user := strings.TrimSpace(options.User)
	if user == "" {
		user = "me"
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		baseURL:    baseURL,
		user:       user,
		httpClient: httpClient,
		executor:   options.ResilienceExecutor,
		logger:     logger,
	}
}

type messageRef struct {
	ID string `json:"id"`
}

type listResponse struct {
	Messages      []messageRef `json:"messages"`
	NextPageToken string       `json:"nextPageToken"`
}

type header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type messagePart struct {
	MimeType string        `json:"mimeType"`
	Headers  []header      `json:"headers"`
	Body     partBody      `json:"body"`
	Parts    []messagePart `json:"parts"`
}

type partBody struct {
	Data string `json:"data"`
}

type message struct {
	ID           string      `json:"id"`
	Snippet      string      `json:"snippet"`
	InternalDate string      `json:"internalDate"`
	Payload      messagePart `json:"payload"`
}

// FetchUnread pages through unread messages lazily, fetching each one in full
// before yielding it. Iteration stops after limit messages.
func (s *Source) FetchUnread(ctx context.Context, limit int) iter.Seq2[domain.EmailRecord, error] {
	return func(yield func(domain.EmailRecord, error) bool) {
		if limit <= 0 {
			return
		}
		emitted := 0
		pageToken := ""
		for {
			page, err := s.listPage(ctx, min(limit-emitted, maxPageSize), pageToken)
			if err != nil {
				yield(domain.EmailRecord{}, err)
				return
			}
			for _, ref := range page.Messages {
				email, err := s.Fetch(ctx, ref.ID)
				if err != nil {
					if domain.IsKind(err, domain.ErrRecordNotFound) {
						s.logger.Warn("gmail_message_vanished", "email_id", ref.ID)
						continue
					}
					yield(domain.EmailRecord{}, err)
					return
				}
				if !yield(email, nil) {
					return
				}
				emitted++
				if emitted >= limit {
					return
				}
			}
			if page.NextPageToken == "" || len(page.Messages) == 0 {
				return
			}
			pageToken = page.NextPageToken
		}
	}
}

func (s *Source) listPage(ctx context.Context, size int, pageToken string) (listResponse, error) {
	query := url.Values{}
	query.Set("q", unreadQuery)
	query.Set("maxResults", strconv.Itoa(size))
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}
	endpoint := fmt.Sprintf("%s/gmail/v1/users/%s/messages?%s", s.baseURL, url.PathEscape(s.user), query.Encode())

	page, err := resilience.Call(ctx, s.executor, "gmail.list", func(callCtx context.Context) (listResponse, error) {
		var out listResponse
		if err := s.getJSON(callCtx, endpoint, "list", &out); err != nil {
			return listResponse{}, err
		}
		return out, nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		return listResponse{}, resilience.WrapHTTPError("gmail list messages", err)
	}
	return page, nil
}

func (s *Source) Fetch(ctx context.Context, emailID string) (domain.EmailRecord, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return domain.EmailRecord{}, domain.WrapError(domain.ErrInvalidInput, "gmail fetch", errors.New("email id is required"))
	}
	endpoint := fmt.Sprintf("%s/gmail/v1/users/%s/messages/%s?format=full",
		s.baseURL, url.PathEscape(s.user), url.PathEscape(emailID))

	msg, err := resilience.Call(ctx, s.executor, "gmail.get", func(callCtx context.Context) (message, error) {
		var out message
		if err := s.getJSON(callCtx, endpoint, "get", &out); err != nil {
			return message{}, err
		}
		return out, nil
	}, resilience.ClassifyHTTPError)
	if err != nil {
		var statusErr *resilience.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return domain.EmailRecord{}, domain.WrapError(domain.ErrRecordNotFound, "gmail fetch", err)
		}
		return domain.EmailRecord{}, resilience.WrapHTTPError("gmail fetch", err)
	}
	return toEmailRecord(msg), nil
}

func (s *Source) getJSON(ctx context.Context, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resilience.NewHTTPStatusError("gmail", operation, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func toEmailRecord(msg message) domain.EmailRecord {
	subject := headerValue(msg.Payload.Headers, "Subject")
	if subject == "" {
		subject = "(No Subject)"
	}
	sender := headerValue(msg.Payload.Headers, "From")
	if sender == "" {
		sender = "(Unknown)"
	}

	body := plainBody(msg.Payload)
	if body == "" {
		body = strings.TrimSpace(msg.Snippet)
	}

	return domain.EmailRecord{
		ID:         msg.ID,
		Sender:     sender,
		Subject:    subject,
		Body:       body,
		ReceivedAt: receivedAt(msg),
	}
}

func headerValue(headers []header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return strings.TrimSpace(h.Value)
		}
	}
	return ""
}

func receivedAt(msg message) time.Time {
	if raw := headerValue(msg.Payload.Headers, "Date"); raw != "" {
		if ts, err := mail.ParseDate(raw); err == nil {
			return ts.UTC()
		}
	}
	if ms, err := strconv.ParseInt(msg.InternalDate, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// plainBody prefers the first text/plain part and falls back to stripped
// text/html.
func plainBody(part messagePart) string {
	if text := findPart(part, "text/plain"); text != "" {
		return strings.TrimSpace(text)
	}
	if markup := findPart(part, "text/html"); markup != "" {
		return htmlToText(markup)
	}
	return ""
}

func findPart(part messagePart, mimeType string) string {
	if strings.EqualFold(part.MimeType, mimeType) && part.Body.Data != "" {
		if decoded, ok := decodeBase64URL(part.Body.Data); ok {
			return decoded
		}
	}
	for _, child := range part.Parts {
		if text := findPart(child, mimeType); text != "" {
			return text
		}
	}
	return ""
}

func decodeBase64URL(data string) (string, bool) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded), true
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(decoded), true
	}
	return "", false
}
