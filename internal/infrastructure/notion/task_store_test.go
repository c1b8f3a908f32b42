package notion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

func TestCreateTaskPostsPage(t *testing.T) {
	var got map[string]any
	var headers http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/pages" {
			http.NotFound(w, r)
			return
		}
		headers = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"object":"page","id":"page-1","url":"https://www.notion.so/page-1"}`))
	}))
	defer server.Close()

	store := New("secret", "db-1", Options{BaseURL: server.URL})
	email := domain.EmailRecord{
		ID:         "m-1",
		Sender:     "ops@example.com",
		Subject:    strings.Repeat("s", 2500),
		ReceivedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	ref, err := store.CreateTask(context.Background(), email, domain.Classification{
		Category:    domain.CategoryPlumbing,
		Priority:    domain.PriorityHigh,
		Summary:     "Leak",
		RootCause:   "Worn washer",
		ActionItems: []string{"Shut valve", "Replace washer"},
	})
	if err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if ref.ID != "page-1" || ref.URL != "https://www.notion.so/page-1" {
		t.Fatalf("unexpected reference %#v", ref)
	}
	if headers.Get("Authorization") != "Bearer secret" || headers.Get("Notion-Version") != APIVersion {
		t.Fatalf("unexpected headers %v", headers)
	}

	props := got["properties"].(map[string]any)
	title := props["Subject"].(map[string]any)["title"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"].(string)
	if len([]rune(title)) != domain.MaxTextLength {
		t.Fatalf("title should be truncated to %d runes, got %d", domain.MaxTextLength, len([]rune(title)))
	}
	if props["Category"].(map[string]any)["select"].(map[string]any)["name"] != "Plumbing" {
		t.Fatalf("unexpected category property %#v", props["Category"])
	}
	if props["Status"].(map[string]any)["select"].(map[string]any)["name"] != "Open" {
		t.Fatalf("unexpected status property %#v", props["Status"])
	}
	children := got["children"].([]any)
	if len(children) != 6 {
		t.Fatalf("expected 6 body blocks, got %d", len(children))
	}
	actions := children[5].(map[string]any)["paragraph"].(map[string]any)["rich_text"].([]any)[0].(map[string]any)["text"].(map[string]any)["content"]
	if actions != "• Shut valve\n• Replace washer" {
		t.Fatalf("unexpected action items block %q", actions)
	}
}

func TestCreateTaskMapsErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   error
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, kind: domain.ErrUnauthorized},
		{name: "rate limited", status: http.StatusTooManyRequests, kind: domain.ErrTemporary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"object":"error"}`, tt.status)
			}))
			defer server.Close()

			_, err := New("t", "db", Options{BaseURL: server.URL}).CreateTask(context.Background(), domain.EmailRecord{}, domain.Classification{})
			if !domain.IsKind(err, tt.kind) {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestCreateTaskRequiresDatabase(t *testing.T) {
	_, err := New("t", "", Options{}).CreateTask(context.Background(), domain.EmailRecord{}, domain.Classification{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
