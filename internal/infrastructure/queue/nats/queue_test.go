package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

func TestEmailReceivedRoundTrip(t *testing.T) {
	payload, err := encodeEmailReceived("18c2f0a1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("encodeEmailReceived() error = %v", err)
	}
	id, err := decodeEmailReceived(payload)
	if err != nil || id != "18c2f0a1" {
		t.Fatalf("decodeEmailReceived() = %q, %v", id, err)
	}
}

func TestEmailReceivedWireFormat(t *testing.T) {
	payload, err := encodeEmailReceived("m-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("encodeEmailReceived() error = %v", err)
	}
	want := `{"email_id":"m-1","published_at":"2026-01-01T00:00:00Z"}`
	if string(payload) != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}

func TestDecodeEmailReceivedAcceptsBareID(t *testing.T) {
	id, err := decodeEmailReceived([]byte("  m-1\n"))
	if err != nil || id != "m-1" {
		t.Fatalf("decodeEmailReceived() = %q, %v", id, err)
	}
}

func TestDecodeEmailReceivedRejectsInvalid(t *testing.T) {
	for _, raw := range []string{"", "{", `{"published_at":"2026-01-01T00:00:00Z"}`} {
		if _, err := decodeEmailReceived([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestPublishErrorMarksConnectionFailuresTemporary(t *testing.T) {
	err := publishError("m-1", fmt.Errorf("nats publish: %w", nats.ErrConnectionClosed))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "email_id=m-1") {
		t.Fatalf("expected email id in error, got %v", err)
	}

	permanent := errors.New("invalid subject")
	if got := publishError("m-1", permanent); got != permanent {
		t.Fatalf("permanent error must pass through unchanged, got %v", got)
	}
	if publishError("m-1", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestClassifyPublishError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{name: "canceled", err: context.Canceled},
		{name: "deadline", err: fmt.Errorf("publish: %w", context.DeadlineExceeded)},
		{name: "no servers", err: nats.ErrNoServers, retryable: true, record: true},
		{name: "stale", err: fmt.Errorf("publish: %w", nats.ErrStaleConnection), retryable: true, record: true},
		{name: "bad subject", err: nats.ErrBadSubject, record: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := classifyPublishError(tc.err)
			if class.Retryable != tc.retryable || class.RecordFailure != tc.record {
				t.Fatalf("classifyPublishError(%v) = %#v", tc.err, class)
			}
		})
	}
}
