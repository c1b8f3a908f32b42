package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const (
	MaxInboxResults = 500
	snippetLength   = 200
)

// InboxUseCase reads the mailbox and the model without touching the outcome
// store, the task store or the team channel.
type InboxUseCase struct {
	source  ports.EmailSource
	model   ports.ClassificationModel
	store   ports.OutcomeStore
	timeout time.Duration
}

func NewInboxUseCase(source ports.EmailSource, model ports.ClassificationModel, store ports.OutcomeStore, timeout time.Duration) *InboxUseCase {
	return &InboxUseCase{source: source, model: model, store: store, timeout: timeout}
}

// ListUnread returns up to limit unread messages, each flagged with whether a
// processing record already exists for it.
func (uc *InboxUseCase) ListUnread(ctx context.Context, limit int) ([]domain.InboxItem, error) {
	if limit <= 0 {
		limit = defaultMaxResults
	}
	if limit > MaxInboxResults {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list inbox", fmt.Errorf("max_results must be at most %d", MaxInboxResults))
	}

	items := make([]domain.InboxItem, 0, limit)
	for email, err := range uc.source.FetchUnread(ctx, limit) {
		if err != nil {
			return nil, fmt.Errorf("fetch unread emails: %w", err)
		}
		processed, err := uc.store.Exists(ctx, email.ID)
		if err != nil {
			return nil, fmt.Errorf("check record %s: %w", email.ID, err)
		}
		items = append(items, domain.InboxItem{
			ID:         email.ID,
			Sender:     email.Sender,
			Subject:    email.Subject,
			Snippet:    truncateRunes(strings.Join(strings.Fields(email.Body), " "), snippetLength),
			ReceivedAt: email.ReceivedAt,
			Processed:  processed,
		})
	}
	return items, nil
}

// Preview fetches and classifies one email. Nothing is recorded, filed,
// archived or announced, so it is safe to call repeatedly.
func (uc *InboxUseCase) Preview(ctx context.Context, emailID string) (*domain.Preview, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "preview email", errors.New("email id is required"))
	}

	email, err := uc.source.Fetch(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("fetch email %s: %w", emailID, err)
	}

	classifyCtx := ctx
	if uc.timeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, uc.timeout)
		defer cancel()
	}
	raw, err := uc.model.Classify(classifyCtx, email.Subject, email.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCollaborator, "preview email", err)
	}
	cls, err := NormalizeClassification(raw)
	if err != nil {
		return nil, err
	}
	return &domain.Preview{Email: email, Classification: cls}, nil
}
