package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

// MailboxPoller hands unread mail to workers through the queue. Emails that
// already completed are skipped, so unread mail is published at most until
// some worker finishes it.
type MailboxPoller struct {
	source     ports.EmailSource
	store      ports.OutcomeStore
	queue      ports.MessageQueue
	maxResults int
}

func NewMailboxPoller(source ports.EmailSource, store ports.OutcomeStore, queue ports.MessageQueue, maxResults int) *MailboxPoller {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &MailboxPoller{source: source, store: store, queue: queue, maxResults: maxResults}
}

// PollOnce publishes the ids of up to maxResults unread emails. It stops at
// the first source or queue error and reports how many were published.
func (p *MailboxPoller) PollOnce(ctx context.Context) (int, error) {
	published := 0
	for email, err := range p.source.FetchUnread(ctx, p.maxResults) {
		if err != nil {
			return published, fmt.Errorf("fetch unread: %w", err)
		}
		rec, err := p.store.Get(ctx, email.ID)
		switch {
		case err == nil && rec.Status == domain.StatusCompleted:
			continue
		case err != nil && !domain.IsKind(err, domain.ErrRecordNotFound):
			return published, fmt.Errorf("load record: %w", err)
		}
		if err := p.queue.PublishEmailReceived(ctx, email.ID); err != nil {
			return published, fmt.Errorf("publish %s: %w", email.ID, err)
		}
		published++
	}
	return published, nil
}

// Run polls immediately and then every interval until ctx is done. report is
// called after each poll.
func (p *MailboxPoller) Run(ctx context.Context, interval time.Duration, report func(published int, err error)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		published, err := p.PollOnce(ctx)
		if report != nil && ctx.Err() == nil {
			report(published, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
