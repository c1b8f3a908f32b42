package ports

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

// OutcomeStore persists processing records keyed by email id.
// Implementations serialize structural mutations and return copies.
type OutcomeStore interface {
	Exists(ctx context.Context, emailID string) (bool, error)
	Get(ctx context.Context, emailID string) (*domain.ProcessingRecord, error)
	Create(ctx context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error)
	SaveClassification(ctx context.Context, emailID string, cls domain.Classification) error
	SaveTaskReference(ctx context.Context, emailID string, ref domain.Reference) error
	SaveNotificationReference(ctx context.Context, emailID string, ref domain.Reference) error
	AppendOutcome(ctx context.Context, emailID string, outcome domain.StageOutcome) (*domain.ProcessingRecord, error)
	All(ctx context.Context) iter.Seq2[domain.ProcessingRecord, error]
}

// EmailSource reads maintenance requests from the mailbox.
type EmailSource interface {
	FetchUnread(ctx context.Context, limit int) iter.Seq2[domain.EmailRecord, error]
	Fetch(ctx context.Context, emailID string) (domain.EmailRecord, error)
}

// ClassificationModel returns the raw model response for an email.
type ClassificationModel interface {
	Classify(ctx context.Context, subject, body string) (string, error)
}

// TaskStore files a tracking record for a classified email.
type TaskStore interface {
	CreateTask(ctx context.Context, email domain.EmailRecord, cls domain.Classification) (domain.Reference, error)
}

// Notifier announces a processed email on the team channel.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) (domain.Reference, error)
}

// EmailLocker serializes processing of a single email id.
type EmailLocker interface {
	Lock(ctx context.Context, emailID string) (unlock func(), err error)
}

// MessageQueue distributes email ids to workers.
type MessageQueue interface {
	PublishEmailReceived(ctx context.Context, emailID string) error
	SubscribeEmailReceived(ctx context.Context, handler func(context.Context, string) error) error
}

// ObjectStorage keeps raw model responses for later inspection.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// PipelineObserver receives pipeline telemetry.
type PipelineObserver interface {
	ObserveStage(stage domain.Stage, status domain.OutcomeStatus, duration time.Duration)
	ObserveRecord(status domain.RecordStatus, duration time.Duration)
	ObserveDegraded(reasons []string)
}

// DigestPublisher posts a statistics report to the team channel.
type DigestPublisher interface {
	Digest(ctx context.Context, report domain.Report) (domain.Reference, error)
}

// ReportWriter drafts the narrative section of a report.
type ReportWriter interface {
	WriteReport(ctx context.Context, report domain.Report) (string, error)
}
