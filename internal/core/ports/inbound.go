package ports

import (
	"context"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

// EmailProcessor is the inbound contract for running the pipeline.
type EmailProcessor interface {
	ProcessOne(ctx context.Context, emailID string) (*domain.ProcessingRecord, error)
	ProcessUnread(ctx context.Context, opts domain.BatchOptions) (*domain.BatchResult, error)
}

// RecordReader is the inbound read model for processing records.
type RecordReader interface {
	GetRecord(ctx context.Context, emailID string) (*domain.ProcessingRecord, error)
	ListRecords(ctx context.Context) ([]domain.ProcessingRecord, error)
}

// StatsProvider is the inbound contract for dashboard statistics.
type StatsProvider interface {
	GetStats(ctx context.Context) (domain.Stats, error)
}

// InboxReader looks at unread mail without recording anything.
type InboxReader interface {
	ListUnread(ctx context.Context, limit int) ([]domain.InboxItem, error)
	Preview(ctx context.Context, emailID string) (*domain.Preview, error)
}

// ReportPublisher posts statistics reports to the team channel.
type ReportPublisher interface {
	PublishDigest(ctx context.Context) (domain.Reference, error)
}
