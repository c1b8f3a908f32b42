package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const (
	DigestTitle    = "Maintenance Summary"
	RunReportTitle = "Daily Maintenance Report"
)

// ReportUseCase assembles statistics reports and posts them. The writer is
// optional: without one, or when it fails, the report goes out plain.
type ReportUseCase struct {
	store       ports.OutcomeStore
	writer      ports.ReportWriter
	publisher   ports.DigestPublisher
	recentLimit int
	now         func() time.Time
}

func NewReportUseCase(store ports.OutcomeStore, writer ports.ReportWriter, publisher ports.DigestPublisher, recentLimit int) *ReportUseCase {
	if recentLimit <= 0 {
		recentLimit = defaultRecentLimit
	}
	return &ReportUseCase{
		store:       store,
		writer:      writer,
		publisher:   publisher,
		recentLimit: recentLimit,
		now:         time.Now,
	}
}

// BuildDigest reports over every stored record.
func (uc *ReportUseCase) BuildDigest(ctx context.Context) (domain.Report, error) {
	stats, err := Summarize(uc.store.All(ctx), uc.recentLimit)
	if err != nil {
		return domain.Report{}, fmt.Errorf("summarize records: %w", err)
	}
	return uc.build(ctx, DigestTitle, stats, stats.Recent), nil
}

// PublishDigest builds the digest over every stored record and posts it.
func (uc *ReportUseCase) PublishDigest(ctx context.Context) (domain.Reference, error) {
	report, err := uc.BuildDigest(ctx)
	if err != nil {
		return domain.Reference{}, err
	}
	ref, err := uc.publisher.Digest(ctx, report)
	if err != nil {
		return domain.Reference{}, fmt.Errorf("post digest: %w", err)
	}
	slog.Info("digest_posted", "ref", ref.ID, "total", report.Stats.Total, "summarized", report.Summary != "")
	return ref, nil
}

// PublishRunReport posts a report covering the records of one batch. It
// returns false without posting when the batch classified nothing.
func (uc *ReportUseCase) PublishRunReport(ctx context.Context, result *domain.BatchResult) (domain.Reference, bool, error) {
	if result == nil {
		return domain.Reference{}, false, nil
	}
	var issues []domain.RecentActivity
	for _, rec := range result.Records {
		if rec.Classification == nil {
			continue
		}
		issues = append(issues, domain.RecentActivity{
			EmailID:    rec.EmailID,
			Subject:    rec.Subject,
			Sender:     rec.Sender,
			Category:   rec.Classification.Category,
			Priority:   rec.Classification.Priority,
			Status:     rec.Status,
			ReceivedAt: rec.ReceivedAt,
		})
	}
	if len(issues) == 0 {
		return domain.Reference{}, false, nil
	}

	stats, err := Summarize(recordSeq(result.Records), 0)
	if err != nil {
		return domain.Reference{}, false, fmt.Errorf("summarize batch: %w", err)
	}
	report := uc.build(ctx, RunReportTitle, stats, issues)
	ref, err := uc.publisher.Digest(ctx, report)
	if err != nil {
		return domain.Reference{}, false, fmt.Errorf("post run report: %w", err)
	}
	slog.Info("run_report_posted", "ref", ref.ID, "issues", len(issues), "summarized", report.Summary != "")
	return ref, true, nil
}

func (uc *ReportUseCase) build(ctx context.Context, title string, stats domain.Stats, issues []domain.RecentActivity) domain.Report {
	if issues == nil {
		issues = []domain.RecentActivity{}
	}
	report := domain.Report{
		Title:       title,
		GeneratedAt: uc.now().UTC(),
		Stats:       stats,
		Issues:      issues,
	}
	if uc.writer == nil || stats.Total == 0 {
		return report
	}
	summary, err := uc.writer.WriteReport(ctx, report)
	if err != nil {
		slog.Warn("report_summary_failed", "title", title, "error", err)
		return report
	}
	report.Summary = truncateRunes(strings.TrimSpace(summary), domain.MaxReportSummaryLength)
	return report
}

func recordSeq(records []domain.ProcessingRecord) iter.Seq2[domain.ProcessingRecord, error] {
	return func(yield func(domain.ProcessingRecord, error) bool) {
		for _, rec := range records {
			if !yield(rec, nil) {
				return
			}
		}
	}
}
