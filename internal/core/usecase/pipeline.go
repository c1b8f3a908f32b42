package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

const (
	defaultBatchConcurrency = 4
	defaultMaxResults       = 10
	defaultInFlightLease    = 5 * time.Minute
	suppressedNotification  = "suppressed"
)

type PipelineOptions struct {
	StageTimeout     time.Duration
	BatchConcurrency int
	Locker           ports.EmailLocker
	Archive          ports.ObjectStorage
	Observer         ports.PipelineObserver
	// InFlightLease is how long a pending record is considered owned by the
	// run that last touched it. Defaults to the larger of five minutes and
	// twice StageTimeout.
	InFlightLease time.Duration
}

// PipelineUseCase drives emails through classify, file and notify, recording
// every stage attempt in the outcome store.
type PipelineUseCase struct {
	store    ports.OutcomeStore
	source   ports.EmailSource
	model    ports.ClassificationModel
	tasks    ports.TaskStore
	notifier ports.Notifier

	locker           ports.EmailLocker
	archive          ports.ObjectStorage
	observer         ports.PipelineObserver
	stages           *StageExecutor
	batchConcurrency int
	inFlightLease    time.Duration
	now              func() time.Time
}

func NewPipelineUseCase(
	store ports.OutcomeStore,
	source ports.EmailSource,
	model ports.ClassificationModel,
	tasks ports.TaskStore,
	notifier ports.Notifier,
	opts PipelineOptions,
) *PipelineUseCase {
	locker := opts.Locker
	if locker == nil {
		locker = NewKeyedLocker()
	}
	concurrency := opts.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	lease := opts.InFlightLease
	if lease <= 0 {
		lease = max(defaultInFlightLease, 2*opts.StageTimeout)
	}
	return &PipelineUseCase{
		store:            store,
		source:           source,
		model:            model,
		tasks:            tasks,
		notifier:         notifier,
		locker:           locker,
		archive:          opts.Archive,
		observer:         opts.Observer,
		stages:           NewStageExecutor(opts.StageTimeout, opts.Observer),
		batchConcurrency: concurrency,
		inFlightLease:    lease,
		now:              time.Now,
	}
}

type processOptions struct {
	sendNotifications bool
}

// Process runs the pipeline for one fetched email. A completed record is
// returned unchanged; a partially-failed one resumes at the missing stages.
// Stage failures are reported through the record, not the error.
func (uc *PipelineUseCase) Process(ctx context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error) {
	return uc.process(ctx, email, processOptions{sendNotifications: true})
}

// ProcessOne processes the email with the given id, fetching it from the
// source unless it is already completed.
func (uc *PipelineUseCase) ProcessOne(ctx context.Context, emailID string) (*domain.ProcessingRecord, error) {
	emailID = strings.TrimSpace(emailID)
	if emailID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process email", errors.New("email id is required"))
	}

	existing, err := uc.store.Get(ctx, emailID)
	switch {
	case err == nil && existing.Status == domain.StatusCompleted:
		return existing, nil
	case err != nil && !domain.IsKind(err, domain.ErrRecordNotFound):
		return nil, fmt.Errorf("load record: %w", err)
	}

	email, err := uc.source.Fetch(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("fetch email %s: %w", emailID, err)
	}
	return uc.Process(ctx, email)
}

// ProcessBatch processes emails concurrently. Per-email failures are collected
// in the result; the returned error is non-nil only when ctx ends the batch.
func (uc *PipelineUseCase) ProcessBatch(ctx context.Context, emails []domain.EmailRecord, opts domain.BatchOptions) (*domain.BatchResult, error) {
	seq := func(yield func(domain.EmailRecord, error) bool) {
		for _, email := range emails {
			if !yield(email, nil) {
				return
			}
		}
	}
	return uc.runBatch(ctx, seq, processOptions{sendNotifications: opts.SendNotifications})
}

// ProcessUnread fetches up to opts.MaxResults unread emails and processes them
// as a batch while the source is still being paged.
func (uc *PipelineUseCase) ProcessUnread(ctx context.Context, opts domain.BatchOptions) (*domain.BatchResult, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}
	return uc.runBatch(ctx, uc.source.FetchUnread(ctx, limit), processOptions{sendNotifications: opts.SendNotifications})
}

func (uc *PipelineUseCase) GetRecord(ctx context.Context, emailID string) (*domain.ProcessingRecord, error) {
	return uc.store.Get(ctx, emailID)
}

// ListRecords returns every record, newest first.
func (uc *PipelineUseCase) ListRecords(ctx context.Context) ([]domain.ProcessingRecord, error) {
	out := make([]domain.ProcessingRecord, 0)
	for rec, err := range uc.store.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		out = append(out, rec)
	}
	slices.Reverse(out)
	return out, nil
}

func (uc *PipelineUseCase) runBatch(ctx context.Context, emails iter.Seq2[domain.EmailRecord, error], opts processOptions) (*domain.BatchResult, error) {
	result := &domain.BatchResult{Records: []domain.ProcessingRecord{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.batchConcurrency)

	var sourceErr error
	for email, err := range emails {
		if err != nil {
			sourceErr = fmt.Errorf("fetch unread emails: %w", err)
			break
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := uc.process(gctx, email, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Error("email_process_failed", "email_id", email.ID, "error", err)
				result.Errors = append(result.Errors, domain.BatchError{EmailID: email.ID, Error: err.Error()})
				return nil
			}
			result.Records = append(result.Records, *rec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	if sourceErr != nil {
		return result, sourceErr
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (uc *PipelineUseCase) process(ctx context.Context, email domain.EmailRecord, opts processOptions) (*domain.ProcessingRecord, error) {
	if strings.TrimSpace(email.ID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "process email", errors.New("email id is required"))
	}

	unlock, err := uc.locker.Lock(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("lock email %s: %w", email.ID, err)
	}
	defer unlock()

	start := time.Now()
	record, err := uc.loadOrCreate(ctx, email)
	if err != nil {
		return nil, err
	}
	if record.Status == domain.StatusCompleted {
		slog.Debug("email_already_processed", "email_id", email.ID)
		return record, nil
	}
	if len(record.Outcomes) > 0 {
		slog.Info("email_resumed", "email_id", email.ID, "status", string(record.Status))
	}

	record, err = uc.runStages(ctx, email, record, opts)
	if err != nil {
		return nil, err
	}

	if uc.observer != nil {
		uc.observer.ObserveRecord(record.Status, time.Since(start))
	}
	slog.Info("email_processed",
		"email_id", email.ID,
		"status", string(record.Status),
		"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
	)
	return record, nil
}

// loadOrCreate returns the record to work on. Creating a record that already
// exists, or finding a pending one still inside its lease, means another
// worker owns the email and yields ErrDuplicateRecord.
func (uc *PipelineUseCase) loadOrCreate(ctx context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error) {
	record, err := uc.store.Get(ctx, email.ID)
	switch {
	case err == nil:
		if record.Status == domain.StatusPending {
			if idle := uc.now().Sub(record.UpdatedAt); idle < uc.inFlightLease {
				return nil, domain.WrapError(domain.ErrDuplicateRecord, "process email",
					fmt.Errorf("email_id=%s is in flight, last update %s ago", email.ID, idle.Round(time.Second)))
			}
			slog.Warn("email_lease_expired", "email_id", email.ID, "updated_at", record.UpdatedAt)
		}
		return record, nil
	case !domain.IsKind(err, domain.ErrRecordNotFound):
		return nil, fmt.Errorf("load record: %w", err)
	}

	record, err = uc.store.Create(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return record, nil
}

func (uc *PipelineUseCase) runStages(
	ctx context.Context,
	email domain.EmailRecord,
	record *domain.ProcessingRecord,
	opts processOptions,
) (*domain.ProcessingRecord, error) {
	cls, record, ok, err := uc.classifyStage(ctx, email, record)
	if err != nil || !ok {
		return record, err
	}

	taskRef, filingErr, record, err := uc.fileStage(ctx, email, cls, record)
	if err != nil {
		return nil, err
	}

	return uc.notifyStage(ctx, domain.Notification{
		Email:          email,
		Classification: cls,
		TaskRef:        taskRef,
		FilingError:    filingErr,
	}, record, opts)
}

func (uc *PipelineUseCase) classifyStage(
	ctx context.Context,
	email domain.EmailRecord,
	record *domain.ProcessingRecord,
) (domain.Classification, *domain.ProcessingRecord, bool, error) {
	if record.StageSucceeded(domain.StageClassify) && record.Classification != nil {
		return record.Classification.Clone(), record, true, nil
	}

	outcome, cls, ok := RunStage(ctx, uc.stages, email.ID, domain.StageClassify, func(stageCtx context.Context) (domain.Classification, error) {
		return uc.classify(stageCtx, email)
	})
	if ok {
		if err := uc.store.SaveClassification(ctx, email.ID, cls); err != nil {
			return domain.Classification{}, nil, false, fmt.Errorf("save classification: %w", err)
		}
	}

	updated, err := uc.store.AppendOutcome(ctx, email.ID, outcome)
	if err != nil {
		return domain.Classification{}, nil, false, fmt.Errorf("append classify outcome: %w", err)
	}
	return cls, updated, ok, nil
}

func (uc *PipelineUseCase) classify(ctx context.Context, email domain.EmailRecord) (domain.Classification, error) {
	raw, err := uc.model.Classify(ctx, email.Subject, email.Body)
	if err != nil {
		return domain.Classification{}, domain.WrapError(domain.ErrCollaborator, "classify email", err)
	}

	cls, err := NormalizeClassification(raw)
	if err != nil {
		reason := "unparsed"
		if errors.Is(err, ErrOversizedResponse) {
			reason = "oversized"
		}
		uc.archiveRawResponse(ctx, email.ID, reason, raw)
		return domain.Classification{}, err
	}
	if cls.Degraded {
		slog.Warn("classification_degraded", "email_id", email.ID, "reasons", cls.DegradedReasons)
		if uc.observer != nil {
			uc.observer.ObserveDegraded(cls.DegradedReasons)
		}
		uc.archiveRawResponse(ctx, email.ID, "degraded", raw)
	}
	return cls, nil
}

func (uc *PipelineUseCase) fileStage(
	ctx context.Context,
	email domain.EmailRecord,
	cls domain.Classification,
	record *domain.ProcessingRecord,
) (*domain.Reference, string, *domain.ProcessingRecord, error) {
	if record.StageSucceeded(domain.StageFile) {
		return record.TaskRef, "", record, nil
	}

	outcome, ref, ok := RunStage(ctx, uc.stages, email.ID, domain.StageFile, func(stageCtx context.Context) (domain.Reference, error) {
		ref, err := uc.tasks.CreateTask(stageCtx, email, cls)
		if err != nil {
			return domain.Reference{}, domain.WrapError(domain.ErrCollaborator, "file task", err)
		}
		return ref, nil
	})

	var taskRef *domain.Reference
	filingErr := ""
	if ok {
		if err := uc.store.SaveTaskReference(ctx, email.ID, ref); err != nil {
			return nil, "", nil, fmt.Errorf("save task reference: %w", err)
		}
		taskRef = &ref
	} else {
		filingErr = outcome.Error
	}

	updated, err := uc.store.AppendOutcome(ctx, email.ID, outcome)
	if err != nil {
		return nil, "", nil, fmt.Errorf("append file outcome: %w", err)
	}
	return taskRef, filingErr, updated, nil
}

func (uc *PipelineUseCase) notifyStage(
	ctx context.Context,
	n domain.Notification,
	record *domain.ProcessingRecord,
	opts processOptions,
) (*domain.ProcessingRecord, error) {
	if record.StageSucceeded(domain.StageNotify) {
		return record, nil
	}

	outcome, ref, ok := RunStage(ctx, uc.stages, n.Email.ID, domain.StageNotify, func(stageCtx context.Context) (domain.Reference, error) {
		if !opts.sendNotifications {
			return domain.Reference{ID: suppressedNotification}, nil
		}
		ref, err := uc.notifier.Notify(stageCtx, n)
		if err != nil {
			return domain.Reference{}, domain.WrapError(domain.ErrCollaborator, "notify channel", err)
		}
		return ref, nil
	})
	if ok {
		if err := uc.store.SaveNotificationReference(ctx, n.Email.ID, ref); err != nil {
			return nil, fmt.Errorf("save notification reference: %w", err)
		}
	}

	updated, err := uc.store.AppendOutcome(ctx, n.Email.ID, outcome)
	if err != nil {
		return nil, fmt.Errorf("append notify outcome: %w", err)
	}
	return updated, nil
}

func (uc *PipelineUseCase) archiveRawResponse(ctx context.Context, emailID, reason, raw string) {
	if uc.archive == nil {
		return
	}
	now := time.Now().UTC()
	key := fmt.Sprintf("%s/%s-%s-%d.txt", now.Format("2006-01-02"), sanitizeKey(emailID), reason, now.UnixNano())
	if err := uc.archive.Save(context.WithoutCancel(ctx), key, bytes.NewReader([]byte(raw))); err != nil {
		slog.Warn("raw_response_archive_failed", "email_id", emailID, "error", err)
	}
}

func sanitizeKey(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
