package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

type storeFake struct {
	mu      sync.Mutex
	records map[string]*domain.ProcessingRecord
	order   []string

	appendErr error
}

func newStoreFake() *storeFake {
	return &storeFake{records: make(map[string]*domain.ProcessingRecord)}
}

func (f *storeFake) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[id]
	return ok, nil
}

func (f *storeFake) Get(_ context.Context, id string) (*domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get", errors.New(id))
	}
	out := rec.Clone()
	return &out, nil
}

func (f *storeFake) Create(_ context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[email.ID]; ok {
		return nil, domain.WrapError(domain.ErrDuplicateRecord, "create", errors.New(email.ID))
	}
	rec := domain.NewProcessingRecord(email, time.Now())
	f.records[email.ID] = &rec
	f.order = append(f.order, email.ID)
	out := rec.Clone()
	return &out, nil
}

func (f *storeFake) SaveClassification(_ context.Context, id string, cls domain.Classification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].Classification = &cls
	return nil
}

func (f *storeFake) SaveTaskReference(_ context.Context, id string, ref domain.Reference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].TaskRef = &ref
	return nil
}

func (f *storeFake) SaveNotificationReference(_ context.Context, id string, ref domain.Reference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id].NotificationRef = &ref
	return nil
}

func (f *storeFake) AppendOutcome(_ context.Context, id string, outcome domain.StageOutcome) (*domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	rec := f.records[id]
	rec.Outcomes = append(rec.Outcomes, outcome)
	rec.Status = domain.DeriveStatus(rec.Outcomes)
	rec.UpdatedAt = time.Now()
	out := rec.Clone()
	return &out, nil
}

func (f *storeFake) All(context.Context) iter.Seq2[domain.ProcessingRecord, error] {
	return func(yield func(domain.ProcessingRecord, error) bool) {
		f.mu.Lock()
		snapshot := make([]domain.ProcessingRecord, 0, len(f.order))
		for _, id := range f.order {
			snapshot = append(snapshot, f.records[id].Clone())
		}
		f.mu.Unlock()
		for _, rec := range snapshot {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type sourceFake struct {
	emails   map[string]domain.EmailRecord
	unread   []domain.EmailRecord
	fetchErr error
	fetched  atomic.Int32
}

func (f *sourceFake) FetchUnread(_ context.Context, limit int) iter.Seq2[domain.EmailRecord, error] {
	return func(yield func(domain.EmailRecord, error) bool) {
		for i, email := range f.unread {
			if i >= limit {
				return
			}
			if !yield(email, nil) {
				return
			}
		}
		if f.fetchErr != nil {
			yield(domain.EmailRecord{}, f.fetchErr)
		}
	}
}

func (f *sourceFake) Fetch(_ context.Context, id string) (domain.EmailRecord, error) {
	f.fetched.Add(1)
	email, ok := f.emails[id]
	if !ok {
		return domain.EmailRecord{}, domain.WrapError(domain.ErrRecordNotFound, "fetch", errors.New(id))
	}
	return email, nil
}

type modelFake struct {
	raw     string
	err     error
	panic   bool
	delay   time.Duration
	calls   atomic.Int32
	entered chan struct{}
}

func (f *modelFake) Classify(ctx context.Context, _, _ string) (string, error) {
	f.calls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.panic {
		panic("model exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.raw, nil
}

type tasksFake struct {
	mu    sync.Mutex
	errs  []error
	calls int
	got   []domain.Classification
}

func (f *tasksFake) CreateTask(_ context.Context, email domain.EmailRecord, cls domain.Classification) (domain.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.got = append(f.got, cls)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.Reference{}, err
		}
	}
	return domain.Reference{ID: "task-" + email.ID, URL: "https://tasks.example/" + email.ID}, nil
}

type notifierFake struct {
	mu    sync.Mutex
	err   error
	calls int
	sent  []domain.Notification
}

func (f *notifierFake) Notify(_ context.Context, n domain.Notification) (domain.Reference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Reference{}, f.err
	}
	f.sent = append(f.sent, n)
	return domain.Reference{ID: fmt.Sprintf("msg-%d", f.calls)}, nil
}

type archiveFake struct {
	mu   sync.Mutex
	keys []string
	data []string
}

func (f *archiveFake) Save(_ context.Context, key string, r io.Reader) error {
	body, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.data = append(f.data, string(body))
	return nil
}

func (f *archiveFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

const validRaw = `{"category":"Plumbing","priority":"High","summary":"Leak","root_cause":"pipe","action_items":["fix"]}`

func testEmail(id string) domain.EmailRecord {
	return domain.EmailRecord{
		ID:         id,
		Sender:     "tenant@example.com",
		Subject:    "Water on the floor",
		Body:       "There is a leak under the sink.",
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type pipelineFixture struct {
	store    *storeFake
	source   *sourceFake
	model    *modelFake
	tasks    *tasksFake
	notifier *notifierFake
	archive  *archiveFake
	uc       *PipelineUseCase
}

func newPipelineFixture(opts PipelineOptions) *pipelineFixture {
	f := &pipelineFixture{
		store:    newStoreFake(),
		source:   &sourceFake{emails: map[string]domain.EmailRecord{}},
		model:    &modelFake{raw: validRaw},
		tasks:    &tasksFake{},
		notifier: &notifierFake{},
		archive:  &archiveFake{},
	}
	if opts.Archive == nil {
		opts.Archive = f.archive
	}
	f.uc = NewPipelineUseCase(f.store, f.source, f.model, f.tasks, f.notifier, opts)
	return f
}

func countStage(rec *domain.ProcessingRecord, stage domain.Stage) int {
	n := 0
	for _, o := range rec.Outcomes {
		if o.Stage == stage {
			n++
		}
	}
	return n
}

func TestProcessHappyPath(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", rec.Status)
	}
	if len(rec.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(rec.Outcomes))
	}
	for i, stage := range domain.Stages {
		if rec.Outcomes[i].Stage != stage || !rec.Outcomes[i].Succeeded() {
			t.Fatalf("unexpected outcome %d: %#v", i, rec.Outcomes[i])
		}
	}
	if rec.Classification == nil || rec.Classification.Category != domain.CategoryPlumbing {
		t.Fatalf("classification not stored: %#v", rec.Classification)
	}
	if rec.TaskRef == nil || rec.TaskRef.ID != "task-m-1" {
		t.Fatalf("task reference not stored: %#v", rec.TaskRef)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].TaskRef == nil || f.notifier.sent[0].FilingError != "" {
		t.Fatalf("notification should carry task reference: %#v", f.notifier.sent)
	}
}

func TestProcessIsIdempotentForCompletedRecords(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	ctx := context.Background()

	first, err := f.uc.Process(ctx, testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	second, err := f.uc.Process(ctx, testEmail("m-1"))
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}

	if f.model.calls.Load() != 1 || f.tasks.calls != 1 || f.notifier.calls != 1 {
		t.Fatalf("collaborators re-invoked: model=%d tasks=%d notifier=%d", f.model.calls.Load(), f.tasks.calls, f.notifier.calls)
	}
	if len(second.Outcomes) != len(first.Outcomes) || second.Status != domain.StatusCompleted {
		t.Fatalf("completed record changed: %#v", second)
	}
}

func TestProcessFilingFailureStillNotifies(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.tasks.errs = []error{errors.New("notion 502")}

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusPartiallyFailed {
		t.Fatalf("expected partially-failed, got %q", rec.Status)
	}
	fileOutcome, _ := rec.LatestOutcome(domain.StageFile)
	if fileOutcome.Succeeded() || !strings.Contains(fileOutcome.Error, "notion 502") {
		t.Fatalf("unexpected file outcome %#v", fileOutcome)
	}
	notifyOutcome, _ := rec.LatestOutcome(domain.StageNotify)
	if !notifyOutcome.Succeeded() {
		t.Fatalf("notify should succeed, got %#v", notifyOutcome)
	}
	if len(f.notifier.sent) != 1 || !strings.Contains(f.notifier.sent[0].FilingError, "notion 502") || f.notifier.sent[0].TaskRef != nil {
		t.Fatalf("notification should carry filing error: %#v", f.notifier.sent)
	}
}

func TestRetryRunsOnlyMissingStages(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.tasks.errs = []error{errors.New("temporary outage")}
	ctx := context.Background()

	if _, err := f.uc.Process(ctx, testEmail("m-1")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec, err := f.uc.Process(ctx, testEmail("m-1"))
	if err != nil {
		t.Fatalf("retry Process() error = %v", err)
	}

	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed after retry, got %q", rec.Status)
	}
	if f.model.calls.Load() != 1 {
		t.Fatalf("classify re-run on retry: %d calls", f.model.calls.Load())
	}
	if f.notifier.calls != 1 {
		t.Fatalf("notify re-run on retry: %d calls", f.notifier.calls)
	}
	if f.tasks.calls != 2 {
		t.Fatalf("expected file to be retried once, got %d calls", f.tasks.calls)
	}
	if f.tasks.got[1].Category != domain.CategoryPlumbing {
		t.Fatalf("retry must reuse stored classification, got %#v", f.tasks.got[1])
	}
	if countStage(rec, domain.StageFile) != 2 || countStage(rec, domain.StageClassify) != 1 {
		t.Fatalf("unexpected outcome history %#v", rec.Outcomes)
	}
}

func TestNotifyFailureIsRetried(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.notifier.err = errors.New("slack down")
	ctx := context.Background()

	rec, err := f.uc.Process(ctx, testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusPartiallyFailed {
		t.Fatalf("expected partially-failed, got %q", rec.Status)
	}

	f.notifier.err = nil
	rec, err = f.uc.Process(ctx, testEmail("m-1"))
	if err != nil {
		t.Fatalf("retry Process() error = %v", err)
	}
	if rec.Status != domain.StatusCompleted || f.tasks.calls != 1 {
		t.Fatalf("expected completed without re-filing, status=%q tasks=%d", rec.Status, f.tasks.calls)
	}
	if f.notifier.sent[0].TaskRef == nil || f.notifier.sent[0].TaskRef.ID != "task-m-1" {
		t.Fatalf("resumed notification should reuse stored task reference: %#v", f.notifier.sent[0])
	}
}

func TestMalformedModelResponseFailsClassifyOnly(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.model.raw = "I cannot help with that."

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusPartiallyFailed {
		t.Fatalf("expected partially-failed, got %q", rec.Status)
	}
	if len(rec.Outcomes) != 1 || rec.Outcomes[0].Stage != domain.StageClassify || rec.Outcomes[0].Succeeded() {
		t.Fatalf("expected a single failed classify outcome, got %#v", rec.Outcomes)
	}
	if rec.Classification != nil {
		t.Fatalf("classification must be absent")
	}
	if f.tasks.calls != 0 || f.notifier.calls != 0 {
		t.Fatalf("file/notify must not run after classify failure")
	}
	if len(f.archive.data) != 1 || f.archive.data[0] != "I cannot help with that." {
		t.Fatalf("raw response should be archived: %#v", f.archive.data)
	}
}

func TestOversizedModelResponseIsArchivedAsOversized(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.model.raw = strings.Repeat("{", MaxModelResponseBytes+1)

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusPartiallyFailed || f.tasks.calls != 0 {
		t.Fatalf("oversized response must fail classify only, got %q", rec.Status)
	}
	if len(f.archive.keys) != 1 || !strings.Contains(f.archive.keys[0], "m-1-oversized-") {
		t.Fatalf("expected oversized archive key, got %#v", f.archive.keys)
	}
}

func TestDegradedClassificationIsFiled(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.model.raw = `{"category":"Security","priority":"Low","summary":"badge reader"}`

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %q", rec.Status)
	}
	if !rec.Classification.Degraded || rec.Classification.Category != domain.CategoryGeneralInquiry {
		t.Fatalf("expected degraded general inquiry, got %#v", rec.Classification)
	}
	if len(f.archive.keys) != 1 || !strings.Contains(f.archive.keys[0], "degraded") {
		t.Fatalf("degraded raw response should be archived, got %v", f.archive.keys)
	}
}

func TestStageTimeoutRecordsFailure(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{StageTimeout: 10 * time.Millisecond})
	f.model.delay = time.Second

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	outcome, _ := rec.LatestOutcome(domain.StageClassify)
	if outcome.Succeeded() || !strings.Contains(outcome.Error, "timed out") {
		t.Fatalf("expected timeout outcome, got %#v", outcome)
	}
}

func TestPanickingCollaboratorBecomesFailedOutcome(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.model.panic = true

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Outcomes[0].Succeeded() || !strings.Contains(rec.Outcomes[0].Error, "panic") {
		t.Fatalf("expected panic to be recorded, got %#v", rec.Outcomes[0])
	}
}

func TestProcessSurfacesStoreFailure(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	storeErr := errors.New("db unavailable")
	f.store.appendErr = storeErr

	_, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestProcessOneSkipsFetchForCompletedRecord(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.source.emails["m-1"] = testEmail("m-1")
	ctx := context.Background()

	if _, err := f.uc.ProcessOne(ctx, "m-1"); err != nil {
		t.Fatalf("ProcessOne() error = %v", err)
	}
	if _, err := f.uc.ProcessOne(ctx, "m-1"); err != nil {
		t.Fatalf("second ProcessOne() error = %v", err)
	}
	if f.source.fetched.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", f.source.fetched.Load())
	}
}

func TestProcessOneRejectsEmptyID(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	_, err := f.uc.ProcessOne(context.Background(), "  ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentProcessOfSameEmailRunsOnce(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.model.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.uc.Process(context.Background(), testEmail("m-1")); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if f.model.calls.Load() != 1 {
		t.Fatalf("expected one classify call, got %d", f.model.calls.Load())
	}
	rec, _ := f.store.Get(context.Background(), "m-1")
	if len(rec.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(rec.Outcomes))
	}
}

func TestProcessUnreadHonorsLimitAndSuppression(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{BatchConcurrency: 2})
	for i := 0; i < 5; i++ {
		f.source.unread = append(f.source.unread, testEmail(fmt.Sprintf("m-%d", i)))
	}

	result, err := f.uc.ProcessUnread(context.Background(), domain.BatchOptions{MaxResults: 3})
	if err != nil {
		t.Fatalf("ProcessUnread() error = %v", err)
	}
	if len(result.Records) != 3 || len(result.Errors) != 0 {
		t.Fatalf("unexpected batch result %#v", result)
	}
	if f.notifier.calls != 0 {
		t.Fatalf("notifications should be suppressed, got %d calls", f.notifier.calls)
	}
	for _, rec := range result.Records {
		if rec.Status != domain.StatusCompleted || rec.NotificationRef == nil || rec.NotificationRef.ID != suppressedNotification {
			t.Fatalf("unexpected record %#v", rec)
		}
	}
}

func TestProcessUnreadReportsSourceFailure(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	f.source.unread = []domain.EmailRecord{testEmail("m-1")}
	f.source.fetchErr = errors.New("gmail quota")

	result, err := f.uc.ProcessUnread(context.Background(), domain.BatchOptions{MaxResults: 10, SendNotifications: true})
	if err == nil || !strings.Contains(err.Error(), "gmail quota") {
		t.Fatalf("expected source error, got %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("emails yielded before the failure should still be processed, got %d", len(result.Records))
	}
}

func TestProcessBatchCollectsPerEmailErrors(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	emails := []domain.EmailRecord{testEmail("m-1"), {ID: ""}, testEmail("m-2")}

	result, err := f.uc.ProcessBatch(context.Background(), emails, domain.BatchOptions{SendNotifications: true})
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if len(result.Records) != 2 || len(result.Errors) != 1 {
		t.Fatalf("unexpected batch result %#v", result)
	}
}

// notFoundOnceStore hides an existing record from the first Get, as happens
// when two workers race between Get and Create.
type notFoundOnceStore struct {
	*storeFake
	hidden atomic.Bool
}

func (s *notFoundOnceStore) Get(ctx context.Context, id string) (*domain.ProcessingRecord, error) {
	if s.hidden.CompareAndSwap(false, true) {
		return nil, domain.WrapError(domain.ErrRecordNotFound, "get", errors.New(id))
	}
	return s.storeFake.Get(ctx, id)
}

func TestWorkerSharingStoreDoesNotRefileInFlightEmail(t *testing.T) {
	first := newPipelineFixture(PipelineOptions{})
	first.model.delay = 100 * time.Millisecond
	first.model.entered = make(chan struct{}, 1)
	// A second process: same store, its own in-process locker.
	second := NewPipelineUseCase(first.store, first.source, first.model, first.tasks, first.notifier, PipelineOptions{})

	done := make(chan error, 1)
	go func() {
		_, err := first.uc.Process(context.Background(), testEmail("e1"))
		done <- err
	}()
	<-first.model.entered

	_, err := second.Process(context.Background(), testEmail("e1"))
	if !domain.IsKind(err, domain.ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord for in-flight email, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first Process() error = %v", err)
	}

	if got := first.model.calls.Load(); got != 1 {
		t.Fatalf("expected one classify call, got %d", got)
	}
	if first.tasks.calls != 1 || first.notifier.calls != 1 {
		t.Fatalf("expected one task and one notification, got %d and %d", first.tasks.calls, first.notifier.calls)
	}
	rec, _ := first.store.Get(context.Background(), "e1")
	if len(rec.Outcomes) != 3 || rec.Status != domain.StatusCompleted {
		t.Fatalf("unexpected record %#v", rec)
	}
}

func TestCreateRaceReturnsDuplicateRecord(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	if _, err := f.store.Create(context.Background(), testEmail("m-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	racy := &notFoundOnceStore{storeFake: f.store}
	uc := NewPipelineUseCase(racy, f.source, f.model, f.tasks, f.notifier, PipelineOptions{})

	_, err := uc.Process(context.Background(), testEmail("m-1"))
	if !domain.IsKind(err, domain.ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
	if f.model.calls.Load() != 0 {
		t.Fatalf("losing worker must not classify")
	}
}

func TestPendingRecordResumesAfterLease(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{InFlightLease: time.Minute})
	if _, err := f.store.Create(context.Background(), testEmail("m-1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.store.mu.Lock()
	f.store.records["m-1"].UpdatedAt = time.Now().Add(-2 * time.Minute)
	f.store.mu.Unlock()

	rec, err := f.uc.Process(context.Background(), testEmail("m-1"))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if rec.Status != domain.StatusCompleted || f.model.calls.Load() != 1 {
		t.Fatalf("expected abandoned run to be resumed, got %#v", rec)
	}
}

func TestListRecordsNewestFirst(t *testing.T) {
	f := newPipelineFixture(PipelineOptions{})
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		if _, err := f.uc.Process(context.Background(), testEmail(id)); err != nil {
			t.Fatalf("Process(%s) error = %v", id, err)
		}
	}

	records, err := f.uc.ListRecords(context.Background())
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	var ids []string
	for _, rec := range records {
		ids = append(ids, rec.EmailID)
	}
	if strings.Join(ids, ",") != "m-3,m-2,m-1" {
		t.Fatalf("expected newest first, got %v", ids)
	}
}
