package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	if _, err := store.Create(ctx, domain.EmailRecord{ID: "m-1", Subject: "Leak"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := store.Create(ctx, domain.EmailRecord{ID: "m-1"})
	if !domain.IsKind(err, domain.ErrDuplicateRecord) {
		t.Fatalf("expected ErrDuplicateRecord, got %v", err)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	store := NewOutcomeStore()
	_, err := store.Get(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := store.SaveTaskReference(context.Background(), "missing", domain.Reference{ID: "t"}); !domain.IsKind(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound from mutation, got %v", err)
	}
}

func TestAppendOutcomeRecomputesStatus(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, domain.EmailRecord{ID: "m-1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	steps := []struct {
		outcome domain.StageOutcome
		want    domain.RecordStatus
	}{
		{domain.StageOutcome{Stage: domain.StageClassify, Status: domain.OutcomeSucceeded}, domain.StatusPending},
		{domain.StageOutcome{Stage: domain.StageFile, Status: domain.OutcomeFailed, Error: "boom"}, domain.StatusPartiallyFailed},
		{domain.StageOutcome{Stage: domain.StageNotify, Status: domain.OutcomeSucceeded}, domain.StatusPartiallyFailed},
		{domain.StageOutcome{Stage: domain.StageFile, Status: domain.OutcomeSucceeded}, domain.StatusCompleted},
	}
	for i, step := range steps {
		rec, err := store.AppendOutcome(ctx, "m-1", step.outcome)
		if err != nil {
			t.Fatalf("AppendOutcome() step %d error = %v", i, err)
		}
		if rec.Status != step.want {
			t.Fatalf("step %d: status = %q, want %q", i, rec.Status, step.want)
		}
		if len(rec.Outcomes) != i+1 {
			t.Fatalf("step %d: expected %d outcomes, got %d", i, i+1, len(rec.Outcomes))
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()
	_, _ = store.Create(ctx, domain.EmailRecord{ID: "m-1"})
	_ = store.SaveClassification(ctx, "m-1", domain.Classification{Category: domain.CategoryHVAC, ActionItems: []string{"a"}})

	rec, _ := store.Get(ctx, "m-1")
	rec.Classification.ActionItems[0] = "mutated"
	rec.Outcomes = append(rec.Outcomes, domain.StageOutcome{Stage: domain.StageClassify})

	again, _ := store.Get(ctx, "m-1")
	if again.Classification.ActionItems[0] != "a" || len(again.Outcomes) != 0 {
		t.Fatalf("store state leaked through returned record: %#v", again)
	}
}

func TestAllPreservesInsertionOrder(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()
	ids := []string{"c", "a", "b"}
	for _, id := range ids {
		_, _ = store.Create(ctx, domain.EmailRecord{ID: id, ReceivedAt: time.Now()})
	}

	var got []string
	for rec, err := range store.All(ctx) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		got = append(got, rec.EmailID)
	}
	if fmt.Sprint(got) != fmt.Sprint(ids) {
		t.Fatalf("order = %v, want %v", got, ids)
	}
}

func TestConcurrentCreateKeepsSingleRecord(t *testing.T) {
	store := NewOutcomeStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Create(ctx, domain.EmailRecord{ID: "same"}); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one successful create, got %d", created)
	}
}
