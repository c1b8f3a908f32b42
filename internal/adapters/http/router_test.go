package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/kirillkom/maintenance-supervisor/internal/config"
	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

type processorFake struct {
	mu        sync.Mutex
	record    *domain.ProcessingRecord
	batch     *domain.BatchResult
	err       error
	lastID    string
	lastBatch domain.BatchOptions
}

func (f *processorFake) ProcessOne(_ context.Context, emailID string) (*domain.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastID = emailID
	if f.err != nil {
		return nil, f.err
	}
	if f.record != nil {
		return f.record, nil
	}
	return &domain.ProcessingRecord{EmailID: emailID, Status: domain.StatusCompleted}, nil
}

func (f *processorFake) ProcessUnread(_ context.Context, opts domain.BatchOptions) (*domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastBatch = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.batch != nil {
		return f.batch, nil
	}
	return &domain.BatchResult{Records: []domain.ProcessingRecord{}}, nil
}

type recordsFake struct {
	records []domain.ProcessingRecord
	err     error
}

func (f recordsFake) GetRecord(_ context.Context, emailID string) (*domain.ProcessingRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, rec := range f.records {
		if rec.EmailID == emailID {
			out := rec.Clone()
			return &out, nil
		}
	}
	return nil, domain.WrapError(domain.ErrRecordNotFound, "get record", errors.New("email_id="+emailID))
}

func (f recordsFake) ListRecords(context.Context) ([]domain.ProcessingRecord, error) {
	return f.records, f.err
}

type statsFake struct {
	stats domain.Stats
	err   error
}

func (f statsFake) GetStats(context.Context) (domain.Stats, error) {
	return f.stats, f.err
}

type inboxFake struct {
	lastLimit int
	lastID    string
	err       error
}

func (f *inboxFake) ListUnread(_ context.Context, limit int) ([]domain.InboxItem, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []domain.InboxItem{{ID: "m-1", Subject: "Leak", Processed: true}}, nil
}

func (f *inboxFake) Preview(_ context.Context, emailID string) (*domain.Preview, error) {
	f.lastID = emailID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Preview{
		Email:          domain.EmailRecord{ID: emailID},
		Classification: domain.Classification{Category: domain.CategoryHVAC, Priority: domain.PriorityLow},
	}, nil
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, &processorFake{}, recordsFake{}, statsFake{}).Handler()
}
