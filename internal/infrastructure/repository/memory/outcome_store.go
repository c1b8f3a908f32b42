package memory

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

// OutcomeStore keeps processing records in process memory. Records are lost
// on restart; use the postgres store when durability matters.
type OutcomeStore struct {
	mu      sync.RWMutex
	records map[string]*domain.ProcessingRecord
	order   []string
	now     func() time.Time
}

func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		records: make(map[string]*domain.ProcessingRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *OutcomeStore) Exists(_ context.Context, emailID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[emailID]
	return ok, nil
}

func (s *OutcomeStore) Get(_ context.Context, emailID string) (*domain.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[emailID]
	if !ok {
		return nil, notFound("get record", emailID)
	}
	out := rec.Clone()
	return &out, nil
}

func (s *OutcomeStore) Create(_ context.Context, email domain.EmailRecord) (*domain.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[email.ID]; ok {
		return nil, domain.WrapError(domain.ErrDuplicateRecord, "create record", fmt.Errorf("email_id=%s", email.ID))
	}
	rec := domain.NewProcessingRecord(email, s.now())
	s.records[email.ID] = &rec
	s.order = append(s.order, email.ID)
	out := rec.Clone()
	return &out, nil
}

func (s *OutcomeStore) SaveClassification(_ context.Context, emailID string, cls domain.Classification) error {
	return s.mutate("save classification", emailID, func(rec *domain.ProcessingRecord) {
		c := cls.Clone()
		rec.Classification = &c
	})
}

func (s *OutcomeStore) SaveTaskReference(_ context.Context, emailID string, ref domain.Reference) error {
	return s.mutate("save task reference", emailID, func(rec *domain.ProcessingRecord) {
		rec.TaskRef = &ref
	})
}

func (s *OutcomeStore) SaveNotificationReference(_ context.Context, emailID string, ref domain.Reference) error {
	return s.mutate("save notification reference", emailID, func(rec *domain.ProcessingRecord) {
		rec.NotificationRef = &ref
	})
}

func (s *OutcomeStore) AppendOutcome(_ context.Context, emailID string, outcome domain.StageOutcome) (*domain.ProcessingRecord, error) {
	var out domain.ProcessingRecord
	err := s.mutate("append outcome", emailID, func(rec *domain.ProcessingRecord) {
		rec.Outcomes = append(rec.Outcomes, outcome)
		rec.Status = domain.DeriveStatus(rec.Outcomes)
		out = rec.Clone()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// All yields a snapshot of the records taken when iteration starts, in
// insertion order.
func (s *OutcomeStore) All(_ context.Context) iter.Seq2[domain.ProcessingRecord, error] {
	return func(yield func(domain.ProcessingRecord, error) bool) {
		s.mu.RLock()
		snapshot := make([]domain.ProcessingRecord, 0, len(s.order))
		for _, id := range s.order {
			snapshot = append(snapshot, s.records[id].Clone())
		}
		s.mu.RUnlock()

		for _, rec := range snapshot {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *OutcomeStore) mutate(operation, emailID string, fn func(*domain.ProcessingRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[emailID]
	if !ok {
		return notFound(operation, emailID)
	}
	fn(rec)
	rec.UpdatedAt = s.now()
	return nil
}

func notFound(operation, emailID string) error {
	return domain.WrapError(domain.ErrRecordNotFound, operation, fmt.Errorf("email_id=%s", emailID))
}
