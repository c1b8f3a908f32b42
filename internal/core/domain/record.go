package domain

import "time"

type Stage string

const (
	StageClassify Stage = "classify"
	StageFile     Stage = "file"
	StageNotify   Stage = "notify"
)

// Stages lists pipeline stages in execution order.
var Stages = []Stage{StageClassify, StageFile, StageNotify}

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

type RecordStatus string

const (
	StatusPending         RecordStatus = "pending"
	StatusCompleted       RecordStatus = "completed"
	StatusPartiallyFailed RecordStatus = "partially-failed"
)

// RecordStatuses lists every overall status, used to seed aggregations.
var RecordStatuses = []RecordStatus{StatusPending, StatusCompleted, StatusPartiallyFailed}

type StageOutcome struct {
	Stage     Stage         `json:"stage"`
	Status    OutcomeStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

func (o StageOutcome) Succeeded() bool {
	return o.Status == OutcomeSucceeded
}

// Reference points at an object created in an external system, such as a task
// page or a posted message.
type Reference struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

type ProcessingRecord struct {
	EmailID         string          `json:"email_id"`
	Sender          string          `json:"sender"`
	Subject         string          `json:"subject"`
	ReceivedAt      time.Time       `json:"received_at"`
	Classification  *Classification `json:"classification,omitempty"`
	TaskRef         *Reference      `json:"task_ref,omitempty"`
	NotificationRef *Reference      `json:"notification_ref,omitempty"`
	Outcomes        []StageOutcome  `json:"outcomes"`
	Status          RecordStatus    `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewProcessingRecord starts a pending record for an email.
func NewProcessingRecord(email EmailRecord, now time.Time) ProcessingRecord {
	return ProcessingRecord{
		EmailID:    email.ID,
		Sender:     email.Sender,
		Subject:    email.Subject,
		ReceivedAt: email.ReceivedAt,
		Outcomes:   []StageOutcome{},
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy so stores never hand out shared state.
func (r ProcessingRecord) Clone() ProcessingRecord {
	out := r
	out.Outcomes = append([]StageOutcome{}, r.Outcomes...)
	if r.Classification != nil {
		cls := r.Classification.Clone()
		out.Classification = &cls
	}
	if r.TaskRef != nil {
		ref := *r.TaskRef
		out.TaskRef = &ref
	}
	if r.NotificationRef != nil {
		ref := *r.NotificationRef
		out.NotificationRef = &ref
	}
	return out
}

// StageSucceeded reports whether any recorded attempt of stage succeeded.
func (r ProcessingRecord) StageSucceeded(stage Stage) bool {
	for _, o := range r.Outcomes {
		if o.Stage == stage && o.Succeeded() {
			return true
		}
	}
	return false
}

// LatestOutcome returns the most recent outcome recorded for stage.
func (r ProcessingRecord) LatestOutcome(stage Stage) (StageOutcome, bool) {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if r.Outcomes[i].Stage == stage {
			return r.Outcomes[i], true
		}
	}
	return StageOutcome{}, false
}

// DeriveStatus computes the overall status from the outcome history:
// completed once every stage has succeeded, partially-failed while the latest
// attempt of some stage failed, pending otherwise.
func DeriveStatus(outcomes []StageOutcome) RecordStatus {
	succeeded := make(map[Stage]bool, len(Stages))
	latest := make(map[Stage]OutcomeStatus, len(Stages))
	for _, o := range outcomes {
		if o.Succeeded() {
			succeeded[o.Stage] = true
		}
		latest[o.Stage] = o.Status
	}

	complete := true
	for _, stage := range Stages {
		if !succeeded[stage] {
			complete = false
			break
		}
	}
	if complete {
		return StatusCompleted
	}
	for _, status := range latest {
		if status == OutcomeFailed {
			return StatusPartiallyFailed
		}
	}
	return StatusPending
}
