package domain

import (
	"testing"
	"time"
)

func outcome(stage Stage, status OutcomeStatus) StageOutcome {
	return StageOutcome{Stage: stage, Status: status, Timestamp: time.Unix(0, 0)}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []StageOutcome
		want     RecordStatus
	}{
		{name: "empty", want: StatusPending},
		{
			name:     "classify only",
			outcomes: []StageOutcome{outcome(StageClassify, OutcomeSucceeded)},
			want:     StatusPending,
		},
		{
			name: "all succeeded",
			outcomes: []StageOutcome{
				outcome(StageClassify, OutcomeSucceeded),
				outcome(StageFile, OutcomeSucceeded),
				outcome(StageNotify, OutcomeSucceeded),
			},
			want: StatusCompleted,
		},
		{
			name: "file failed",
			outcomes: []StageOutcome{
				outcome(StageClassify, OutcomeSucceeded),
				outcome(StageFile, OutcomeFailed),
				outcome(StageNotify, OutcomeSucceeded),
			},
			want: StatusPartiallyFailed,
		},
		{
			name: "file retried successfully",
			outcomes: []StageOutcome{
				outcome(StageClassify, OutcomeSucceeded),
				outcome(StageFile, OutcomeFailed),
				outcome(StageNotify, OutcomeSucceeded),
				outcome(StageFile, OutcomeSucceeded),
			},
			want: StatusCompleted,
		},
		{
			name:     "classify failed",
			outcomes: []StageOutcome{outcome(StageClassify, OutcomeFailed)},
			want:     StatusPartiallyFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.outcomes); got != tt.want {
				t.Fatalf("DeriveStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloneDoesNotShareSlices(t *testing.T) {
	rec := NewProcessingRecord(EmailRecord{ID: "m-1"}, time.Now())
	rec.Classification = &Classification{Category: CategoryHVAC, ActionItems: []string{"a"}}
	rec.Outcomes = append(rec.Outcomes, outcome(StageClassify, OutcomeSucceeded))

	cp := rec.Clone()
	cp.Classification.ActionItems[0] = "changed"
	cp.Outcomes[0].Status = OutcomeFailed

	if rec.Classification.ActionItems[0] != "a" {
		t.Fatalf("action items shared between clones")
	}
	if rec.Outcomes[0].Status != OutcomeSucceeded {
		t.Fatalf("outcomes shared between clones")
	}
}

func TestEmojiFallbacks(t *testing.T) {
	if CategoryPlumbing.Emoji() != "🚰" {
		t.Fatalf("unexpected plumbing emoji %q", CategoryPlumbing.Emoji())
	}
	if Category("Security").Emoji() != "📋" {
		t.Fatalf("unknown category should fall back to general inquiry emoji")
	}
	if PriorityHigh.Emoji() != "🔴" {
		t.Fatalf("unexpected high priority emoji %q", PriorityHigh.Emoji())
	}
}
