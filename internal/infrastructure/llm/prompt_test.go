package llm

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

func TestBuildClassificationPromptListsEnumsAndEmail(t *testing.T) {
	prompt := BuildClassificationPrompt("Lights out", "Hallway lights on floor 3 are dead.")
	for _, want := range []string{"Electrical, Plumbing, IT Support, HVAC, General Inquiry", "High, Medium, Low", "Lights out", "floor 3"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildClassificationPromptTruncatesBody(t *testing.T) {
	body := strings.Repeat("я", maxBodySnippet+100)
	prompt := BuildClassificationPrompt("s", body)
	if strings.Contains(prompt, body) {
		t.Fatalf("body should be truncated")
	}
	if !utf8.ValidString(prompt) {
		t.Fatalf("truncation must keep valid utf-8")
	}
}

func TestBuildReportPromptListsCountsAndIssues(t *testing.T) {
	report := domain.Report{
		Stats: domain.Stats{
			Total:             3,
			ByPriority:        map[domain.Priority]int{domain.PriorityHigh: 2},
			CategoryBreakdown: []domain.CategoryShare{{Category: domain.CategoryHVAC, Count: 2}, {Category: domain.CategoryPlumbing}},
		},
		Issues: []domain.RecentActivity{
			{Subject: "AC down", Sender: "ops@example.com", Category: domain.CategoryHVAC, Priority: domain.PriorityHigh},
			{Subject: "Unknown noise", Sender: "tenant@example.com"},
		},
	}
	prompt := BuildReportPrompt(report)
	for _, want := range []string{"Total requests: 3", "HVAC=2", "High=2, Medium=0, Low=0", "1. [HVAC] High - AC down (from ops@example.com)", "2. [unclassified] -"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "Plumbing=") {
		t.Fatalf("zero categories must be left out:\n%s", prompt)
	}
}

func TestBuildReportPromptCapsIssueList(t *testing.T) {
	issues := make([]domain.RecentActivity, maxReportIssues+7)
	prompt := BuildReportPrompt(domain.Report{Issues: issues})
	if !strings.Contains(prompt, "... and 7 more") {
		t.Fatalf("long issue lists must be capped:\n%s", prompt)
	}
}
