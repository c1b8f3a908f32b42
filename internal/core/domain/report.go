package domain

import "time"

const (
	// MaxTopIssues bounds the issue list of a report.
	MaxTopIssues = 5
	// MaxReportSummaryLength keeps the narrative inside one channel block.
	MaxReportSummaryLength = 2900
)

// Report is a statistics summary ready to be posted. Summary holds the
// model-written narrative; when it is empty the report is posted plain.
type Report struct {
	Title       string           `json:"title"`
	GeneratedAt time.Time        `json:"generated_at"`
	Stats       Stats            `json:"stats"`
	Issues      []RecentActivity `json:"issues"`
	Summary     string           `json:"summary,omitempty"`
}

// TopIssues returns up to MaxTopIssues classified issues, highest priority
// first and in report order within a priority.
func (r Report) TopIssues() []RecentActivity {
	out := make([]RecentActivity, 0, MaxTopIssues)
	for _, p := range Priorities() {
		for _, issue := range r.Issues {
			if issue.Priority != p {
				continue
			}
			if len(out) == MaxTopIssues {
				return out
			}
			out = append(out, issue)
		}
	}
	return out
}
