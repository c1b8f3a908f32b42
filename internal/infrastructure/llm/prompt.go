package llm

import (
	"fmt"
	"strings"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

const maxBodySnippet = 4000

const (
	// MaxOutputTokens caps generation so a runaway model cannot produce an
	// unbounded answer.
	MaxOutputTokens = 1024
	// MaxResponseBytes caps how much of a provider reply body is read.
	MaxResponseBytes = 1 << 20
)

// BuildClassificationPrompt renders the maintenance triage prompt. The
// category and priority lists come from the domain so prompt and validation
// never drift apart.
func BuildClassificationPrompt(subject, body string) string {
	snippet := strings.TrimSpace(body)
	if runes := []rune(snippet); len(runes) > maxBodySnippet {
		snippet = string(runes[:maxBodySnippet])
	}

	categories := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		categories = append(categories, string(c))
	}
	priorities := make([]string, 0, len(domain.Priorities()))
	for _, p := range domain.Priorities() {
		priorities = append(priorities, string(p))
	}

	return fmt.Sprintf(`You are a facility maintenance supervisor triaging maintenance requests.

Categories (choose exactly one): %s.
- Electrical: power outages, wiring, lighting, circuit breakers.
- Plumbing: leaks, clogs, water pressure, pipes, drains, water heaters.
- IT Support: computers, network, software, printers, access cards.
- HVAC: heating, cooling, ventilation, temperature, air quality.
- General Inquiry: anything else or multi-category issues.

Priorities: %s.
- High: safety hazards, complete system failures, many people affected.
- Medium: partial failures, one person affected.
- Low: minor or cosmetic issues.

Return a strict JSON object with keys:
category (string), priority (string), summary (2-3 sentences), root_cause (1-2 sentences), action_items (array of strings).
No markdown, no extra keys.

Subject: %s

Request:
%s
`, strings.Join(categories, ", "), strings.Join(priorities, ", "), strings.TrimSpace(subject), snippet)
}

const maxReportIssues = 50

// BuildReportPrompt asks for a short management summary of a report. Only
// counts and issue headlines are sent, never message bodies.
func BuildReportPrompt(report domain.Report) string {
	var categories []string
	for _, share := range report.Stats.CategoryBreakdown {
		if share.Count > 0 {
			categories = append(categories, fmt.Sprintf("%s=%d", share.Category, share.Count))
		}
	}
	if len(categories) == 0 {
		categories = append(categories, "none classified")
	}
	var priorities []string
	for _, p := range domain.Priorities() {
		priorities = append(priorities, fmt.Sprintf("%s=%d", p, report.Stats.ByPriority[p]))
	}

	var issues strings.Builder
	for i, issue := range report.Issues {
		if i == maxReportIssues {
			fmt.Fprintf(&issues, "... and %d more\n", len(report.Issues)-maxReportIssues)
			break
		}
		category, priority := string(issue.Category), string(issue.Priority)
		if category == "" {
			category, priority = "unclassified", "-"
		}
		fmt.Fprintf(&issues, "%d. [%s] %s - %s (from %s)\n", i+1, category, priority, strings.TrimSpace(issue.Subject), issue.Sender)
	}
	if issues.Len() == 0 {
		issues.WriteString("none\n")
	}

	return fmt.Sprintf(`You are writing a maintenance report for facility management.

STATISTICS:
Total requests: %d
By category: %s
By priority: %s

ISSUES:
%s
Write, in plain text under 250 words:
1. An executive summary of the requests.
2. Trends or patterns by category.
3. High priority items that need immediate attention.
4. Recommended resource allocation.
5. Any systemic issues.
Do not repeat the statistics verbatim.
`, report.Stats.Total, strings.Join(categories, ", "), strings.Join(priorities, ", "), issues.String())
}
