package domain

import "time"

// Stats is the dashboard view over all processing records.
type Stats struct {
	Total      int                  `json:"total"`
	ByCategory map[Category]int     `json:"by_category"`
	ByPriority map[Priority]int     `json:"by_priority"`
	ByOutcome  map[RecordStatus]int `json:"by_outcome"`
	Degraded   int                  `json:"degraded"`

	CategoryBreakdown []CategoryShare  `json:"category_breakdown"`
	Recent            []RecentActivity `json:"recent"`
}

type CategoryShare struct {
	Category   Category `json:"category"`
	Emoji      string   `json:"emoji"`
	Count      int      `json:"count"`
	Percentage float64  `json:"percentage"`
}

type RecentActivity struct {
	EmailID    string       `json:"email_id"`
	Subject    string       `json:"subject"`
	Sender     string       `json:"sender"`
	Category   Category     `json:"category,omitempty"`
	Priority   Priority     `json:"priority,omitempty"`
	Status     RecordStatus `json:"status"`
	ReceivedAt time.Time    `json:"received_at"`
}

// Notification is what the messaging stage announces for one email.
type Notification struct {
	Email          EmailRecord
	Classification Classification
	TaskRef        *Reference
	FilingError    string
}

// BatchResult summarizes a batch run. Order of Records is unspecified.
type BatchResult struct {
	Records []ProcessingRecord `json:"records"`
	Errors  []BatchError       `json:"errors,omitempty"`
}

type BatchError struct {
	EmailID string `json:"email_id"`
	Error   string `json:"error"`
}

// BatchOptions controls a batch run over unread mail.
type BatchOptions struct {
	MaxResults        int  `json:"max_results"`
	SendNotifications bool `json:"send_notifications"`
}
