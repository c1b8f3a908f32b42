package domain

import "time"

// EmailRecord is a maintenance request as fetched from the mailbox. It is
// never mutated after the source connector returns it.
type EmailRecord struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}
