package domain

import "time"

// InboxItem is an unread message as listed from the mailbox, flagged with
// whether the pipeline already holds a record for it.
type InboxItem struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Snippet    string    `json:"snippet"`
	ReceivedAt time.Time `json:"received_at"`
	Processed  bool      `json:"processed"`
}

// Preview is a classification computed without recording, filing or
// notifying anything.
type Preview struct {
	Email          EmailRecord    `json:"email"`
	Classification Classification `json:"classification"`
}
