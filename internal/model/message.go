package model

import "time"

// Fallback values used when a message lacks the corresponding header.
const (
	NoSubject     = "No Subject"
	UnknownSender = "Unknown Sender"
	UnknownDate   = "Unknown Date"
)

// MessageSummary is the read-only view of a mailbox message that is
// forwarded to the chat channel. Its identity is ID.
type MessageSummary struct {
	ID       string
	ThreadID string
	Subject  string
	Sender   string
	// Date is already converted to the display timezone, or holds the
	// raw header / UnknownDate when it could not be parsed.
	Date    string
	Body    string
	Snippet string
	// Link points at the message in the provider's web UI. It may be empty.
	Link string
}

// ProcessedRecord marks a message id as delivered.
type ProcessedRecord struct {
	ID        string    `db:"id"`
	FirstSeen time.Time `db:"ts"`
}

// PollCycleResult summarises one poll cycle for logging.
type PollCycleResult struct {
	CycleID   string
	Found     int
	Delivered int
	Skipped   int
	Failed    int
	Duration  time.Duration
}
