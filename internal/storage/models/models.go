package models

import "time"

type ChatRecord struct {
	ID        string
	UserID    string
	Queue     int64
	Mode      string
	Category  string
	Prompt    string
	Response  string
	Context   string
	LatencyMS int
	CreatedAt time.Time
}

// SQLExecution is one statement seen by the safety gate. Verdict is
// "accepted", "rejected" or "failed".
type SQLExecution struct {
	ID          int
	ChatID      string
	Fingerprint string
	Statement   string
	Backend     string
	Verdict     string
	Reason      string
	RowCount    int
	CreatedAt   time.Time
}

const (
	VerdictAccepted = "accepted"
	VerdictRejected = "rejected"
	VerdictFailed   = "failed"
)
