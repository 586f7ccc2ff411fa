package domain

import "time"

// Session statuses written by the reviewer. Any other status value belongs to
// the surrounding application and is passed through untouched.
const (
	SessionStatusReviewed = "reviewed"
	SessionStatusFlagged  = "flagged"
)

// Session is a bounded creator broadcast during which gift transactions may be
// scoped. Read-only from the reviewer's perspective; verdicts land in
// SessionStats.
type Session struct {
	ID        string    `json:"sessionId"`
	UserID    string    `json:"userId"` // creator
	Status    string    `json:"status"`
	StartTime time.Time `json:"startTime"`
}

// SessionStats is the reviewer's aggregate verdict for one session.
// Overwritten in full on every review call.
type SessionStats struct {
	SessionID  string    `json:"sessionId"`
	Status     string    `json:"status"`
	IsFlagged  bool      `json:"isFlagged"`
	RiskScore  int       `json:"riskScore"` // sum of risk-event points across the session
	ReviewedAt time.Time `json:"reviewedAt"`
}
