package domain

import "strings"

// Outcome is the kind of decision the evaluator reached for a transaction.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeReview   Outcome = "review"
)

// Legacy status strings persisted on transactions. Display code depends on
// these exact values, so they are rendered verbatim from a Decision.
const (
	StatusApproved      = "Transaction Approved"
	blockedStatusPrefix = "Blocked: "
	reviewStatusPrefix  = "Review: "
)

// Decision is the evaluator's verdict for a single transaction. The outcome
// carries the control signal; Reason holds the human-readable explanation for
// Blocked and Review outcomes.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Approved returns the default pass decision.
func Approved() Decision {
	return Decision{Outcome: OutcomeApproved}
}

// Blocked returns a blocking decision with the given reason.
func Blocked(reason string) Decision {
	return Decision{Outcome: OutcomeBlocked, Reason: reason}
}

// Review returns a manual-review decision with the given reason.
func Review(reason string) Decision {
	return Decision{Outcome: OutcomeReview, Reason: reason}
}

// IsApproved reports whether the decision is still the default pass. Rules use
// this to decide whether they may overwrite the user-facing decision.
func (d Decision) IsApproved() bool {
	return d.Outcome == OutcomeApproved
}

// Status renders the legacy status string stored on the transaction row.
func (d Decision) Status() string {
	switch d.Outcome {
	case OutcomeBlocked:
		return blockedStatusPrefix + d.Reason
	case OutcomeReview:
		return reviewStatusPrefix + d.Reason
	default:
		return StatusApproved
	}
}

// ParseStatus recovers a Decision from a persisted status string. Unknown
// strings parse as approved, matching how the original display logic treated
// anything without a Blocked/Review prefix.
func ParseStatus(status string) Decision {
	switch {
	case strings.HasPrefix(status, blockedStatusPrefix):
		return Blocked(strings.TrimPrefix(status, blockedStatusPrefix))
	case strings.HasPrefix(status, reviewStatusPrefix):
		return Review(strings.TrimPrefix(status, reviewStatusPrefix))
	default:
		return Approved()
	}
}
