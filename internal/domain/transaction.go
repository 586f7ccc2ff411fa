package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxTypeTopup = "topup"
	TxTypeGift  = "gift"
)

// ErrInvalidCandidate marks caller contract violations rejected before any
// rule runs.
var ErrInvalidCandidate = errors.New("invalid candidate transaction")

// CandidateTransaction is a proposed transfer submitted for evaluation.
type CandidateTransaction struct {
	UserID     string          `json:"userId"`
	ReceiverID string          `json:"receiverId,omitempty"` // empty for top-ups
	SessionID  string          `json:"sessionId,omitempty"`  // empty when not session-scoped
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Validate rejects malformed candidates before rule evaluation. Zero and
// negative amounts are a hard input error rather than something the rules
// have to reason about.
func (c *CandidateTransaction) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidCandidate)
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidCandidate, c.Amount)
	}
	switch c.Type {
	case TxTypeTopup, TxTypeGift:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCandidate, c.Type)
	}
	return nil
}

// Transaction is the durable record created once per evaluation call. It is
// immutable after insert; status and failure flag are never revised by later
// evaluations.
type Transaction struct {
	ID         string          `json:"transactionId"`
	UserID     string          `json:"userId"`
	ReceiverID string          `json:"receiverId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp"`
	Status     string          `json:"status"`
	Score      int             `json:"transactionScore"` // sum of risk points attributed at creation
	Failed     bool            `json:"failureFlag"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Decision recovers the tagged decision from the persisted status string.
func (t *Transaction) Decision() Decision {
	return ParseStatus(t.Status)
}

// RiskEvent is an append-only audit record of one rule firing during a
// transaction evaluation.
type RiskEvent struct {
	ID            string    `json:"eventId"`
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	RiskFactor    string    `json:"riskFactor"`
	PointsAdded   int       `json:"pointsAdded"`
	CreatedAt     time.Time `json:"createdAt"`
}
