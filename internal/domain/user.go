package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the per-sender risk state mutated by the evaluator after every call.
// Users are never created or deleted by the engine.
type User struct {
	ID              string          `json:"userId"`
	Verified        bool            `json:"verified"`
	RiskScore       int             `json:"riskScore"` // cumulative, non-decreasing
	Access          bool            `json:"access"`    // transacting privilege
	WatchlistFlag   bool            `json:"watchlistFlag"`
	TotalTipsSent   int             `json:"totalTipsSent"`
	TotalAmountSent decimal.Decimal `json:"totalAmountSent"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// UserUpdate carries the mutable risk fields written back after an
// evaluation. Identity and verification status are owned by account
// provisioning, outside this engine.
type UserUpdate struct {
	RiskScore       int
	Access          bool
	WatchlistFlag   bool
	TotalTipsSent   int
	TotalAmountSent decimal.Decimal
}
