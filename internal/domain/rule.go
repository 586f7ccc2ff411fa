package domain

// RuleOutcome is what a supplemental rule does to the decision when it fires.
// Points are always attributed; "score" contributes points only.
type RuleOutcome string

const (
	RuleOutcomeScore  RuleOutcome = "score"
	RuleOutcomeReview RuleOutcome = "review"
	RuleOutcomeBlock  RuleOutcome = "block"
)

// RuleConfig defines an operator-supplied risk rule evaluated alongside the
// built-in pattern rules. The expression is a CEL program over the candidate
// transaction and the sender's state; it must evaluate to a bool, and the rule
// fires when it is true.
type RuleConfig struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Version     string      `json:"version"`
	Expression  string      `json:"expression"`
	Points      int         `json:"points"`
	Outcome     RuleOutcome `json:"outcome"`
	Enabled     bool        `json:"enabled"`
}
