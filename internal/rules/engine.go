// Package rules provides the CEL-Go engine for operator-defined risk rules.
//
// Supplemental rules run alongside the built-in pattern rules: each rule is a
// boolean CEL expression over the candidate transaction and the sender's
// state. A rule that evaluates to true contributes its configured points and
// participates in the decision according to its configured outcome.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/streamgift/kestrel/internal/domain"
)

// Engine compiles and evaluates supplemental rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the evaluation context
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("receiver_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("verified", cel.BoolType),
		cel.Variable("risk_score", cel.IntType),
		cel.Variable("watchlisted", cel.BoolType),
		cel.Variable("hour_count", cel.IntType),
		cel.Variable("minute_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// Input holds the evaluation context exposed to rule expressions.
type Input struct {
	UserID      string
	ReceiverID  string
	SessionID   string
	Type        string
	Amount      float64
	Verified    bool
	RiskScore   int
	Watchlisted bool
	HourCount   int
	MinuteCount int
}

// Hit records one supplemental rule that fired.
type Hit struct {
	RuleID  string
	Name    string
	Points  int
	Outcome domain.RuleOutcome
}

// EvaluateAll evaluates all loaded rules in parallel and returns the rules
// that fired. An expression that errors at runtime is skipped; a bad rule
// must not block the built-in pipeline.
func (e *Engine) EvaluateAll(ctx context.Context, input *Input) []Hit {
	e.mu.RLock()
	loaded := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		loaded = append(loaded, rule)
	}
	e.mu.RUnlock()

	if len(loaded) == 0 {
		return nil
	}

	activation := map[string]any{
		"user_id":      input.UserID,
		"receiver_id":  input.ReceiverID,
		"session_id":   input.SessionID,
		"tx_type":      input.Type,
		"amount":       input.Amount,
		"verified":     input.Verified,
		"risk_score":   input.RiskScore,
		"watchlisted":  input.Watchlisted,
		"hour_count":   input.HourCount,
		"minute_count": input.MinuteCount,
	}

	fired := make([]bool, len(loaded))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range loaded {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			out, _, err := r.Program.Eval(activation)
			if err != nil {
				return
			}
			if b, ok := out.(types.Bool); ok && bool(b) {
				fired[idx] = true
			}
		}(i, rule)
	}

	wg.Wait()

	var hits []Hit
	for i, rule := range loaded {
		if !fired[i] {
			continue
		}
		hits = append(hits, Hit{
			RuleID:  rule.Config.ID,
			Name:    rule.Config.Name,
			Points:  rule.Config.Points,
			Outcome: rule.Config.Outcome,
		})
	}

	return hits
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// LoadedRules returns the currently loaded rule configurations.
func (e *Engine) LoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	configs := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		configs = append(configs, compiled.Config)
	}
	return configs
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.Points <= 0 {
		return nil, fmt.Errorf("rule %s: points must be positive", cfg.ID)
	}
	switch cfg.Outcome {
	case domain.RuleOutcomeScore, domain.RuleOutcomeReview, domain.RuleOutcomeBlock:
	default:
		return nil, fmt.Errorf("rule %s: unknown outcome %q", cfg.ID, cfg.Outcome)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
