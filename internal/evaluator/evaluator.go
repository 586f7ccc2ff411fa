// Package evaluator implements per-transaction risk evaluation.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/streamgift/kestrel/internal/domain"
	"github.com/streamgift/kestrel/internal/keylock"
	"github.com/streamgift/kestrel/internal/metrics"
	"github.com/streamgift/kestrel/internal/rules"
	"github.com/streamgift/kestrel/internal/velocity"
)

// Decision reasons rendered into the persisted status string.
const (
	ReasonTipLimit  = "Tip Limit Exceeded"
	ReasonFrequency = "Too Many Tips in 1 Hour"
	ReasonSmurfing  = "Smurfing Detected"
	ReasonScore     = "Risk Score Threshold Exceeded"
)

// Risk factor names recorded on risk events.
const (
	FactorTipLimit  = "Tip Limit Exceeded"
	FactorFrequency = "High Frequency"
	FactorSmurfing  = "Smurfing Behavior"
)

var tracer = otel.Tracer("kestrel-evaluator")

// Evaluator evaluates candidate transactions against the risk rules and
// persists the audit trail. All evaluations for one user are serialized
// through a keyed lock; different users run fully in parallel.
type Evaluator struct {
	store    domain.Store
	velocity *velocity.Service
	engine   *rules.Engine   // optional: supplemental rules
	bus      domain.EventBus // optional
	cache    domain.Cache    // optional: read-side invalidation
	metrics  *metrics.Metrics
	cfg      domain.RiskConfig
	locks    *keylock.Mutex
}

// New creates an evaluator. engine, bus, cache and m may be nil.
func New(store domain.Store, vel *velocity.Service, engine *rules.Engine, bus domain.EventBus, cache domain.Cache, m *metrics.Metrics, cfg domain.RiskConfig) *Evaluator {
	return &Evaluator{
		store:    store,
		velocity: vel,
		engine:   engine,
		bus:      bus,
		cache:    cache,
		metrics:  m,
		cfg:      cfg,
		locks:    keylock.New(),
	}
}

// Result is the caller-facing outcome of one evaluation.
type Result struct {
	TransactionID string          `json:"transactionId"`
	Decision      domain.Decision `json:"decision"`
	Status        string          `json:"status"`
	Points        int             `json:"transactionScore"`
	Failed        bool            `json:"failureFlag"`
}

// pendingEvent is a rule firing awaiting persistence.
type pendingEvent struct {
	factor string
	points int
}

// Evaluate runs the risk rules against a candidate transaction, persists the
// transaction, its risk events and the updated user state atomically, and
// returns the decision. Failed is true only for Blocked outcomes; a Review
// outcome still counts the tip as sent.
func (e *Evaluator) Evaluate(ctx context.Context, cand *domain.CandidateTransaction) (*Result, error) {
	start := time.Now()

	if err := cand.Validate(); err != nil {
		return nil, err
	}
	if cand.Timestamp.IsZero() {
		cand.Timestamp = time.Now().UTC()
	}

	ctx, span := tracer.Start(ctx, "evaluator.Evaluate",
		trace.WithAttributes(
			attribute.String("user.id", cand.UserID),
			attribute.String("tx.type", cand.Type),
		),
	)
	defer span.End()

	// Serialize per user: the score update and the window counts below are a
	// read-modify-write over shared state.
	e.locks.Lock(cand.UserID)
	defer e.locks.Unlock(cand.UserID)

	user, err := e.store.GetUser(ctx, cand.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	hourCount, err := e.velocity.CountSince(ctx, cand.UserID, e.cfg.FrequencyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to count hourly transactions: %w", err)
	}
	minuteCount, err := e.velocity.CountSince(ctx, cand.UserID, e.cfg.SmurfingWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to count smurfing-window transactions: %w", err)
	}

	decision := domain.Approved()
	failed := false
	watchlist := false
	var events []pendingEvent

	// Rule 1: tip limits based on verification tier. Exactly one branch can
	// fire for a given user.
	limit := e.cfg.MaxTipUnverified
	if user.Verified {
		limit = e.cfg.MaxTipVerified
	}
	if cand.Amount.GreaterThan(limit) {
		events = append(events, pendingEvent{FactorTipLimit, e.cfg.TipLimitPoints})
		decision = domain.Blocked(ReasonTipLimit)
		failed = true
	}

	// Rule 2: frequency control. The count covers previously inserted
	// transactions only; the candidate is not yet persisted.
	if hourCount >= e.cfg.MaxTipsPerHour {
		events = append(events, pendingEvent{FactorFrequency, e.cfg.FrequencyPoints})
		if decision.IsApproved() {
			decision = domain.Blocked(ReasonFrequency)
		}
		failed = true
	}

	// Rule 3: smurfing, many small tips inside the short window.
	if minuteCount >= e.cfg.SmurfingCount && cand.Amount.LessThan(e.cfg.SmurfingMaxAmount) {
		events = append(events, pendingEvent{FactorSmurfing, e.cfg.SmurfingPoints})
		if decision.IsApproved() {
			decision = domain.Blocked(ReasonSmurfing)
		}
		failed = true
	}

	// Supplemental operator-defined rules. They follow the same discipline:
	// points always accrue, the decision is only overwritten while approved.
	if e.engine != nil {
		hits := e.engine.EvaluateAll(ctx, &rules.Input{
			UserID:      cand.UserID,
			ReceiverID:  cand.ReceiverID,
			SessionID:   cand.SessionID,
			Type:        cand.Type,
			Amount:      cand.Amount.InexactFloat64(),
			Verified:    user.Verified,
			RiskScore:   user.RiskScore,
			Watchlisted: user.WatchlistFlag,
			HourCount:   hourCount,
			MinuteCount: minuteCount,
		})
		for _, hit := range hits {
			events = append(events, pendingEvent{hit.Name, hit.Points})
			switch hit.Outcome {
			case domain.RuleOutcomeBlock:
				if decision.IsApproved() {
					decision = domain.Blocked(hit.Name)
				}
				failed = true
			case domain.RuleOutcomeReview:
				if decision.IsApproved() {
					decision = domain.Review(hit.Name)
					watchlist = true
				}
			}
		}
	}

	// Rule 4: cumulative score thresholds. The block threshold overrides any
	// prior decision; the review threshold only fills an approved one.
	totalPoints := 0
	for _, ev := range events {
		totalPoints += ev.points
	}
	newScore := user.RiskScore + totalPoints

	if newScore >= e.cfg.BlockThreshold {
		decision = domain.Blocked(ReasonScore)
		failed = true
	} else if newScore >= e.cfg.ReviewThreshold && decision.IsApproved() {
		decision = domain.Review(ReasonScore)
		watchlist = true
	}

	tx := &domain.Transaction{
		UserID:     cand.UserID,
		ReceiverID: cand.ReceiverID,
		SessionID:  cand.SessionID,
		Type:       cand.Type,
		Amount:     cand.Amount,
		Timestamp:  cand.Timestamp,
		Status:     decision.Status(),
		Score:      totalPoints,
		Failed:     failed,
	}

	// The tips-sent counters advance for approved and review outcomes only.
	upd := domain.UserUpdate{
		RiskScore:       newScore,
		WatchlistFlag:   watchlist,
		Access:          !(newScore > e.cfg.RevokeThreshold),
		TotalTipsSent:   user.TotalTipsSent,
		TotalAmountSent: user.TotalAmountSent,
	}
	if !failed {
		upd.TotalTipsSent = user.TotalTipsSent + 1
		upd.TotalAmountSent = user.TotalAmountSent.Add(cand.Amount)
	}

	// Transaction insert, risk events and user update commit together: a
	// crash mid-sequence must not leave a transaction recorded without its
	// corresponding user risk update.
	err = e.store.WithTx(ctx, func(s domain.Store) error {
		txID, err := s.InsertTransaction(ctx, tx)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		for _, ev := range events {
			if err := s.InsertRiskEvent(ctx, &domain.RiskEvent{
				TransactionID: txID,
				UserID:        cand.UserID,
				RiskFactor:    ev.factor,
				PointsAdded:   ev.points,
				CreatedAt:     cand.Timestamp,
			}); err != nil {
				return fmt.Errorf("failed to insert risk event: %w", err)
			}
		}
		if err := s.UpdateUser(ctx, cand.UserID, upd); err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Delete(ctx, domain.UserRiskKey(cand.UserID)); err != nil {
			slog.Warn("failed to invalidate user cache",
				"user_id", cand.UserID,
				"error", err,
			)
		}
	}

	for _, ev := range events {
		e.metrics.ObserveRiskEvent(ev.factor)
	}
	e.metrics.ObserveEvaluation(string(decision.Outcome), time.Since(start).Seconds())

	e.publish(ctx, tx)

	slog.Info("transaction evaluated",
		"tx_id", tx.ID,
		"user_id", cand.UserID,
		"status", tx.Status,
		"points", totalPoints,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		TransactionID: tx.ID,
		Decision:      decision,
		Status:        tx.Status,
		Points:        totalPoints,
		Failed:        failed,
	}, nil
}

// publish emits the evaluated event, plus an alert for blocked outcomes.
// Publish failures are logged, not surfaced: the decision is already durable.
func (e *Evaluator) publish(ctx context.Context, tx *domain.Transaction) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(domain.TransactionEvaluated{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		SessionID:     tx.SessionID,
		Status:        tx.Status,
		Score:         tx.Score,
		Failed:        tx.Failed,
	})
	if err != nil {
		slog.Error("failed to marshal evaluated event", "tx_id", tx.ID, "error", err)
		return
	}

	if err := e.bus.Publish(ctx, domain.TopicTransactionEvaluated, payload); err != nil {
		slog.Error("failed to publish evaluated event", "tx_id", tx.ID, "error", err)
	}
	if tx.Failed {
		if err := e.bus.Publish(ctx, domain.TopicTransactionAlert, payload); err != nil {
			slog.Error("failed to publish alert event", "tx_id", tx.ID, "error", err)
		}
	}
}
