// Package reviewer implements post-hoc session compliance review.
package reviewer

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
)

var tracer = otel.Tracer("kestrel-reviewer")

// Reviewer aggregates a session's transactions and risk events into session
// stats and a session status. Reviews of one session are serialized through a
// keyed lock; reviews of different sessions by the same creator may interleave,
// which at worst recomputes the same trailing average twice.
type Reviewer struct {
	store   domain.Store
	bus     domain.EventBus // optional
	cache   domain.Cache    // optional
	metrics *metrics.Metrics
	cfg     domain.RiskConfig
	locks   *keylock.Mutex
}

// New creates a reviewer. bus, cache and m may be nil.
func New(store domain.Store, bus domain.EventBus, cache domain.Cache, m *metrics.Metrics, cfg domain.RiskConfig) *Reviewer {
	return &Reviewer{
		store:   store,
		bus:     bus,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
		locks:   keylock.New(),
	}
}

// Review evaluates one session and upserts its stats. It returns the session
// status it settled on. A session with no transactions reviews cleanly: zero
// score, no flags.
func (r *Reviewer) Review(ctx context.Context, sessionID string) (string, error) {
	start := time.Now()

	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", domain.ErrInvalidCandidate)
	}

	ctx, span := tracer.Start(ctx, "reviewer.Review",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	r.locks.Lock(sessionID)
	defer r.locks.Unlock(sessionID)

	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}

	txs, err := r.store.ListTransactionsBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load session transactions: %w", err)
	}

	// A session stays open as long as any transaction awaits manual review.
	allFinalized := true
	txIDs := make([]string, 0, len(txs))
	for _, tx := range txs {
		txIDs = append(txIDs, tx.ID)
		if tx.Decision().Outcome == domain.OutcomeReview {
			allFinalized = false
		}
	}

	flags := detectPatterns(txs, r.cfg)

	sessionRiskScore, err := r.sumRiskPoints(ctx, txIDs)
	if err != nil {
		return "", err
	}

	avg, err := r.creatorRiskAverage(ctx, session.UserID)
	if err != nil {
		return "", err
	}
	if avg > r.cfg.AvgRiskEventsFlagging {
		flags = append(flags, fmt.Sprintf("High Creator Risk Average (%.1f risk events per session over 14 days)", avg))
	}

	isFlagged := len(flags) > 0

	// Finalization takes precedence over flagging for the status field; the
	// flag itself survives either way.
	status := session.Status
	if isFlagged {
		status = domain.SessionStatusFlagged
	}
	if allFinalized {
		status = domain.SessionStatusReviewed
	}

	stats := &domain.SessionStats{
		SessionID:  sessionID,
		Status:     status,
		IsFlagged:  isFlagged,
		RiskScore:  sessionRiskScore,
		ReviewedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertSessionStats(ctx, stats); err != nil {
		return "", fmt.Errorf("failed to upsert session stats: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, domain.SessionStatsKey(sessionID)); err != nil {
			slog.Warn("failed to invalidate session cache",
				"session_id", sessionID,
				"error", err,
			)
		}
	}

	r.metrics.ObserveReview(status, time.Since(start).Seconds())
	r.publish(ctx, stats)

	slog.Info("session reviewed",
		"session_id", sessionID,
		"status", status,
		"flagged", isFlagged,
		"risk_score", sessionRiskScore,
		"flags", flags,
		"tx_count", len(txs),
	)

	return status, nil
}

func (r *Reviewer) sumRiskPoints(ctx context.Context, txIDs []string) (int, error) {
	if len(txIDs) == 0 {
		return 0, nil
	}
	events, err := r.store.ListRiskEventsByTransactionIDs(ctx, txIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load session risk events: %w", err)
	}
	total := 0
	for _, ev := range events {
		total += ev.PointsAdded
	}
	return total, nil
}

// creatorRiskAverage computes the creator's mean risk events per session over
// the trailing history window. A creator with no recent sessions scores zero.
func (r *Reviewer) creatorRiskAverage(ctx context.Context, creatorID string) (float64, error) {
	since := time.Now().UTC().Add(-r.cfg.SessionHistoryWindow)
	sessions, err := r.store.ListSessionsByCreatorSince(ctx, creatorID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load creator sessions: %w", err)
	}
	if len(sessions) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	txs, err := r.store.ListTransactionsBySessions(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to load creator transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, nil
	}

	txIDs := make([]string, 0, len(txs))
	for _, tx := range txs {
		txIDs = append(txIDs, tx.ID)
	}
	events, err := r.store.ListRiskEventsByTransactionIDs(ctx, txIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load creator risk events: %w", err)
	}

	return float64(len(events)) / float64(len(sessions)), nil
}

func (r *Reviewer) publish(ctx context.Context, stats *domain.SessionStats) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.SessionReviewed{
		SessionID: stats.SessionID,
		Status:    stats.Status,
		IsFlagged: stats.IsFlagged,
		RiskScore: stats.RiskScore,
	})
	if err != nil {
		slog.Error("failed to marshal reviewed event", "session_id", stats.SessionID, "error", err)
		return
	}
	if err := r.bus.Publish(ctx, domain.TopicSessionReviewed, payload); err != nil {
		slog.Error("failed to publish reviewed event", "session_id", stats.SessionID, "error", err)
	}
}
