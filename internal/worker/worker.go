// Package worker drives asynchronous session review off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/streamgift/kestrel/internal/domain"
	"github.com/streamgift/kestrel/internal/reviewer"
)

// Worker listens for evaluated transactions and review requests, and keeps
// session stats current without blocking the evaluation path. It also sweeps
// open sessions on a timer so sessions with no recent traffic still converge.
type Worker struct {
	bus      domain.EventBus
	store    domain.Store
	reviewer *reviewer.Reviewer
	cfg      domain.WorkerConfig

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// New creates a worker. Call Start to begin processing.
func New(bus domain.EventBus, store domain.Store, rev *reviewer.Reviewer, cfg domain.WorkerConfig) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		store:    store,
		reviewer: rev,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the pipeline topics and launches the periodic sweep.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionEvaluated, w.handleEvaluated)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	sub, err = w.bus.Subscribe(w.ctx, domain.TopicSessionReviewRequest, w.handleReviewRequest)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if w.cfg.SweepInterval > 0 {
		w.wg.Add(1)
		go w.sweepLoop()
	}

	slog.Info("worker started",
		"sweep_interval", w.cfg.SweepInterval,
	)
	return nil
}

// handleEvaluated re-reviews a session whenever one of its transactions is
// evaluated. Transactions outside any session are ignored.
func (w *Worker) handleEvaluated(ctx context.Context, msg *domain.Message) error {
	var ev domain.TransactionEvaluated
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse evaluated message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if ev.SessionID == "" {
		return nil
	}

	if _, err := w.reviewer.Review(ctx, ev.SessionID); err != nil {
		slog.Error("session review failed",
			"session_id", ev.SessionID,
			"tx_id", ev.TransactionID,
			"error", err,
		)
		return err
	}
	return nil
}

// handleReviewRequest serves explicit review requests.
func (w *Worker) handleReviewRequest(ctx context.Context, msg *domain.Message) error {
	var req domain.SessionReviewRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse review request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if _, err := w.reviewer.Review(ctx, req.SessionID); err != nil {
		slog.Error("requested session review failed",
			"session_id", req.SessionID,
			"error", err,
		)
		return err
	}
	return nil
}

// sweepLoop periodically re-reviews every session that has not finalized.
func (w *Worker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Worker) sweep() {
	start := time.Now()

	sessions, err := w.store.ListOpenSessions(w.ctx)
	if err != nil {
		slog.Error("failed to list open sessions", "error", err)
		return
	}

	reviewed := 0
	for _, session := range sessions {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if _, err := w.reviewer.Review(w.ctx, session.ID); err != nil {
			slog.Error("sweep review failed",
				"session_id", session.ID,
				"error", err,
			)
			continue
		}
		reviewed++
	}

	slog.Info("session sweep complete",
		"open_sessions", len(sessions),
		"reviewed", reviewed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
