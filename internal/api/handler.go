package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/streamgift/kestrel/internal/domain"
	"github.com/streamgift/kestrel/internal/evaluator"
	"github.com/streamgift/kestrel/internal/reviewer"
	"github.com/streamgift/kestrel/internal/rules"
	"github.com/streamgift/kestrel/internal/store"
)

// riskCacheTTL bounds how stale the cached read endpoints may serve. Writers
// invalidate on every change, so the TTL only covers missed invalidations.
const riskCacheTTL = 5 * time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	store     domain.Store
	cache     domain.Cache
	bus       domain.EventBus
	evaluator *evaluator.Evaluator
	reviewer  *reviewer.Reviewer
	engine    *rules.Engine
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(st domain.Store, cache domain.Cache, bus domain.EventBus, eval *evaluator.Evaluator, rev *reviewer.Reviewer, engine *rules.Engine, version string) *Handler {
	return &Handler{
		store:     st,
		cache:     cache,
		bus:       bus,
		evaluator: eval,
		reviewer:  rev,
		engine:    engine,
		version:   version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	UserID     string          `json:"userId"`
	ReceiverID string          `json:"receiverId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
}

// Evaluate handles POST /evaluate requests.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cand := &domain.CandidateTransaction{
		UserID:     req.UserID,
		ReceiverID: req.ReceiverID,
		SessionID:  req.SessionID,
		Type:       req.Type,
		Amount:     req.Amount,
		Timestamp:  req.Timestamp,
	}

	result, err := h.evaluator.Evaluate(ctx, cand)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCandidate):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "user not found",
			})
		default:
			slog.Error("evaluation failed", "user_id", req.UserID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "evaluation failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.store.GetTransaction(ctx, txID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "transaction not found",
			})
			return
		}
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get transaction",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// UserRiskResponse is the response for GET /users/{id}/risk.
type UserRiskResponse struct {
	UserID          string          `json:"userId"`
	Verified        bool            `json:"verified"`
	RiskScore       int             `json:"riskScore"`
	Access          bool            `json:"access"`
	WatchlistFlag   bool            `json:"watchlistFlag"`
	TotalTipsSent   int             `json:"totalTipsSent"`
	TotalAmountSent decimal.Decimal `json:"totalAmountSent"`
}

// GetUserRisk returns a user's current risk state, served from cache when
// warm. The evaluator invalidates the entry on every write.
func (h *Handler) GetUserRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "id")
	key := domain.UserRiskKey(userID)

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "user not found",
			})
			return
		}
		slog.Error("failed to get user", "id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get user",
		})
		return
	}

	resp := UserRiskResponse{
		UserID:          user.ID,
		Verified:        user.Verified,
		RiskScore:       user.RiskScore,
		Access:          user.Access,
		WatchlistFlag:   user.WatchlistFlag,
		TotalTipsSent:   user.TotalTipsSent,
		TotalAmountSent: user.TotalAmountSent,
	}

	if h.cache != nil {
		if data, err := json.Marshal(resp); err == nil {
			_ = h.cache.Set(ctx, key, data, riskCacheTTL)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// ReviewSession handles POST /sessions/{id}/review. The review runs
// synchronously and returns the settled status with the stats it wrote.
func (h *Handler) ReviewSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	status, err := h.reviewer.Review(ctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCandidate):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "session not found",
			})
		default:
			slog.Error("session review failed", "session_id", sessionID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "session review failed",
			})
		}
		return
	}

	resp := map[string]any{
		"sessionId": sessionID,
		"status":    status,
	}
	if stats, err := h.store.GetSessionStats(ctx, sessionID); err == nil {
		resp["stats"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetSessionStats returns the stored stats of a reviewed session.
func (h *Handler) GetSessionStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	key := domain.SessionStatsKey(sessionID)

	if h.cache != nil {
		if data, err := h.cache.Get(ctx, key); err == nil && data != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	stats, err := h.store.GetSessionStats(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "session stats not found",
			})
			return
		}
		slog.Error("failed to get session stats", "id", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get session stats",
		})
		return
	}

	if h.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			_ = h.cache.Set(ctx, key, data, riskCacheTTL)
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.LoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Expression  string             `json:"expression"`
	Points      int                `json:"points"`
	Outcome     domain.RuleOutcome `json:"outcome"`
	Enabled     bool               `json:"enabled"`
}

// CreateRule creates a new rule, loads it into the engine and saves it to the
// database. Other instances pick it up via POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Points:      req.Points,
		Outcome:     req.Outcome,
		Enabled:     req.Enabled,
	}

	// Compiling doubles as validation of the expression and the outcome.
	if err := h.engine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid rule: " + err.Error(),
		})
		return
	}

	if err := h.store.SaveRuleConfig(ctx, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule": ruleConfig,
	})
}

// ReloadRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.store.ListRuleConfigs(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
