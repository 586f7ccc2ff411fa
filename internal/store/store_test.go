package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/streamgift/kestrel/internal/domain"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-store-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	s, err := New(domain.StoreConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &domain.User{
		ID:              "user-001",
		Verified:        true,
		RiskScore:       0,
		Access:          true,
		TotalAmountSent: decimal.Zero,
	}
	if err := s.InsertUser(ctx, user); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := s.GetUser(ctx, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Verified || !got.Access || got.RiskScore != 0 {
			t.Errorf("unexpected user state: %+v", got)
		}
	})

	t.Run("Update", func(t *testing.T) {
		upd := domain.UserUpdate{
			RiskScore:       40,
			Access:          true,
			WatchlistFlag:   true,
			TotalTipsSent:   3,
			TotalAmountSent: decimal.NewFromInt(120),
		}
		if err := s.UpdateUser(ctx, "user-001", upd); err != nil {
			t.Fatalf("failed to update user: %v", err)
		}

		got, err := s.GetUser(ctx, "user-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.RiskScore != 40 || !got.WatchlistFlag || got.TotalTipsSent != 3 {
			t.Errorf("update not applied: %+v", got)
		}
		if !got.TotalAmountSent.Equal(decimal.NewFromInt(120)) {
			t.Errorf("expected total amount 120, got %s", got.TotalAmountSent)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		err := s.UpdateUser(ctx, "nobody", domain.UserUpdate{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on update, got %v", err)
		}
	})
}

func TestTransactionWindows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(id string, ts time.Time) {
		t.Helper()
		_, err := s.InsertTransaction(ctx, &domain.Transaction{
			ID:        id,
			UserID:    "user-001",
			Type:      domain.TxTypeGift,
			Amount:    decimal.NewFromInt(10),
			Timestamp: ts,
			Status:    domain.StatusApproved,
		})
		if err != nil {
			t.Fatalf("failed to insert transaction %s: %v", id, err)
		}
	}

	insert("tx-recent-1", now.Add(-30*time.Second))
	insert("tx-recent-2", now.Add(-45*time.Minute))
	insert("tx-old", now.Add(-2*time.Hour))

	t.Run("HourWindow", func(t *testing.T) {
		txs, err := s.ListTransactionsSince(ctx, "user-001", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 2 {
			t.Errorf("expected 2 transactions in hour window, got %d", len(txs))
		}
	})

	t.Run("MinuteWindow", func(t *testing.T) {
		txs, err := s.ListTransactionsSince(ctx, "user-001", now.Add(-time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 1 {
			t.Errorf("expected 1 transaction in minute window, got %d", len(txs))
		}
	})

	t.Run("OtherUserEmpty", func(t *testing.T) {
		txs, err := s.ListTransactionsSince(ctx, "user-002", now.Add(-time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(txs) != 0 {
			t.Errorf("expected no transactions for other user, got %d", len(txs))
		}
	})
}

func TestTransactionInsertAssignsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := &domain.Transaction{
		UserID:     "user-001",
		ReceiverID: "creator-001",
		SessionID:  "sess-001",
		Type:       domain.TxTypeGift,
		Amount:     decimal.RequireFromString("12.50"),
		Timestamp:  time.Now().UTC(),
		Status:     "Blocked: Tip Limit Exceeded",
		Score:      40,
		Failed:     true,
	}

	id, err := s.InsertTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("failed to insert transaction: %v", err)
	}
	if id == "" {
		t.Fatal("expected assigned transaction ID")
	}

	got, err := s.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ReceiverID != "creator-001" || got.SessionID != "sess-001" {
		t.Errorf("unexpected parties: %+v", got)
	}
	if !got.Failed || got.Score != 40 {
		t.Errorf("unexpected outcome fields: %+v", got)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("expected amount 12.50, got %s", got.Amount)
	}
	if got.Decision().Outcome != domain.OutcomeBlocked {
		t.Errorf("expected blocked decision, got %+v", got.Decision())
	}
}

func TestNullableParties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Top-up: no receiver, no session.
	id, err := s.InsertTransaction(ctx, &domain.Transaction{
		UserID:    "user-001",
		Type:      domain.TxTypeTopup,
		Amount:    decimal.NewFromInt(100),
		Timestamp: time.Now().UTC(),
		Status:    domain.StatusApproved,
	})
	if err != nil {
		t.Fatalf("failed to insert top-up: %v", err)
	}

	got, err := s.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ReceiverID != "" || got.SessionID != "" {
		t.Errorf("expected empty receiver/session, got %+v", got)
	}
}

func TestRiskEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txID, err := s.InsertTransaction(ctx, &domain.Transaction{
		UserID:    "user-001",
		Type:      domain.TxTypeGift,
		Amount:    decimal.NewFromInt(60),
		Timestamp: time.Now().UTC(),
		Status:    "Blocked: Tip Limit Exceeded",
		Failed:    true,
	})
	if err != nil {
		t.Fatalf("failed to insert transaction: %v", err)
	}

	ev := &domain.RiskEvent{
		TransactionID: txID,
		UserID:        "user-001",
		RiskFactor:    "Tip Limit Exceeded",
		PointsAdded:   40,
	}
	if err := s.InsertRiskEvent(ctx, ev); err != nil {
		t.Fatalf("failed to insert risk event: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected assigned event ID")
	}

	events, err := s.ListRiskEventsByTransactionIDs(ctx, []string{txID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].PointsAdded != 40 {
		t.Errorf("unexpected events: %+v", events)
	}

	// Empty ID set short-circuits without a query.
	events, err = s.ListRiskEventsByTransactionIDs(ctx, nil)
	if err != nil || events != nil {
		t.Errorf("expected nil, nil for empty set, got %v, %v", events, err)
	}
}

func TestSessionsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sessions := []*domain.Session{
		{ID: "sess-001", UserID: "creator-001", Status: "live", StartTime: now.Add(-time.Hour)},
		{ID: "sess-002", UserID: "creator-001", Status: "ended", StartTime: now.Add(-20 * 24 * time.Hour)},
		{ID: "sess-003", UserID: "creator-002", Status: "live", StartTime: now},
	}
	for _, sess := range sessions {
		if err := s.InsertSession(ctx, sess); err != nil {
			t.Fatalf("failed to insert session %s: %v", sess.ID, err)
		}
	}

	t.Run("CreatorWindow", func(t *testing.T) {
		recent, err := s.ListSessionsByCreatorSince(ctx, "creator-001", now.Add(-14*24*time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(recent) != 1 || recent[0].ID != "sess-001" {
			t.Errorf("expected only sess-001 in window, got %+v", recent)
		}
	})

	t.Run("UpsertOverwrites", func(t *testing.T) {
		first := &domain.SessionStats{
			SessionID:  "sess-001",
			Status:     domain.SessionStatusFlagged,
			IsFlagged:  true,
			RiskScore:  70,
			ReviewedAt: now,
		}
		if err := s.UpsertSessionStats(ctx, first); err != nil {
			t.Fatalf("failed to upsert stats: %v", err)
		}

		second := &domain.SessionStats{
			SessionID:  "sess-001",
			Status:     domain.SessionStatusReviewed,
			IsFlagged:  false,
			RiskScore:  0,
			ReviewedAt: now.Add(time.Minute),
		}
		if err := s.UpsertSessionStats(ctx, second); err != nil {
			t.Fatalf("failed to upsert stats twice: %v", err)
		}

		got, err := s.GetSessionStats(ctx, "sess-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != domain.SessionStatusReviewed || got.IsFlagged || got.RiskScore != 0 {
			t.Errorf("stats not overwritten: %+v", got)
		}
	})

	t.Run("OpenSessions", func(t *testing.T) {
		open, err := s.ListOpenSessions(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// sess-001 was finalized above; the other two have no stats yet.
		if len(open) != 2 {
			t.Errorf("expected 2 open sessions, got %d: %+v", len(open), open)
		}
		for _, sess := range open {
			if sess.ID == "sess-001" {
				t.Error("finalized session listed as open")
			}
		}
	})
}

func TestSessionTransactions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := s.InsertTransaction(ctx, &domain.Transaction{
			UserID:    fmt.Sprintf("user-%03d", i),
			SessionID: "sess-001",
			Type:      domain.TxTypeGift,
			Amount:    decimal.NewFromInt(int64(i + 1)),
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Status:    domain.StatusApproved,
		})
		if err != nil {
			t.Fatalf("failed to insert transaction: %v", err)
		}
	}
	if _, err := s.InsertTransaction(ctx, &domain.Transaction{
		UserID:    "user-x",
		SessionID: "sess-002",
		Type:      domain.TxTypeGift,
		Amount:    decimal.NewFromInt(5),
		Timestamp: now,
		Status:    domain.StatusApproved,
	}); err != nil {
		t.Fatalf("failed to insert transaction: %v", err)
	}

	bySession, err := s.ListTransactionsBySession(ctx, "sess-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bySession) != 3 {
		t.Errorf("expected 3 transactions for sess-001, got %d", len(bySession))
	}

	across, err := s.ListTransactionsBySessions(ctx, []string{"sess-001", "sess-002"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(across) != 4 {
		t.Errorf("expected 4 transactions across sessions, got %d", len(across))
	}
}

func TestRuleConfigs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rule := &domain.RuleConfig{
		ID:         "night-owl",
		Name:       "Night Owl",
		Expression: "hour_count >= 3 && amount > 100.0",
		Points:     15,
		Outcome:    domain.RuleOutcomeReview,
		Enabled:    true,
	}
	if err := s.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("failed to save rule: %v", err)
	}

	got, err := s.GetRuleConfig(ctx, "night-owl")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Points != 15 || got.Outcome != domain.RuleOutcomeReview {
		t.Errorf("unexpected rule: %+v", got)
	}

	// Upsert same version updates in place.
	rule.Points = 25
	if err := s.SaveRuleConfig(ctx, rule); err != nil {
		t.Fatalf("failed to upsert rule: %v", err)
	}
	list, err := s.ListRuleConfigs(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Points != 25 {
		t.Errorf("expected single updated rule, got %+v", list)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertUser(ctx, &domain.User{ID: "user-001", Access: true, TotalAmountSent: decimal.Zero}); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}

	wantErr := errors.New("boom")
	err := s.WithTx(ctx, func(txStore domain.Store) error {
		if _, err := txStore.InsertTransaction(ctx, &domain.Transaction{
			UserID:    "user-001",
			Type:      domain.TxTypeGift,
			Amount:    decimal.NewFromInt(10),
			Timestamp: time.Now().UTC(),
			Status:    domain.StatusApproved,
		}); err != nil {
			return err
		}
		if err := txStore.UpdateUser(ctx, "user-001", domain.UserUpdate{
			RiskScore: 99, Access: true, TotalAmountSent: decimal.Zero,
		}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected injected error, got %v", err)
	}

	// Neither write survives.
	txs, err := s.ListTransactionsSince(ctx, "user-001", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected rollback of transaction insert, found %d rows", len(txs))
	}
	user, err := s.GetUser(ctx, "user-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.RiskScore != 0 {
		t.Errorf("expected rollback of user update, got score %d", user.RiskScore)
	}
}

func TestWithTxCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertUser(ctx, &domain.User{ID: "user-001", Access: true, TotalAmountSent: decimal.Zero}); err != nil {
		t.Fatalf("failed to insert user: %v", err)
	}

	err := s.WithTx(ctx, func(txStore domain.Store) error {
		return txStore.UpdateUser(ctx, "user-001", domain.UserUpdate{
			RiskScore: 40, Access: true, TotalAmountSent: decimal.Zero,
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := s.GetUser(ctx, "user-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.RiskScore != 40 {
		t.Errorf("expected committed score 40, got %d", user.RiskScore)
	}
}
