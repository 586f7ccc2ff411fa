// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/streamgift/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// querier is satisfied by both *sql.DB and *sql.Tx so every method can run
// inside or outside a transaction scope.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	q      querier
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		q:      db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn against a transaction-scoped copy of the store. Nested
// WithTx calls are not supported.
func (s *SQLStore) WithTx(ctx context.Context, fn func(domain.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fmt.Errorf("%w: nested transaction", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	scoped := &SQLStore{db: s.db, q: tx, driver: s.driver}
	if err := fn(scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// GetUser loads a user's risk state.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT user_id, verified, risk_score, access, watchlist_flag,
		       total_tips_sent, total_amount_sent, created_at
		FROM users
		WHERE user_id = ?
	`

	var u domain.User
	var verified, access, watchlist int

	err := s.q.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&u.ID, &verified, &u.RiskScore, &access, &watchlist,
		&u.TotalTipsSent, &u.TotalAmountSent, &u.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.Verified = verified == 1
	u.Access = access == 1
	u.WatchlistFlag = watchlist == 1

	return &u, nil
}

// InsertUser creates a user row. Provisioning belongs to the surrounding
// application; this exists for seeding and tests.
func (s *SQLStore) InsertUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user ID is required", ErrInvalidInput)
	}

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO users (
			user_id, verified, risk_score, access, watchlist_flag,
			total_tips_sent, total_amount_sent, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		user.ID, boolToInt(user.Verified), user.RiskScore,
		boolToInt(user.Access), boolToInt(user.WatchlistFlag),
		user.TotalTipsSent, user.TotalAmountSent, createdAt,
	)
	return err
}

// UpdateUser writes back the mutable risk fields for a user.
func (s *SQLStore) UpdateUser(ctx context.Context, userID string, upd domain.UserUpdate) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		UPDATE users
		SET risk_score = ?, access = ?, watchlist_flag = ?,
		    total_tips_sent = ?, total_amount_sent = ?
		WHERE user_id = ?
	`

	res, err := s.q.ExecContext(ctx, s.rebind(query),
		upd.RiskScore, boolToInt(upd.Access), boolToInt(upd.WatchlistFlag),
		upd.TotalTipsSent, upd.TotalAmountSent, userID,
	)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertTransaction creates a transaction record and returns the assigned ID.
func (s *SQLStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) (string, error) {
	if tx.UserID == "" {
		return "", fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	id := tx.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (
			transaction_id, user_id, receiver_id, session_id, type, amount,
			timestamp, status, transaction_score, failure_flag, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		id, tx.UserID, nullable(tx.ReceiverID), nullable(tx.SessionID),
		tx.Type, tx.Amount, tx.Timestamp, tx.Status,
		tx.Score, boolToInt(tx.Failed), createdAt,
	)
	if err != nil {
		return "", err
	}

	tx.ID = id
	tx.CreatedAt = createdAt
	return id, nil
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLStore) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	query := selectTransaction + ` WHERE transaction_id = ?`

	tx, err := scanTransaction(s.q.QueryRowContext(ctx, s.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListTransactionsSince retrieves a user's transactions in a trailing window.
// The lower bound is inclusive, matching the frequency and smurfing rules.
func (s *SQLStore) ListTransactionsSince(ctx context.Context, userID string, since time.Time) ([]*domain.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := selectTransaction + `
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListTransactionsBySession retrieves all transactions scoped to a session.
func (s *SQLStore) ListTransactionsBySession(ctx context.Context, sessionID string) ([]*domain.Transaction, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := selectTransaction + `
		WHERE session_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// ListTransactionsBySessions retrieves transactions across several sessions,
// used for the creator's trailing-window review.
func (s *SQLStore) ListTransactionsBySessions(ctx context.Context, sessionIDs []string) ([]*domain.Transaction, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}

	query := selectTransaction + ` WHERE session_id IN (` + placeholders(len(sessionIDs)) + `)`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), toAnySlice(sessionIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// InsertRiskEvent appends a risk event.
func (s *SQLStore) InsertRiskEvent(ctx context.Context, ev *domain.RiskEvent) error {
	if ev.TransactionID == "" {
		return fmt.Errorf("%w: transaction ID is required", ErrInvalidInput)
	}

	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO risk_events (
			event_id, transaction_id, user_id, risk_factor, points_added, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		id, ev.TransactionID, ev.UserID, ev.RiskFactor, ev.PointsAdded, createdAt,
	)
	if err != nil {
		return err
	}

	ev.ID = id
	ev.CreatedAt = createdAt
	return nil
}

// ListRiskEventsByTransactionIDs retrieves risk events for a set of
// transactions, used for session score aggregation.
func (s *SQLStore) ListRiskEventsByTransactionIDs(ctx context.Context, txIDs []string) ([]*domain.RiskEvent, error) {
	if len(txIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT event_id, transaction_id, user_id, risk_factor, points_added, created_at
		FROM risk_events
		WHERE transaction_id IN (` + placeholders(len(txIDs)) + `)`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), toAnySlice(txIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.RiskEvent
	for rows.Next() {
		var ev domain.RiskEvent
		if err := rows.Scan(
			&ev.ID, &ev.TransactionID, &ev.UserID,
			&ev.RiskFactor, &ev.PointsAdded, &ev.CreatedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}

	return events, rows.Err()
}

// GetSession loads a session.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT session_id, user_id, status, start_time
		FROM sessions
		WHERE session_id = ?
	`

	var sess domain.Session
	err := s.q.QueryRowContext(ctx, s.rebind(query), sessionID).Scan(
		&sess.ID, &sess.UserID, &sess.Status, &sess.StartTime,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &sess, nil
}

// InsertSession creates a session row, for seeding and tests.
func (s *SQLStore) InsertSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		return fmt.Errorf("%w: session ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO sessions (session_id, user_id, status, start_time)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		session.ID, session.UserID, session.Status, session.StartTime,
	)
	return err
}

// ListSessionsByCreatorSince retrieves a creator's sessions started within the
// trailing window.
func (s *SQLStore) ListSessionsByCreatorSince(ctx context.Context, creatorID string, since time.Time) ([]*domain.Session, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("%w: creatorID is required", ErrInvalidInput)
	}

	query := `
		SELECT session_id, user_id, status, start_time
		FROM sessions
		WHERE user_id = ? AND start_time >= ?
		ORDER BY start_time DESC
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), creatorID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

// ListOpenSessions retrieves sessions that have never been reviewed or whose
// last review did not finalize them. Used by the worker's periodic sweep.
func (s *SQLStore) ListOpenSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `
		SELECT s.session_id, s.user_id, s.status, s.start_time
		FROM sessions s
		LEFT JOIN session_stats st ON st.session_id = s.session_id
		WHERE st.session_id IS NULL OR st.status <> ?
		ORDER BY s.start_time ASC
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query), domain.SessionStatusReviewed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSessions(rows)
}

// UpsertSessionStats overwrites a session's aggregate verdict.
func (s *SQLStore) UpsertSessionStats(ctx context.Context, stats *domain.SessionStats) error {
	if stats.SessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO session_stats (session_id, status, is_flagged, risk_score, reviewed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			status = excluded.status,
			is_flagged = excluded.is_flagged,
			risk_score = excluded.risk_score,
			reviewed_at = excluded.reviewed_at
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		stats.SessionID, stats.Status, boolToInt(stats.IsFlagged),
		stats.RiskScore, stats.ReviewedAt,
	)
	return err
}

// GetSessionStats retrieves a session's latest review verdict.
func (s *SQLStore) GetSessionStats(ctx context.Context, sessionID string) (*domain.SessionStats, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT session_id, status, is_flagged, risk_score, reviewed_at
		FROM session_stats
		WHERE session_id = ?
	`

	var st domain.SessionStats
	var flagged int

	err := s.q.QueryRowContext(ctx, s.rebind(query), sessionID).Scan(
		&st.SessionID, &st.Status, &flagged, &st.RiskScore, &st.ReviewedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	st.IsFlagged = flagged == 1
	return &st, nil
}

// SaveRuleConfig stores a supplemental rule configuration.
func (s *SQLStore) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}
	if rule.Version == "" {
		rule.Version = "1"
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, points, outcome, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			points = excluded.points,
			outcome = excluded.outcome,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.q.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Version,
		rule.Expression, rule.Points, string(rule.Outcome),
		boolToInt(rule.Enabled), now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (s *SQLStore) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule ID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, description, version, expression, points, outcome, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var desc sql.NullString
	var outcome string
	var enabled int

	err := s.q.QueryRowContext(ctx, s.rebind(query), ruleID).Scan(
		&cfg.ID, &cfg.Name, &desc, &cfg.Version,
		&cfg.Expression, &cfg.Points, &outcome, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Description = desc.String
	cfg.Outcome = domain.RuleOutcome(outcome)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListRuleConfigs retrieves all enabled supplemental rules.
func (s *SQLStore) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, points, outcome, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := s.q.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var desc sql.NullString
		var outcome string
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &desc, &cfg.Version,
			&cfg.Expression, &cfg.Points, &outcome, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Description = desc.String
		cfg.Outcome = domain.RuleOutcome(outcome)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const selectTransaction = `
	SELECT transaction_id, user_id, receiver_id, session_id, type, amount,
	       timestamp, status, transaction_score, failure_flag, created_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var receiver, session sql.NullString
	var failed int

	if err := row.Scan(
		&tx.ID, &tx.UserID, &receiver, &session, &tx.Type, &tx.Amount,
		&tx.Timestamp, &tx.Status, &tx.Score, &failed, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	tx.ReceiverID = receiver.String
	tx.SessionID = session.String
	tx.Failed = failed == 1

	return &tx, nil
}

func collectTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		var sess domain.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.StartTime); err != nil {
			return nil, err
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toAnySlice(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
