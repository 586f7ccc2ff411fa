// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Store defines the persistence contract the engine requires from its
// collaborator. Users and sessions are provisioned by the surrounding
// application; the insert methods for them exist for seeding and tests.
type Store interface {
	// User risk state
	GetUser(ctx context.Context, userID string) (*User, error)
	InsertUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) error

	// Transactions
	InsertTransaction(ctx context.Context, tx *Transaction) (string, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactionsSince(ctx context.Context, userID string, since time.Time) ([]*Transaction, error)
	ListTransactionsBySession(ctx context.Context, sessionID string) ([]*Transaction, error)
	ListTransactionsBySessions(ctx context.Context, sessionIDs []string) ([]*Transaction, error)

	// Risk events
	InsertRiskEvent(ctx context.Context, ev *RiskEvent) error
	ListRiskEventsByTransactionIDs(ctx context.Context, txIDs []string) ([]*RiskEvent, error)

	// Sessions
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	InsertSession(ctx context.Context, session *Session) error
	ListSessionsByCreatorSince(ctx context.Context, creatorID string, since time.Time) ([]*Session, error)
	ListOpenSessions(ctx context.Context) ([]*Session, error)
	UpsertSessionStats(ctx context.Context, stats *SessionStats) error
	GetSessionStats(ctx context.Context, sessionID string) (*SessionStats, error)

	// Supplemental rule configurations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// WithTx runs fn against a transaction-scoped store. All writes made
	// through the scoped store commit together or not at all.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
