package store

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    user_id TEXT PRIMARY KEY,
    verified INTEGER NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0,
    access INTEGER NOT NULL DEFAULT 1,
    watchlist_flag INTEGER NOT NULL DEFAULT 0,
    total_tips_sent INTEGER NOT NULL DEFAULT 0,
    total_amount_sent NUMERIC NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    receiver_id TEXT,
    session_id TEXT,
    type TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    transaction_score INTEGER NOT NULL DEFAULT 0,
    failure_flag INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_session ON transactions(session_id);
`

const schemaRiskEvents = `
CREATE TABLE IF NOT EXISTS risk_events (
    event_id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    risk_factor TEXT NOT NULL,
    points_added INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_events_tx ON risk_events(transaction_id);
CREATE INDEX IF NOT EXISTS idx_risk_events_user ON risk_events(user_id);
`

const schemaSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    start_time TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_creator_start ON sessions(user_id, start_time);
`

const schemaSessionStats = `
CREATE TABLE IF NOT EXISTS session_stats (
    session_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    is_flagged INTEGER NOT NULL DEFAULT 0,
    risk_score INTEGER NOT NULL DEFAULT 0,
    reviewed_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaUsers,
		schemaTransactions,
		schemaRiskEvents,
		schemaSessions,
		schemaSessionStats,
		schemaRuleConfigs,
	}
}
