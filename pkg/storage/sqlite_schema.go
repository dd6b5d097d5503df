package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the database schema.
const Schema = `
-- Scored request records
CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,

    -- Actor identity
    src_ip TEXT,
    user_id TEXT,

    -- Chatbot context
    chatbot_id TEXT,
    conversation_id TEXT,

    -- LLM involved
    provider TEXT,
    model TEXT,

    -- Exchange content
    prompt TEXT NOT NULL,
    response TEXT,
    prompt_preview TEXT,

    -- Scoring outcome
    risk_score INTEGER NOT NULL,
    is_flagged BOOLEAN NOT NULL,
    flag_reason TEXT,
    matched_rule_ids TEXT,

    -- Caller-supplied context, JSON object
    metadata TEXT,

    created_at TIMESTAMP NOT NULL
);

-- Finalized actor sessions
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    actor_key TEXT NOT NULL,
    start_time TIMESTAMP NOT NULL,
    end_time TIMESTAMP NOT NULL,
    request_count INTEGER NOT NULL,
    avg_risk_score REAL NOT NULL,
    flagged_count INTEGER NOT NULL,
    risk_breakdown TEXT,
    risk_level TEXT,
    unusual_patterns TEXT,
    providers TEXT,
    models TEXT,
    finalized BOOLEAN NOT NULL
);

-- Raised alerts
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT,
    severity TEXT NOT NULL,
    alert_type TEXT NOT NULL,
    status TEXT NOT NULL,
    source_type TEXT NOT NULL,
    source_id TEXT,
    related_request_id TEXT,
    actor_key TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    acknowledged_at TIMESTAMP,
    resolved_at TIMESTAMP,
    acknowledged_by TEXT,
    resolved_by TEXT
);

-- Schema version table
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

-- Indexes for common queries
CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
CREATE INDEX IF NOT EXISTS idx_requests_src_ip ON requests(src_ip);
CREATE INDEX IF NOT EXISTS idx_requests_chatbot_id ON requests(chatbot_id);
CREATE INDEX IF NOT EXISTS idx_requests_provider ON requests(provider);
CREATE INDEX IF NOT EXISTS idx_requests_model ON requests(model);
CREATE INDEX IF NOT EXISTS idx_requests_is_flagged ON requests(is_flagged);
CREATE INDEX IF NOT EXISTS idx_requests_risk_score ON requests(risk_score);
CREATE INDEX IF NOT EXISTS idx_sessions_actor_key ON sessions(actor_key);
CREATE INDEX IF NOT EXISTS idx_sessions_end_time ON sessions(end_time);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
CREATE INDEX IF NOT EXISTS idx_alerts_actor_key ON alerts(actor_key);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

// InsertSchemaVersion inserts the schema version into the schema_version table.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version from the database.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
