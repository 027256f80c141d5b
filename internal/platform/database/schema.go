package database

import "database/sql"

// Schema is the full DDL, idempotent so Migrate can run at every boot.
const Schema = `
CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	url         TEXT NOT NULL,
	secret      TEXT NOT NULL,
	events      TEXT NOT NULL, -- JSON array of filters
	description TEXT,
	enabled     INTEGER NOT NULL DEFAULT 1,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_webhook_endpoints_tenant ON webhook_endpoints(tenant_id);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           TEXT PRIMARY KEY,
	endpoint_id  TEXT NOT NULL,
	tenant_id    TEXT NOT NULL,
	event_id     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	payload      BLOB NOT NULL,
	status       TEXT NOT NULL,
	attempts     TEXT NOT NULL DEFAULT '[]', -- JSON array
	next_attempt INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_due ON webhook_deliveries(status, next_attempt);
CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_endpoint ON webhook_deliveries(endpoint_id, created_at);

CREATE TABLE IF NOT EXISTS partner_applications (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	partner_email    TEXT NOT NULL,
	description      TEXT,
	callback_urls    TEXT NOT NULL, -- JSON array
	tier             TEXT NOT NULL,
	requested_scopes TEXT NOT NULL, -- JSON array
	status           TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	approved_at      INTEGER
);

CREATE TABLE IF NOT EXISTS api_keys (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL,
	tenant_id      TEXT,
	name           TEXT NOT NULL,
	key_hash       TEXT NOT NULL UNIQUE,
	key_prefix     TEXT NOT NULL,
	scopes         TEXT NOT NULL, -- JSON array
	ip_allowlist   TEXT,          -- JSON array
	status         TEXT NOT NULL,
	rate_limit_per_minute INTEGER,
	rate_limit_per_day    INTEGER,
	last_used_at   INTEGER,
	expires_at     INTEGER,
	rotated_at     INTEGER,
	revoked_at     INTEGER,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_keys_application ON api_keys(application_id);

CREATE TABLE IF NOT EXISTS usage_quotas (
	application_id TEXT NOT NULL,
	period         TEXT NOT NULL,
	quota_limit    INTEGER NOT NULL,
	used           INTEGER NOT NULL DEFAULT 0,
	reset_at       INTEGER NOT NULL,
	PRIMARY KEY (application_id, period)
);

CREATE TABLE IF NOT EXISTS usage_records (
	id             TEXT PRIMARY KEY,
	application_id TEXT NOT NULL,
	key_id         TEXT NOT NULL,
	endpoint       TEXT NOT NULL,
	method         TEXT NOT NULL,
	status_code    INTEGER NOT NULL,
	latency_ms     INTEGER NOT NULL,
	timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_app_time ON usage_records(application_id, timestamp);

CREATE TABLE IF NOT EXISTS api_versions (
	version       TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	released_at   INTEGER NOT NULL,
	deprecated_at INTEGER,
	sunset_at     INTEGER
);

CREATE TABLE IF NOT EXISTS workflows (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT,
	version         INTEGER NOT NULL,
	status          TEXT NOT NULL,
	trigger_type    TEXT NOT NULL,
	trigger_config  TEXT NOT NULL, -- JSON object
	actions         TEXT NOT NULL, -- JSON object keyed by action id
	start_action_id TEXT NOT NULL,
	variables       TEXT,          -- JSON object
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflows_tenant ON workflows(tenant_id);
CREATE INDEX IF NOT EXISTS idx_workflows_trigger ON workflows(status, trigger_type);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id                TEXT PRIMARY KEY,
	workflow_id       TEXT NOT NULL,
	workflow_version  INTEGER NOT NULL,
	tenant_id         TEXT NOT NULL,
	status            TEXT NOT NULL,
	trigger_data      TEXT, -- JSON object
	variables         TEXT, -- JSON object
	current_action_id TEXT,
	action_results    TEXT NOT NULL DEFAULT '{}', -- JSON object
	error             TEXT,
	started_at        INTEGER NOT NULL,
	finished_at       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_wf ON workflow_executions(workflow_id, started_at);
`

// Migrate applies the schema.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
