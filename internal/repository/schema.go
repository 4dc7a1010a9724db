package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    enumerator_id TEXT NOT NULL,
    questionnaire_form_id TEXT,
    submitted_at TIMESTAMP NOT NULL,
    gps_latitude REAL,
    gps_longitude REAL,
    completion_time_seconds INTEGER,
    raw_data TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_enumerator ON submissions(enumerator_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_submissions_submitted ON submissions(submitted_at);
`

const schemaForms = `
CREATE TABLE IF NOT EXISTS questionnaire_forms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    form_schema TEXT,
    created_at TIMESTAMP NOT NULL
);
`

// schemaThresholds is append-only: rows are never updated in place except to
// set effective_until when a new version supersedes them. The authoritative
// row for a rule_key is the one with effective_until IS NULL.
const schemaThresholds = `
CREATE TABLE IF NOT EXISTS fraud_thresholds (
    id TEXT PRIMARY KEY,
    rule_key TEXT NOT NULL,
    display_name TEXT NOT NULL,
    rule_category TEXT NOT NULL,
    threshold_value REAL NOT NULL,
    weight REAL,
    severity_floor TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    effective_from TIMESTAMP NOT NULL,
    effective_until TIMESTAMP,
    version INTEGER NOT NULL DEFAULT 1,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_thresholds_rule_key ON fraud_thresholds(rule_key, version);
CREATE INDEX IF NOT EXISTS idx_thresholds_current ON fraud_thresholds(is_active, effective_until);
CREATE INDEX IF NOT EXISTS idx_thresholds_category ON fraud_thresholds(rule_category);
`

const schemaDetections = `
CREATE TABLE IF NOT EXISTS fraud_detections (
    id TEXT PRIMARY KEY,
    submission_id TEXT NOT NULL,
    enumerator_id TEXT NOT NULL,
    config_version INTEGER NOT NULL,
    gps_score REAL NOT NULL,
    speed_score REAL NOT NULL,
    straightline_score REAL NOT NULL,
    duplicate_score REAL NOT NULL,
    timing_score REAL NOT NULL,
    total_score REAL NOT NULL,
    severity TEXT NOT NULL,
    details TEXT NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_submission ON fraud_detections(submission_id);
CREATE INDEX IF NOT EXISTS idx_detections_enumerator ON fraud_detections(enumerator_id);
CREATE INDEX IF NOT EXISTS idx_detections_severity ON fraud_detections(severity);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSubmissions,
		schemaForms,
		schemaThresholds,
		schemaDetections,
	}
}
