package repository

// Schema definitions for the FraudGuard database.
// Shared across SQLite and PostgreSQL except for the batches table, where
// seq must be database-assigned so concurrent creates never collide.

const schemaBatchesSQLite = `
CREATE TABLE IF NOT EXISTS batches (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT UNIQUE,
    name TEXT NOT NULL,
    upload_date TIMESTAMP NOT NULL,
    total_records INTEGER NOT NULL,
    status TEXT NOT NULL,
    current_step INTEGER NOT NULL,
    fraud_summary TEXT,
    intel_summary TEXT,
    search_summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_upload_date ON batches(upload_date);
`

const schemaBatchesPostgres = `
CREATE TABLE IF NOT EXISTS batches (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT UNIQUE,
    name TEXT NOT NULL,
    upload_date TIMESTAMP NOT NULL,
    total_records INTEGER NOT NULL,
    status TEXT NOT NULL,
    current_step INTEGER NOT NULL,
    fraud_summary TEXT,
    intel_summary TEXT,
    search_summary TEXT
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_upload_date ON batches(upload_date);
`

const schemaRecords = `
CREATE TABLE IF NOT EXISTS records (
    batch_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    customer_id TEXT NOT NULL,
    data TEXT NOT NULL,
    PRIMARY KEY (batch_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_records_customer ON records(batch_id, customer_id);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    batch_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    customer_id TEXT NOT NULL,
    fraud TEXT,
    geo TEXT,
    similarity TEXT,
    PRIMARY KEY (batch_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_assessments_customer ON assessments(batch_id, customer_id);
`

const schemaScoringConfigs = `
CREATE TABLE IF NOT EXISTS scoring_configs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT,
    expression TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scoring_configs_enabled ON scoring_configs(enabled);
`

// AllSchemas returns all schema statements for the driver in order.
func AllSchemas(driver string) []string {
	batches := schemaBatchesSQLite
	if driver == "postgres" {
		batches = schemaBatchesPostgres
	}
	return []string{
		batches,
		schemaRecords,
		schemaAssessments,
		schemaScoringConfigs,
	}
}
