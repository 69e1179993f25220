// Package ledger records generated datasets and processing runs in SQLite.
package ledger

// CreateDatasetsTableSQL creates the datasets table. One row per generated file.
const CreateDatasetsTableSQL = `
CREATE TABLE IF NOT EXISTS datasets (
    dataset_id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    object_key TEXT,
    etag TEXT,
    record_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    seed INTEGER NOT NULL DEFAULT 0,
    window_start INTEGER NOT NULL,
    window_end INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateRunsTableSQL creates the runs table. One row per processor run,
// successful or not.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    input_path TEXT NOT NULL,
    event_type TEXT NOT NULL,
    batch_size INTEGER NOT NULL,
    worker_count INTEGER NOT NULL,
    total INTEGER NOT NULL,
    batch_count INTEGER NOT NULL,
    skipped INTEGER NOT NULL DEFAULT 0,
    elapsed_ns INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL
)`

// CreateRunBatchesTableSQL creates the per-batch timing table.
const CreateRunBatchesTableSQL = `
CREATE TABLE IF NOT EXISTS run_batches (
    run_id TEXT NOT NULL,
    batch_id INTEGER NOT NULL,
    size INTEGER NOT NULL,
    elapsed_ns INTEGER NOT NULL,
    slow INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, batch_id),
    FOREIGN KEY (run_id) REFERENCES runs(run_id)
)`

// CreateIndexesSQL creates lookup indexes.
var CreateIndexesSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	`CREATE INDEX IF NOT EXISTS idx_datasets_created ON datasets(created_at)`,
}

// AllSchemaSQL returns all schema statements in execution order.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateDatasetsTableSQL,
		CreateRunsTableSQL,
		CreateRunBatchesTableSQL,
	}
	return append(stmts, CreateIndexesSQL...)
}
