package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	perrors "github.com/arkilian/eventpipe/internal/errors"
	"github.com/arkilian/eventpipe/internal/observability"
	_ "github.com/mattn/go-sqlite3"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = perrors.New(perrors.ErrCategoryLedger, perrors.CodeRecordNotFound, "run not found")

// Ledger stores dataset and run history.
type Ledger interface {
	// RecordDataset adds a generated dataset.
	RecordDataset(ctx context.Context, rec *DatasetRecord) error

	// RecordRun adds a processor run with its per-batch timings.
	RecordRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a run and its batches by id.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// ListRuns returns the most recent runs first, without batches.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// ListDatasets returns the most recent datasets first.
	ListDatasets(ctx context.Context, limit int) ([]*DatasetRecord, error)

	Close() error
}

// DatasetRecord describes a generated dataset file.
type DatasetRecord struct {
	DatasetID   string
	Path        string
	ObjectKey   string
	ETag        string
	RecordCount int64
	SizeBytes   int64
	Seed        uint64
	WindowStart time.Time
	WindowEnd   time.Time
	CreatedAt   time.Time
}

// RunRecord describes one processor run.
type RunRecord struct {
	RunID       string
	InputPath   string
	EventType   string
	BatchSize   int
	WorkerCount int
	Total       int64
	BatchCount  int64
	Skipped     int64
	Elapsed     time.Duration
	Status      string
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time

	// Batches is populated by GetRun only
	Batches []observability.BatchSample
}

// SQLiteLedger implements Ledger using SQLite.
type SQLiteLedger struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Write-only lock

	insertBatchStmt *sql.Stmt
}

// Open opens or creates the ledger database at dbPath.
func Open(dbPath string) (*SQLiteLedger, error) {
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, perrors.NewLedgerError("open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		db.Close()
		return nil, perrors.NewLedgerError("open read database", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	l := &SQLiteLedger{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := l.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, perrors.NewLedgerError("initialize schema", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT INTO run_batches (run_id, batch_id, size, elapsed_ns, slow)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, perrors.NewLedgerError("prepare batch insert", err)
	}
	l.insertBatchStmt = insertStmt

	return l, nil
}

func (l *SQLiteLedger) initSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// RecordDataset adds a generated dataset.
func (l *SQLiteLedger) RecordDataset(ctx context.Context, rec *DatasetRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO datasets (
			dataset_id, path, object_key, etag,
			record_count, size_bytes, seed,
			window_start, window_end, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DatasetID, rec.Path, nullString(rec.ObjectKey), nullString(rec.ETag),
		rec.RecordCount, rec.SizeBytes, int64(rec.Seed),
		rec.WindowStart.Unix(), rec.WindowEnd.Unix(), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return perrors.NewLedgerError(fmt.Sprintf("insert dataset %s", rec.DatasetID), err)
	}
	return nil
}

// RecordRun adds a run and its batch rows in one transaction.
func (l *SQLiteLedger) RecordRun(ctx context.Context, rec *RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return perrors.NewLedgerError("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, input_path, event_type, batch_size, worker_count,
			total, batch_count, skipped, elapsed_ns,
			status, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.InputPath, rec.EventType, rec.BatchSize, rec.WorkerCount,
		rec.Total, rec.BatchCount, rec.Skipped, int64(rec.Elapsed),
		rec.Status, nullString(rec.Error), rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return perrors.NewLedgerError(fmt.Sprintf("insert run %s", rec.RunID), err)
	}

	stmt := tx.StmtContext(ctx, l.insertBatchStmt)
	for _, b := range rec.Batches {
		if _, err := stmt.ExecContext(ctx, rec.RunID, b.BatchID, b.Size, int64(b.Elapsed), b.Slow); err != nil {
			return perrors.NewLedgerError(fmt.Sprintf("insert batch %d of run %s", b.BatchID, rec.RunID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return perrors.NewLedgerError("commit run", err)
	}
	return nil
}

const runColumns = `run_id, input_path, event_type, batch_size, worker_count,
	total, batch_count, skipped, elapsed_ns, status, COALESCE(error, ''),
	started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var rec RunRecord
	var elapsed, started, finished int64
	err := row.Scan(
		&rec.RunID, &rec.InputPath, &rec.EventType, &rec.BatchSize, &rec.WorkerCount,
		&rec.Total, &rec.BatchCount, &rec.Skipped, &elapsed, &rec.Status, &rec.Error,
		&started, &finished,
	)
	if err != nil {
		return nil, err
	}
	rec.Elapsed = time.Duration(elapsed)
	rec.StartedAt = time.UnixMilli(started).UTC()
	rec.FinishedAt = time.UnixMilli(finished).UTC()
	return &rec, nil
}

// GetRun retrieves a run and its batches ordered by batch id.
func (l *SQLiteLedger) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := l.readDB.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound.WithDetails(map[string]interface{}{"run_id": runID})
	}
	if err != nil {
		return nil, readFailed(fmt.Sprintf("get run %s", runID), err)
	}

	rows, err := l.readDB.QueryContext(ctx, `
		SELECT batch_id, size, elapsed_ns, slow FROM run_batches
		WHERE run_id = ? ORDER BY batch_id`, runID)
	if err != nil {
		return nil, readFailed(fmt.Sprintf("get batches of run %s", runID), err)
	}
	defer rows.Close()

	for rows.Next() {
		var b observability.BatchSample
		var elapsed int64
		if err := rows.Scan(&b.BatchID, &b.Size, &elapsed, &b.Slow); err != nil {
			return nil, readFailed("scan batch", err)
		}
		b.Elapsed = time.Duration(elapsed)
		rec.Batches = append(rec.Batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("iterate batches", err)
	}

	return rec, nil
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 means all.
func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, run_id DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readFailed("list runs", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, readFailed("scan run", err)
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("iterate runs", err)
	}
	return runs, nil
}

// ListDatasets returns up to limit datasets, most recent first. limit <= 0 means all.
func (l *SQLiteLedger) ListDatasets(ctx context.Context, limit int) ([]*DatasetRecord, error) {
	query := `
		SELECT dataset_id, path, COALESCE(object_key, ''), COALESCE(etag, ''),
			record_count, size_bytes, seed, window_start, window_end, created_at
		FROM datasets ORDER BY created_at DESC, dataset_id DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, readFailed("list datasets", err)
	}
	defer rows.Close()

	var datasets []*DatasetRecord
	for rows.Next() {
		var rec DatasetRecord
		var seed, start, end, created int64
		if err := rows.Scan(&rec.DatasetID, &rec.Path, &rec.ObjectKey, &rec.ETag,
			&rec.RecordCount, &rec.SizeBytes, &seed, &start, &end, &created); err != nil {
			return nil, readFailed("scan dataset", err)
		}
		rec.Seed = uint64(seed)
		rec.WindowStart = time.Unix(start, 0).UTC()
		rec.WindowEnd = time.Unix(end, 0).UTC()
		rec.CreatedAt = time.UnixMilli(created).UTC()
		datasets = append(datasets, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed("iterate datasets", err)
	}
	return datasets, nil
}

// Close closes both database connections.
func (l *SQLiteLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.insertBatchStmt != nil {
		if err := l.insertBatchStmt.Close(); err != nil {
			firstErr = err
		}
	}
	if err := l.readDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func readFailed(message string, err error) error {
	return perrors.Wrap(perrors.ErrCategoryLedger, perrors.CodeLedgerReadFailed, message, err)
}
