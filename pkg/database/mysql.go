package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dev/bravebird/ipview-verify/pkg/models"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// DB represents the database connection
type DB struct {
	conn   *sql.DB
	driver string
}

// New creates a new MySQL connection
func New(dsn string) (*DB, error) {
	return Open(DriverMySQL, dsn)
}

// Open creates a new database connection for the given driver
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverMySQL:
		// Timestamps are scanned into time.Time
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		dsn = cfg.FormatDSN()
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if driver == DriverSQLite {
		// Every connection to :memory: is a separate database
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, driver: driver}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// ==================== Verification Runs ====================

// CreateRun records a run that has been accepted but not finished
func (db *DB) CreateRun(ctx context.Context, run *models.RunResult) error {
	query := `
		INSERT INTO verification_runs (id, target_url, driver, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = models.StatusPending
	}

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.TargetURL,
		run.Driver,
		run.Status,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// UpdateRunStatus moves a run to a new status without touching its result
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	query := `UPDATE verification_runs SET status = ? WHERE id = ?`

	_, err := db.conn.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// SaveResult stores a finished run and its artifacts. Runs that were
// never created (CLI runs) are inserted.
func (db *DB) SaveResult(ctx context.Context, run *models.RunResult) error {
	resultJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: run.CompletedAt.UTC(), Valid: true}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE verification_runs
		SET target_url = ?, driver = ?, status = ?, phase = ?, kind = ?, message = ?,
		    settled_text = ?, toggle_state = ?, result_json = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?
	`,
		run.TargetURL, run.Driver, run.Status, run.Phase, run.Kind, run.Message,
		run.SettledText, run.ToggleState, string(resultJSON), completedAt, run.DurationMs,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO verification_runs (id, target_url, driver, status, phase, kind, message,
			                               settled_text, toggle_state, result_json, started_at, completed_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, run.TargetURL, run.Driver, run.Status, run.Phase, run.Kind, run.Message,
			run.SettledText, run.ToggleState, string(resultJSON), run.StartedAt.UTC(), completedAt, run.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_artifacts WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear artifacts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_artifacts (run_id, name, phase, path, url, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, a := range run.Artifacts {
		_, err := stmt.ExecContext(ctx, run.ID, a.Name, a.Phase, a.Path, a.URL, a.CapturedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert artifact %s: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Finished runs are returned in full.
func (db *DB) GetRun(ctx context.Context, id string) (*models.RunResult, error) {
	query := `
		SELECT id, target_url, driver, status, phase, kind, message, settled_text,
		       toggle_state, started_at, completed_at, duration_ms, result_json
		FROM verification_runs
		WHERE id = ?
	`

	var (
		run        models.RunResult
		resultJSON sql.NullString
	)
	err := scanRun(db.conn.QueryRowContext(ctx, query, id), &run, &resultJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if resultJSON.Valid && resultJSON.String != "" {
		var full models.RunResult
		if err := json.Unmarshal([]byte(resultJSON.String), &full); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return &full, nil
	}

	run.Artifacts, err = db.ListArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first. Phases and
// console output are not included.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.RunResult, error) {
	query := `
		SELECT id, target_url, driver, status, phase, kind, message, settled_text,
		       toggle_state, started_at, completed_at, duration_ms, result_json
		FROM verification_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunResult{}
	for rows.Next() {
		var (
			run     models.RunResult
			ignored sql.NullString
		)
		if err := scanRun(rows, &run, &ignored); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// ListArtifacts retrieves the artifacts recorded for a run
func (db *DB) ListArtifacts(ctx context.Context, runID string) ([]models.Artifact, error) {
	query := `
		SELECT name, phase, path, url, captured_at
		FROM run_artifacts
		WHERE run_id = ?
		ORDER BY captured_at
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := []models.Artifact{}
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.Name, &a.Phase, &a.Path, &a.URL, &a.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	return artifacts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner, run *models.RunResult, resultJSON *sql.NullString) error {
	var (
		message     sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.TargetURL,
		&run.Driver,
		&run.Status,
		&run.Phase,
		&run.Kind,
		&message,
		&run.SettledText,
		&run.ToggleState,
		&run.StartedAt,
		&completedAt,
		&run.DurationMs,
		resultJSON,
	)
	if err != nil {
		return err
	}

	run.Message = message.String
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	return nil
}
