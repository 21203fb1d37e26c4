package database

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both drivers. {{datetime}} is replaced per driver:
// MySQL keeps milliseconds, sqlite3 only parses columns declared DATETIME.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS verification_runs (
		id           VARCHAR(36)   NOT NULL PRIMARY KEY,
		target_url   VARCHAR(2048) NOT NULL,
		driver       VARCHAR(32)   NOT NULL,
		status       VARCHAR(16)   NOT NULL,
		phase        VARCHAR(32)   NOT NULL DEFAULT '',
		kind         VARCHAR(64)   NOT NULL DEFAULT '',
		message      TEXT          NULL,
		settled_text VARCHAR(255)  NOT NULL DEFAULT '',
		toggle_state VARCHAR(32)   NOT NULL DEFAULT '',
		result_json  TEXT          NULL,
		started_at   {{datetime}}  NOT NULL,
		completed_at {{datetime}}  NULL,
		duration_ms  BIGINT        NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS run_artifacts (
		run_id      VARCHAR(36)   NOT NULL,
		name        VARCHAR(64)   NOT NULL,
		phase       VARCHAR(32)   NOT NULL,
		path        VARCHAR(1024) NOT NULL,
		url         VARCHAR(2048) NOT NULL DEFAULT '',
		captured_at {{datetime}}  NOT NULL,
		PRIMARY KEY (run_id, name)
	)`,
}

// Migrate creates the results tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	datetime := "DATETIME(3)"
	if db.driver == DriverSQLite {
		datetime = "DATETIME"
	}

	for _, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{datetime}}", datetime)
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
