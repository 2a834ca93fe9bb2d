package database

import (
	"database/sql"
	"fmt"
)

// schema lists the history schema steps in order. The applied count is kept in SQLite's
// user_version pragma, so a step must never be edited once released.
var schema = []struct {
	description string
	ddl         string
}{
	{
		description: "sessions, one row per start request",
		ddl: `
			CREATE TABLE sessions (
				id TEXT PRIMARY KEY,
				target_title TEXT NOT NULL,
				question_mode TEXT NOT NULL,
				input_method TEXT NOT NULL,
				total_rounds INTEGER NOT NULL,
				completed_rounds INTEGER DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'running',
				error_message TEXT,
				started_at DATETIME NOT NULL,
				finished_at DATETIME,
				duration_ms INTEGER
			);
			CREATE INDEX idx_sessions_started ON sessions(started_at);
			CREATE INDEX idx_sessions_status ON sessions(status);`,
	},
	{
		description: "rounds, one row per question and answer",
		ddl: `
			CREATE TABLE rounds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				round INTEGER NOT NULL,
				question TEXT NOT NULL,
				status TEXT NOT NULL,
				error_message TEXT,
				duration_ms INTEGER NOT NULL,
				recorded_at DATETIME NOT NULL,
				UNIQUE (session_id, round)
			);
			CREATE INDEX idx_rounds_session ON rounds(session_id);`,
	},
}

// LatestVersion is the schema version of a fully migrated database
func LatestVersion() int {
	return len(schema)
}

// Version returns the schema version of the open database
func (db *DB) Version() (int, error) {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

// migrate applies the schema steps the database has not seen yet, each in its own transaction
func (db *DB) migrate() error {
	current, err := db.Version()
	if err != nil {
		return err
	}
	if current > len(schema) {
		return fmt.Errorf("history database version %d is newer than this build (%d)", current, len(schema))
	}

	for i := current; i < len(schema); i++ {
		step := schema[i]
		err := db.ExecTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(step.ddl); err != nil {
				return err
			}
			// pragmas take no parameters
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("history migration %d (%s) failed: %w", i+1, step.description, err)
		}
	}
	return nil
}
