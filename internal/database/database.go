package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// historyTables are counted by Counts
var historyTables = []string{"sessions", "rounds"}

// DB is the SQLite run history. One connection serialises every write, the history
// recorder and the panel's reads share it.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the history database at dbPath, brings the schema up to date and
// marks sessions left running by a previous process as stopped.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open history database %s: %w", dbPath, err)
	}

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := db.closeAbandoned(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the connection
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	return db.conn.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// ExecTx runs fn in a transaction, rolling back when fn fails
func (db *DB) ExecTx(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return tx.Commit()
}

// Counts returns the number of rows of each history table
func (db *DB) Counts() (map[string]int64, error) {
	counts := make(map[string]int64, len(historyTables))
	for _, table := range historyTables {
		var n int64
		if err := db.conn.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// closeAbandoned stops sessions that were still running when their process exited
func (db *DB) closeAbandoned() (int64, error) {
	result, err := db.conn.Exec(`
		UPDATE sessions
		SET status = ?, error_message = COALESCE(error_message, 'process exited during session')
		WHERE status = ?
	`, SessionStopped, SessionRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to close abandoned sessions: %w", err)
	}
	return result.RowsAffected()
}
