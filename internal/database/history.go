package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linyvhuo/webot/internal/events"
)

// Session statuses
const (
	SessionRunning   = events.StatusRunning
	SessionCompleted = events.StatusCompleted
	SessionStopped   = events.StatusStopped
	SessionFailed    = events.StatusError
)

// Round statuses
const (
	RoundOK           = events.RoundOK
	RoundSubmitFailed = events.RoundSubmitFailed
	RoundTimeout      = events.RoundTimeout
)

// ErrSessionNotFound is returned when a session id is unknown
var ErrSessionNotFound = errors.New("session not found")

// Session is one start request of the orchestrator
type Session struct {
	ID              string
	TargetTitle     string
	QuestionMode    string
	InputMethod     string
	TotalRounds     int
	CompletedRounds int
	Status          string
	ErrorMessage    *string
	StartedAt       time.Time
	FinishedAt      *time.Time
	DurationMs      *int64
}

// Round is one question/answer exchange of a session
type Round struct {
	ID           int64
	SessionID    string
	Round        int
	Question     string
	Status       string
	ErrorMessage *string
	DurationMs   int64
	RecordedAt   time.Time
}

// SessionStats summarises the rounds of a session
type SessionStats struct {
	Rounds        int
	OK            int
	SubmitFailed  int
	Timeouts      int
	AvgDurationMs float64
}

// StartSession records the start of a session
func (db *DB) StartSession(s Session) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT INTO sessions (
			id, target_title, question_mode, input_method,
			total_rounds, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.TargetTitle, s.QuestionMode, s.InputMethod, s.TotalRounds, SessionRunning, s.StartedAt)

	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// FinishSession marks a session as finished with the given status
func (db *DB) FinishSession(id, status string, completedRounds int, errorMessage string) error {
	return db.ExecTx(func(tx *sql.Tx) error {
		var startedAt time.Time
		err := tx.QueryRow(`SELECT started_at FROM sessions WHERE id = ?`, id).Scan(&startedAt)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%s: %w", id, ErrSessionNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get session start time: %w", err)
		}

		finishedAt := time.Now()
		var msg *string
		if errorMessage != "" {
			msg = &errorMessage
		}

		_, err = tx.Exec(`
			UPDATE sessions
			SET status = ?,
			    completed_rounds = ?,
			    error_message = ?,
			    finished_at = ?,
			    duration_ms = ?
			WHERE id = ?
		`, status, completedRounds, msg, finishedAt, finishedAt.Sub(startedAt).Milliseconds(), id)

		if err != nil {
			return fmt.Errorf("failed to finish session: %w", err)
		}
		return nil
	})
}

// RecordRound stores the outcome of one round. Recording the same round twice replaces it.
func (db *DB) RecordRound(r Round) error {
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO rounds (
			session_id, round, question, status, error_message, duration_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.Round, r.Question, r.Status, r.ErrorMessage, r.DurationMs, r.RecordedAt)

	if err != nil {
		return fmt.Errorf("failed to record round %d: %w", r.Round, err)
	}
	return nil
}

// GetSession returns one session by id
func (db *DB) GetSession(id string) (*Session, error) {
	row := db.conn.QueryRow(`
		SELECT id, target_title, question_mode, input_method, total_rounds, completed_rounds,
		       status, error_message, started_at, finished_at, duration_ms
		FROM sessions
		WHERE id = ?
	`, id)

	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// RecentSessions returns the latest sessions, newest first
func (db *DB) RecentSessions(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, target_title, question_mode, input_method, total_rounds, completed_rounds,
		       status, error_message, started_at, finished_at, duration_ms
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// SessionRounds returns the rounds of a session in order
func (db *DB) SessionRounds(sessionID string) ([]*Round, error) {
	rows, err := db.conn.Query(`
		SELECT id, session_id, round, question, status, error_message, duration_ms, recorded_at
		FROM rounds
		WHERE session_id = ?
		ORDER BY round
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*Round
	for rows.Next() {
		r := &Round{}
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Round, &r.Question, &r.Status,
			&r.ErrorMessage, &r.DurationMs, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// GetSessionStats aggregates the rounds of a session
func (db *DB) GetSessionStats(sessionID string) (*SessionStats, error) {
	stats := &SessionStats{}
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM rounds
		WHERE session_id = ?
	`, RoundOK, RoundSubmitFailed, RoundTimeout, sessionID).Scan(
		&stats.Rounds, &stats.OK, &stats.SubmitFailed, &stats.Timeouts, &stats.AvgDurationMs)

	if err != nil {
		return nil, fmt.Errorf("failed to get session stats: %w", err)
	}
	return stats, nil
}

// PruneSessions deletes sessions started before cutoff along with their rounds
func (db *DB) PruneSessions(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM sessions WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*Session, error) {
	s := &Session{}
	err := row.Scan(&s.ID, &s.TargetTitle, &s.QuestionMode, &s.InputMethod, &s.TotalRounds,
		&s.CompletedRounds, &s.Status, &s.ErrorMessage, &s.StartedAt, &s.FinishedAt, &s.DurationMs)
	if err != nil {
		return nil, err
	}
	return s, nil
}
