// Package store persists monitoring sessions and their alerted events in
// SQLite so reports can be produced after the live loop has exited.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dj-oyu/class-monitor/internal/alert"
	"github.com/dj-oyu/class-monitor/internal/behavior"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is one run of the live monitor for one student.
type Session struct {
	ID        string
	Student   string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Store manages the SQLite database of sessions and events
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open opens (and creates) the database at dbPath. ":memory:" is accepted.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database path
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateSession starts a new session for student.
func (s *Store) CreateSession(ctx context.Context, student string, startedAt time.Time) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Student:   student,
		StartedAt: startedAt.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, student, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Student, sess.StartedAt)
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvent stores one alerted event of a session.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, ev alert.Event) error {
	if !ev.Label.Valid() {
		return fmt.Errorf("%w: %q", alert.ErrInvalidLabel, ev.Label)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, occurred_at, label) VALUES (?, ?, ?)`,
		sessionID, ev.Time.UTC(), string(ev.Label))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// SaveSummary replaces the per-label tally of a session.
func (s *Store) SaveSummary(ctx context.Context, sessionID string, sum behavior.Summary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_stats WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear session stats: %w", err)
	}
	for _, label := range behavior.Labels() {
		frames, instances, dur := sum.Frames[label], sum.Instances[label], sum.Durations[label]
		if frames == 0 && instances == 0 && dur == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_stats (session_id, label, frames, instances, duration_ms) VALUES (?, ?, ?, ?, ?)`,
			sessionID, string(label), frames, instances, dur.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert session stats: %w", err)
		}
	}
	return tx.Commit()
}

// SessionSummary loads the tally saved for a session. ErrNotFound means
// the session ended before any frame was classified.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (behavior.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT label, frames, instances, duration_ms FROM session_stats WHERE session_id = ?`, sessionID)
	if err != nil {
		return behavior.Summary{}, fmt.Errorf("query session stats: %w", err)
	}
	defer rows.Close()

	sum := behavior.Summary{
		Frames:    map[behavior.Label]int{},
		Instances: map[behavior.Label]int{},
		Durations: map[behavior.Label]time.Duration{},
	}
	found := false
	for rows.Next() {
		var label string
		var frames, instances int
		var ms int64
		if err := rows.Scan(&label, &frames, &instances, &ms); err != nil {
			return behavior.Summary{}, fmt.Errorf("scan session stats: %w", err)
		}
		l := behavior.Label(label)
		sum.Frames[l] = frames
		sum.Instances[l] = instances
		sum.Durations[l] = time.Duration(ms) * time.Millisecond
		sum.TotalFrames += frames
		found = true
	}
	if err := rows.Err(); err != nil {
		return behavior.Summary{}, err
	}
	if !found {
		return behavior.Summary{}, ErrNotFound
	}
	return sum, nil
}

// SessionEvents returns the events of a session in time order, in local time.
func (s *Store) SessionEvents(ctx context.Context, sessionID string) ([]alert.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT occurred_at, label FROM events WHERE session_id = ? ORDER BY occurred_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []alert.Event
	for rows.Next() {
		var ts time.Time
		var label string
		if err := rows.Scan(&ts, &label); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, alert.Event{Time: ts.Local(), Label: behavior.Label(label)})
	}
	return events, rows.Err()
}

// GetSession loads one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, student, started_at, ended_at FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LatestSession returns the most recently started session, optionally
// filtered by student ("" matches any).
func (s *Store) LatestSession(ctx context.Context, student string) (Session, error) {
	query := `SELECT id, student, started_at, ended_at FROM sessions`
	var args []any
	if student != "" {
		query += ` WHERE student = ?`
		args = append(args, student)
	}
	query += ` ORDER BY started_at DESC LIMIT 1`
	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student, started_at, ended_at FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var ended sql.NullTime
	if err := row.Scan(&sess.ID, &sess.Student, &sess.StartedAt, &ended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = sess.StartedAt.Local()
	if ended.Valid {
		t := ended.Time.Local()
		sess.EndedAt = &t
	}
	return sess, nil
}
