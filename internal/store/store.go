// Package store persists research sessions, user feedback, and per-stage
// results in SQLite. It is the only durable state in the engine; everything
// else is rebuilt per stage.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"inquest/internal/logging"
)

// Session is a durable record tracking one question's progress through the
// research state machine. State holds "awaiting_feedback", "stage:N", or
// "finished"; the engine owns its interpretation.
type Session struct {
	ID        string
	Question  string
	State     string
	Depth     int
	CreatedAt time.Time
}

// Feedback is one answered clarifying exchange, append-only per session.
type Feedback struct {
	ID        string
	SessionID string
	Question  string
	Answer    string
	CreatedAt time.Time
}

// StageResult is the persisted output of one research stage.
type StageResult struct {
	ID          string
	SessionID   string
	Stage       int
	SearchQuery string
	Response    string
	CreatedAt   time.Time
}

// ErrStateConflict is returned when a state transition's expected current
// state no longer matches the stored row. A concurrent invocation for the
// same question advanced the session first.
var ErrStateConflict = fmt.Errorf("session state conflict")

// Store wraps the SQLite database holding sessions, feedback, and results.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// New initializes the SQLite database at the given path, creating the
// schema idempotently.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Initializing session store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Session store ready")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_uuid TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		state TEXT NOT NULL,
		depth INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_question ON sessions(question);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	`

	feedbackTable := `
	CREATE TABLE IF NOT EXISTS feedback (
		feedback_uuid TEXT PRIMARY KEY,
		session_uuid TEXT NOT NULL REFERENCES sessions(session_uuid),
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_session ON feedback(session_uuid);
	`

	// UNIQUE(session_uuid, stage) makes stage retries overwrite instead of
	// appending, so a session never accumulates duplicate stage rows.
	resultsTable := `
	CREATE TABLE IF NOT EXISTS results (
		result_uuid TEXT PRIMARY KEY,
		session_uuid TEXT NOT NULL REFERENCES sessions(session_uuid),
		stage INTEGER NOT NULL,
		search_query TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_uuid, stage)
	);
	CREATE INDEX IF NOT EXISTS idx_results_session ON results(session_uuid);
	`

	for _, table := range []string{sessionsTable, feedbackTable, resultsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing session store")
	return s.db.Close()
}

// FindActiveSession returns the newest non-finished session for the
// question, or nil when none exists. Finished sessions are invisible here,
// so a finished question starts over on its next encounter.
func (s *Store) FindActiveSession(question string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	err := s.db.QueryRow(
		`SELECT session_uuid, question, state, depth, created_at
		 FROM sessions
		 WHERE question = ? AND state != 'finished'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		question,
	).Scan(&sess.ID, &sess.Question, &sess.State, &sess.Depth, &sess.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logging.Get(logging.CategoryStore).Error("Failed to query active session: %v", err)
		return nil, err
	}

	logging.StoreDebug("Found active session %s (state=%s)", sess.ID, sess.State)
	return &sess, nil
}

// CreateSession inserts a new session row and returns it.
func (s *Store) CreateSession(question, state string, depth int) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		Question:  question,
		State:     state,
		Depth:     depth,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (session_uuid, question, state, depth, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Question, sess.State, sess.Depth, sess.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create session: %v", err)
		return nil, err
	}

	logging.Store("Created session %s for question (state=%s depth=%d)", sess.ID, state, depth)
	return sess, nil
}

// UpdateSessionState transitions a session from expected to next.
// The expected-state check turns a racing concurrent invocation into
// ErrStateConflict instead of silently clobbering the other writer.
func (s *Store) UpdateSessionState(sessionID, expected, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET state = ? WHERE session_uuid = ? AND state = ?`,
		next, sessionID, expected,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to update session %s state: %v", sessionID, err)
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		logging.Get(logging.CategoryStore).Warn("State conflict on session %s: expected %q", sessionID, expected)
		return fmt.Errorf("%w: session %s is no longer in state %q", ErrStateConflict, sessionID, expected)
	}

	logging.StoreDebug("Session %s: %s -> %s", sessionID, expected, next)
	return nil
}

// SaveFeedback appends one answered feedback exchange for a session.
func (s *Store) SaveFeedback(sessionID, question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO feedback (feedback_uuid, session_uuid, question, answer)
		 VALUES (?, ?, ?, ?)`,
		uuid.NewString(), sessionID, question, answer,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save feedback for session %s: %v", sessionID, err)
		return err
	}

	logging.StoreDebug("Saved feedback for session %s (answer_len=%d)", sessionID, len(answer))
	return nil
}

// ListFeedback returns a session's feedback entries oldest first.
func (s *Store) ListFeedback(sessionID string) ([]Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT feedback_uuid, session_uuid, question, answer, created_at
		 FROM feedback
		 WHERE session_uuid = ?
		 ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Feedback
	for rows.Next() {
		var f Feedback
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Question, &f.Answer, &f.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, f)
	}
	return entries, rows.Err()
}

// SaveStageResult persists one stage's output. A retried stage overwrites
// its earlier row, keeping at most one result per (session, stage).
func (s *Store) SaveStageResult(sessionID string, stage int, searchQuery, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO results (result_uuid, session_uuid, stage, search_query, response)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_uuid, stage)
		 DO UPDATE SET search_query = excluded.search_query, response = excluded.response`,
		uuid.NewString(), sessionID, stage, searchQuery, response,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to save stage %d result for session %s: %v", stage, sessionID, err)
		return err
	}

	logging.StoreDebug("Saved stage %d result for session %s (response_len=%d)", stage, sessionID, len(response))
	return nil
}

// ListStageResults returns a session's stage results in ascending stage
// order, the order synthesis context is built in.
func (s *Store) ListStageResults(sessionID string) ([]StageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT result_uuid, session_uuid, stage, search_query, response, created_at
		 FROM results
		 WHERE session_uuid = ?
		 ORDER BY stage ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var r StageResult
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Stage, &r.SearchQuery, &r.Response, &r.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListSessions returns the newest sessions up to limit, for the CLI.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT session_uuid, question, state, depth, created_at
		 FROM sessions
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Question, &sess.State, &sess.Depth, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
