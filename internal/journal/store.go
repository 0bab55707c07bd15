// Package journal keeps a SQLite timeline of recording sessions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindStarted   Kind = "started"
	KindPaused    Kind = "paused"
	KindResumed   Kind = "resumed"
	KindSpeaker   Kind = "speaker"
	KindRestarted Kind = "restarted"
	KindError     Kind = "error"
	KindStopped   Kind = "stopped"
	KindSaved     Kind = "saved"
	KindDiscarded Kind = "discarded"
)

// Entry is one timeline line of a session.
type Entry struct {
	ID        int64
	SessionID string
	Kind      Kind
	Speaker   string
	Detail    string
	Offset    time.Duration
	CreatedAt time.Time
}

// Session summarises one recording session.
type Session struct {
	ID        string
	Locale    string
	RecordID  string
	StartedAt time.Time
	EndedAt   time.Time
}

// Store is the SQLite-backed journal. Retention modes:
// ephemeral keeps nothing, session clears the journal on open,
// persistent keeps sessions subject to retention days and max sessions.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.RetentionMode == "session" {
		if _, err := db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			db.Close()
			return nil, fmt.Errorf("reset journal: %w", err)
		}
	}
	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    locale TEXT,
    record_id TEXT,
    started_at INTEGER NOT NULL,
    ended_at INTEGER
);
CREATE TABLE IF NOT EXISTS entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    speaker TEXT,
    detail TEXT,
    offset_ms INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id, id);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.db == nil
}

// BeginSession records the start of a session.
func (s *Store) BeginSession(ctx context.Context, sessionID, locale string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, locale, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET locale=excluded.locale`,
		sessionID, locale, s.clock().UnixMilli())
	return err
}

// EndSession stamps the end time of a session.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE session_id = ?`, s.clock().UnixMilli(), sessionID)
	return err
}

// LinkRecord ties a session to the history record it was saved as.
func (s *Store) LinkRecord(ctx context.Context, sessionID, recordID string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET record_id = ? WHERE session_id = ?`, recordID, sessionID)
	return err
}

func (s *Store) Append(ctx context.Context, e Entry) error {
	if s.disabled() {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries(session_id, kind, speaker, detail, offset_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		e.SessionID, string(e.Kind), e.Speaker, e.Detail, e.Offset.Milliseconds(), e.CreatedAt.UnixMilli())
	return err
}

// Entries lists up to limit entries of a session in insertion order.
func (s *Store) Entries(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, kind, speaker, detail, offset_ms, created_at
		 FROM entries WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			kind              string
			speaker, detail   sql.NullString
			offsetMS, created int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &speaker, &detail, &offsetMS, &created); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.Speaker = speaker.String
		e.Detail = detail.String
		e.Offset = time.Duration(offsetMS) * time.Millisecond
		e.CreatedAt = time.UnixMilli(created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sessions lists the most recent sessions first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, locale, record_id, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess             Session
			locale, recordID sql.NullString
			started          int64
			ended            sql.NullInt64
		)
		if err := rows.Scan(&sess.ID, &locale, &recordID, &started, &ended); err != nil {
			return nil, err
		}
		sess.Locale = locale.String
		sess.RecordID = recordID.String
		sess.StartedAt = time.UnixMilli(started).UTC()
		if ended.Valid {
			sess.EndedAt = time.UnixMilli(ended.Int64).UTC()
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune applies retention days and max sessions.
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
