package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/waymark-labs/waymark/internal/usage"
)

// Store implements usage.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite usage store at the given path.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create usage directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection to :memory: opens a separate empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS generation_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	generation_id TEXT NOT NULL UNIQUE,
	user_uid TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('roadmap','subroadmap','resources','guide','assistant')),
	model TEXT NOT NULL DEFAULT '',
	prompt_chars INTEGER NOT NULL DEFAULT 0,
	completion_chars INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('ok','error','cache_hit')),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_generation_log_user_created ON generation_log(user_uid, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts a new generation entry.
func (s *Store) Record(ctx context.Context, entry usage.Entry) error {
	if entry.UserUID == "" {
		return errors.New("usage record requires user uid")
	}
	if !usage.ValidKind(entry.Kind) {
		return fmt.Errorf("invalid kind %q", entry.Kind)
	}
	if !usage.ValidOutcome(entry.Outcome) {
		return fmt.Errorf("invalid outcome %q", entry.Outcome)
	}
	genID := entry.GenerationID
	if genID == uuid.Nil {
		genID = uuid.New()
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO generation_log(generation_id, user_uid, kind, model, prompt_chars, completion_chars, duration_ms, outcome, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		genID.String(),
		entry.UserUID,
		string(entry.Kind),
		entry.Model,
		entry.PromptChars,
		entry.CompletionChars,
		entry.DurationMS,
		string(entry.Outcome),
		created,
	)
	return err
}

// Summary returns per-kind aggregates for the given user.
func (s *Store) Summary(ctx context.Context, userUID string) ([]usage.KindSummary, error) {
	if userUID == "" {
		return nil, errors.New("user uid required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
	kind,
	COALESCE(SUM(CASE WHEN outcome='ok' THEN 1 ELSE 0 END), 0) AS generations,
	COALESCE(SUM(CASE WHEN outcome='cache_hit' THEN 1 ELSE 0 END), 0) AS cache_hits,
	COALESCE(SUM(CASE WHEN outcome='error' THEN 1 ELSE 0 END), 0) AS errors,
	COALESCE(SUM(prompt_chars), 0) AS prompt_chars,
	COALESCE(SUM(completion_chars), 0) AS completion_chars
FROM generation_log
WHERE user_uid = ?
GROUP BY kind
ORDER BY kind`, userUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usage.KindSummary
	for rows.Next() {
		var ks usage.KindSummary
		var kind string
		if err := rows.Scan(&kind, &ks.Generations, &ks.CacheHits, &ks.Errors, &ks.PromptChars, &ks.CompletionChars); err != nil {
			return nil, err
		}
		ks.Kind = usage.Kind(kind)
		out = append(out, ks)
	}
	return out, rows.Err()
}

// ListRecent returns the latest entries for a user.
func (s *Store) ListRecent(ctx context.Context, userUID string, limit int) ([]usage.Entry, error) {
	if userUID == "" {
		return nil, errors.New("user uid required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, generation_id, user_uid, kind, model, prompt_chars, completion_chars, duration_ms, outcome, created_at
FROM generation_log
WHERE user_uid = ?
ORDER BY created_at DESC
LIMIT ?`, userUID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []usage.Entry
	for rows.Next() {
		var e usage.Entry
		var genID, kind, outcome string
		if err := rows.Scan(&e.ID, &genID, &e.UserUID, &kind, &e.Model, &e.PromptChars, &e.CompletionChars, &e.DurationMS, &outcome, &e.CreatedAt); err != nil {
			return nil, err
		}
		if parsed, parseErr := uuid.Parse(genID); parseErr == nil {
			e.GenerationID = parsed
		}
		e.Kind = usage.Kind(kind)
		e.Outcome = usage.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
