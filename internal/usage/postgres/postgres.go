package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	// register postgres driver
	_ "github.com/lib/pq"

	"github.com/waymark-labs/waymark/internal/usage"
)

// Store implements usage.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New opens a PostgreSQL-backed usage store using the provided DSN.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
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
	id BIGSERIAL PRIMARY KEY,
	generation_id UUID NOT NULL UNIQUE,
	user_uid TEXT NOT NULL,
	kind TEXT NOT NULL CHECK(kind IN ('roadmap','subroadmap','resources','guide','assistant')),
	model TEXT NOT NULL DEFAULT '',
	prompt_chars BIGINT NOT NULL DEFAULT 0,
	completion_chars BIGINT NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('ok','error','cache_hit')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		genID,
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
WHERE user_uid = $1
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
WHERE user_uid = $1
ORDER BY created_at DESC
LIMIT $2`, userUID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []usage.Entry
	for rows.Next() {
		var e usage.Entry
		var kind, outcome string
		if err := rows.Scan(&e.ID, &e.GenerationID, &e.UserUID, &kind, &e.Model, &e.PromptChars, &e.CompletionChars, &e.DurationMS, &outcome, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = usage.Kind(kind)
		e.Outcome = usage.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
