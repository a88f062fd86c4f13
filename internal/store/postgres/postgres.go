package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/waymark-labs/waymark/internal/store"
)

// Store implements store.Store backed by Postgres.
type Store struct {
	db *sql.DB
}

// New opens a Postgres-backed store using the provided DSN.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
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
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	kakao_id BIGINT NOT NULL UNIQUE,
	nickname TEXT NOT NULL,
	profile_image TEXT,
	profile TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS roadmaps (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS roadmap_steps (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	roadmap_id BIGINT NOT NULL REFERENCES roadmaps(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	guide TEXT,
	is_bookmarked BOOLEAN NOT NULL DEFAULT FALSE,
	sub_roadmap_uid TEXT REFERENCES roadmaps(uid) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	step_id BIGINT NOT NULL REFERENCES roadmap_steps(id) ON DELETE CASCADE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_resources (
	id BIGSERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	step_id BIGINT NOT NULL REFERENCES roadmap_steps(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	resource_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_roadmaps_user ON roadmaps(user_id);
CREATE INDEX IF NOT EXISTS idx_steps_roadmap ON roadmap_steps(roadmap_id);
CREATE INDEX IF NOT EXISTS idx_tags_step ON tags(step_id);
CREATE INDEX IF NOT EXISTS idx_resources_step ON learning_resources(step_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertKakaoUser creates the account on first login and refreshes profile fields afterwards.
func (s *Store) UpsertKakaoUser(ctx context.Context, kakaoID int64, nickname, profileImage string) (*store.User, error) {
	nickname = strings.TrimSpace(nickname)
	uid, err := store.NewUID()
	if err != nil {
		return nil, err
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO users (uid, kakao_id, nickname, profile_image) VALUES ($1, $2, $3, $4)
ON CONFLICT (kakao_id) DO UPDATE SET nickname = EXCLUDED.nickname, profile_image = EXCLUDED.profile_image, updated_at = NOW()
RETURNING id`, uid, kakaoID, nickname, profileImage).Scan(&id)
	if err != nil {
		return nil, err
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT id, uid, kakao_id, nickname, profile_image, profile, created_at, updated_at FROM users WHERE id = $1`, id))
}

// UserByUID resolves a user by external id.
func (s *Store) UserByUID(ctx context.Context, uid string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT id, uid, kakao_id, nickname, profile_image, profile, created_at, updated_at FROM users WHERE uid = $1`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return user, err
}

// UpdateUserProfile replaces the free-text bio.
func (s *Store) UpdateUserProfile(ctx context.Context, uid, profile string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET profile = $1, updated_at = NOW() WHERE uid = $2`, profile, uid)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CreateRoadmap writes the plan and the optional parent-step link in one transaction.
func (s *Store) CreateRoadmap(ctx context.Context, userID int64, plan store.NewRoadmap, linkStepUID string) (*store.Roadmap, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var linkStepID int64
	if linkStepUID != "" {
		var linked sql.NullString
		scanErr := tx.QueryRowContext(ctx, `SELECT id, sub_roadmap_uid FROM roadmap_steps WHERE uid = $1 FOR UPDATE`, linkStepUID).Scan(&linkStepID, &linked)
		if errors.Is(scanErr, sql.ErrNoRows) {
			err = store.ErrNotFound
			return nil, err
		}
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		if linked.Valid && linked.String != "" {
			err = store.ErrSubRoadmapExists
			return nil, err
		}
	}

	uid, err := store.NewUID()
	if err != nil {
		return nil, err
	}
	var roadmapID int64
	if err = tx.QueryRowContext(ctx, `INSERT INTO roadmaps (uid, user_id, title) VALUES ($1, $2, $3) RETURNING id`, uid, userID, plan.Title).Scan(&roadmapID); err != nil {
		return nil, err
	}

	for _, st := range plan.Steps {
		var stepUID string
		stepUID, err = store.NewUID()
		if err != nil {
			return nil, err
		}
		var stepID int64
		if err = tx.QueryRowContext(ctx, `INSERT INTO roadmap_steps (uid, roadmap_id, step_number, title, description) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			stepUID, roadmapID, st.Number, st.Title, st.Description).Scan(&stepID); err != nil {
			return nil, err
		}
		for _, tag := range st.Tags {
			var tagUID string
			tagUID, err = store.NewUID()
			if err != nil {
				return nil, err
			}
			if _, err = tx.ExecContext(ctx, `INSERT INTO tags (uid, step_id, name) VALUES ($1, $2, $3)`, tagUID, stepID, tag); err != nil {
				return nil, err
			}
		}
	}

	if linkStepUID != "" {
		if _, err = tx.ExecContext(ctx, `UPDATE roadmap_steps SET sub_roadmap_uid = $1 WHERE id = $2`, uid, linkStepID); err != nil {
			return nil, err
		}
	}

	roadmap, err := scanRoadmap(tx.QueryRowContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE id = $1`, roadmapID))
	if err != nil {
		return nil, err
	}
	return roadmap, nil
}

// RoadmapsByUser lists the user's roadmaps, newest first.
func (s *Store) RoadmapsByUser(ctx context.Context, userID int64) ([]store.Roadmap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE user_id = $1 ORDER BY id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Roadmap
	for rows.Next() {
		var r store.Roadmap
		if err := rows.Scan(&r.ID, &r.UID, &r.UserID, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoadmapByUID resolves a roadmap by external id.
func (s *Store) RoadmapByUID(ctx context.Context, uid string) (*store.Roadmap, error) {
	roadmap, err := scanRoadmap(s.db.QueryRowContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE uid = $1`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return roadmap, err
}

// RoadmapDetail resolves a roadmap with steps, tags and resources.
func (s *Store) RoadmapDetail(ctx context.Context, uid string) (*store.RoadmapDetail, error) {
	roadmap, err := s.RoadmapByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	detail := &store.RoadmapDetail{Roadmap: *roadmap}

	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, roadmap_id, step_number, title, description, guide, is_bookmarked, sub_roadmap_uid FROM roadmap_steps WHERE roadmap_id = $1 ORDER BY step_number`, roadmap.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := map[int64]int{}
	for rows.Next() {
		var st store.Step
		var guide, subUID sql.NullString
		if err := rows.Scan(&st.ID, &st.UID, &st.RoadmapID, &st.Number, &st.Title, &st.Description, &guide, &st.IsBookmarked, &subUID); err != nil {
			return nil, err
		}
		st.Guide = guide.String
		st.SubRoadmapUID = subUID.String
		index[st.ID] = len(detail.Steps)
		detail.Steps = append(detail.Steps, store.StepDetail{Step: st})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT t.id, t.uid, t.step_id, t.name FROM tags t JOIN roadmap_steps s ON t.step_id = s.id WHERE s.roadmap_id = $1 ORDER BY t.id`, roadmap.ID)
	if err != nil {
		return nil, err
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag store.Tag
		if err := tagRows.Scan(&tag.ID, &tag.UID, &tag.StepID, &tag.Name); err != nil {
			return nil, err
		}
		if i, ok := index[tag.StepID]; ok {
			detail.Steps[i].Tags = append(detail.Steps[i].Tags, tag)
		}
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	resRows, err := s.db.QueryContext(ctx, `SELECT r.id, r.uid, r.step_id, r.url, r.resource_type, r.created_at, r.updated_at FROM learning_resources r JOIN roadmap_steps s ON r.step_id = s.id WHERE s.roadmap_id = $1 ORDER BY r.id`, roadmap.ID)
	if err != nil {
		return nil, err
	}
	defer resRows.Close()
	for resRows.Next() {
		var res store.Resource
		if err := resRows.Scan(&res.ID, &res.UID, &res.StepID, &res.URL, &res.Type, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, err
		}
		if i, ok := index[res.StepID]; ok {
			detail.Steps[i].Resources = append(detail.Steps[i].Resources, res)
		}
	}
	return detail, resRows.Err()
}

// StepByUID resolves a step together with its owning roadmap.
func (s *Store) StepByUID(ctx context.Context, uid string) (*store.Step, *store.Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT s.id, s.uid, s.roadmap_id, s.step_number, s.title, s.description, s.guide, s.is_bookmarked, s.sub_roadmap_uid,
	r.id, r.uid, r.user_id, r.title, r.created_at, r.updated_at
FROM roadmap_steps s JOIN roadmaps r ON s.roadmap_id = r.id
WHERE s.uid = $1`, uid)

	var st store.Step
	var guide, subUID sql.NullString
	var r store.Roadmap
	err := row.Scan(&st.ID, &st.UID, &st.RoadmapID, &st.Number, &st.Title, &st.Description, &guide, &st.IsBookmarked, &subUID,
		&r.ID, &r.UID, &r.UserID, &r.Title, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	st.Guide = guide.String
	st.SubRoadmapUID = subUID.String
	return &st, &r, nil
}

func (s *Store) TagsByStep(ctx context.Context, stepID int64) ([]store.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, step_id, name FROM tags WHERE step_id = $1 ORDER BY id`, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []store.Tag
	for rows.Next() {
		var t store.Tag
		if err := rows.Scan(&t.ID, &t.UID, &t.StepID, &t.Name); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// SetStepGuide stores generated guide text, first write wins.
func (s *Store) SetStepGuide(ctx context.Context, stepUID, guide string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE roadmap_steps SET guide = $1 WHERE uid = $2 AND (guide IS NULL OR guide = '')`, guide, stepUID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var id int64
		scanErr := s.db.QueryRowContext(ctx, `SELECT id FROM roadmap_steps WHERE uid = $1`, stepUID).Scan(&id)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if scanErr != nil {
			return scanErr
		}
		return store.ErrGuideExists
	}
	return nil
}

// ToggleBookmark flips the bookmark flag and returns the new state.
func (s *Store) ToggleBookmark(ctx context.Context, stepUID string) (bool, error) {
	var bookmarked bool
	err := s.db.QueryRowContext(ctx, `UPDATE roadmap_steps SET is_bookmarked = NOT is_bookmarked WHERE uid = $1 RETURNING is_bookmarked`, stepUID).Scan(&bookmarked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return bookmarked, nil
}

// BookmarkedSteps lists all bookmarked steps across the user's roadmaps.
func (s *Store) BookmarkedSteps(ctx context.Context, userID int64) ([]store.BookmarkedStep, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.uid, s.roadmap_id, s.step_number, s.title, s.description, s.guide, s.is_bookmarked, s.sub_roadmap_uid, r.uid, r.title
FROM roadmap_steps s JOIN roadmaps r ON s.roadmap_id = r.id
WHERE r.user_id = $1 AND s.is_bookmarked
ORDER BY r.id DESC, s.step_number`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.BookmarkedStep
	for rows.Next() {
		var b store.BookmarkedStep
		var guide, subUID sql.NullString
		if err := rows.Scan(&b.ID, &b.UID, &b.RoadmapID, &b.Number, &b.Title, &b.Description, &guide, &b.IsBookmarked, &subUID, &b.RoadmapUID, &b.RoadmapTitle); err != nil {
			return nil, err
		}
		b.Guide = guide.String
		b.SubRoadmapUID = subUID.String
		out = append(out, b)
	}
	return out, rows.Err()
}

// ResourcesByStep lists the learning resources stored for a step.
func (s *Store) ResourcesByStep(ctx context.Context, stepID int64) ([]store.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, step_id, url, resource_type, created_at, updated_at FROM learning_resources WHERE step_id = $1 ORDER BY id`, stepID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Resource
	for rows.Next() {
		var r store.Resource
		if err := rows.Scan(&r.ID, &r.UID, &r.StepID, &r.URL, &r.Type, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddResources inserts resources for a step and returns the stored rows.
func (s *Store) AddResources(ctx context.Context, stepID int64, resources []store.NewResource) ([]store.Resource, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var out []store.Resource
	for _, nr := range resources {
		var uid string
		uid, err = store.NewUID()
		if err != nil {
			return nil, err
		}
		var r store.Resource
		if err = tx.QueryRowContext(ctx, `
INSERT INTO learning_resources (uid, step_id, url, resource_type) VALUES ($1, $2, $3, $4)
RETURNING id, uid, step_id, url, resource_type, created_at, updated_at`, uid, stepID, nr.URL, nr.Type).
			Scan(&r.ID, &r.UID, &r.StepID, &r.URL, &r.Type, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ResourceByUID resolves a resource together with the roadmap owning it.
func (s *Store) ResourceByUID(ctx context.Context, uid string) (*store.Resource, *store.Roadmap, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT lr.id, lr.uid, lr.step_id, lr.url, lr.resource_type, lr.created_at, lr.updated_at,
	r.id, r.uid, r.user_id, r.title, r.created_at, r.updated_at
FROM learning_resources lr
JOIN roadmap_steps s ON lr.step_id = s.id
JOIN roadmaps r ON s.roadmap_id = r.id
WHERE lr.uid = $1`, uid)

	var res store.Resource
	var r store.Roadmap
	err := row.Scan(&res.ID, &res.UID, &res.StepID, &res.URL, &res.Type, &res.CreatedAt, &res.UpdatedAt,
		&r.ID, &r.UID, &r.UserID, &r.Title, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, store.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return &res, &r, nil
}

// DeleteResource removes a resource row.
func (s *Store) DeleteResource(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM learning_resources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanUser(scanner interface{ Scan(dest ...any) error }) (*store.User, error) {
	var u store.User
	var profileImage, profile sql.NullString
	if err := scanner.Scan(&u.ID, &u.UID, &u.KakaoID, &u.Nickname, &profileImage, &profile, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ProfileImage = profileImage.String
	u.Profile = profile.String
	return &u, nil
}

func scanRoadmap(scanner interface{ Scan(dest ...any) error }) (*store.Roadmap, error) {
	var r store.Roadmap
	if err := scanner.Scan(&r.ID, &r.UID, &r.UserID, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}
