package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/waymark-labs/waymark/internal/store"
)

// Store implements store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the supplied path.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
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
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	kakao_id INTEGER NOT NULL UNIQUE,
	nickname TEXT NOT NULL,
	profile_image TEXT,
	profile TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS roadmaps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS roadmap_steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	roadmap_id INTEGER NOT NULL REFERENCES roadmaps(id) ON DELETE CASCADE,
	step_number INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	guide TEXT,
	is_bookmarked INTEGER NOT NULL DEFAULT 0,
	sub_roadmap_uid TEXT REFERENCES roadmaps(uid) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	step_id INTEGER NOT NULL REFERENCES roadmap_steps(id) ON DELETE CASCADE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_resources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	step_id INTEGER NOT NULL REFERENCES roadmap_steps(id) ON DELETE CASCADE,
	url TEXT NOT NULL,
	resource_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
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

	nickname = strings.TrimSpace(nickname)
	var id int64
	scanErr := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE kakao_id = ?`, kakaoID).Scan(&id)
	switch {
	case scanErr == nil:
		if _, err = tx.ExecContext(ctx, `UPDATE users SET nickname = ?, profile_image = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, nickname, profileImage, id); err != nil {
			return nil, err
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		var uid string
		uid, err = store.NewUID()
		if err != nil {
			return nil, err
		}
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO users (uid, kakao_id, nickname, profile_image) VALUES (?, ?, ?, ?)`, uid, kakaoID, nickname, profileImage)
		if err != nil {
			return nil, err
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
	default:
		err = scanErr
		return nil, err
	}

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT id, uid, kakao_id, nickname, profile_image, profile, created_at, updated_at FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserByUID resolves a user by external id.
func (s *Store) UserByUID(ctx context.Context, uid string) (*store.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT id, uid, kakao_id, nickname, profile_image, profile, created_at, updated_at FROM users WHERE uid = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return user, err
}

// UpdateUserProfile replaces the free-text bio.
func (s *Store) UpdateUserProfile(ctx context.Context, uid, profile string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET profile = ?, updated_at = CURRENT_TIMESTAMP WHERE uid = ?`, profile, uid)
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
		scanErr := tx.QueryRowContext(ctx, `SELECT id, sub_roadmap_uid FROM roadmap_steps WHERE uid = ?`, linkStepUID).Scan(&linkStepID, &linked)
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
	res, err := tx.ExecContext(ctx, `INSERT INTO roadmaps (uid, user_id, title) VALUES (?, ?, ?)`, uid, userID, plan.Title)
	if err != nil {
		return nil, err
	}
	roadmapID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for _, st := range plan.Steps {
		var stepUID string
		stepUID, err = store.NewUID()
		if err != nil {
			return nil, err
		}
		var stepRes sql.Result
		stepRes, err = tx.ExecContext(ctx, `INSERT INTO roadmap_steps (uid, roadmap_id, step_number, title, description) VALUES (?, ?, ?, ?, ?)`,
			stepUID, roadmapID, st.Number, st.Title, st.Description)
		if err != nil {
			return nil, err
		}
		var stepID int64
		if stepID, err = stepRes.LastInsertId(); err != nil {
			return nil, err
		}
		for _, tag := range st.Tags {
			var tagUID string
			tagUID, err = store.NewUID()
			if err != nil {
				return nil, err
			}
			if _, err = tx.ExecContext(ctx, `INSERT INTO tags (uid, step_id, name) VALUES (?, ?, ?)`, tagUID, stepID, tag); err != nil {
				return nil, err
			}
		}
	}

	if linkStepUID != "" {
		if _, err = tx.ExecContext(ctx, `UPDATE roadmap_steps SET sub_roadmap_uid = ? WHERE id = ?`, uid, linkStepID); err != nil {
			return nil, err
		}
	}

	roadmap, err := scanRoadmap(tx.QueryRowContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE id = ?`, roadmapID))
	if err != nil {
		return nil, err
	}
	return roadmap, nil
}

// RoadmapsByUser lists the user's roadmaps, newest first.
func (s *Store) RoadmapsByUser(ctx context.Context, userID int64) ([]store.Roadmap, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE user_id = ? ORDER BY id DESC`, userID)
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
	roadmap, err := scanRoadmap(s.db.QueryRowContext(ctx, `SELECT id, uid, user_id, title, created_at, updated_at FROM roadmaps WHERE uid = ?`, uid))
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

	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, roadmap_id, step_number, title, description, guide, is_bookmarked, sub_roadmap_uid FROM roadmap_steps WHERE roadmap_id = ? ORDER BY step_number`, roadmap.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	index := map[int64]int{}
	for rows.Next() {
		st, scanErr := scanStepRows(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		index[st.ID] = len(detail.Steps)
		detail.Steps = append(detail.Steps, store.StepDetail{Step: *st})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT t.id, t.uid, t.step_id, t.name FROM tags t JOIN roadmap_steps s ON t.step_id = s.id WHERE s.roadmap_id = ? ORDER BY t.id`, roadmap.ID)
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

	resRows, err := s.db.QueryContext(ctx, `SELECT r.id, r.uid, r.step_id, r.url, r.resource_type, r.created_at, r.updated_at FROM learning_resources r JOIN roadmap_steps s ON r.step_id = s.id WHERE s.roadmap_id = ? ORDER BY r.id`, roadmap.ID)
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
WHERE s.uid = ?`, uid)

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
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, step_id, name FROM tags WHERE step_id = ? ORDER BY id`, stepID)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var id int64
	var existing sql.NullString
	scanErr := tx.QueryRowContext(ctx, `SELECT id, guide FROM roadmap_steps WHERE uid = ?`, stepUID).Scan(&id, &existing)
	if errors.Is(scanErr, sql.ErrNoRows) {
		err = store.ErrNotFound
		return err
	}
	if scanErr != nil {
		err = scanErr
		return err
	}
	if existing.Valid && existing.String != "" {
		err = store.ErrGuideExists
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE roadmap_steps SET guide = ? WHERE id = ? AND (guide IS NULL OR guide = '')`, guide, id)
	return err
}

// ToggleBookmark flips the bookmark flag and returns the new state.
func (s *Store) ToggleBookmark(ctx context.Context, stepUID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			_ = tx.Commit()
		}
	}()

	var id int64
	var bookmarked bool
	scanErr := tx.QueryRowContext(ctx, `SELECT id, is_bookmarked FROM roadmap_steps WHERE uid = ?`, stepUID).Scan(&id, &bookmarked)
	if errors.Is(scanErr, sql.ErrNoRows) {
		err = store.ErrNotFound
		return false, err
	}
	if scanErr != nil {
		err = scanErr
		return false, err
	}
	if _, err = tx.ExecContext(ctx, `UPDATE roadmap_steps SET is_bookmarked = ? WHERE id = ?`, !bookmarked, id); err != nil {
		return false, err
	}
	return !bookmarked, nil
}

// BookmarkedSteps lists all bookmarked steps across the user's roadmaps.
func (s *Store) BookmarkedSteps(ctx context.Context, userID int64) ([]store.BookmarkedStep, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT s.id, s.uid, s.roadmap_id, s.step_number, s.title, s.description, s.guide, s.is_bookmarked, s.sub_roadmap_uid, r.uid, r.title
FROM roadmap_steps s JOIN roadmaps r ON s.roadmap_id = r.id
WHERE r.user_id = ? AND s.is_bookmarked = 1
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
	rows, err := s.db.QueryContext(ctx, `SELECT id, uid, step_id, url, resource_type, created_at, updated_at FROM learning_resources WHERE step_id = ? ORDER BY id`, stepID)
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

	var ids []int64
	for _, nr := range resources {
		var uid string
		uid, err = store.NewUID()
		if err != nil {
			return nil, err
		}
		var res sql.Result
		res, err = tx.ExecContext(ctx, `INSERT INTO learning_resources (uid, step_id, url, resource_type) VALUES (?, ?, ?, ?)`, uid, stepID, nr.URL, nr.Type)
		if err != nil {
			return nil, err
		}
		var id int64
		if id, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	var out []store.Resource
	for _, id := range ids {
		var r store.Resource
		if err = tx.QueryRowContext(ctx, `SELECT id, uid, step_id, url, resource_type, created_at, updated_at FROM learning_resources WHERE id = ?`, id).
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
WHERE lr.uid = ?`, uid)

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
	res, err := s.db.ExecContext(ctx, `DELETE FROM learning_resources WHERE id = ?`, id)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	var profileImage, profile sql.NullString
	if err := row.Scan(&u.ID, &u.UID, &u.KakaoID, &u.Nickname, &profileImage, &profile, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.ProfileImage = profileImage.String
	u.Profile = profile.String
	return &u, nil
}

func scanRoadmap(row rowScanner) (*store.Roadmap, error) {
	var r store.Roadmap
	if err := row.Scan(&r.ID, &r.UID, &r.UserID, &r.Title, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanStepRows(rows *sql.Rows) (*store.Step, error) {
	var st store.Step
	var guide, subUID sql.NullString
	if err := rows.Scan(&st.ID, &st.UID, &st.RoadmapID, &st.Number, &st.Title, &st.Description, &guide, &st.IsBookmarked, &subUID); err != nil {
		return nil, err
	}
	st.Guide = guide.String
	st.SubRoadmapUID = subUID.String
	return &st, nil
}
