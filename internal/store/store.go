package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound reports that a uid did not resolve to a live row.
	ErrNotFound = errors.New("not found")
	// ErrForbidden reports an access attempt by someone other than the owner.
	ErrForbidden = errors.New("forbidden")
	// ErrGuideExists reports that a step already carries generated guide text.
	ErrGuideExists = errors.New("guide already stored")
	// ErrSubRoadmapExists reports that a step already links a sub-roadmap.
	ErrSubRoadmapExists = errors.New("sub-roadmap already linked")
)

// ResourceType values produced by the recommendation flow. User-added
// resources carry an empty type.
const (
	ResourceOfficialDocs = "official_documentation"
	ResourceBook         = "book"
	ResourceVideoCourse  = "online_video_course"
	ResourcePaper        = "paper"
)

// User is a Kakao-backed account.
type User struct {
	ID           int64
	UID          string
	KakaoID      int64
	Nickname     string
	ProfileImage string
	Profile      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Roadmap is an ordered collection of learning steps owned by one user.
type Roadmap struct {
	ID        int64
	UID       string
	UserID    int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step is one stage of a roadmap. Guide stays empty until first generated.
type Step struct {
	ID            int64
	UID           string
	RoadmapID     int64
	Number        int
	Title         string
	Description   string
	Guide         string
	IsBookmarked  bool
	SubRoadmapUID string
}

// Tag labels a step.
type Tag struct {
	ID     int64
	UID    string
	StepID int64
	Name   string
}

// Resource is a learning resource attached to a step.
type Resource struct {
	ID        int64
	UID       string
	StepID    int64
	URL       string
	Type      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepDetail is a step with its tags and resources resolved.
type StepDetail struct {
	Step
	Tags      []Tag
	Resources []Resource
}

// RoadmapDetail is a roadmap with all steps resolved.
type RoadmapDetail struct {
	Roadmap
	Steps []StepDetail
}

// BookmarkedStep is a step joined with its owning roadmap for list views.
type BookmarkedStep struct {
	Step
	RoadmapUID   string
	RoadmapTitle string
}

// NewStep describes one step of a roadmap plan about to be persisted.
type NewStep struct {
	Number      int
	Title       string
	Description string
	Tags        []string
}

// NewRoadmap describes a roadmap plan about to be persisted.
type NewRoadmap struct {
	Title string
	Steps []NewStep
}

// NewResource describes a learning resource about to be persisted.
type NewResource struct {
	URL  string
	Type string
}

// Store persists waymark entities across SQLite/Postgres backends.
type Store interface {
	// UpsertKakaoUser creates the account on first login and refreshes the
	// Kakao profile fields on every later login.
	UpsertKakaoUser(ctx context.Context, kakaoID int64, nickname, profileImage string) (*User, error)
	UserByUID(ctx context.Context, uid string) (*User, error)
	UpdateUserProfile(ctx context.Context, uid, profile string) error

	// CreateRoadmap writes a roadmap plan transactionally. A non-empty
	// linkStepUID additionally links the new roadmap as that step's
	// sub-roadmap inside the same transaction; ErrSubRoadmapExists when the
	// step already links one.
	CreateRoadmap(ctx context.Context, userID int64, plan NewRoadmap, linkStepUID string) (*Roadmap, error)
	RoadmapsByUser(ctx context.Context, userID int64) ([]Roadmap, error)
	RoadmapByUID(ctx context.Context, uid string) (*Roadmap, error)
	RoadmapDetail(ctx context.Context, uid string) (*RoadmapDetail, error)

	// StepByUID resolves a step together with its owning roadmap.
	StepByUID(ctx context.Context, uid string) (*Step, *Roadmap, error)
	TagsByStep(ctx context.Context, stepID int64) ([]Tag, error)
	// SetStepGuide fills the guide of a step that has none yet.
	// ErrGuideExists when a guide is already stored (first write wins).
	SetStepGuide(ctx context.Context, stepUID, guide string) error
	ToggleBookmark(ctx context.Context, stepUID string) (bool, error)
	BookmarkedSteps(ctx context.Context, userID int64) ([]BookmarkedStep, error)

	ResourcesByStep(ctx context.Context, stepID int64) ([]Resource, error)
	AddResources(ctx context.Context, stepID int64, resources []NewResource) ([]Resource, error)
	// ResourceByUID resolves a resource together with the roadmap owning it.
	ResourceByUID(ctx context.Context, uid string) (*Resource, *Roadmap, error)
	DeleteResource(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}
