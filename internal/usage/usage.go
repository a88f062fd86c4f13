package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind classifies what a generation produced.
type Kind string

const (
	KindRoadmap    Kind = "roadmap"
	KindSubroadmap Kind = "subroadmap"
	KindResources  Kind = "resources"
	KindGuide      Kind = "guide"
	KindAssistant  Kind = "assistant"
)

// Outcome records how a generation ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeError    Outcome = "error"
	OutcomeCacheHit Outcome = "cache_hit"
)

// Entry represents a single generation audit record.
type Entry struct {
	ID              int64     `json:"id"`
	GenerationID    uuid.UUID `json:"generation_id"`
	UserUID         string    `json:"user_uid"`
	Kind            Kind      `json:"kind"`
	Model           string    `json:"model"`
	PromptChars     int64     `json:"prompt_chars"`
	CompletionChars int64     `json:"completion_chars"`
	DurationMS      int64     `json:"duration_ms"`
	Outcome         Outcome   `json:"outcome"`
	CreatedAt       time.Time `json:"created_at"`
}

// KindSummary aggregates generation activity of one kind for a user.
type KindSummary struct {
	Kind            Kind  `json:"kind"`
	Generations     int64 `json:"generations"`
	CacheHits       int64 `json:"cache_hits"`
	Errors          int64 `json:"errors"`
	PromptChars     int64 `json:"prompt_chars"`
	CompletionChars int64 `json:"completion_chars"`
}

// Store defines persistence behaviour for the generation log.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userUID string) ([]KindSummary, error)
	ListRecent(ctx context.Context, userUID string, limit int) ([]Entry, error)
	Close() error
}

// ValidKind reports whether k is a known generation kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindRoadmap, KindSubroadmap, KindResources, KindGuide, KindAssistant:
		return true
	}
	return false
}

// ValidOutcome reports whether o is a known generation outcome.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeOK, OutcomeError, OutcomeCacheHit:
		return true
	}
	return false
}
