// Package roadmap implements the learning roadmap domain: plan generation,
// browsing, bookmarks, learning resources and the streamed step guides that
// sit on top of the store and the completion source.
package roadmap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/waymark-labs/waymark/internal/llm"
	"github.com/waymark-labs/waymark/internal/metrics"
	"github.com/waymark-labs/waymark/internal/store"
	"github.com/waymark-labs/waymark/internal/stream"
	"github.com/waymark-labs/waymark/internal/usage"
)

var (
	// ErrInvalidInput marks caller mistakes such as out-of-range field lengths.
	ErrInvalidInput = errors.New("invalid input")
	// ErrGeneration marks upstream completion failures surfaced before any
	// rows were written.
	ErrGeneration = errors.New("generation failed")
)

const (
	maxTargetJobLen = 100
	maxInstructLen  = 1000
	maxQuestionLen  = 1000

	defaultGenerateTimeout = 120 * time.Second
	persistTimeout         = 10 * time.Second
)

// Config carries the dependencies of a Service.
type Config struct {
	Store   store.Store
	Source  llm.Client
	Prompts llm.PromptPack

	// Usage is optional. When set, every generation is logged to it.
	Usage usage.Store
	// Metrics is optional. When set, generation counters are fed to it.
	Metrics *metrics.Collector
	// Logger is optional and defaults to the standard logger.
	Logger *log.Logger
	// GenerateTimeout bounds a single completion or stream. Zero means the
	// default of two minutes.
	GenerateTimeout time.Duration
}

// Service implements the roadmap operations. All step and roadmap lookups
// are scoped to the creating user.
type Service struct {
	store      store.Store
	source     llm.Client
	prompts    llm.PromptPack
	usage      usage.Store
	metrics    *metrics.Collector
	logger     *log.Logger
	genTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]*stream.Transcript
}

// New wires a Service from its dependencies.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("roadmap: store is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("roadmap: completion source is required")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.Prompts == (llm.PromptPack{}) {
		cfg.Prompts = llm.DefaultPromptPack()
	}
	return &Service{
		store:      cfg.Store,
		source:     cfg.Source,
		prompts:    cfg.Prompts,
		usage:      cfg.Usage,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		genTimeout: cfg.GenerateTimeout,
		inflight:   make(map[string]*stream.Transcript),
	}, nil
}

func (s *Service) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("[roadmap] "+format, args...)
		return
	}
	log.Printf("[roadmap] "+format, args...)
}

// record logs one generation to the usage store and the metrics collector.
// Failures are logged and never surface to the caller.
func (s *Service) record(userUID string, kind usage.Kind, outcome usage.Outcome, promptChars, completionChars int64, started time.Time) {
	if s.metrics != nil {
		if outcome == usage.OutcomeCacheHit {
			s.metrics.RecordCacheHit(string(kind))
		} else {
			s.metrics.RecordGeneration(string(kind), time.Since(started), outcome == usage.OutcomeError)
		}
		s.metrics.RecordChars(s.source.Model(), userUID, promptChars, completionChars)
	}
	if s.usage == nil {
		return
	}
	entry := usage.Entry{
		UserUID:         userUID,
		Kind:            kind,
		Model:           s.source.Model(),
		PromptChars:     promptChars,
		CompletionChars: completionChars,
		DurationMS:      time.Since(started).Milliseconds(),
		Outcome:         outcome,
	}
	if err := s.usage.Record(context.Background(), entry); err != nil {
		s.logf("usage record failed kind=%s: %v", kind, err)
	}
}

// complete runs one non-streamed generation and logs its usage entry.
func (s *Service) complete(ctx context.Context, userUID string, kind usage.Kind, req llm.CompletionRequest) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	defer cancel()

	started := time.Now()
	resp, err := s.source.Complete(genCtx, req)
	if err != nil {
		s.record(userUID, kind, usage.OutcomeError, req.PromptChars(), 0, started)
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	s.record(userUID, kind, usage.OutcomeOK, req.PromptChars(), int64(len(resp.Content)), started)
	return resp.Content, nil
}

// CreateRoadmap generates a roadmap plan for the target job and persists it.
func (s *Service) CreateRoadmap(ctx context.Context, user *store.User, targetJob, instruct string) (*store.Roadmap, error) {
	targetJob = strings.TrimSpace(targetJob)
	instruct = strings.TrimSpace(instruct)
	if targetJob == "" || len(targetJob) > maxTargetJobLen {
		return nil, fmt.Errorf("%w: target_job must be 1 to %d characters", ErrInvalidInput, maxTargetJobLen)
	}
	if instruct == "" || len(instruct) > maxInstructLen {
		return nil, fmt.Errorf("%w: instruct must be 1 to %d characters", ErrInvalidInput, maxInstructLen)
	}

	content, err := s.complete(ctx, user.UID, usage.KindRoadmap, s.prompts.RoadmapRequest(targetJob, instruct))
	if err != nil {
		return nil, err
	}
	plan, err := parsePlan(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return s.store.CreateRoadmap(ctx, user.ID, plan, "")
}

// CreateSubroadmap generates a sub-roadmap expanding one step and links it to
// that step. A step links at most one sub-roadmap.
func (s *Service) CreateSubroadmap(ctx context.Context, user *store.User, stepUID string) (*store.Roadmap, error) {
	step, parent, err := s.store.StepByUID(ctx, stepUID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != user.ID {
		return nil, store.ErrForbidden
	}
	if step.SubRoadmapUID != "" {
		return nil, store.ErrSubRoadmapExists
	}

	content, err := s.complete(ctx, user.UID, usage.KindSubroadmap, s.prompts.SubroadmapRequest(step.Title, step.Description))
	if err != nil {
		return nil, err
	}
	plan, err := parsePlan(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return s.store.CreateRoadmap(ctx, user.ID, plan, stepUID)
}

// Roadmaps lists the user's roadmaps, newest first.
func (s *Service) Roadmaps(ctx context.Context, user *store.User) ([]store.Roadmap, error) {
	return s.store.RoadmapsByUser(ctx, user.ID)
}

// Detail resolves a roadmap with its steps, tags and resources.
func (s *Service) Detail(ctx context.Context, user *store.User, roadmapUID string) (*store.RoadmapDetail, error) {
	detail, err := s.store.RoadmapDetail(ctx, roadmapUID)
	if err != nil {
		return nil, err
	}
	if detail.UserID != user.ID {
		return nil, store.ErrForbidden
	}
	return detail, nil
}

// ToggleBookmark flips the bookmark flag of a step and returns the new state.
func (s *Service) ToggleBookmark(ctx context.Context, user *store.User, stepUID string) (bool, error) {
	_, parent, err := s.store.StepByUID(ctx, stepUID)
	if err != nil {
		return false, err
	}
	if parent.UserID != user.ID {
		return false, store.ErrForbidden
	}
	return s.store.ToggleBookmark(ctx, stepUID)
}

// BookmarkedSteps lists the user's bookmarked steps across all roadmaps.
func (s *Service) BookmarkedSteps(ctx context.Context, user *store.User) ([]store.BookmarkedStep, error) {
	return s.store.BookmarkedSteps(ctx, user.ID)
}

// RecommendResources returns the learning resources of a step, generating
// and persisting them on first request. Stored rows short-circuit the
// source entirely.
func (s *Service) RecommendResources(ctx context.Context, user *store.User, stepUID string) ([]store.Resource, error) {
	step, parent, err := s.store.StepByUID(ctx, stepUID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != user.ID {
		return nil, store.ErrForbidden
	}

	existing, err := s.store.ResourcesByStep(ctx, step.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		s.record(user.UID, usage.KindResources, usage.OutcomeCacheHit, 0, 0, time.Now())
		return existing, nil
	}

	content, err := s.complete(ctx, user.UID, usage.KindResources, s.prompts.ResourcesRequest(step.Title, step.Description))
	if err != nil {
		return nil, err
	}
	recs, err := parseResources(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	return s.store.AddResources(ctx, step.ID, recs)
}

// AddResource attaches a user-supplied resource URL to a step.
func (s *Service) AddResource(ctx context.Context, user *store.User, stepUID, rawURL string) (*store.Resource, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be a valid http or https URL", ErrInvalidInput)
	}

	step, parent, err := s.store.StepByUID(ctx, stepUID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != user.ID {
		return nil, store.ErrForbidden
	}

	added, err := s.store.AddResources(ctx, step.ID, []store.NewResource{{URL: rawURL}})
	if err != nil {
		return nil, err
	}
	return &added[0], nil
}

// RemoveResource deletes one resource owned by the user.
func (s *Service) RemoveResource(ctx context.Context, user *store.User, resourceUID string) error {
	res, owner, err := s.store.ResourceByUID(ctx, resourceUID)
	if err != nil {
		return err
	}
	if owner.UserID != user.ID {
		return store.ErrForbidden
	}
	return s.store.DeleteResource(ctx, res.ID)
}
