package roadmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/waymark-labs/waymark/internal/store"
	"github.com/waymark-labs/waymark/internal/stream"
	"github.com/waymark-labs/waymark/internal/usage"
)

// StepGuide streams the study guide for a step.
//
// A stored guide is replayed without touching the completion source. A cold
// step invokes the source exactly once: concurrent requests for the same
// step attach to the live generation instead of starting their own, and the
// finished text is persisted by a background task once the stream ends
// cleanly. Lookup and ownership failures surface before any event is
// produced.
func (s *Service) StepGuide(ctx context.Context, user *store.User, stepUID string) (<-chan stream.Event, error) {
	step, parent, err := s.store.StepByUID(ctx, stepUID)
	if err != nil {
		return nil, err
	}
	if parent.UserID != user.ID {
		return nil, store.ErrForbidden
	}

	if step.Guide != "" {
		s.record(user.UID, usage.KindGuide, usage.OutcomeCacheHit, 0, int64(len(step.Guide)), time.Now())
		return stream.Replay(ctx, step.Guide), nil
	}

	tags, err := s.store.TagsByStep(ctx, step.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	req := s.prompts.GuideRequest(parent.Title, step.Title, step.Description, names)

	s.mu.Lock()
	if tr, ok := s.inflight[stepUID]; ok {
		s.mu.Unlock()
		return s.attach(ctx, tr), nil
	}
	tr := stream.NewTranscript()
	s.inflight[stepUID] = tr
	s.mu.Unlock()

	started := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	src, err := s.source.Stream(genCtx, req)
	if err != nil {
		cancel()
		tr.Finish(err)
		s.mu.Lock()
		delete(s.inflight, stepUID)
		s.mu.Unlock()
		s.record(user.UID, usage.KindGuide, usage.OutcomeError, req.PromptChars(), 0, started)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	events := stream.Relay(ctx, src, tr)
	go s.finishGuide(stepUID, tr, cancel, user.UID, req.PromptChars(), started)
	return events, nil
}

// attach joins a request to a generation already running for the same step.
// It waits for the generation to finish and then delivers the assembled text,
// or its terminal error, as a single event.
func (s *Service) attach(ctx context.Context, tr *stream.Transcript) <-chan stream.Event {
	out := make(chan stream.Event, 1)
	go func() {
		defer close(out)
		select {
		case <-tr.Done():
		case <-ctx.Done():
			return
		}
		ev := stream.Event{Token: tr.Text()}
		if err := tr.Err(); err != nil {
			ev = stream.Event{Err: err}
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}()
	return out
}

// finishGuide is the deferred persistence task of one guide generation. It
// waits for the relay to finish the transcript, persists the assembled text
// when the stream ended cleanly and records the usage entry. The in-flight
// slot is released only after persistence so that late arrivals attach to
// the finished transcript instead of regenerating.
func (s *Service) finishGuide(stepUID string, tr *stream.Transcript, cancel context.CancelFunc, userUID string, promptChars int64, started time.Time) {
	<-tr.Done()
	cancel()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, stepUID)
		s.mu.Unlock()
	}()

	text := tr.Text()
	if err := tr.Err(); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logf("guide generation failed step=%s: %v", stepUID, err)
		}
		s.record(userUID, usage.KindGuide, usage.OutcomeError, promptChars, int64(len(text)), started)
		return
	}

	if text != "" {
		ctx, cancelWrite := context.WithTimeout(context.Background(), persistTimeout)
		defer cancelWrite()
		switch err := s.store.SetStepGuide(ctx, stepUID, text); {
		case err == nil:
		case errors.Is(err, store.ErrNotFound):
			s.logf("guide not persisted step=%s: step is gone", stepUID)
		case errors.Is(err, store.ErrGuideExists):
			s.logf("guide not persisted step=%s: another guide is already stored", stepUID)
		default:
			s.logf("guide not persisted step=%s: %v", stepUID, err)
		}
	}
	s.record(userUID, usage.KindGuide, usage.OutcomeOK, promptChars, int64(len(text)), started)
}
