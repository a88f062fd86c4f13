package roadmap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/waymark-labs/waymark/internal/store"
	"github.com/waymark-labs/waymark/internal/stream"
	"github.com/waymark-labs/waymark/internal/usage"
)

// Assistant streams an answer about one roadmap. Answers are conversational
// and never persisted; the transcript only feeds the usage entry written
// when the stream ends.
func (s *Service) Assistant(ctx context.Context, user *store.User, roadmapUID, question string) (<-chan stream.Event, error) {
	question = strings.TrimSpace(question)
	if question == "" || len(question) > maxQuestionLen {
		return nil, fmt.Errorf("%w: user_input must be 1 to %d characters", ErrInvalidInput, maxQuestionLen)
	}

	detail, err := s.store.RoadmapDetail(ctx, roadmapUID)
	if err != nil {
		return nil, err
	}
	if detail.UserID != user.ID {
		return nil, store.ErrForbidden
	}

	titles := make([]string, 0, len(detail.Steps))
	for _, st := range detail.Steps {
		titles = append(titles, st.Title)
	}
	req := s.prompts.AssistantRequest(detail.Title, titles, question)

	started := time.Now()
	genCtx, cancel := context.WithTimeout(ctx, s.genTimeout)
	src, err := s.source.Stream(genCtx, req)
	if err != nil {
		cancel()
		s.record(user.UID, usage.KindAssistant, usage.OutcomeError, req.PromptChars(), 0, started)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	tr := stream.NewTranscript()
	events := stream.Relay(ctx, src, tr)
	go func() {
		<-tr.Done()
		cancel()
		outcome := usage.OutcomeOK
		if tr.Err() != nil {
			outcome = usage.OutcomeError
		}
		s.record(user.UID, usage.KindAssistant, outcome, req.PromptChars(), int64(len(tr.Text())), started)
	}()
	return events, nil
}
