package llm

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Ensure Scripted implements Client.
var _ Client = (*Scripted)(nil)

// Scripted is a deterministic generation source. It serves two purposes:
// as the generation_source=scripted backend for development without an API
// key, and as a call-recording fake in tests.
type Scripted struct {
	mu        sync.Mutex
	calls     []CompletionRequest
	responses []string
	next      int
	err       error
	failAfter int
	failErr   error
	delay     time.Duration
}

// NewScripted creates a scripted client. Responses are served in order,
// cycling back to the first when exhausted. With no responses configured,
// replies are fabricated from the request.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{responses: responses, failAfter: -1}
}

// WithError makes every call fail immediately with err.
func (s *Scripted) WithError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// WithStreamFailure makes streamed responses emit n tokens and then fail
// with err instead of completing.
func (s *Scripted) WithStreamFailure(n int, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAfter = n
	s.failErr = err
	return s
}

// WithDelay inserts a pause before each streamed token.
func (s *Scripted) WithDelay(d time.Duration) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Model returns the synthetic model name recorded in usage entries.
func (s *Scripted) Model() string {
	return "scripted"
}

// CallCount reports how many times the source was invoked.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// LastCall returns the most recent request, or nil before the first call.
func (s *Scripted) LastCall() *CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return nil
	}
	call := s.calls[len(s.calls)-1]
	return &call
}

// Reset clears recorded calls and restarts the response sequence.
func (s *Scripted) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.next = 0
}

func (s *Scripted) record(req CompletionRequest) (response string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	if len(s.responses) == 0 {
		return fallbackResponse(req), nil
	}
	response = s.responses[s.next%len(s.responses)]
	s.next++
	return response, nil
}

// Complete returns the next scripted response.
func (s *Scripted) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompletionResponse{}, err
	}
	start := time.Now()
	response, err := s.record(req)
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{
		Content:      response,
		Model:        s.Model(),
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  req.PromptChars() / 4,
			OutputTokens: int64(len(response)) / 4,
			TotalTokens:  (req.PromptChars() + int64(len(response))) / 4,
		},
		Duration: time.Since(start),
	}, nil
}

// Stream emits the next scripted response one word at a time, each token
// carrying its leading whitespace, so "Hello world" streams as "Hello"
// followed by " world".
func (s *Scripted) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	response, err := s.record(req)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	failAfter, failErr, delay := s.failAfter, s.failErr, s.delay
	s.mu.Unlock()

	tokens := SplitTokens(response)
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		for i, token := range tokens {
			if failAfter >= 0 && i == failAfter {
				select {
				case ch <- StreamChunk{Error: failErr}:
				case <-ctx.Done():
				}
				return
			}
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- StreamChunk{Content: token}:
			case <-ctx.Done():
				return
			}
		}
		if failAfter >= 0 && failAfter >= len(tokens) {
			select {
			case ch <- StreamChunk{Error: failErr}:
			case <-ctx.Done():
			}
			return
		}
		usage := &TokenUsage{
			InputTokens:  req.PromptChars() / 4,
			OutputTokens: int64(len(response)) / 4,
			TotalTokens:  (req.PromptChars() + int64(len(response))) / 4,
		}
		select {
		case ch <- StreamChunk{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// SplitTokens cuts text into word-sized fragments, each keeping the
// whitespace that precedes it. Concatenating the fragments reproduces the
// input exactly.
func SplitTokens(text string) []string {
	if text == "" {
		return nil
	}
	var tokens []string
	start := 0
	for i := 1; i < len(text); i++ {
		if (text[i] == ' ' || text[i] == '\n') && text[i-1] != ' ' && text[i-1] != '\n' {
			tokens = append(tokens, text[start:i])
			start = i
		}
	}
	return append(tokens, text[start:])
}

func fallbackResponse(req CompletionRequest) string {
	topic := "your topic"
	if len(req.Messages) > 0 {
		if line := firstLine(req.Messages[len(req.Messages)-1].Content); line != "" {
			topic = line
		}
	}
	switch {
	case strings.Contains(req.System, `"steps"`):
		return `{"title": "Scripted Roadmap", "description": "A fixed development roadmap.", "steps": [` +
			`{"step": 1, "title": "Fundamentals", "description": "Learn the basic concepts.", "tags": ["basics"]}, ` +
			`{"step": 2, "title": "Practice", "description": "Build small projects.", "tags": ["practice"]}, ` +
			`{"step": 3, "title": "Depth", "description": "Study advanced topics.", "tags": ["advanced"]}]}`
	case strings.Contains(req.System, `"learning_resources"`):
		return `{"learning_resources": [` +
			`{"url": ["https://example.com/docs"], "resource_type": "official_documentation"}, ` +
			`{"url": ["https://example.com/book"], "resource_type": "book"}]}`
	default:
		return "This is a scripted reply about " + topic + ". Start with the fundamentals, practice daily, and review what you learned."
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
