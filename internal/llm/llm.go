package llm

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyCompletion is returned when the provider answers without any
// usable content.
var ErrEmptyCompletion = errors.New("empty completion")

// Role identifies the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest configures a model invocation.
type CompletionRequest struct {
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// PromptChars returns the total prompt size in bytes, used for usage accounting.
func (r CompletionRequest) PromptChars() int64 {
	total := int64(len(r.System))
	for _, m := range r.Messages {
		total += int64(len(m.Content))
	}
	return total
}

// TokenUsage tracks token consumption reported by the provider.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// CompletionResponse is the output of a blocking completion call.
type CompletionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"`
	Usage        TokenUsage    `json:"usage"`
	Duration     time.Duration `json:"duration"`
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	Content string      `json:"content,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"` // Only set in final chunk
	Done    bool        `json:"done"`
	Error   error       `json:"-"` // Non-nil if streaming failed
}

// Client generates model completions for the roadmap service.
// Stream returns a channel that is closed after the final chunk; the final
// chunk carries either Done or a non-nil Error, never both.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
	Model() string
}
