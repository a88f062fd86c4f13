package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Ensure OpenAI implements Client.
var _ Client = (*OpenAI)(nil)

// OpenAI generates completions through the official openai-go SDK.
type OpenAI struct {
	client openai.Client
	model  string
}

// OpenAIConfig configures the OpenAI-backed client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAI creates an OpenAI client for the configured model.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

// Model returns the configured model name.
func (c *OpenAI) Model() string {
	return c.model
}

func (c *OpenAI) params(req CompletionRequest) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(m.Content))
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}
	return params
}

// Complete performs a blocking chat completion.
func (c *OpenAI) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return CompletionResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	choice := resp.Choices[0]
	if choice.Message.Content == "" {
		return CompletionResponse{}, fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	return CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// Stream performs a streaming chat completion, forwarding content deltas as
// they arrive. The returned channel closes after the final chunk.
func (c *OpenAI) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		var usage *TokenUsage
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = &TokenUsage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case ch <- StreamChunk{Content: delta}:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case ch <- StreamChunk{Error: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case ch <- StreamChunk{Done: true, Usage: usage}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}
