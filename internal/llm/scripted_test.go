package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func collect(t *testing.T, ch <-chan StreamChunk) (tokens []string, final StreamChunk) {
	t.Helper()
	for chunk := range ch {
		if chunk.Content != "" {
			tokens = append(tokens, chunk.Content)
			continue
		}
		final = chunk
	}
	return tokens, final
}

func TestScriptedStreamSplitsWords(t *testing.T) {
	src := NewScripted("Hello world")

	ch, err := src.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	tokens, final := collect(t, ch)
	if len(tokens) != 2 || tokens[0] != "Hello" || tokens[1] != " world" {
		t.Fatalf("unexpected tokens %q", tokens)
	}
	if !final.Done || final.Error != nil {
		t.Fatalf("unexpected final chunk %+v", final)
	}
	if final.Usage == nil {
		t.Fatalf("expected usage on final chunk")
	}
	if src.CallCount() != 1 {
		t.Fatalf("expected 1 call, got %d", src.CallCount())
	}
}

func TestScriptedStreamFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	src := NewScripted("one two three four").WithStreamFailure(2, boom)

	ch, err := src.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	tokens, final := collect(t, ch)
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens before failure, got %q", tokens)
	}
	if !errors.Is(final.Error, boom) {
		t.Fatalf("expected stream error, got %+v", final)
	}
	if final.Done {
		t.Fatalf("failed stream must not be marked done")
	}
}

func TestScriptedCompleteCyclesResponses(t *testing.T) {
	src := NewScripted("first", "second")

	for _, want := range []string{"first", "second", "first"} {
		resp, err := src.Complete(context.Background(), CompletionRequest{})
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if resp.Content != want {
			t.Fatalf("expected %q, got %q", want, resp.Content)
		}
	}
	if src.CallCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", src.CallCount())
	}
}

func TestScriptedRecordsCalls(t *testing.T) {
	src := NewScripted("ok")
	req := CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "what next"}}}

	if src.LastCall() != nil {
		t.Fatalf("expected no calls yet")
	}
	if _, err := src.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	last := src.LastCall()
	if last == nil || last.Messages[0].Content != "what next" {
		t.Fatalf("unexpected last call %+v", last)
	}

	src.Reset()
	if src.CallCount() != 0 || src.LastCall() != nil {
		t.Fatalf("expected reset state")
	}
}

func TestScriptedError(t *testing.T) {
	boom := errors.New("no capacity")
	src := NewScripted().WithError(boom)

	if _, err := src.Complete(context.Background(), CompletionRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected error, got %v", err)
	}
	if _, err := src.Stream(context.Background(), CompletionRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected error, got %v", err)
	}
}

func TestScriptedFallbackShapes(t *testing.T) {
	src := NewScripted()
	pack := DefaultPromptPack()

	resp, err := src.Complete(context.Background(), pack.RoadmapRequest("backend developer", ""))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(resp.Content, `"steps"`) {
		t.Fatalf("expected roadmap shaped fallback, got %q", resp.Content)
	}

	resp, err = src.Complete(context.Background(), pack.ResourcesRequest("Learn SQL", "Relational modeling"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.Contains(resp.Content, `"learning_resources"`) {
		t.Fatalf("expected resources shaped fallback, got %q", resp.Content)
	}
}

func TestSplitTokensRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Hello world", []string{"Hello", " world"}},
		{"one", []string{"one"}},
		{"a  b", []string{"a", "  b"}},
		{"line\nbreak", []string{"line", "\nbreak"}},
		{"", nil},
	}
	for _, tc := range cases {
		got := SplitTokens(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("SplitTokens(%q) = %q, want %q", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("SplitTokens(%q) = %q, want %q", tc.in, got, tc.want)
			}
		}
		if strings.Join(got, "") != tc.in {
			t.Fatalf("tokens of %q do not concatenate back", tc.in)
		}
	}
}
