package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/waymark-labs/waymark/internal/llm"
	"github.com/waymark-labs/waymark/internal/usage"
)

func TestTokenFrameFormat(t *testing.T) {
	if got := tokenFrame("Hello"); got != "data: {\"token\": \"Hello\"}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if got := errorFrame("model offline"); got != "data: {\"error\": \"model offline\"}\n\n" {
		t.Fatalf("unexpected frame %q", got)
	}
	if got := tokenFrame(`say "hi"`); got != "data: {\"token\": \"say \\\"hi\\\"\"}\n\n" {
		t.Fatalf("expected escaped quotes, got %q", got)
	}
	if got := tokenFrame("<b> & </b>"); strings.Contains(got, "\\u003c") || strings.Contains(got, "\\u0026") {
		t.Fatalf("expected raw HTML characters, got %q", got)
	}
	if got := tokenFrame("line\nbreak"); got != "data: {\"token\": \"line\\nbreak\"}\n\n" {
		t.Fatalf("expected escaped newline, got %q", got)
	}
}

func TestGuideStreamByteExactFraming(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted("Hello world"))
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[0].UID

	rec := env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/guide", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream; charset=utf-8" {
		t.Fatalf("unexpected content type %q", ct)
	}
	want := "data: {\"token\": \"Hello\"}\n\n" + "data: {\"token\": \" world\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected stream body %q, want %q", rec.Body.String(), want)
	}

	if guide := env.waitForGuide(t, stepUID); guide != "Hello world" {
		t.Fatalf("unexpected persisted guide %q", guide)
	}

	rec = env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/guide", nil)
	if rec.Body.String() != "data: {\"token\": \"Hello world\"}\n\n" {
		t.Fatalf("unexpected replay body %q", rec.Body.String())
	}
	if env.src.CallCount() != 1 {
		t.Fatalf("expected a single source call, got %d", env.src.CallCount())
	}
}

func TestGuideStreamKeepsRawHTML(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted("Use <b> & </b>"))
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[0].UID

	rec := env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/guide", nil)
	body := rec.Body.String()
	if !strings.Contains(body, "data: {\"token\": \" <b>\"}\n\n") {
		t.Fatalf("expected raw HTML fragment, got %q", body)
	}
	if strings.Contains(body, "\\u003c") || strings.Contains(body, "\\u0026") {
		t.Fatalf("expected no HTML escaping, got %q", body)
	}
}

func TestGuideStreamMidstreamError(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted("Hello world").WithStreamFailure(1, errors.New("model offline")))
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[0].UID

	rec := env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/guide", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once streaming began, got %d", rec.Code)
	}
	want := "data: {\"token\": \"Hello\"}\n\n" + "data: {\"error\": \"model offline\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected stream body %q, want %q", rec.Body.String(), want)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		summaries, err := env.usage.Summary(context.Background(), env.user.UID)
		if err != nil {
			t.Fatalf("summary: %v", err)
		}
		var recorded bool
		for _, s := range summaries {
			if s.Kind == usage.KindGuide && s.Errors == 1 {
				recorded = true
			}
		}
		if recorded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stream failure was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	step, _, err := env.store.StepByUID(context.Background(), stepUID)
	if err != nil {
		t.Fatalf("step lookup: %v", err)
	}
	if step.Guide != "" {
		t.Fatalf("expected no guide after failed stream, got %q", step.Guide)
	}
}

func TestGuideStreamUnknownStep(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	rec := env.request(t, http.MethodGet, "/roadmap/step/unknown/guide", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before streaming, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON error body, got %q", ct)
	}
	if env.src.CallCount() != 0 {
		t.Fatalf("expected no source calls, got %d", env.src.CallCount())
	}
}

func TestAssistantStreamEndpoint(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted("Start with HTTP basics."))
	detail := env.seedRoadmap(t)

	rec := env.request(t, http.MethodPost, "/roadmap/"+detail.UID+"/assistant", map[string]string{
		"user_input": "Where should I start?",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var want strings.Builder
	for _, token := range llm.SplitTokens("Start with HTTP basics.") {
		want.WriteString(tokenFrame(token))
	}
	if rec.Body.String() != want.String() {
		t.Fatalf("unexpected stream body %q, want %q", rec.Body.String(), want.String())
	}

	rec = env.request(t, http.MethodPost, "/roadmap/"+detail.UID+"/assistant", map[string]string{"user_input": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/roadmap/unknown/assistant", map[string]string{"user_input": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown roadmap, got %d", rec.Code)
	}
}
