package roadmap

import (
	"strings"
	"testing"
)

func TestParsePlan(t *testing.T) {
	text := "Here is your roadmap:\n```json\n" +
		`{"title": "  Backend Developer  ", "description": "ignored", "steps": [` +
		`{"step": 3, "title": "Ship", "description": "Deploy a service.", "tags": [" deploy ", ""]}, ` +
		`{"step": 1, "title": "Learn Go", "description": "Syntax and tooling.", "tags": ["go"]}]}` +
		"\n```"

	plan, err := parsePlan(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Title != "Backend Developer" {
		t.Fatalf("unexpected title %q", plan.Title)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].Title != "Learn Go" || plan.Steps[0].Number != 1 {
		t.Fatalf("unexpected first step %+v", plan.Steps[0])
	}
	if plan.Steps[1].Title != "Ship" || plan.Steps[1].Number != 2 {
		t.Fatalf("declared order not renumbered: %+v", plan.Steps[1])
	}
	if len(plan.Steps[0].Tags) != 1 || plan.Steps[0].Tags[0] != "go" {
		t.Fatalf("unexpected tags %v", plan.Steps[0].Tags)
	}
	if len(plan.Steps[1].Tags) != 1 || plan.Steps[1].Tags[0] != "deploy" {
		t.Fatalf("tags not cleaned: %v", plan.Steps[1].Tags)
	}
}

func TestParsePlanErrors(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"no json", "the model rambled instead", "no JSON object"},
		{"bad json", `{"title": "X", "steps": [}`, "decode plan"},
		{"no title", `{"title": " ", "steps": [{"step": 1, "title": "A"}]}`, "no title"},
		{"no steps", `{"title": "X", "steps": []}`, "no steps"},
		{"untitled step", `{"title": "X", "steps": [{"step": 1, "title": "  "}]}`, "step 1 has no title"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parsePlan(tc.text); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseResources(t *testing.T) {
	text := "```json\n" +
		`{"learning_resources": [` +
		`{"url": ["https://go.dev/doc", "https://go.dev/ref/spec"], "resource_type": "official_documentation"}, ` +
		`{"url": [" "], "resource_type": "book"}, ` +
		`{"url": ["https://example.com/course"], "resource_type": "bootcamp"}]}` +
		"\n```"

	recs, err := parseResources(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(recs))
	}
	if recs[0].URL != "https://go.dev/doc" || recs[0].Type != "official_documentation" {
		t.Fatalf("unexpected first resource %+v", recs[0])
	}
	if recs[1].URL != "https://go.dev/ref/spec" {
		t.Fatalf("urls not flattened: %+v", recs[1])
	}
	if recs[2].Type != "" {
		t.Fatalf("unknown resource type not blanked: %q", recs[2].Type)
	}
}

func TestParseResourcesEmpty(t *testing.T) {
	if _, err := parseResources(`{"learning_resources": [{"url": [""], "resource_type": "book"}]}`); err == nil {
		t.Fatal("expected error for resources without usable URLs")
	}
}
