package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/waymark-labs/waymark/internal/usage"
)

func TestStoreRecordAndSummary(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	record := func(kind usage.Kind, outcome usage.Outcome, prompt, completion int64) {
		if err := store.Record(ctx, usage.Entry{
			UserUID:         "user123abc",
			Kind:            kind,
			Model:           "gpt-4o-mini",
			PromptChars:     prompt,
			CompletionChars: completion,
			Outcome:         outcome,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record(usage.KindGuide, usage.OutcomeOK, 100, 500)
	record(usage.KindGuide, usage.OutcomeCacheHit, 0, 500)
	record(usage.KindGuide, usage.OutcomeError, 100, 20)
	record(usage.KindAssistant, usage.OutcomeOK, 80, 200)

	summary, err := store.Summary(ctx, "user123abc")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(summary))
	}
	byKind := map[usage.Kind]usage.KindSummary{}
	for _, ks := range summary {
		byKind[ks.Kind] = ks
	}
	guide := byKind[usage.KindGuide]
	if guide.Generations != 1 || guide.CacheHits != 1 || guide.Errors != 1 {
		t.Fatalf("unexpected guide summary %+v", guide)
	}
	if guide.PromptChars != 200 || guide.CompletionChars != 1020 {
		t.Fatalf("unexpected guide char totals %+v", guide)
	}
	assistant := byKind[usage.KindAssistant]
	if assistant.Generations != 1 || assistant.CompletionChars != 200 {
		t.Fatalf("unexpected assistant summary %+v", assistant)
	}
}

func TestListRecentOrdering(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	entries := []usage.Entry{
		{UserUID: "u7", Kind: usage.KindGuide, CompletionChars: 1, Outcome: usage.OutcomeOK, CreatedAt: time.Now().Add(-2 * time.Hour)},
		{UserUID: "u7", Kind: usage.KindGuide, CompletionChars: 2, Outcome: usage.OutcomeOK, CreatedAt: time.Now().Add(-1 * time.Hour)},
		{UserUID: "u7", Kind: usage.KindAssistant, CompletionChars: 3, Outcome: usage.OutcomeOK, CreatedAt: time.Now()},
	}

	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, "u7", 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].CompletionChars != 3 || recent[1].CompletionChars != 2 {
		t.Fatalf("unexpected ordering %#v", recent)
	}
}

func TestRecordValidation(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "usage.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	err = store.Record(context.Background(), usage.Entry{Kind: usage.KindGuide, Outcome: usage.OutcomeOK})
	if err == nil {
		t.Fatalf("expected error for missing user uid")
	}

	err = store.Record(context.Background(), usage.Entry{UserUID: "u1", Kind: "unexpected", Outcome: usage.OutcomeOK})
	if err == nil {
		t.Fatalf("expected error for invalid kind")
	}

	err = store.Record(context.Background(), usage.Entry{UserUID: "u1", Kind: usage.KindGuide, Outcome: "unexpected"})
	if err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}
