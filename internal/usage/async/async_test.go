package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/waymark-labs/waymark/internal/usage"
)

type memStore struct {
	mu      sync.Mutex
	entries []usage.Entry
	closed  bool
}

func (m *memStore) Record(ctx context.Context, entry usage.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memStore) Summary(ctx context.Context, userUID string) ([]usage.KindSummary, error) {
	return nil, nil
}

func (m *memStore) ListRecent(ctx context.Context, userUID string, limit int) ([]usage.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]usage.Entry, len(m.entries))
	copy(out, m.entries)
	return out, nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestCloseDrainsQueuedEntries(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 10, FlushInterval: time.Hour, ChannelBuffer: 64})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := store.Record(ctx, usage.Entry{UserUID: "u1", Kind: usage.KindGuide, Outcome: usage.OutcomeOK}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()
	if len(mem.entries) != 5 {
		t.Fatalf("expected 5 entries after drain, got %d", len(mem.entries))
	}
	if !mem.closed {
		t.Fatalf("expected underlying store to be closed")
	}
}

func TestBatchFlushOnSize(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 2, FlushInterval: time.Hour, ChannelBuffer: 64})
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := store.Record(ctx, usage.Entry{UserUID: "u1", Kind: usage.KindAssistant, Outcome: usage.OutcomeOK}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mem.mu.Lock()
		n := len(mem.entries)
		mem.mu.Unlock()
		if n >= 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 4 entries flushed, got %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecordNeverBlocksWhenFull(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 100, FlushInterval: time.Hour, ChannelBuffer: 1})
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = store.Record(ctx, usage.Entry{UserUID: "u1", Kind: usage.KindGuide, Outcome: usage.OutcomeOK})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Record blocked on full channel")
	}
}
