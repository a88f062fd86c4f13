package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterRollsOnSize(t *testing.T) {
	tmp := t.TempDir()
	w, err := NewRotatingWriter(filepath.Join(tmp, "waymark.log"), 32)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 20) + "\n")
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}

	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected 2 files after rollover, got %v", names)
	}
}

func TestRotatingWriterDiscard(t *testing.T) {
	w, err := NewRotatingWriter("-", 1024)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if _, err := w.Write([]byte("dropped")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
