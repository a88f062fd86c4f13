// Package logging provides the file writer behind the daemon log.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to date-stamped files next to the configured path
// and starts a new file when the current one would exceed maxBytes.
//
// waymark.log becomes waymark-2026-08-23.log, then waymark-2026-08-23-2.log
// on a same-day size rollover. Days are UTC.
type RotatingWriter struct {
	basePath string
	maxBytes int64

	mu   sync.Mutex
	day  string
	seq  int
	file *os.File
	size int64
}

// NewRotatingWriter opens a rotating writer for basePath. A basePath of "-"
// discards all output.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	if strings.TrimSpace(basePath) == "-" {
		return nopWriteCloser{w: io.Discard}, nil
	}
	w := &RotatingWriter{basePath: basePath, maxBytes: maxBytes}
	if err := w.ensure(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensure(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ensure opens the right target for a pending write of n bytes, rolling the
// day or the sequence number as needed.
func (w *RotatingWriter) ensure(n int64) error {
	today := time.Now().UTC().Format("2006-01-02")
	switch {
	case w.file == nil || w.day != today:
		w.day = today
		w.seq = 1
	case w.size+n > w.maxBytes:
		w.seq++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
	}

	dir, leaf := filepath.Split(w.basePath)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	ext := filepath.Ext(leaf)
	stem := strings.TrimSuffix(leaf, ext)
	if ext == "" {
		ext = ".log"
	}
	name := stem + "-" + w.day
	if w.seq > 1 {
		name = fmt.Sprintf("%s-%d", name, w.seq)
	}

	f, err := os.OpenFile(filepath.Join(dir, name+ext), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	w.file = f
	w.size = 0
	if st, serr := f.Stat(); serr == nil {
		w.size = st.Size()
	}
	return nil
}

type nopWriteCloser struct{ w io.Writer }

func (n nopWriteCloser) Write(p []byte) (int, error) { return n.w.Write(p) }
func (n nopWriteCloser) Close() error                { return nil }
