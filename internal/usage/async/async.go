// Package async decouples usage writes from request handling.
package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/waymark-labs/waymark/internal/usage"
)

// Store wraps a usage.Store and queues Record calls in memory, so a slow
// usage database never stalls a generation request. Reads pass through.
// Queued entries are lost if the process dies before a flush.
type Store struct {
	underlying usage.Store

	queue     chan usage.Entry
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	batchSize     int
	flushInterval time.Duration
	logger        *log.Logger
}

// Config tunes the writer. Zero values get defaults.
type Config struct {
	BatchSize     int           // entries per write burst (default 100)
	FlushInterval time.Duration // longest an entry waits in memory (default 1s)
	ChannelBuffer int           // queue capacity before drops (default 1024)
	NumWorkers    int           // parallel writers (default 1)
	Logger        *log.Logger
}

// New starts the background writers around underlying.
func New(underlying usage.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1024
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		queue:         make(chan usage.Entry, cfg.ChannelBuffer),
		stop:          make(chan struct{}),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	if s.logger != nil {
		s.logger.Printf("usage writer started workers=%d batch=%d flush=%v buffer=%d",
			cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	}
	return s
}

func (s *Store) worker(id int) {
	defer s.wg.Done()

	batch := make([]usage.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	stop := s.stop
	for {
		select {
		case entry, ok := <-s.queue:
			if !ok {
				s.flush(id, batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				batch = s.flush(id, batch)
			}

		case <-ticker.C:
			batch = s.flush(id, batch)

		case <-stop:
			// Exactly one worker closes the queue; every worker then drains
			// it through the receive case until it reports closed.
			s.closeOnce.Do(func() { close(s.queue) })
			stop = nil
		}
	}
}

// flush writes the batch entry by entry and returns the emptied slice.
// Individual write failures are logged and skipped.
func (s *Store) flush(workerID int, batch []usage.Entry) []usage.Entry {
	if len(batch) == 0 {
		return batch
	}
	ctx := context.Background()
	for _, entry := range batch {
		if err := s.underlying.Record(ctx, entry); err != nil && s.logger != nil {
			s.logger.Printf("usage writer worker=%d record failed: %v", workerID, err)
		}
	}
	return batch[:0]
}

// Record queues the entry without blocking. When the queue is full the entry
// is dropped and the drop is logged.
func (s *Store) Record(ctx context.Context, entry usage.Entry) error {
	select {
	case s.queue <- entry:
	default:
		if s.logger != nil {
			s.logger.Printf("usage writer queue full, dropping entry kind=%s user=%s", entry.Kind, entry.UserUID)
		}
	}
	return nil
}

// Summary reads through to the underlying store.
func (s *Store) Summary(ctx context.Context, userUID string) ([]usage.KindSummary, error) {
	return s.underlying.Summary(ctx, userUID)
}

// ListRecent reads through to the underlying store.
func (s *Store) ListRecent(ctx context.Context, userUID string, limit int) ([]usage.Entry, error) {
	return s.underlying.ListRecent(ctx, userUID, limit)
}

// Close drains the queue, stops the workers and closes the underlying store.
func (s *Store) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.underlying.Close()
}
