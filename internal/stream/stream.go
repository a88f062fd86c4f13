// Package stream carries generated tokens from a model source to an HTTP
// client while accumulating them for deferred persistence. The transcript
// is appended before each token is offered to the client, so its final text
// is always the exact concatenation of the emitted tokens regardless of how
// far the client read.
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/waymark-labs/waymark/internal/llm"
)

// ErrTruncated marks a source that stopped without a final done or error chunk.
var ErrTruncated = errors.New("stream ended unexpectedly")

// Event is a single unit delivered to the HTTP layer. Exactly one of Token
// or Err is set; an Err event is always the last event of a stream.
type Event struct {
	Token string
	Err   error
}

// Transcript accumulates streamed tokens and latches exactly once when the
// stream finishes, successfully or not. A finished transcript never changes.
type Transcript struct {
	mu   sync.Mutex
	text strings.Builder
	err  error

	once sync.Once
	done chan struct{}
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{done: make(chan struct{})}
}

// Append adds a token to the transcript. Appends after Finish are ignored.
func (t *Transcript) Append(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
		return
	default:
	}
	t.text.WriteString(token)
}

// Finish latches the transcript with the stream outcome. Only the first
// call has any effect.
func (t *Transcript) Finish(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

// Done returns a channel closed once the transcript is finished.
func (t *Transcript) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transcript finishes or ctx is cancelled, returning
// the stream outcome.
func (t *Transcript) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the stream outcome. It is nil until Finish is called.
func (t *Transcript) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Text returns the tokens accumulated so far, concatenated in emission order.
func (t *Transcript) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Relay forwards tokens from a model source to the returned event channel.
// Each token is appended to the transcript before it is offered to the
// consumer. The relay emits at most one Err event, always as the last
// event, and finishes the transcript exactly once on every exit path,
// including consumer disconnect via ctx. A nil transcript disables
// accumulation but keeps the relay semantics.
func Relay(ctx context.Context, src <-chan llm.StreamChunk, tr *Transcript) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		var streamErr error
		defer func() {
			if tr != nil {
				tr.Finish(streamErr)
			}
		}()

		for {
			select {
			case chunk, ok := <-src:
				if !ok {
					streamErr = ErrTruncated
					select {
					case out <- Event{Err: ErrTruncated}:
					case <-ctx.Done():
					}
					return
				}
				if chunk.Error != nil {
					streamErr = chunk.Error
					select {
					case out <- Event{Err: chunk.Error}:
					case <-ctx.Done():
					}
					return
				}
				if chunk.Done {
					return
				}
				if chunk.Content == "" {
					continue
				}
				if tr != nil {
					tr.Append(chunk.Content)
				}
				select {
				case out <- Event{Token: chunk.Content}:
				case <-ctx.Done():
					streamErr = ctx.Err()
					return
				}
			case <-ctx.Done():
				streamErr = ctx.Err()
				return
			}
		}
	}()
	return out
}

// Replay turns already-persisted text into a synthetic stream of a single
// token event, used when a stored guide makes generation unnecessary.
func Replay(ctx context.Context, text string) <-chan Event {
	out := make(chan Event, 1)
	go func() {
		defer close(out)
		select {
		case out <- Event{Token: text}:
		case <-ctx.Done():
		}
	}()
	return out
}
