package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrChordTimeout is returned when the barrier deadline passes before
// every part has reported.
var ErrChordTimeout = errors.New("chord barrier timed out")

// Chord is a barrier over N indexed parts. Each part completes exactly
// once; Wait returns results in index order once every part has reported
// or the deadline passes. Used by distributed beat generation: one part
// per beat, assembly after the barrier.
type Chord struct {
	mu      sync.Mutex
	results []ChordResult
	pending int
	done    chan struct{}
	once    sync.Once
}

// ChordResult is one part's outcome.
type ChordResult struct {
	Index   int
	Payload any
	Err     error
	ok      bool
}

// NewChord creates a barrier over n parts.
func NewChord(n int) *Chord {
	c := &Chord{
		results: make([]ChordResult, n),
		pending: n,
		done:    make(chan struct{}),
	}
	if n == 0 {
		c.once.Do(func() { close(c.done) })
	}
	return c
}

// Complete reports part index. Out-of-range or duplicate completions are
// ignored so retried tasks cannot corrupt the barrier.
func (c *Chord) Complete(index int, payload any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.results) || c.results[index].ok {
		return
	}
	c.results[index] = ChordResult{Index: index, Payload: payload, Err: err, ok: true}
	c.pending--
	if c.pending == 0 {
		c.once.Do(func() { close(c.done) })
	}
}

// Wait blocks until every part completed, the timeout passes, or ctx is
// cancelled. On timeout the partial results gathered so far are returned
// together with ErrChordTimeout; missing parts have a zero payload.
func (c *Chord) Wait(ctx context.Context, timeout time.Duration) ([]ChordResult, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-c.done:
		return c.snapshot(), nil
	case <-timer:
		return c.snapshot(), ErrChordTimeout
	case <-ctx.Done():
		return c.snapshot(), ctx.Err()
	}
}

func (c *Chord) snapshot() []ChordResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChordResult, len(c.results))
	copy(out, c.results)
	return out
}
