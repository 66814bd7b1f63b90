// internal/feed/feed.go
package feed

import (
	"context"
	"sync"

	"github.com/user/clawdriver/internal/types"
	"github.com/user/clawdriver/pkg/engine"
)

// Feed is the push-based turn source for one engine run. Turns may be
// pushed any number of times after consumption has started; this is what
// keeps a single run alive across multiple external turns. A Feed is
// created per run and discarded at run end.
//
// Single consumer, any number of producers.
type Feed struct {
	mu     sync.Mutex
	queue  []engine.Turn
	ended  bool
	last   types.TurnID
	wake   chan struct{}
	pushed int
}

func New() *Feed {
	return &Feed{wake: make(chan struct{}, 1)}
}

// Push enqueues a turn and wakes a suspended consumer. Returns the
// turn's assigned ID, which the driver records as the resume anchor.
// Pushing after End is a no-op (the run is already winding down).
func (f *Feed) Push(turn engine.Turn) types.TurnID {
	f.mu.Lock()
	if f.ended {
		f.mu.Unlock()
		return f.last
	}
	id := types.NewTurnID()
	f.queue = append(f.queue, turn)
	f.last = id
	f.pushed++
	f.mu.Unlock()

	f.signal()
	return id
}

// End marks the feed permanently closed and wakes any waiter. Queued
// turns are still drained before Next reports exhaustion.
func (f *Feed) End() {
	f.mu.Lock()
	f.ended = true
	f.mu.Unlock()
	f.signal()
}

// Next returns the next queued turn, suspending without busy-waiting
// until Push or End is called. Returns ok=false once the feed has ended
// and drained, or when ctx is cancelled.
func (f *Feed) Next(ctx context.Context) (engine.Turn, bool) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			turn := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return turn, true
		}
		if f.ended {
			f.mu.Unlock()
			return engine.Turn{}, false
		}
		f.mu.Unlock()

		select {
		case <-f.wake:
		case <-ctx.Done():
			return engine.Turn{}, false
		}
	}
}

// LastTurnID returns the ID of the most recently pushed turn.
func (f *Feed) LastTurnID() types.TurnID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Pushed returns how many turns have been pushed over the feed's life.
func (f *Feed) Pushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushed
}

// signal wakes the consumer without blocking; a pending wake is enough.
func (f *Feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

var _ engine.TurnSource = (*Feed)(nil)
