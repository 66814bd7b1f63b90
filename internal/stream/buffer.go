// internal/stream/buffer.go
package stream

import (
	"strings"
	"time"
	"unicode/utf8"
)

// DeltaBuffer accumulates text deltas and decides when they should be
// flushed as one emitted span: either the buffer reaches a code-point
// threshold, or a debounce timer elapses since the first unflushed rune,
// whichever comes first. A size-triggered flush cancels the pending
// timer. This bounds emitted-event rate without adding real latency.
//
// Not safe for concurrent use; the run loop is the single owner.
type DeltaBuffer struct {
	limit    int
	debounce time.Duration

	buf   strings.Builder
	runes int
	timer *time.Timer
	armed bool
}

func NewDeltaBuffer(limit int, debounce time.Duration) *DeltaBuffer {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	return &DeltaBuffer{limit: limit, debounce: debounce, timer: timer}
}

// Append adds a delta. When the accumulated size reaches the threshold
// it returns the full buffered span and true; the span never exceeds the
// threshold by more than the last delta's length.
func (b *DeltaBuffer) Append(delta string) (string, bool) {
	if delta == "" {
		return "", false
	}
	if b.runes == 0 {
		b.timer.Reset(b.debounce)
		b.armed = true
	}
	b.buf.WriteString(delta)
	b.runes += utf8.RuneCountInString(delta)
	if b.runes >= b.limit {
		return b.take(), true
	}
	return "", false
}

// Flush drains the buffer unconditionally, returning false when empty.
// Used on debounce expiry and before emitting a final result.
func (b *DeltaBuffer) Flush() (string, bool) {
	if b.runes == 0 {
		b.disarm()
		return "", false
	}
	return b.take(), true
}

// Due fires when the debounce window since the first unflushed rune has
// elapsed. The owner selects on it and calls Flush.
func (b *DeltaBuffer) Due() <-chan time.Time {
	return b.timer.C
}

func (b *DeltaBuffer) take() string {
	b.disarm()
	span := b.buf.String()
	b.buf.Reset()
	b.runes = 0
	return span
}

func (b *DeltaBuffer) disarm() {
	if !b.armed {
		return
	}
	if !b.timer.Stop() {
		// Already fired; drain a pending tick so a stale expiry
		// cannot flush the next span early.
		select {
		case <-b.timer.C:
		default:
		}
	}
	b.armed = false
}
