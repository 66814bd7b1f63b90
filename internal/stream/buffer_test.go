package stream

import (
	"strings"
	"testing"
	"time"
)

func TestBufferConcatenationProperty(t *testing.T) {
	b := NewDeltaBuffer(10, time.Hour)

	deltas := []string{"abc", "defg", "hi", "jklmnop", "q"}
	var emitted []string
	for _, delta := range deltas {
		if span, ok := b.Append(delta); ok {
			emitted = append(emitted, span)
		}
	}
	if span, ok := b.Flush(); ok {
		emitted = append(emitted, span)
	}

	if got := strings.Join(emitted, ""); got != strings.Join(deltas, "") {
		t.Errorf("concatenation mismatch: %q", got)
	}
	for _, span := range emitted {
		// A span can exceed the threshold by at most one delta's length.
		if len([]rune(span)) > 10+7 {
			t.Errorf("span too long: %q", span)
		}
	}
}

func TestBufferSizeThresholdFlush(t *testing.T) {
	b := NewDeltaBuffer(5, time.Hour)

	if _, ok := b.Append("abc"); ok {
		t.Fatal("should not flush below threshold")
	}
	span, ok := b.Append("de")
	if !ok {
		t.Fatal("expected size-triggered flush")
	}
	if span != "abcde" {
		t.Errorf("expected %q, got %q", "abcde", span)
	}
	if _, ok := b.Flush(); ok {
		t.Error("buffer should be empty after size flush")
	}
}

func TestBufferCountsCodePoints(t *testing.T) {
	b := NewDeltaBuffer(3, time.Hour)
	// Three multi-byte runes hit the threshold exactly.
	if _, ok := b.Append("日本"); ok {
		t.Fatal("two runes should not flush at threshold 3")
	}
	span, ok := b.Append("語")
	if !ok {
		t.Fatal("third rune should trigger flush")
	}
	if span != "日本語" {
		t.Errorf("expected %q, got %q", "日本語", span)
	}
}

func TestBufferDebounceFires(t *testing.T) {
	b := NewDeltaBuffer(1000, 30*time.Millisecond)
	if _, ok := b.Append("slow"); ok {
		t.Fatal("unexpected size flush")
	}

	select {
	case <-b.Due():
	case <-time.After(time.Second):
		t.Fatal("debounce timer never fired")
	}
	span, ok := b.Flush()
	if !ok || span != "slow" {
		t.Fatalf("expected debounce flush of %q, got %q ok=%v", "slow", span, ok)
	}
}

func TestBufferSizeFlushCancelsTimer(t *testing.T) {
	b := NewDeltaBuffer(4, 20*time.Millisecond)
	if _, ok := b.Append("full flush"); !ok {
		t.Fatal("expected size flush")
	}

	// The pending debounce timer was cancelled; nothing should fire.
	select {
	case <-b.Due():
		t.Error("cancelled timer fired")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestBufferTimerRearmsPerSpan(t *testing.T) {
	b := NewDeltaBuffer(1000, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		b.Append("tick")
		select {
		case <-b.Due():
		case <-time.After(time.Second):
			t.Fatalf("debounce %d never fired", i)
		}
		if span, ok := b.Flush(); !ok || span != "tick" {
			t.Fatalf("debounce %d: expected %q, got %q ok=%v", i, "tick", span, ok)
		}
	}
}

func TestBufferEmptyFlush(t *testing.T) {
	b := NewDeltaBuffer(10, time.Hour)
	if span, ok := b.Flush(); ok {
		t.Errorf("empty buffer flushed %q", span)
	}
	if _, ok := b.Append(""); ok {
		t.Error("empty delta flushed")
	}
}
