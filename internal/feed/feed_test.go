package feed

import (
	"context"
	"testing"
	"time"

	"github.com/user/clawdriver/pkg/engine"
)

func TestFeedDrainsInOrder(t *testing.T) {
	f := New()
	f.Push(engine.Turn{Text: "one"})
	f.Push(engine.Turn{Text: "two"})
	f.Push(engine.Turn{Text: "three"})
	f.End()

	ctx := context.Background()
	var got []string
	for {
		turn, ok := f.Next(ctx)
		if !ok {
			break
		}
		got = append(got, turn.Text)
	}

	want := []string{"one", "two", "three"}
	if len(got) != len(want) {
		t.Fatalf("expected %d turns, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestFeedWakesBlockedConsumer(t *testing.T) {
	f := New()
	ctx := context.Background()

	done := make(chan string, 1)
	go func() {
		turn, ok := f.Next(ctx)
		if !ok {
			done <- ""
			return
		}
		done <- turn.Text
	}()

	// Give the consumer time to block before pushing.
	time.Sleep(20 * time.Millisecond)
	f.Push(engine.Turn{Text: "wake up"})

	select {
	case text := <-done:
		if text != "wake up" {
			t.Errorf("expected %q, got %q", "wake up", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestFeedPushAfterConsumptionStarted(t *testing.T) {
	f := New()
	ctx := context.Background()

	f.Push(engine.Turn{Text: "first"})
	if turn, ok := f.Next(ctx); !ok || turn.Text != "first" {
		t.Fatalf("expected first turn, got %+v ok=%v", turn, ok)
	}

	f.Push(engine.Turn{Text: "second"})
	if turn, ok := f.Next(ctx); !ok || turn.Text != "second" {
		t.Fatalf("expected second turn, got %+v ok=%v", turn, ok)
	}
}

func TestFeedEndWakesWaiter(t *testing.T) {
	f := New()
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	f.End()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after End")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke after End")
	}
}

func TestFeedPushAfterEndIgnored(t *testing.T) {
	f := New()
	f.Push(engine.Turn{Text: "kept"})
	f.End()
	f.Push(engine.Turn{Text: "dropped"})

	ctx := context.Background()
	turn, ok := f.Next(ctx)
	if !ok || turn.Text != "kept" {
		t.Fatalf("expected kept turn, got %+v ok=%v", turn, ok)
	}
	if _, ok := f.Next(ctx); ok {
		t.Error("expected feed exhausted after End")
	}
	if f.Pushed() != 1 {
		t.Errorf("expected 1 pushed turn, got %d", f.Pushed())
	}
}

func TestFeedContextCancel(t *testing.T) {
	f := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := f.Next(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false on cancelled context")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never returned on cancel")
	}
}

func TestFeedLastTurnID(t *testing.T) {
	f := New()
	if f.LastTurnID() != "" {
		t.Error("expected empty anchor before any push")
	}
	id := f.Push(engine.Turn{Text: "x"})
	if id == "" {
		t.Fatal("expected non-empty turn ID")
	}
	if f.LastTurnID() != id {
		t.Errorf("expected anchor %q, got %q", id, f.LastTurnID())
	}
}
