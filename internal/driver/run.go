// internal/driver/run.go
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/user/clawdriver/internal/checkpoint"
	"github.com/user/clawdriver/internal/feed"
	"github.com/user/clawdriver/internal/mailbox"
	"github.com/user/clawdriver/internal/stream"
	"github.com/user/clawdriver/internal/types"
	"github.com/user/clawdriver/pkg/engine"
)

// runState is how a single engine run ended.
type runState int

const (
	runRunning runState = iota
	runCompleted
	runClosed
	runInterrupted
)

// runParams configures one engine run.
type runParams struct {
	turns           []engine.Turn
	allowedTools    []string
	disallowedTools []string

	// suppress keeps the run's stream events off the output protocol.
	// Used by the memory-flush sub-run, which is operationally
	// invisible to the host.
	suppress bool

	// drainMessages controls whether plain mailbox messages are folded
	// into the run. Sentinels are honored regardless.
	drainMessages bool
}

// runOutcome is the result of a run that did not fail.
type runOutcome struct {
	state       runState
	finalText   string
	flushNeeded bool
}

// runOnce executes one engine run to completion. It is the single owner
// of the run's Turn Feed, Normalizer, and checkpoint tracker: engine
// events, mailbox poll ticks, and flush timers all interleave through
// one select loop, so their shared state needs no locking.
func (d *Driver) runOnce(ctx context.Context, params runParams) (*runOutcome, error) {
	runID := types.NewRunID()

	turnFeed := feed.New()
	for _, turn := range params.turns {
		turnFeed.Push(turn)
	}

	var nesting stream.NestingPolicy = stream.SkillNesting{}
	if d.config.Engine.StrictNesting {
		nesting = stream.StrictNesting{}
	}
	normalizer := stream.NewNormalizer(stream.Config{
		SkillToolName: d.config.Engine.SkillTool,
		FlushLimit:    d.config.FlushThreshold,
		FlushDebounce: time.Duration(d.config.FlushDebounceMS) * time.Millisecond,
		Nesting:       nesting,
	})
	tracker := checkpoint.NewTracker(filepath.Join(d.config.DataDir, "checkpoints"), runID)

	// The pre-compaction hook runs on the engine's goroutine; the flag
	// crosses back to this loop at run end.
	var flushNeeded atomic.Bool

	request := engine.RunRequest{
		Turns: turnFeed,
		Resume: engine.ResumeTarget{
			SessionID: string(d.identity.SessionID),
			Anchor:    string(d.identity.Anchor),
		},
		SystemPrompt:     d.config.Engine.SystemPrompt,
		AllowedTools:     params.allowedTools,
		DisallowedTools:  params.disallowedTools,
		WorkingDirectory: d.config.Engine.WorkingDir,
		PreCompact: func(transcriptPath string) {
			if d.archiver.Archive(transcriptPath) {
				flushNeeded.Store(true)
			}
		},
	}

	handle, err := d.engine.Start(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("start engine run: %w", err)
	}

	slog.Info("engine run started",
		"run_id", string(runID),
		"session_id", string(d.identity.SessionID),
		"suppressed", params.suppress,
	)

	emit := func(events []types.StreamEvent) {
		for _, event := range events {
			tracker.Append(event)
			if params.suppress {
				continue
			}
			if err := d.out.Stream(event); err != nil {
				slog.Warn("emitting stream event", "error", err)
			}
		}
	}

	pollTicker := time.NewTicker(time.Duration(d.config.PollIntervalMS) * time.Millisecond)
	defer pollTicker.Stop()

	state := runRunning
	// Once the feed has ended the run is only winding down; plain
	// messages must stay on disk for the next run instead of being
	// drained onto a feed that no longer accepts pushes.
	windingDown := false
	var initSessionID types.SessionID

	events := handle.Events()
	done := ctx.Done()
loop:
	for {
		select {
		case event, ok := <-events:
			if !ok {
				break loop
			}
			if event.Type == engine.EventInit && event.Init.SessionID != "" {
				initSessionID = types.SessionID(event.Init.SessionID)
			}
			emit(normalizer.HandleEvent(event))
			if event.Type == engine.EventResult {
				tracker.Checkpoint(checkpoint.TriggerTurn)
				if state == runRunning {
					state, windingDown = d.afterResult(turnFeed, params)
				}
			}

		case <-pollTicker.C:
			if state != runRunning {
				continue
			}
			state = d.pollTick(turnFeed, handle, params, windingDown)

		case <-normalizer.TextDue():
			emit(normalizer.FlushText())

		case <-normalizer.ThinkingDue():
			emit(normalizer.FlushThinking())

		case <-done:
			// Handled once; the loop keeps draining events until the
			// engine observes the interrupt and closes the stream.
			done = nil
			windingDown = true
			turnFeed.End()
			if err := handle.Interrupt(); err != nil {
				slog.Warn("interrupting engine on shutdown", "error", err)
			}
			if state == runRunning {
				state = runInterrupted
			}
		}
	}

	result, runErr := handle.Wait()

	emit(normalizer.Finish())
	tracker.Checkpoint(checkpoint.TriggerRunEnd)

	if runErr != nil {
		// Interrupt and close wind the engine down on purpose; its exit
		// status is not a run failure then.
		if state == runInterrupted || state == runClosed {
			slog.Debug("engine exit after deliberate teardown", "error", runErr)
		} else {
			return nil, fmt.Errorf("engine run: %w", runErr)
		}
	}

	// Session identity moves only once the run is over and not failed.
	if result != nil && result.SessionID != "" {
		d.identity.SessionID = types.SessionID(result.SessionID)
	} else if initSessionID != "" {
		d.identity.SessionID = initSessionID
	}
	if anchor := turnFeed.LastTurnID(); anchor != "" {
		d.identity.Anchor = anchor
	}
	if d.identity.SessionID != "" {
		if err := d.store.Save(d.identity); err != nil {
			slog.Warn("persisting session identity", "error", err)
		}
	}

	if state == runRunning {
		state = runCompleted
	}

	var finalText string
	if result != nil {
		finalText = normalizer.FinalText(result.Text)
	} else {
		finalText = normalizer.FinalText("")
	}

	slog.Info("engine run ended",
		"run_id", string(runID),
		"session_id", string(d.identity.SessionID),
		"state", stateName(state),
		"turns", turnFeed.Pushed(),
	)

	return &runOutcome{
		state:       state,
		finalText:   finalText,
		flushNeeded: flushNeeded.Load(),
	}, nil
}

// pollTick consumes one mailbox poll: sentinels first (close beats
// interrupt beats plain messages), then pending messages folded onto the
// feed. While the run is winding down plain messages are left on disk;
// the feed no longer accepts pushes and the next run must see them.
// Returns the resulting run state.
func (d *Driver) pollTick(turnFeed *feed.Feed, handle engine.Handle, params runParams, windingDown bool) runState {
	if d.box.ConsumeSentinel(mailbox.SentinelClose) {
		slog.Info("close sentinel consumed mid-run")
		turnFeed.End()
		return runClosed
	}
	if d.box.ConsumeSentinel(mailbox.SentinelInterrupt) {
		slog.Info("interrupt sentinel consumed mid-run")
		turnFeed.End()
		if err := handle.Interrupt(); err != nil {
			slog.Warn("requesting engine interrupt", "error", err)
		}
		return runInterrupted
	}
	if params.drainMessages && !windingDown {
		d.pushPending(turnFeed)
	}
	return runRunning
}

// afterResult decides the transition when the engine reports a final
// result: queued mailbox traffic keeps the same run alive; an empty
// mailbox ends the feed so the run can complete. The second return
// reports whether the run is now winding down.
func (d *Driver) afterResult(turnFeed *feed.Feed, params runParams) (runState, bool) {
	if d.box.ConsumeSentinel(mailbox.SentinelClose) {
		turnFeed.End()
		return runClosed, true
	}
	if params.drainMessages && d.pushPending(turnFeed) {
		return runRunning, false
	}
	turnFeed.End()
	return runRunning, true
}

// pushPending folds all pending mailbox messages into one coalesced turn
// and pushes it. Returns whether anything was pushed.
func (d *Driver) pushPending(turnFeed *feed.Feed) bool {
	messages := d.box.DrainPending()
	if len(messages) == 0 {
		return false
	}
	turns := make([]engine.Turn, 0, len(messages))
	for _, message := range messages {
		turns = append(turns, mailbox.FoldToTurn(message))
	}
	turnFeed.Push(mailbox.CoalesceTurns(turns))
	return true
}

func stateName(state runState) string {
	switch state {
	case runCompleted:
		return "completed"
	case runClosed:
		return "closed"
	case runInterrupted:
		return "interrupted"
	default:
		return "running"
	}
}
