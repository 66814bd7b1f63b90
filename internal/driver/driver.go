// internal/driver/driver.go

// Package driver owns the worker's outer control loop: it feeds
// conversational turns into the agent engine, polls the mailbox for
// external instructions, relays normalized events to the host, and
// decides every state transition: completion, close, interrupt,
// bounded overflow retry, and the post-compaction memory flush.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/clawdriver/internal/archive"
	"github.com/user/clawdriver/internal/config"
	"github.com/user/clawdriver/internal/mailbox"
	"github.com/user/clawdriver/internal/output"
	"github.com/user/clawdriver/internal/state"
	"github.com/user/clawdriver/internal/types"
	"github.com/user/clawdriver/pkg/engine"
)

// memoryFlushPrompt is the fixed instructional turn for the
// post-compaction memory flush sub-run.
const memoryFlushPrompt = "Your conversation history was just compacted. " +
	"Review the summary that remains and write any durable information worth " +
	"keeping (decisions, user preferences, unfinished work) to your memory " +
	"files now. Reply with a single short confirmation line."

// Driver runs the process lifetime: one or more engine runs per external
// turn, idle waits between them, and the terminal transitions.
type Driver struct {
	config   *config.Config
	engine   engine.Engine
	box      *mailbox.Mailbox
	out      *output.Writer
	archiver *archive.Archiver
	store    *state.IdentityStore

	identity  types.SessionIdentity
	privilege types.Privilege
}

func New(cfg *config.Config, eng engine.Engine, box *mailbox.Mailbox, out *output.Writer) *Driver {
	return &Driver{config: cfg, engine: eng, box: box, out: out}
}

// Identity returns the current session identity. It changes only after
// a successful engine run.
func (d *Driver) Identity() types.SessionIdentity {
	return d.identity
}

// Run drives the session for the life of the process. It returns nil on
// graceful shutdown (close sentinel, context cancellation) and an error
// on fatal failure, after the matching error document has been emitted.
func (d *Driver) Run(ctx context.Context, input *types.StartupInput) error {
	d.privilege = input.Privilege
	d.identity = types.SessionIdentity{
		SessionID: input.ResumeSessionID,
		Anchor:    input.ResumeAnchor,
	}
	// The memory flush is gated on top privilege; the archive itself
	// only needs a home session.
	d.archiver = archive.New(d.config.ArchiveDir, d.privilege.IsHomeSession && d.privilege.IsTopPrivilege)
	d.store = state.NewIdentityStore(d.config.DataDir)

	if err := d.box.EnsureDirs(); err != nil {
		d.out.Error(err.Error(), "", d.identity.SessionID)
		return err
	}

	turns := initialTurns(input)
	if len(turns) == 0 {
		// Resume-only startup: wait for the first mailbox message.
		next, closed := d.waitForTurns(ctx)
		if closed {
			return nil
		}
		turns = next
	}

	overflowRetries := 0
	for {
		outcome, err := d.runOnce(ctx, runParams{
			turns:           turns,
			allowedTools:    d.config.Engine.AllowedTools,
			disallowedTools: d.config.Engine.DisallowedTools,
			drainMessages:   true,
		})
		if err != nil {
			if IsOverflow(err) {
				overflowRetries++
				if overflowRetries >= d.config.Overflow.MaxRetries {
					message := fmt.Sprintf("context overflow persisted after %d retries: %v", overflowRetries, err)
					d.out.Error(message, output.ErrorKindContextOverflow, d.identity.SessionID)
					return fmt.Errorf("context overflow: %w", err)
				}
				slog.Warn("context overflow, retrying",
					"attempt", overflowRetries,
					"max", d.config.Overflow.MaxRetries,
					"backoff_ms", d.config.Overflow.BackoffMS,
				)
				// The backoff gives the engine's own compaction a
				// chance to act when the session resumes.
				if !sleepCtx(ctx, time.Duration(d.config.Overflow.BackoffMS)*time.Millisecond) {
					return ctx.Err()
				}
				continue
			}
			d.out.Error(err.Error(), "", d.identity.SessionID)
			return err
		}
		overflowRetries = 0

		switch outcome.state {
		case runClosed:
			slog.Info("session closed during run")
			return nil

		case runInterrupted:
			d.out.Stream(types.NewStatus("interrupted"))
			// A writer may have re-dropped the sentinel while the
			// engine wound down; a stale one must not kill the next run.
			d.box.ConsumeSentinel(mailbox.SentinelInterrupt)
			slog.Info("run interrupted, waiting for next message")

		case runCompleted:
			d.out.Success(outcome.finalText, d.identity.SessionID)
			if outcome.flushNeeded && d.privilege.IsTopPrivilege {
				switch d.memoryFlush(ctx) {
				case runClosed:
					slog.Info("session closed during memory flush")
					return nil
				case runInterrupted:
					// Nothing user-visible to interrupt; treat a stray
					// sentinel like the idle case and wait for input.
					d.box.ConsumeSentinel(mailbox.SentinelInterrupt)
				}
			}
		}

		if ctx.Err() != nil {
			return nil
		}
		next, closed := d.waitForTurns(ctx)
		if closed {
			return nil
		}
		turns = next
	}
}

// waitForTurns is the Idle state: poll the mailbox until a message
// arrives or a close is requested. Returns closed=true on close sentinel
// or context cancellation. Stray interrupt sentinels are consumed and
// ignored; there is nothing to interrupt.
func (d *Driver) waitForTurns(ctx context.Context) ([]engine.Turn, bool) {
	ticker := time.NewTicker(time.Duration(d.config.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.box.ConsumeSentinel(mailbox.SentinelClose) {
				slog.Info("close sentinel consumed while idle")
				return nil, true
			}
			d.box.ConsumeSentinel(mailbox.SentinelInterrupt)
			messages := d.box.DrainPending()
			if len(messages) == 0 {
				continue
			}
			turns := make([]engine.Turn, 0, len(messages))
			for _, message := range messages {
				turns = append(turns, mailbox.FoldToTurn(message))
			}
			return []engine.Turn{mailbox.CoalesceTurns(turns)}, false

		case <-ctx.Done():
			return nil, true
		}
	}
}

// memoryFlush performs the single post-compaction sub-run: a fixed
// instructional turn against a narrower tool surface, with its stream
// output suppressed. Session identity updates from the sub-run still
// apply. Its failure is logged, not fatal; the flush is best-effort.
// The returned state lets the caller honor a close or interrupt sentinel
// consumed while the sub-run was live.
func (d *Driver) memoryFlush(ctx context.Context) runState {
	slog.Info("starting memory flush sub-run")
	outcome, err := d.runOnce(ctx, runParams{
		turns:         []engine.Turn{{Text: memoryFlushPrompt}},
		allowedTools:  d.config.Engine.MemoryFlushTools,
		suppress:      true,
		drainMessages: false,
	})
	if err != nil {
		slog.Warn("memory flush sub-run failed", "error", err)
		return runCompleted
	}
	slog.Info("memory flush sub-run finished", "state", stateName(outcome.state))
	return outcome.state
}

func initialTurns(input *types.StartupInput) []engine.Turn {
	if input.Text == "" && len(input.Images) == 0 {
		return nil
	}
	images := make([]engine.Image, 0, len(input.Images))
	for _, image := range input.Images {
		images = append(images, engine.Image{Data: image.Data, MediaType: image.MediaType})
	}
	return []engine.Turn{{Text: input.Text, Images: images}}
}

// sleepCtx sleeps for the duration unless ctx ends first; reports
// whether the full sleep happened.
func sleepCtx(ctx context.Context, duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
