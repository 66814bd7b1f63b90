// internal/stream/normalizer.go
package stream

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/clawdriver/internal/types"
	"github.com/user/clawdriver/pkg/engine"
)

// Defaults match the reference flush tuning.
const (
	DefaultFlushLimit    = 200
	DefaultFlushDebounce = 100 * time.Millisecond
)

const inputSummaryLimit = 120

// skillNamePattern extracts the skill-name field from partial input
// JSON. The field is matchable before the input is fully parseable.
var skillNamePattern = regexp.MustCompile(`"skill"\s*:\s*"([^"\\]*)"`)

// NestingPolicy decides whether a tool call arriving without an explicit
// parent should be attributed to the currently active tool. The
// inference is a heuristic, so it is a swappable strategy rather than
// baked-in control flow.
type NestingPolicy interface {
	// InferNested reports whether a parentless call starting while
	// activeName is the active tool should be treated as nested.
	InferNested(activeName string, activeIsSkill bool) bool
}

// SkillNesting attributes parentless calls to an active macro/skill
// tool, which runs its inner tools transparently and rarely declares
// them. This is the default policy.
type SkillNesting struct{}

func (SkillNesting) InferNested(_ string, activeIsSkill bool) bool { return activeIsSkill }

// StrictNesting disables the heuristic: only engine-declared parents
// count. For engines that reliably report parent IDs.
type StrictNesting struct{}

func (StrictNesting) InferNested(string, bool) bool { return false }

// Config tunes a Normalizer.
type Config struct {
	// SkillToolName designates the macro/skill tool whose input arrives
	// as raw fragments and carries a skill-name field.
	SkillToolName string

	// FlushLimit is the buffered-span size threshold in code points.
	FlushLimit int

	// FlushDebounce is the timer window since the first unflushed rune.
	FlushDebounce time.Duration

	// Nesting is the parent-inference policy. Defaults to SkillNesting.
	Nesting NestingPolicy
}

// activeTool is the single top-level tool considered running. Nested
// calls are attributed to it; a new top-level block ends it implicitly.
type activeTool struct {
	id      string
	name    string
	isSkill bool
	started time.Time
}

// blockState accumulates a skill block's input fragments until the
// skill-name field resolves.
type blockState struct {
	id       string
	input    strings.Builder
	resolved bool
	started  time.Time
}

// Normalizer translates the engine's raw event stream into the stable
// normalized event protocol: it buffers text and reasoning deltas,
// tracks tool attribution, resolves skill names from partial input, and
// reconstructs the run's full output text. Created per engine run.
type Normalizer struct {
	config Config

	text     *DeltaBuffer
	thinking *DeltaBuffer

	// full accumulates every output text delta for the run. The
	// engine's own final result keeps only the last contiguous span, so
	// the accumulator is the authoritative reconstruction when longer.
	full         strings.Builder
	finalFlushed bool

	active   *activeTool
	blocks   map[string]*blockState
	messages []engine.MessageEvent
}

func NewNormalizer(config Config) *Normalizer {
	if config.FlushLimit <= 0 {
		config.FlushLimit = DefaultFlushLimit
	}
	if config.FlushDebounce <= 0 {
		config.FlushDebounce = DefaultFlushDebounce
	}
	if config.Nesting == nil {
		config.Nesting = SkillNesting{}
	}
	return &Normalizer{
		config:   config,
		text:     NewDeltaBuffer(config.FlushLimit, config.FlushDebounce),
		thinking: NewDeltaBuffer(config.FlushLimit, config.FlushDebounce),
		blocks:   make(map[string]*blockState),
	}
}

// TextDue fires when the output-text debounce window elapses.
func (n *Normalizer) TextDue() <-chan time.Time { return n.text.Due() }

// ThinkingDue fires when the reasoning-text debounce window elapses.
func (n *Normalizer) ThinkingDue() <-chan time.Time { return n.thinking.Due() }

// FlushText drains the output-text buffer on debounce expiry.
func (n *Normalizer) FlushText() []types.StreamEvent {
	if span, ok := n.text.Flush(); ok {
		return []types.StreamEvent{types.NewTextDelta(span)}
	}
	return nil
}

// FlushThinking drains the reasoning buffer on debounce expiry.
func (n *Normalizer) FlushThinking() []types.StreamEvent {
	if span, ok := n.thinking.Flush(); ok {
		return []types.StreamEvent{types.NewThinkingDelta(span)}
	}
	return nil
}

// HandleEvent processes one raw engine event and returns the normalized
// events to emit, in order.
func (n *Normalizer) HandleEvent(event engine.Event) []types.StreamEvent {
	switch event.Type {
	case engine.EventTextDelta:
		n.full.WriteString(event.Text.Text)
		if span, ok := n.text.Append(event.Text.Text); ok {
			return []types.StreamEvent{types.NewTextDelta(span)}
		}
		return nil

	case engine.EventThinkingDelta:
		if span, ok := n.thinking.Append(event.Thinking.Text); ok {
			return []types.StreamEvent{types.NewThinkingDelta(span)}
		}
		return nil

	case engine.EventBlockStart:
		return n.handleBlockStart(event.Block)

	case engine.EventInputFragment:
		return n.handleFragment(event.Fragment)

	case engine.EventHook:
		return []types.StreamEvent{n.hookEvent(event.Hook)}

	case engine.EventMessage:
		n.messages = append(n.messages, *event.Message)
		return nil

	case engine.EventResult:
		return n.handleResult()

	default:
		// init, block_stop: no normalized counterpart. A block stopping
		// means its input is complete, not that the tool finished.
		return nil
	}
}

// Finish performs run-end cleanup: flushes any trailing buffered text
// (unless the final result already did), ends a dangling active tool,
// and back-fills skill names that never resolved through the streaming
// path by scanning the run's completed messages.
func (n *Normalizer) Finish() []types.StreamEvent {
	var events []types.StreamEvent
	if !n.finalFlushed {
		events = append(events, n.flushBoth()...)
		events = append(events, n.endActive()...)
		n.finalFlushed = true
	}
	events = append(events, n.backfillSkillNames()...)
	return events
}

// FinalText chooses the authoritative final text for the run: the
// full-run accumulator when it is longer than the engine's own final
// result (which silently drops spans preceding interleaved tool calls).
func (n *Normalizer) FinalText(engineText string) string {
	if n.full.Len() > len(engineText) {
		return n.full.String()
	}
	return engineText
}

func (n *Normalizer) handleBlockStart(block *engine.BlockStart) []types.StreamEvent {
	// Emit pending narration before tool activity so stream order
	// matches what the agent actually did.
	events := n.flushBoth()

	parentID := block.ParentID
	nested := parentID != ""
	if !nested && n.active != nil && n.config.Nesting.InferNested(n.active.name, n.active.isSkill) {
		parentID = n.active.id
		nested = true
	}

	isSkill := block.Name == n.config.SkillToolName

	if !nested {
		// Engines do not always signal end-of-tool explicitly; a new
		// top-level block starting is itself the end signal.
		events = append(events, n.endActive()...)
		n.active = &activeTool{id: block.ID, name: block.Name, isSkill: isSkill, started: time.Now()}
	}

	events = append(events, types.StreamEvent{
		Type:      types.EventToolUseStart,
		Timestamp: time.Now(),
		ToolUse: &types.ToolUseEvent{
			ID:           block.ID,
			Name:         block.Name,
			ParentID:     parentID,
			Nested:       nested,
			InputSummary: summarizeInput(block.Input),
		},
	})

	if isSkill {
		state := &blockState{id: block.ID, started: time.Now()}
		n.blocks[block.ID] = state
		if len(block.Input) > 0 {
			state.input.Write(block.Input)
			if progress := n.tryResolveSkill(state); progress != nil {
				events = append(events, *progress)
			}
		}
	}

	return events
}

func (n *Normalizer) handleFragment(fragment *engine.InputFragment) []types.StreamEvent {
	state, ok := n.blocks[fragment.BlockID]
	if !ok || state.resolved {
		return nil
	}
	state.input.WriteString(fragment.Data)
	if progress := n.tryResolveSkill(state); progress != nil {
		return []types.StreamEvent{*progress}
	}
	return nil
}

func (n *Normalizer) handleResult() []types.StreamEvent {
	events := n.flushBoth()
	events = append(events, n.endActive()...)
	// Run-end cleanup must not re-flush and duplicate trailing content.
	n.finalFlushed = true
	return events
}

// tryResolveSkill pattern-matches the skill-name field out of the
// partial input buffer. First success emits one tool_progress and marks
// the block resolved; no further attempts are made.
func (n *Normalizer) tryResolveSkill(state *blockState) *types.StreamEvent {
	match := skillNamePattern.FindStringSubmatch(state.input.String())
	if match == nil {
		return nil
	}
	state.resolved = true
	return &types.StreamEvent{
		Type:      types.EventToolProgress,
		Timestamp: time.Now(),
		Progress: &types.ToolProgressEvent{
			ID:             state.id,
			SkillName:      match[1],
			ElapsedSeconds: time.Since(state.started).Seconds(),
		},
	}
}

// backfillSkillNames scans completed messages for blocks whose skill
// name never resolved while streaming. Already-resolved blocks are
// skipped, so the fallback never duplicates a streamed resolve.
func (n *Normalizer) backfillSkillNames() []types.StreamEvent {
	var events []types.StreamEvent
	for _, message := range n.messages {
		for _, block := range message.Blocks {
			state, ok := n.blocks[block.ID]
			if !ok || state.resolved {
				continue
			}
			match := skillNamePattern.FindSubmatch(block.Input)
			if match == nil {
				continue
			}
			state.resolved = true
			events = append(events, types.StreamEvent{
				Type:      types.EventToolProgress,
				Timestamp: time.Now(),
				Progress: &types.ToolProgressEvent{
					ID:             state.id,
					SkillName:      string(match[1]),
					ElapsedSeconds: time.Since(state.started).Seconds(),
				},
			})
		}
	}
	return events
}

func (n *Normalizer) endActive() []types.StreamEvent {
	if n.active == nil {
		return nil
	}
	active := n.active
	n.active = nil
	return []types.StreamEvent{{
		Type:      types.EventToolUseEnd,
		Timestamp: time.Now(),
		ToolUse: &types.ToolUseEvent{
			ID:             active.id,
			Name:           active.name,
			ElapsedSeconds: time.Since(active.started).Seconds(),
		},
	}}
}

func (n *Normalizer) flushBoth() []types.StreamEvent {
	var events []types.StreamEvent
	if span, ok := n.text.Flush(); ok {
		events = append(events, types.NewTextDelta(span))
	}
	if span, ok := n.thinking.Flush(); ok {
		events = append(events, types.NewThinkingDelta(span))
	}
	return events
}

func (n *Normalizer) hookEvent(hook *engine.HookEvent) types.StreamEvent {
	eventType := types.EventHookProgress
	switch hook.Phase {
	case "started":
		eventType = types.EventHookStarted
	case "response":
		eventType = types.EventHookResponse
	}
	return types.StreamEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Hook:      &types.HookActivityEvent{Name: hook.Name, Message: hook.Message},
	}
}

// summarizeInput renders tool input as a short single line for display.
func summarizeInput(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	compact := strings.Join(strings.Fields(string(input)), " ")
	if utf8.RuneCountInString(compact) <= inputSummaryLimit {
		return compact
	}
	runes := []rune(compact)
	return string(runes[:inputSummaryLimit]) + "…"
}
