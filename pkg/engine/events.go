package engine

import "encoding/json"

// EventType classifies raw engine events.
type EventType string

const (
	// EventInit announces the engine-assigned session ID at run start.
	EventInit EventType = "init"

	// EventTextDelta is an incremental span of agent output text.
	EventTextDelta EventType = "text_delta"

	// EventThinkingDelta is an incremental span of reasoning text.
	EventThinkingDelta EventType = "thinking_delta"

	// EventBlockStart opens a tool_use content block. Input may be
	// absent at announcement time and arrive as fragments instead.
	EventBlockStart EventType = "block_start"

	// EventInputFragment is a partial-JSON chunk of a block's input.
	EventInputFragment EventType = "input_fragment"

	// EventBlockStop closes a content block. It signals that the
	// block's input is complete, not that the tool has finished running.
	EventBlockStop EventType = "block_stop"

	// EventHook reports engine hook lifecycle activity.
	EventHook EventType = "hook"

	// EventMessage is a completed assistant message with fully
	// materialized content blocks.
	EventMessage EventType = "message"

	// EventResult carries the engine's final result for the run.
	EventResult EventType = "result"
)

// Event is one raw engine event, a tagged union with exactly one payload
// field set according to Type. Raw output is decoded into this form once
// at the engine boundary and never handled as untyped data past it.
type Event struct {
	Type EventType

	Init     *InitEvent
	Text     *TextDelta
	Thinking *ThinkingDelta
	Block    *BlockStart
	Fragment *InputFragment
	Stop     *BlockStop
	Hook     *HookEvent
	Message  *MessageEvent
	Result   *ResultEvent
}

// InitEvent announces session identity.
type InitEvent struct {
	SessionID string
}

// TextDelta is an output text fragment.
type TextDelta struct {
	Text string
}

// ThinkingDelta is a reasoning text fragment.
type ThinkingDelta struct {
	Text string
}

// BlockStart opens a tool_use block. ParentID is set only when the
// engine declares nesting explicitly.
type BlockStart struct {
	ID       string
	Name     string
	ParentID string
	Input    json.RawMessage
}

// InputFragment is a chunk of raw partial input for an open block.
type InputFragment struct {
	BlockID string
	Data    string
}

// BlockStop closes a content block.
type BlockStop struct {
	ID string
}

// HookEvent reports hook activity. Phase is one of "started",
// "progress", "response".
type HookEvent struct {
	Phase   string
	Name    string
	Message string
}

// CompletedBlock is a content block inside a completed message.
type CompletedBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// MessageEvent is a completed assistant message.
type MessageEvent struct {
	Blocks []CompletedBlock
}

// ResultEvent carries the final textual result and usage for the run.
type ResultEvent struct {
	Text      string
	SessionID string
	IsError   bool
	Usage     Usage
}
