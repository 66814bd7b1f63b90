// internal/types/events.go
package types

import "time"

// StreamEventType classifies normalized stream events. This is the only
// contract the output side depends on; it stays stable even as the
// engine's raw protocol evolves.
type StreamEventType string

const (
	EventTextDelta     StreamEventType = "text_delta"
	EventThinkingDelta StreamEventType = "thinking_delta"
	EventToolUseStart  StreamEventType = "tool_use_start"
	EventToolUseEnd    StreamEventType = "tool_use_end"
	EventToolProgress  StreamEventType = "tool_progress"
	EventHookStarted   StreamEventType = "hook_started"
	EventHookProgress  StreamEventType = "hook_progress"
	EventHookResponse  StreamEventType = "hook_response"
	EventStatus        StreamEventType = "status"
)

// StreamEvent is one normalized unit of agent activity, a tagged union
// with exactly one payload field set according to Type.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`

	Text     *TextDeltaEvent     `json:"text,omitempty"`
	Thinking *ThinkingDeltaEvent `json:"thinking,omitempty"`
	ToolUse  *ToolUseEvent       `json:"tool_use,omitempty"`
	Progress *ToolProgressEvent  `json:"progress,omitempty"`
	Hook     *HookActivityEvent  `json:"hook,omitempty"`
	Status   *StatusEvent        `json:"status,omitempty"`
}

// TextDeltaEvent carries a flushed span of agent output text.
type TextDeltaEvent struct {
	Text string `json:"text"`
}

// ThinkingDeltaEvent carries a flushed span of agent reasoning text.
type ThinkingDeltaEvent struct {
	Text string `json:"text"`
}

// ToolUseEvent is set for tool_use_start and tool_use_end.
type ToolUseEvent struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// ParentID is the enclosing tool's ID when the call is nested.
	ParentID string `json:"parent_id,omitempty"`

	// Nested is true for calls attributed to an enclosing tool, whether
	// declared by the engine or inferred by the attribution policy.
	Nested bool `json:"nested,omitempty"`

	// InputSummary is a short, single-line rendering of the tool input.
	InputSummary string `json:"input_summary,omitempty"`

	// ElapsedSeconds is set on tool_use_end.
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// ToolProgressEvent reports mid-flight tool information, currently the
// resolved skill name of a macro/skill invocation.
type ToolProgressEvent struct {
	ID             string  `json:"id"`
	SkillName      string  `json:"skill_name,omitempty"`
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// HookActivityEvent relays engine hook lifecycle activity.
type HookActivityEvent struct {
	Name    string `json:"name"`
	Message string `json:"message,omitempty"`
}

// StatusEvent reports a driver state transition (e.g. "interrupted").
type StatusEvent struct {
	Status string `json:"status"`
}

// Constructors keep event assembly in one place so payload/type pairing
// cannot drift.

func NewTextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Timestamp: time.Now(), Text: &TextDeltaEvent{Text: text}}
}

func NewThinkingDelta(text string) StreamEvent {
	return StreamEvent{Type: EventThinkingDelta, Timestamp: time.Now(), Thinking: &ThinkingDeltaEvent{Text: text}}
}

func NewStatus(status string) StreamEvent {
	return StreamEvent{Type: EventStatus, Timestamp: time.Now(), Status: &StatusEvent{Status: status}}
}
