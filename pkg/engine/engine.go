package engine

import "context"

// Engine is the boundary to the agent engine. The engine is opaque: it
// accepts a turn source and configuration, and yields an ordered raw
// event sequence. Implementations handle process or API specifics.
type Engine interface {
	// Start begins one engine run. The run consumes turns from
	// request.Turns until the source ends, streaming raw events on the
	// returned handle. Start fails only on setup errors; run-time
	// failures surface through Handle.Wait.
	Start(ctx context.Context, request RunRequest) (Handle, error)
}

// Handle is one in-flight engine run.
type Handle interface {
	// Events returns the raw event stream. The channel is closed when
	// the run's output is exhausted; callers must drain it before Wait.
	Events() <-chan Event

	// Interrupt requests cooperative cancellation of the in-flight run.
	// The engine is expected to observe it and terminate, after which
	// Events closes and Wait returns.
	Interrupt() error

	// Wait blocks until the run ends and returns its final result.
	// The error's message text is the only failure classification the
	// engine exposes (context overflow is recognized by pattern match).
	Wait() (*Result, error)
}

// Turn is one conversational input unit fed to a run.
type Turn struct {
	Text   string
	Images []Image
}

// Image is an inline image attachment.
type Image struct {
	Data      []byte
	MediaType string
}

// TurnSource supplies turns to a run. Next blocks until a turn is
// available and returns ok=false once the source has ended and drained.
type TurnSource interface {
	Next(ctx context.Context) (Turn, bool)
}

// ResumeTarget points a run at a precise place in an existing session.
type ResumeTarget struct {
	SessionID string
	Anchor    string
}

// RunRequest configures one engine run.
type RunRequest struct {
	// Turns feeds conversational input to the run. The run stays alive
	// across multiple turns until the source ends.
	Turns TurnSource

	// Resume, when non-zero, resumes an existing session.
	Resume ResumeTarget

	// SystemPrompt is appended to the engine's system prompt.
	SystemPrompt string

	// AllowedTools and DisallowedTools restrict the run's tool surface.
	AllowedTools    []string
	DisallowedTools []string

	// WorkingDirectory is where the engine process starts.
	WorkingDirectory string

	// PreCompact, when set, is invoked synchronously immediately before
	// the engine compacts session history. It receives the path of the
	// session's raw transcript.
	PreCompact func(transcriptPath string)
}

// Usage holds run-level token accounting reported by the engine.
type Usage struct {
	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Result is the engine's own summary of a finished run. Its Text covers
// only the last contiguous text span; callers that need the full
// narration reconstruct it from the delta stream.
type Result struct {
	Text      string
	SessionID string
	IsError   bool
	Usage     Usage
}
