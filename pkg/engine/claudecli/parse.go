package claudecli

import (
	"encoding/json"

	"github.com/user/clawdriver/pkg/engine"
)

// envelope covers every stream-json stdout line the CLI emits. Only the
// fields relevant to the matched type are populated.
type envelope struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`

	// system lines
	HookName       string `json:"hook_name"`
	Message        string `json:"message"`
	TranscriptPath string `json:"transcript_path"`

	// stream_event lines carry a raw API event.
	Event *rawStreamEvent `json:"event"`

	// result lines
	Result  string       `json:"result"`
	IsError bool         `json:"is_error"`
	Usage   engine.Usage `json:"usage"`

	ParentToolUseID string `json:"parent_tool_use_id"`
}

type rawStreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *blockDelta   `json:"delta"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Text  string          `json:"text"`
	Input json.RawMessage `json:"input"`
}

type blockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	Thinking    string `json:"thinking"`
	PartialJSON string `json:"partial_json"`
}

type completedMessage struct {
	Content []contentBlock `json:"content"`
}

// lineParser keeps the per-run state needed to attribute raw API deltas
// to blocks: the API identifies in-progress blocks by index, while the
// engine events carry block IDs.
type lineParser struct {
	blockIDs map[int]string
}

func newLineParser() *lineParser {
	return &lineParser{blockIDs: make(map[int]string)}
}

// parse converts one stdout line into zero or more events, plus the
// final result when the line is a result line, plus a transcript path
// when the line is a pre-compaction hook notification. Lines that do
// not decode or match no known type are skipped.
func (p *lineParser) parse(line []byte) ([]engine.Event, *engine.Result, string) {
	// Sniff the type first: the "message" field is an object on
	// assistant lines but a string on system lines, so one shared
	// decode of every line cannot work.
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &head); err != nil {
		return nil, nil, ""
	}
	if head.Type == "assistant" {
		return p.parseAssistant(line)
	}

	var outer envelope
	if err := json.Unmarshal(line, &outer); err != nil {
		return nil, nil, ""
	}

	switch outer.Type {
	case "system":
		return p.parseSystem(outer)
	case "stream_event":
		if outer.Event == nil {
			return nil, nil, ""
		}
		return p.parseStreamEvent(outer)
	case "result":
		result := &engine.Result{
			Text:      outer.Result,
			SessionID: outer.SessionID,
			IsError:   outer.IsError,
			Usage:     outer.Usage,
		}
		events := []engine.Event{{
			Type: engine.EventResult,
			Result: &engine.ResultEvent{
				Text:      outer.Result,
				SessionID: outer.SessionID,
				IsError:   outer.IsError,
				Usage:     outer.Usage,
			},
		}}
		return events, result, ""
	}
	return nil, nil, ""
}

func (p *lineParser) parseSystem(outer envelope) ([]engine.Event, *engine.Result, string) {
	switch outer.Subtype {
	case "init":
		return []engine.Event{{
			Type: engine.EventInit,
			Init: &engine.InitEvent{SessionID: outer.SessionID},
		}}, nil, ""
	case "compact_boundary":
		// Compaction already happened; nothing to archive.
		return nil, nil, ""
	case "hook_started", "hook_progress", "hook_response":
		phase := map[string]string{
			"hook_started":  "started",
			"hook_progress": "progress",
			"hook_response": "response",
		}[outer.Subtype]
		transcript := ""
		if outer.HookName == "PreCompact" && outer.TranscriptPath != "" {
			transcript = outer.TranscriptPath
		}
		return []engine.Event{{
			Type: engine.EventHook,
			Hook: &engine.HookEvent{
				Phase:   phase,
				Name:    outer.HookName,
				Message: outer.Message,
			},
		}}, nil, transcript
	}
	return nil, nil, ""
}

func (p *lineParser) parseStreamEvent(outer envelope) ([]engine.Event, *engine.Result, string) {
	raw := outer.Event
	switch raw.Type {
	case "content_block_start":
		if raw.ContentBlock == nil || raw.ContentBlock.Type != "tool_use" {
			return nil, nil, ""
		}
		p.blockIDs[raw.Index] = raw.ContentBlock.ID
		return []engine.Event{{
			Type: engine.EventBlockStart,
			Block: &engine.BlockStart{
				ID:       raw.ContentBlock.ID,
				Name:     raw.ContentBlock.Name,
				ParentID: outer.ParentToolUseID,
				Input:    raw.ContentBlock.Input,
			},
		}}, nil, ""
	case "content_block_delta":
		if raw.Delta == nil {
			return nil, nil, ""
		}
		switch raw.Delta.Type {
		case "text_delta":
			return []engine.Event{{
				Type: engine.EventTextDelta,
				Text: &engine.TextDelta{Text: raw.Delta.Text},
			}}, nil, ""
		case "thinking_delta":
			return []engine.Event{{
				Type:     engine.EventThinkingDelta,
				Thinking: &engine.ThinkingDelta{Text: raw.Delta.Thinking},
			}}, nil, ""
		case "input_json_delta":
			blockID, ok := p.blockIDs[raw.Index]
			if !ok {
				return nil, nil, ""
			}
			return []engine.Event{{
				Type: engine.EventInputFragment,
				Fragment: &engine.InputFragment{
					BlockID: blockID,
					Data:    raw.Delta.PartialJSON,
				},
			}}, nil, ""
		}
	case "content_block_stop":
		blockID, ok := p.blockIDs[raw.Index]
		if !ok {
			return nil, nil, ""
		}
		delete(p.blockIDs, raw.Index)
		return []engine.Event{{
			Type: engine.EventBlockStop,
			Stop: &engine.BlockStop{ID: blockID},
		}}, nil, ""
	case "message_stop":
		// Per-message boundary; indices reset for the next message.
		p.blockIDs = make(map[int]string)
	}
	return nil, nil, ""
}

func (p *lineParser) parseAssistant(line []byte) ([]engine.Event, *engine.Result, string) {
	var outer struct {
		Message *completedMessage `json:"message"`
	}
	if err := json.Unmarshal(line, &outer); err != nil || outer.Message == nil {
		return nil, nil, ""
	}
	blocks := make([]engine.CompletedBlock, 0, len(outer.Message.Content))
	for _, block := range outer.Message.Content {
		if block.Type != "tool_use" {
			continue
		}
		blocks = append(blocks, engine.CompletedBlock{
			ID:    block.ID,
			Name:  block.Name,
			Input: block.Input,
		})
	}
	if len(blocks) == 0 {
		return nil, nil, ""
	}
	return []engine.Event{{
		Type:    engine.EventMessage,
		Message: &engine.MessageEvent{Blocks: blocks},
	}}, nil, ""
}
