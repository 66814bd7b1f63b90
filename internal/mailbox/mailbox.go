// internal/mailbox/mailbox.go
package mailbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/user/clawdriver/internal/types"
)

// Sentinel file names. Presence alone is the signal; the files carry no
// payload. Checked independently of the message queue.
const (
	SentinelClose     = "_close"
	SentinelInterrupt = "_interrupt"
)

// Kind tags mailbox message variants.
type Kind string

const (
	KindUser         Kind = "message"
	KindAgentResult  Kind = "agent_result"
	KindAgentMessage Kind = "agent_message"
)

// Message is one consumed mailbox file, decoded once at this boundary
// into a closed tagged variant. Exactly one payload field is set.
type Message struct {
	Kind Kind

	User         *UserMessage
	AgentResult  *AgentResult
	AgentMessage *AgentMessage
}

// UserMessage is an inbound conversational turn.
type UserMessage struct {
	Text   string              `json:"text"`
	Images []types.InlineImage `json:"images,omitempty"`
}

// AgentResult is a sub-task's outcome, folded into a turn as contextual
// narration. ContentType marks HTML payloads for Markdown conversion.
type AgentResult struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	ContentType string `json:"content_type,omitempty"`
}

// AgentMessage is a message from a peer agent.
type AgentMessage struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Mailbox is the directory-based asynchronous inbound channel. External
// actors drop files under the messages subdirectory; the driver consumes
// them by polling. Each file is consumed at most once: read, parsed,
// deleted. The mailbox never surfaces an error to the driver.
type Mailbox struct {
	root string
}

func New(root string) *Mailbox {
	return &Mailbox{root: root}
}

// MessagesDir returns the inbound messages subdirectory.
func (m *Mailbox) MessagesDir() string {
	return filepath.Join(m.root, "messages")
}

// EnsureDirs creates the mailbox directory layout.
func (m *Mailbox) EnsureDirs() error {
	if err := os.MkdirAll(m.MessagesDir(), 0o755); err != nil {
		return fmt.Errorf("create mailbox dir: %w", err)
	}
	return nil
}

// DrainPending lists and consumes every currently-present message file
// in filename-sort order (filenames are conventionally time-prefixed,
// giving a cheap total order). Corrupt files are deleted, logged, and
// skipped; a listing failure is treated as "no messages".
func (m *Mailbox) DrainPending() []Message {
	entries, err := os.ReadDir(m.MessagesDir())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("mailbox listing failed, treating as empty", "error", err)
		}
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var messages []Message
	for _, name := range names {
		path := filepath.Join(m.MessagesDir(), name)
		data, err := os.ReadFile(path)
		// Delete before acting: each file is consumed at most once,
		// never retried, even when the payload turns out malformed.
		if removeErr := os.Remove(path); removeErr != nil {
			slog.Warn("removing mailbox file", "file", name, "error", removeErr)
		}
		if err != nil {
			slog.Warn("reading mailbox file", "file", name, "error", err)
			continue
		}

		message, err := decodeMessage(data)
		if err != nil {
			slog.Warn("malformed mailbox file dropped", "file", name, "error", err)
			continue
		}
		messages = append(messages, message)
	}
	return messages
}

// ConsumeSentinel checks for and deletes the named zero-payload sentinel
// file, returning whether it was present. Delete-then-act: safe under
// the single trusted writer this mailbox assumes.
func (m *Mailbox) ConsumeSentinel(name string) bool {
	path := filepath.Join(m.root, name)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		slog.Warn("removing sentinel", "sentinel", name, "error", err)
		return false
	}
	return true
}

// rawMessage is the on-disk JSON shape shared by all message kinds.
type rawMessage struct {
	Type string `json:"type"`

	// message fields
	Text   string              `json:"text,omitempty"`
	Images []types.InlineImage `json:"images,omitempty"`

	// agent_result fields
	TaskID      string `json:"task_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Result      string `json:"result,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// agent_message fields
	From    string `json:"from,omitempty"`
	Message string `json:"message,omitempty"`
}

func decodeMessage(data []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}

	switch Kind(raw.Type) {
	case KindUser:
		if raw.Text == "" && len(raw.Images) == 0 {
			return Message{}, fmt.Errorf("empty message payload")
		}
		return Message{Kind: KindUser, User: &UserMessage{Text: raw.Text, Images: raw.Images}}, nil
	case KindAgentResult:
		return Message{Kind: KindAgentResult, AgentResult: &AgentResult{
			TaskID:      raw.TaskID,
			Status:      raw.Status,
			Result:      raw.Result,
			ContentType: raw.ContentType,
		}}, nil
	case KindAgentMessage:
		return Message{Kind: KindAgentMessage, AgentMessage: &AgentMessage{
			From:    raw.From,
			Message: raw.Message,
		}}, nil
	default:
		return Message{}, fmt.Errorf("unknown message type %q", raw.Type)
	}
}
