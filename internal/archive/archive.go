// internal/archive/archive.go

// Package archive preserves conversation text before the engine compacts
// it away. It fires as the pre-compaction hook: the raw transcript is
// read, alternating user/agent text spans are extracted, and the result
// is written as a dated Markdown file into the conversation archive.
package archive

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
)

// Archiver writes pre-compaction transcript archives. Privileged marks
// a home-admin run, whose compactions additionally require a memory
// flush sub-run.
type Archiver struct {
	dir        string
	privileged bool

	tokenizer *tiktoken.Tiktoken
}

func New(dir string, privileged bool) *Archiver {
	// Token counts in archive headers are best-effort; a missing
	// encoding just omits them.
	tokenizer, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tokenizer unavailable, archives will omit token counts", "error", err)
		tokenizer = nil
	}
	return &Archiver{dir: dir, privileged: privileged, tokenizer: tokenizer}
}

// span is one extracted conversational text unit.
type span struct {
	role string // "user" or "assistant"
	text string
}

// Archive runs the pre-compaction hook against the session transcript
// and reports whether a memory flush is needed (true only for privileged
// runs). Archiving failures are logged and swallowed; they must never
// abort compaction or the run.
func (a *Archiver) Archive(transcriptPath string) bool {
	if err := a.archive(transcriptPath); err != nil {
		slog.Warn("transcript archive failed, continuing", "transcript", transcriptPath, "error", err)
	}
	return a.privileged
}

func (a *Archiver) archive(transcriptPath string) error {
	spans, summary, err := extractTranscript(transcriptPath)
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		return nil
	}

	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	now := time.Now()
	name := archiveFileName(summary, now)
	path := filepath.Join(a.dir, name)

	content := a.render(spans, summary, now)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	slog.Info("transcript archived", "path", path, "spans", len(spans))
	return nil
}

func (a *Archiver) render(spans []span, summary string, now time.Time) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("# Conversation archive — %s\n\n", now.Format("2006-01-02")))
	if summary != "" {
		builder.WriteString(fmt.Sprintf("Session: %s\n\n", summary))
	}
	if a.tokenizer != nil {
		total := 0
		for _, s := range spans {
			total += len(a.tokenizer.Encode(s.text, nil, nil))
		}
		builder.WriteString(fmt.Sprintf("Approximate tokens: %d\n\n", total))
	}
	for _, s := range spans {
		if s.role == "user" {
			builder.WriteString("## User\n\n")
		} else {
			builder.WriteString("## Assistant\n\n")
		}
		builder.WriteString(s.text)
		builder.WriteString("\n\n")
	}
	return builder.String()
}

// transcriptLine is the subset of the engine's transcript JSONL format
// the archiver reads.
type transcriptLine struct {
	Type    string `json:"type"`
	Summary string `json:"summary,omitempty"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message,omitempty"`
}

// extractTranscript pulls alternating user/agent text spans and the
// session summary (when one exists) out of the raw transcript.
func extractTranscript(path string) ([]span, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open transcript: %w", err)
	}
	defer file.Close()

	var spans []span
	var summary string

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry transcriptLine
		if err := json.Unmarshal(line, &entry); err != nil {
			continue // tolerate junk lines
		}
		switch entry.Type {
		case "summary":
			if entry.Summary != "" {
				summary = entry.Summary
			}
		case "user", "assistant":
			if entry.Message == nil {
				continue
			}
			text := contentText(entry.Message.Content)
			if text == "" {
				continue
			}
			spans = append(spans, span{role: entry.Type, text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("scan transcript: %w", err)
	}
	return spans, summary, nil
}

// contentText extracts text from a message content field, which is
// either a plain string or an array of typed blocks.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// archiveFileName derives the file name from the session summary when
// one is known, else falls back to a timestamp.
func archiveFileName(summary string, now time.Time) string {
	if slug := slugify(summary); slug != "" {
		return fmt.Sprintf("%s-%s.md", now.Format("2006-01-02"), slug)
	}
	return fmt.Sprintf("conversation-%s.md", now.Format("20060102-150405"))
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var builder strings.Builder
	lastDash := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				builder.WriteByte('-')
				lastDash = true
			}
		}
		if builder.Len() >= 60 {
			break
		}
	}
	return strings.Trim(builder.String(), "-")
}
