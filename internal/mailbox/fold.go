// internal/mailbox/fold.go
package mailbox

import (
	"fmt"
	"log/slog"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/clawdriver/pkg/engine"
)

// FoldToTurn converts a mailbox message into a conversational turn.
// Agent results and peer messages become narrated text so the engine
// sees them as ordinary context rather than a protocol it must know.
func FoldToTurn(message Message) engine.Turn {
	switch message.Kind {
	case KindUser:
		images := make([]engine.Image, 0, len(message.User.Images))
		for _, image := range message.User.Images {
			images = append(images, engine.Image{Data: image.Data, MediaType: image.MediaType})
		}
		return engine.Turn{Text: message.User.Text, Images: images}

	case KindAgentResult:
		result := message.AgentResult
		body := result.Result
		if isHTML(result.ContentType, body) {
			if converted, err := htmltomarkdown.ConvertString(body); err == nil {
				body = converted
			} else {
				slog.Warn("converting agent result HTML, keeping raw", "task_id", result.TaskID, "error", err)
			}
		}
		status := result.Status
		if status == "" {
			status = "finished"
		}
		return engine.Turn{Text: fmt.Sprintf("Background task %s %s. Its result:\n\n%s", result.TaskID, status, body)}

	case KindAgentMessage:
		return engine.Turn{Text: fmt.Sprintf("Message from agent %s:\n\n%s", message.AgentMessage.From, message.AgentMessage.Message)}

	default:
		return engine.Turn{}
	}
}

// CoalesceTurns merges several turns arriving in one poll tick into a
// single turn, preserving order. Image attachments are concatenated.
func CoalesceTurns(turns []engine.Turn) engine.Turn {
	if len(turns) == 1 {
		return turns[0]
	}
	var texts []string
	var images []engine.Image
	for _, turn := range turns {
		if turn.Text != "" {
			texts = append(texts, turn.Text)
		}
		images = append(images, turn.Images...)
	}
	return engine.Turn{Text: strings.Join(texts, "\n\n"), Images: images}
}

func isHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	return strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")
}
