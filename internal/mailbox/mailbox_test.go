package mailbox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/clawdriver/pkg/engine"
)

func writeMessage(t *testing.T, m *Mailbox, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(m.MessagesDir(), name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestMailbox(t *testing.T) *Mailbox {
	t.Helper()
	m := New(t.TempDir())
	if err := m.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDrainPendingOrderAndConsumption(t *testing.T) {
	m := newTestMailbox(t)
	// Time-prefixed names give filename-sort a total order.
	writeMessage(t, m, "1700000002-b.json", `{"type":"message","text":"second"}`)
	writeMessage(t, m, "1700000001-a.json", `{"type":"message","text":"first"}`)

	messages := m.DrainPending()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].User.Text != "first" || messages[1].User.Text != "second" {
		t.Errorf("messages out of order: %q, %q", messages[0].User.Text, messages[1].User.Text)
	}

	// Consumed at most once.
	if again := m.DrainPending(); len(again) != 0 {
		t.Errorf("expected empty mailbox after drain, got %d", len(again))
	}
	entries, _ := os.ReadDir(m.MessagesDir())
	if len(entries) != 0 {
		t.Errorf("expected message files deleted, %d remain", len(entries))
	}
}

func TestDrainPendingSkipsAndDeletesCorrupt(t *testing.T) {
	m := newTestMailbox(t)
	writeMessage(t, m, "1-bad.json", `{not json`)
	writeMessage(t, m, "2-unknown.json", `{"type":"mystery"}`)
	writeMessage(t, m, "3-good.json", `{"type":"message","text":"ok"}`)

	messages := m.DrainPending()
	if len(messages) != 1 || messages[0].User.Text != "ok" {
		t.Fatalf("expected only the good message, got %+v", messages)
	}
	entries, _ := os.ReadDir(m.MessagesDir())
	if len(entries) != 0 {
		t.Errorf("corrupt files should be deleted, %d remain", len(entries))
	}
}

func TestDrainPendingMissingDir(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "nope"))
	if messages := m.DrainPending(); messages != nil {
		t.Errorf("expected nil on missing dir, got %+v", messages)
	}
}

func TestConsumeSentinel(t *testing.T) {
	m := newTestMailbox(t)
	if m.ConsumeSentinel(SentinelClose) {
		t.Error("expected no sentinel present")
	}

	if err := os.WriteFile(filepath.Join(m.root, SentinelClose), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.ConsumeSentinel(SentinelClose) {
		t.Fatal("expected sentinel consumed")
	}
	if m.ConsumeSentinel(SentinelClose) {
		t.Error("sentinel should be consumed at most once")
	}
}

func TestDecodeAgentVariants(t *testing.T) {
	m := newTestMailbox(t)
	writeMessage(t, m, "1-result.json", `{"type":"agent_result","task_id":"t1","status":"succeeded","result":"42"}`)
	writeMessage(t, m, "2-peer.json", `{"type":"agent_message","from":"scout","message":"hello"}`)

	messages := m.DrainPending()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Kind != KindAgentResult || messages[0].AgentResult.TaskID != "t1" {
		t.Errorf("unexpected agent_result decode: %+v", messages[0])
	}
	if messages[1].Kind != KindAgentMessage || messages[1].AgentMessage.From != "scout" {
		t.Errorf("unexpected agent_message decode: %+v", messages[1])
	}
}

func TestFoldAgentResultNarration(t *testing.T) {
	turn := FoldToTurn(Message{Kind: KindAgentResult, AgentResult: &AgentResult{
		TaskID: "t9", Status: "succeeded", Result: "all good",
	}})
	if !strings.Contains(turn.Text, "t9") || !strings.Contains(turn.Text, "all good") {
		t.Errorf("narration missing task context: %q", turn.Text)
	}
}

func TestFoldAgentResultHTMLToMarkdown(t *testing.T) {
	turn := FoldToTurn(Message{Kind: KindAgentResult, AgentResult: &AgentResult{
		TaskID:      "t2",
		Status:      "succeeded",
		Result:      "<html><body><h1>Report</h1><p>Done.</p></body></html>",
		ContentType: "text/html",
	}})
	if strings.Contains(turn.Text, "<h1>") {
		t.Errorf("HTML should be converted to markdown: %q", turn.Text)
	}
	if !strings.Contains(turn.Text, "Report") {
		t.Errorf("converted content lost: %q", turn.Text)
	}
}

func TestCoalesceTurns(t *testing.T) {
	merged := CoalesceTurns([]engine.Turn{
		{Text: "a", Images: []engine.Image{{MediaType: "image/png"}}},
		{Text: "b"},
	})
	if merged.Text != "a\n\nb" {
		t.Errorf("unexpected coalesced text: %q", merged.Text)
	}
	if len(merged.Images) != 1 {
		t.Errorf("expected 1 image carried over, got %d", len(merged.Images))
	}

	single := CoalesceTurns([]engine.Turn{{Text: "only"}})
	if single.Text != "only" {
		t.Errorf("single turn should pass through, got %q", single.Text)
	}
}
