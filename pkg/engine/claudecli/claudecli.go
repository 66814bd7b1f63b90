// Package claudecli adapts a Claude Code style CLI process to the
// engine boundary: it spawns the binary in stream-json mode, pumps turns
// from the run's TurnSource into its stdin, and parses its stdout lines
// into raw engine events.
package claudecli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/user/clawdriver/pkg/engine"
)

// Engine spawns one CLI process per run.
type Engine struct {
	binary string
	model  string
}

func New(binary, model string) *Engine {
	if binary == "" {
		binary = "claude"
	}
	return &Engine{binary: binary, model: model}
}

// Start spawns the process and begins the stdin pump and stdout parser.
func (e *Engine) Start(ctx context.Context, request engine.RunRequest) (engine.Handle, error) {
	arguments := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--print",
		"--verbose",
	}
	if e.model != "" {
		arguments = append(arguments, "--model", e.model)
	}
	if request.Resume.SessionID != "" {
		arguments = append(arguments, "--resume", request.Resume.SessionID)
	}
	if request.SystemPrompt != "" {
		arguments = append(arguments, "--append-system-prompt", request.SystemPrompt)
	}
	if len(request.AllowedTools) > 0 {
		arguments = append(arguments, "--allowedTools", strings.Join(request.AllowedTools, ","))
	}
	if len(request.DisallowedTools) > 0 {
		arguments = append(arguments, "--disallowedTools", strings.Join(request.DisallowedTools, ","))
	}

	command := exec.CommandContext(ctx, e.binary, arguments...)
	command.Dir = request.WorkingDirectory
	command.Stderr = os.Stderr

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := command.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("starting %s: %w", e.binary, err)
	}

	run := &runHandle{
		command: command,
		events:  make(chan engine.Event, 64),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	run.group = group

	group.Go(func() error {
		defer stdin.Close()
		return pumpTurns(groupCtx, request.Turns, stdin)
	})
	group.Go(func() error {
		defer close(run.events)
		return run.parseOutput(stdout, request.PreCompact)
	})

	return run, nil
}

// runHandle is one in-flight CLI run.
type runHandle struct {
	command *exec.Cmd
	events  chan engine.Event
	group   *errgroup.Group

	mu     sync.Mutex
	result *engine.Result
}

func (r *runHandle) Events() <-chan engine.Event {
	return r.events
}

// Interrupt sends SIGINT; the CLI finishes its current tool call and
// exits gracefully.
func (r *runHandle) Interrupt() error {
	if r.command.Process == nil {
		return fmt.Errorf("process not started")
	}
	return r.command.Process.Signal(syscall.SIGINT)
}

func (r *runHandle) Wait() (*engine.Result, error) {
	pumpErr := r.group.Wait()
	processErr := r.command.Wait()

	r.mu.Lock()
	result := r.result
	r.mu.Unlock()

	if result != nil && result.IsError {
		return result, fmt.Errorf("engine reported error: %s", result.Text)
	}
	if processErr != nil {
		return result, fmt.Errorf("engine process exited: %w", processErr)
	}
	if pumpErr != nil {
		return result, pumpErr
	}
	return result, nil
}

// inputMessage is the stream-json stdin format for one user turn.
type inputMessage struct {
	Type    string       `json:"type"`
	Message inputPayload `json:"message"`
}

type inputPayload struct {
	Role    string       `json:"role"`
	Content []inputBlock `json:"content"`
}

type inputBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"` // encoding/json base64-encodes []byte
}

// pumpTurns writes each turn from the source to the process's stdin as
// one JSON line. Returns when the source ends.
func pumpTurns(ctx context.Context, turns engine.TurnSource, stdin io.Writer) error {
	encoder := json.NewEncoder(stdin)
	encoder.SetEscapeHTML(false)
	for {
		turn, ok := turns.Next(ctx)
		if !ok {
			return nil
		}
		blocks := make([]inputBlock, 0, 1+len(turn.Images))
		if turn.Text != "" {
			blocks = append(blocks, inputBlock{Type: "text", Text: turn.Text})
		}
		for _, image := range turn.Images {
			blocks = append(blocks, inputBlock{Type: "image", Source: &imageSource{
				Type:      "base64",
				MediaType: image.MediaType,
				Data:      image.Data,
			}})
		}
		if err := encoder.Encode(inputMessage{
			Type:    "user",
			Message: inputPayload{Role: "user", Content: blocks},
		}); err != nil {
			return fmt.Errorf("writing turn to engine: %w", err)
		}
	}
}

// parseOutput reads stream-json stdout line by line and emits raw
// events. Unknown line types are skipped; the CLI can produce very long
// lines for tool results carrying file contents.
func (r *runHandle) parseOutput(stdout io.Reader, preCompact func(string)) error {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	parser := newLineParser()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		events, result, transcript := parser.parse(line)
		if transcript != "" && preCompact != nil {
			preCompact(transcript)
		}
		if result != nil {
			r.mu.Lock()
			r.result = result
			r.mu.Unlock()
		}
		for _, event := range events {
			r.events <- event
		}
	}
	return scanner.Err()
}
