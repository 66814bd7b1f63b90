// internal/checkpoint/checkpoint.go

// Package checkpoint persists the normalized event stream as compressed
// CBOR deltas, one file per checkpoint, so a crashed or recycled worker
// leaves an inspectable record of what the agent did.
package checkpoint

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/user/clawdriver/internal/types"
)

// Trigger names recorded in checkpoint filenames.
const (
	TriggerTurn   = "turn"
	TriggerRunEnd = "run-end"
)

// Tracker accumulates a run's normalized events and writes delta
// checkpoints at meaningful boundaries. Checkpoint failures are logged
// and swallowed; persistence must never interrupt the event pump.
type Tracker struct {
	dir   string
	runID types.RunID

	events    []types.StreamEvent
	lastIndex int
	sequence  int
}

func NewTracker(dir string, runID types.RunID) *Tracker {
	return &Tracker{dir: dir, runID: runID}
}

// Append records one event in the run's history.
func (t *Tracker) Append(event types.StreamEvent) {
	t.events = append(t.events, event)
}

// Checkpoint writes all events appended since the last checkpoint as a
// CBOR-encoded, zstd-compressed delta file. No-op when nothing is new.
func (t *Tracker) Checkpoint(trigger string) {
	delta := t.events[t.lastIndex:]
	if len(delta) == 0 {
		return
	}
	if err := t.write(trigger, delta); err != nil {
		slog.Warn("event checkpoint failed, continuing without persistence",
			"trigger", trigger, "run_id", string(t.runID), "error", err)
		return
	}
	t.lastIndex = len(t.events)
	t.sequence++
}

func (t *Tracker) write(trigger string, delta []types.StreamEvent) error {
	encoded, err := cbor.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode checkpoint delta: %w", err)
	}

	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	compressed := compressor.EncodeAll(encoded, nil)
	compressor.Close()

	dir := filepath.Join(t.dir, string(t.runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	name := fmt.Sprintf("ckpt-%06d-%s.cbor.zst", t.sequence, trigger)
	path := filepath.Join(dir, name)

	// Atomic write: temp file then rename.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Read loads and decodes a checkpoint file. Used by tooling and tests.
func Read(path string) ([]types.StreamEvent, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	decompressor, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer decompressor.Close()

	encoded, err := decompressor.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint: %w", err)
	}

	var events []types.StreamEvent
	if err := cbor.Unmarshal(encoded, &events); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return events, nil
}
