// internal/output/writer.go
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/user/clawdriver/internal/types"
)

// Marker lines framing each output document. The host orchestrator scans
// the stream for these exact lines; everything between one begin/end
// pair is a single JSON document.
const (
	MarkerBegin = "===CLAWDRIVER_OUTPUT_BEGIN==="
	MarkerEnd   = "===CLAWDRIVER_OUTPUT_END==="
)

// DocumentType classifies output documents.
type DocumentType string

const (
	DocSuccess DocumentType = "success"
	DocError   DocumentType = "error"
	DocStream  DocumentType = "stream"
)

// Document is one marker-wrapped output unit. Multiple success and
// stream documents may be emitted across the process lifetime.
type Document struct {
	Type DocumentType `json:"type"`

	Success *SuccessDocument   `json:"success,omitempty"`
	Error   *ErrorDocument     `json:"error,omitempty"`
	Stream  *types.StreamEvent `json:"stream,omitempty"`
}

// SuccessDocument carries a run's final text and session identity.
type SuccessDocument struct {
	Text      string          `json:"text,omitempty"`
	SessionID types.SessionID `json:"session_id,omitempty"`
}

// ErrorDocument carries a failure. Kind distinguishes classified
// failures ("context_overflow") from generic ones.
type ErrorDocument struct {
	Message   string          `json:"message"`
	Kind      string          `json:"kind,omitempty"`
	SessionID types.SessionID `json:"session_id,omitempty"`
}

// ErrorKindContextOverflow marks retry-exhausted overflow failures.
const ErrorKindContextOverflow = "context_overflow"

// Writer emits marker-wrapped JSON documents to the host-facing stream.
// Safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	encoder *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	return &Writer{w: w, encoder: encoder}
}

// Emit writes one document as a marker-wrapped block.
func (w *Writer) Emit(document Document) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintln(w.w, MarkerBegin); err != nil {
		return fmt.Errorf("write begin marker: %w", err)
	}
	if err := w.encoder.Encode(document); err != nil {
		return fmt.Errorf("encode output document: %w", err)
	}
	if _, err := fmt.Fprintln(w.w, MarkerEnd); err != nil {
		return fmt.Errorf("write end marker: %w", err)
	}
	return nil
}

// Stream emits one normalized event as a stream document.
func (w *Writer) Stream(event types.StreamEvent) error {
	return w.Emit(Document{Type: DocStream, Stream: &event})
}

// Success emits a success document.
func (w *Writer) Success(text string, sessionID types.SessionID) error {
	return w.Emit(Document{Type: DocSuccess, Success: &SuccessDocument{Text: text, SessionID: sessionID}})
}

// Error emits an error document.
func (w *Writer) Error(message, kind string, sessionID types.SessionID) error {
	return w.Emit(Document{Type: DocError, Error: &ErrorDocument{Message: message, Kind: kind, SessionID: sessionID}})
}
