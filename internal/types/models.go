// internal/types/models.go
package types

import (
	"encoding/json"
	"fmt"
)

// SessionIdentity is the driver's resumable position in the engine's
// history: the engine-assigned session ID plus an anchor pointing at the
// last turn processed. Mutated only after a successful engine run;
// persists across runs within one process lifetime.
type SessionIdentity struct {
	SessionID SessionID `json:"session_id"`
	Anchor    TurnID    `json:"anchor,omitempty"`
}

// Privilege holds the two independent privilege flags delivered with the
// startup input. They gate which control messages are honored: only the
// top-privilege home session triggers the post-compaction memory flush.
type Privilege struct {
	IsHomeSession  bool `json:"is_home_session"`
	IsTopPrivilege bool `json:"is_top_privilege"`
}

// InlineImage is an image attachment delivered inline with a turn or a
// mailbox message: raw bytes (base64 on the wire) plus a mime type.
type InlineImage struct {
	Data      []byte `json:"data"`
	MediaType string `json:"media_type"`
}

// StartupInput is the single JSON document delivered on stdin when the
// worker starts. Metadata is opaque routing data owned by the host
// orchestrator; the driver carries it but never inspects it.
type StartupInput struct {
	Text            string          `json:"text"`
	Images          []InlineImage   `json:"images,omitempty"`
	ResumeSessionID SessionID       `json:"resume_session_id,omitempty"`
	ResumeAnchor    TurnID          `json:"resume_anchor,omitempty"`
	Privilege       Privilege       `json:"privilege"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// DecodeStartupInput parses and validates the startup document.
func DecodeStartupInput(data []byte) (*StartupInput, error) {
	var input StartupInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("unmarshal startup input: %w", err)
	}
	if input.Text == "" && input.ResumeSessionID == "" {
		return nil, fmt.Errorf("startup input needs text or a session to resume")
	}
	return &input, nil
}
