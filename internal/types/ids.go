// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

// SessionID is the engine-assigned session identifier. Opaque to the
// driver; assigned (or reassigned) by the engine at the start of a run.
type SessionID string

// RunID identifies one engine run within the process lifetime.
type RunID string

// TurnID identifies one conversational turn. The most recently fed
// turn's ID doubles as the session resume anchor.
type TurnID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}
