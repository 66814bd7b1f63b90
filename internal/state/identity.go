// Package state persists the driver's session identity between process
// runs. The host orchestrator normally passes resume identity in the
// startup input; the persisted copy is the fallback record of where the
// session last stood.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/clawdriver/internal/types"
)

// IdentityStore is a JSON-file-backed record of the current session
// identity, stored at <root>/session.json.
type IdentityStore struct {
	root string
	mu   sync.Mutex
}

func NewIdentityStore(root string) *IdentityStore {
	return &IdentityStore{root: root}
}

func (s *IdentityStore) path() string {
	return filepath.Join(s.root, "session.json")
}

// record is the on-disk shape.
type record struct {
	SessionID types.SessionID `json:"session_id"`
	Anchor    types.TurnID    `json:"anchor,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Load returns the persisted identity, or a zero identity when nothing
// has been saved yet.
func (s *IdentityStore) Load() (types.SessionIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return types.SessionIdentity{}, nil
		}
		return types.SessionIdentity{}, fmt.Errorf("read session record: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.SessionIdentity{}, fmt.Errorf("unmarshal session record: %w", err)
	}
	return types.SessionIdentity{SessionID: rec.SessionID, Anchor: rec.Anchor}, nil
}

// Save writes the identity atomically (temp file then rename).
func (s *IdentityStore) Save(identity types.SessionIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(record{
		SessionID: identity.SessionID,
		Anchor:    identity.Anchor,
		UpdatedAt: time.Now(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp session record: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp session record: %w", err)
	}
	return nil
}
