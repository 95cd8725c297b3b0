package scheduling

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Idempotency for the booking chain. A request key derived from the
// customer intent maps to the booking the chain produced, so a retried
// "schedule my repair" returns the same booking instead of double-booking
// the visit.

// IdempotencyRecord is what a completed chain persists.
type IdempotencyRecord struct {
	BookingID     string    `json:"booking_id"`
	CaseID        string    `json:"case_id,omitempty"`
	WorkOrderID   string    `json:"work_order_id,omitempty"`
	RequirementID string    `json:"requirement_id,omitempty"`
	Start         string    `json:"start"`
	End           string    `json:"end"`
	CreatedAt     time.Time `json:"created_at"`
}

// IdempotencyStore persists chain outcomes keyed by request identity.
type IdempotencyStore interface {
	Get(key string) (IdempotencyRecord, bool, error)
	Put(key string, rec IdempotencyRecord) error
	Delete(key string) error
}

// RequestKey derives the idempotency key from the fields that define a
// distinct customer intent. The environment id is part of the identity so
// the same intent against staging and production never collides.
func RequestKey(environmentID, scenario, contactID string, windowStart, windowEnd, preferredStart time.Time, visit time.Duration) string {
	parts := []string{
		strings.ToLower(environmentID),
		strings.ToLower(scenario),
		strings.ToLower(contactID),
		windowStart.UTC().Format(time.RFC3339),
		windowEnd.UTC().Format(time.RFC3339),
		preferredStart.UTC().Format(time.RFC3339),
		fmt.Sprintf("%d", int(visit.Minutes())),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// FileStore is a JSON-file idempotency store. Writes go through a temp
// file and rename so a crash never leaves a torn state file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file store at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create idempotency dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() (map[string]IdempotencyRecord, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]IdempotencyRecord{}, nil
		}
		return nil, fmt.Errorf("read idempotency state: %w", err)
	}
	out := map[string]IdempotencyRecord{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse idempotency state: %w", err)
	}
	return out, nil
}

func (s *FileStore) save(state map[string]IdempotencyRecord) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode idempotency state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write idempotency state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace idempotency state: %w", err)
	}
	return nil
}

// Get looks up a prior outcome for the key.
func (s *FileStore) Get(key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	rec, ok := state[key]
	return rec, ok, nil
}

// Put stores the outcome for the key.
func (s *FileStore) Put(key string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	state[key] = rec
	return s.save(state)
}

// Delete removes a stale entry, typically after a replay re-verification
// found the booking gone.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := state[key]; !ok {
		return nil
	}
	delete(state, key)
	return s.save(state)
}
