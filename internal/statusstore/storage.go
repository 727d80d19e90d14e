package statusstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Storage is the persisted key-value backend holding one serialized map per
// agent namespace. Load must treat an absent namespace as an empty map, and
// decoding must tolerate unknown fields left behind by other versions.
type Storage interface {
	Load(agentID string) (map[string]RunStatus, error)
	Save(agentID string, entries map[string]RunStatus) error
	Namespaces() ([]string, error)
}

const filePrefix = "runs_"

// FileStorage keeps one JSON file per agent namespace under a directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (f *FileStorage) path(agentID string) string {
	return filepath.Join(f.dir, filePrefix+url.PathEscape(agentID)+".json")
}

// Load reads the namespace map. A missing file is an empty namespace, not an
// error; a corrupt file is treated the same so one bad write cannot wedge
// every consumer.
func (f *FileStorage) Load(agentID string) (map[string]RunStatus, error) {
	raw, err := os.ReadFile(f.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]RunStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read status namespace %s: %w", agentID, err)
	}

	entries := map[string]RunStatus{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return map[string]RunStatus{}, nil
	}
	return entries, nil
}

// Save writes the namespace map atomically (write-then-rename) so a reader
// in another instance never observes a half-written file.
func (f *FileStorage) Save(agentID string, entries map[string]RunStatus) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status namespace %s: %w", agentID, err)
	}

	path := f.path(agentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("failed to write status namespace %s: %w", agentID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace status namespace %s: %w", agentID, err)
	}
	return nil
}

// Namespaces lists every agent id with a persisted namespace file.
func (f *FileStorage) Namespaces() ([]string, error) {
	dirents, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}

	var namespaces []string
	for _, ent := range dirents {
		name := ent.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		escaped := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".json")
		agentID, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		namespaces = append(namespaces, agentID)
	}
	return namespaces, nil
}

// MemoryStorage is an in-memory Storage for tests and ephemeral sessions.
type MemoryStorage struct {
	mu         sync.Mutex
	namespaces map[string]map[string]RunStatus
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{namespaces: make(map[string]map[string]RunStatus)}
}

// Load returns a copy of the namespace map.
func (m *MemoryStorage) Load(agentID string) (map[string]RunStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make(map[string]RunStatus, len(m.namespaces[agentID]))
	for k, v := range m.namespaces[agentID] {
		entries[k] = v
	}
	return entries, nil
}

// Save stores a copy of the namespace map.
func (m *MemoryStorage) Save(agentID string, entries map[string]RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make(map[string]RunStatus, len(entries))
	for k, v := range entries {
		stored[k] = v
	}
	m.namespaces[agentID] = stored
	return nil
}

// Namespaces lists every agent id seen by Save.
func (m *MemoryStorage) Namespaces() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.namespaces))
	for agentID := range m.namespaces {
		out = append(out, agentID)
	}
	return out, nil
}
