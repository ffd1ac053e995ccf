package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Preferences is the persisted speech preference object plus the onboarding
// flags that survive restarts.
type Preferences struct {
	AutoPlayAI      bool   `json:"autoPlayAI"`
	PreferredGender string `json:"preferredGender"`
	VoiceOnboarded  bool   `json:"voiceOnboarded"`
	CalibrationDone bool   `json:"calibrationDone"`
}

// DefaultPreferences is what a fresh install sees.
func DefaultPreferences() Preferences {
	return Preferences{AutoPlayAI: true, PreferredGender: "female"}
}

// Store is the preference persistence capability handed to controllers at
// construction; controllers never touch the backing storage directly.
type Store interface {
	Get() (Preferences, error)
	Set(Preferences) error
}

// FileStore persists preferences as a small JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultPreferences(), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	var p Preferences
	if err := json.Unmarshal(data, &p); err != nil {
		return Preferences{}, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

func (s *FileStore) Set(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create preferences dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// MemoryStore keeps preferences in memory; used in tests and as a fallback
// when no path is configured.
type MemoryStore struct {
	mu sync.Mutex
	p  Preferences
}

func NewMemoryStore(p Preferences) *MemoryStore { return &MemoryStore{p: p} }

func (s *MemoryStore) Get() (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, nil
}

func (s *MemoryStore) Set(p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
	return nil
}
