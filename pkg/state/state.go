package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sipeed/godcmd/pkg/fileutil"
)

// UserPrefs holds the per-user overrides set through chat commands.
type UserPrefs struct {
	// Model overrides the engine's default model when non-empty.
	Model string `json:"model,omitempty"`

	// APIKey overrides the engine's API key when non-empty.
	APIKey string `json:"api_key,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (p UserPrefs) empty() bool {
	return p.Model == "" && p.APIKey == ""
}

type prefsFile struct {
	Users map[string]UserPrefs `json:"users"`
}

// SecretCodec seals API keys before they are written to disk.
type SecretCodec interface {
	Seal(plaintext string) (string, error)
	Open(value string) (string, error)
}

// Manager manages persistent per-user preferences with atomic saves.
type Manager struct {
	prefs     map[string]UserPrefs
	codec     SecretCodec
	mu        sync.RWMutex
	stateFile string
}

// NewManager loads <dataDir>/user_prefs.json, starting empty if it does not
// exist. codec may be nil, in which case API keys are stored as plaintext.
func NewManager(dataDir string, codec SecretCodec) (*Manager, error) {
	sm := &Manager{
		stateFile: filepath.Join(dataDir, "user_prefs.json"),
		prefs:     make(map[string]UserPrefs),
		codec:     codec,
	}
	if err := sm.load(); err != nil {
		return nil, err
	}
	return sm, nil
}

// Get returns the preferences for userID, the zero value if none are stored.
func (sm *Manager) Get(userID string) UserPrefs {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.prefs[userID]
}

// Update applies fn to userID's preferences and saves the result.
// Entries left empty by fn are removed.
func (sm *Manager) Update(userID string, fn func(*UserPrefs)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	p := sm.prefs[userID]
	fn(&p)
	p.UpdatedAt = time.Now()
	if p.empty() {
		delete(sm.prefs, userID)
	} else {
		sm.prefs[userID] = p
	}

	if err := sm.saveAtomic(); err != nil {
		return fmt.Errorf("failed to save user prefs atomically: %w", err)
	}
	return nil
}

// Must be called with the lock held.
func (sm *Manager) saveAtomic() error {
	out := make(map[string]UserPrefs, len(sm.prefs))
	for id, p := range sm.prefs {
		if sm.codec != nil && p.APIKey != "" {
			sealed, err := sm.codec.Seal(p.APIKey)
			if err != nil {
				return fmt.Errorf("failed to seal api key: %w", err)
			}
			p.APIKey = sealed
		}
		out[id] = p
	}

	data, err := json.MarshalIndent(prefsFile{Users: out}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal user prefs: %w", err)
	}
	return fileutil.WriteFileAtomic(sm.stateFile, data, 0o600)
}

func (sm *Manager) load() error {
	data, err := os.ReadFile(sm.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read user prefs: %w", err)
	}

	var f prefsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal user prefs: %w", err)
	}
	for id, p := range f.Users {
		if sm.codec != nil && p.APIKey != "" {
			opened, err := sm.codec.Open(p.APIKey)
			if err != nil {
				return fmt.Errorf("failed to open api key for %s: %w", id, err)
			}
			p.APIKey = opened
		}
		sm.prefs[id] = p
	}
	return nil
}
