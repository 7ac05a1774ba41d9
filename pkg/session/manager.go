// Package session stores conversation history for the chat engines, one
// JSON file per session key.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sipeed/godcmd/pkg/fileutil"
	"github.com/sipeed/godcmd/pkg/logger"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Session struct {
	Key      string    `json:"key"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
}

type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	storage  string
}

// NewSessionManager loads every session under storage. An empty storage
// keeps sessions in memory only.
func NewSessionManager(storage string) *SessionManager {
	sm := &SessionManager{
		sessions: make(map[string]*Session),
		storage:  storage,
	}

	if storage != "" {
		if err := os.MkdirAll(storage, 0o755); err != nil {
			logger.WarnCF("session", "Cannot create session dir", map[string]any{"error": err.Error()})
		}
		if err := sm.loadSessions(); err != nil {
			logger.WarnCF("session", "Cannot load sessions", map[string]any{"error": err.Error()})
		}
	}

	return sm
}

func (sm *SessionManager) AddMessage(sessionKey, role, content string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[sessionKey]
	if !ok {
		session = &Session{
			Key:      sessionKey,
			Messages: []Message{},
			Created:  time.Now(),
		}
		sm.sessions[sessionKey] = session
	}

	session.Messages = append(session.Messages, Message{Role: role, Content: content})
	session.Updated = time.Now()
}

func (sm *SessionManager) GetHistory(key string) []Message {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, ok := sm.sessions[key]
	if !ok {
		return []Message{}
	}

	history := make([]Message, len(session.Messages))
	copy(history, session.Messages)
	return history
}

func (sm *SessionManager) TruncateHistory(key string, keepLast int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, ok := sm.sessions[key]
	if !ok {
		return
	}

	if keepLast <= 0 {
		session.Messages = []Message{}
		session.Updated = time.Now()
		return
	}

	if len(session.Messages) <= keepLast {
		return
	}

	session.Messages = session.Messages[len(session.Messages)-keepLast:]
	session.Updated = time.Now()
}

// Keys returns the keys of all stored sessions.
func (sm *SessionManager) Keys() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	keys := make([]string, 0, len(sm.sessions))
	for k := range sm.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops one session from memory and disk.
func (sm *SessionManager) Clear(key string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, key)
	return sm.deleteSessionFile(key)
}

// ClearAll drops every session. File removal errors are joined.
func (sm *SessionManager) ClearAll() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	var errs []error
	for key := range sm.sessions {
		if err := sm.deleteSessionFile(key); err != nil {
			errs = append(errs, err)
		}
	}
	sm.sessions = make(map[string]*Session)
	return errors.Join(errs...)
}

// sanitizeFilename converts a session key into a cross-platform safe filename.
// ':' is the volume separator on Windows; the original key is kept inside
// the JSON file.
func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func (sm *SessionManager) sessionPath(key string) (string, error) {
	filename := sanitizeFilename(key)
	if filename == "." || !filepath.IsLocal(filename) || strings.ContainsAny(filename, `/\`) {
		return "", os.ErrInvalid
	}
	return filepath.Join(sm.storage, filename+".json"), nil
}

func (sm *SessionManager) Save(key string) error {
	if sm.storage == "" {
		return nil
	}

	// Snapshot under read lock, then perform slow file I/O after unlock.
	sm.mu.RLock()
	stored, ok := sm.sessions[key]
	if !ok {
		sm.mu.RUnlock()
		return nil
	}
	snapshot := cloneSession(stored)
	sm.mu.RUnlock()

	path, err := sm.sessionPath(snapshot.Key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o644)
}

func (sm *SessionManager) loadSessions() error {
	files, err := os.ReadDir(sm.storage)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(sm.storage, file.Name()))
		if err != nil {
			continue
		}

		var session Session
		if err := json.Unmarshal(data, &session); err != nil {
			continue
		}
		if session.Key == "" {
			continue
		}

		sm.sessions[session.Key] = &session
	}

	return nil
}

func cloneSession(stored *Session) Session {
	snapshot := Session{
		Key:     stored.Key,
		Created: stored.Created,
		Updated: stored.Updated,
	}
	snapshot.Messages = make([]Message, len(stored.Messages))
	copy(snapshot.Messages, stored.Messages)
	return snapshot
}

func (sm *SessionManager) deleteSessionFile(key string) error {
	if sm.storage == "" {
		return nil
	}
	path, err := sm.sessionPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
