// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package plugin

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sipeed/godcmd/pkg/fileutil"
	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/logger"
)

// APIVersion identifies the compile-time plugin contract version.
const APIVersion = "v1alpha1"

var (
	ErrNotFound  = errors.New("plugin does not exist")
	ErrProtected = errors.New("this plugin cannot be disabled or removed")
	ErrBuiltin   = errors.New("builtin plugins are not managed by git")
)

// Plugin is the contract every plugin, builtin or directory based, satisfies.
// Register is called on every activation with the plugin's current priority.
type Plugin interface {
	Name() string
	APIVersion() string
	Register(r *hooks.HookRegistry, priority int) error
}

// Meta is optional plugin metadata.
type Meta struct {
	Version  string
	Desc     string
	Author   string
	Priority int
	Hidden   bool
	// Protected plugins can be neither disabled nor uninstalled.
	Protected bool
}

type Describer interface {
	Describe() Meta
}

// Reloader is implemented by plugins with reloadable configuration.
type Reloader interface {
	Reload() error
}

// Info is the listing view of a plugin.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Desc     string `json:"desc"`
	Author   string `json:"author"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Hidden   bool   `json:"hidden"`
	Builtin  bool   `json:"builtin"`
	Dir      string `json:"dir,omitempty"`
}

type entry struct {
	plugin    Plugin
	info      Info
	protected bool
}

type settings struct {
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}

type Options struct {
	// Dir holds plugin directories, plugins.json and source.json.
	Dir string

	// TriggerPrefix returns the prefix directory plugins answer to.
	TriggerPrefix func() string

	// Fetcher clones and pulls plugin repositories. Defaults to go-git.
	Fetcher Fetcher
}

// Manager owns plugin metadata and the hook registry built from the
// enabled plugins.
type Manager struct {
	mu       sync.RWMutex
	opts     Options
	entries  map[string]*entry
	names    []string
	settings map[string]settings
	registry atomic.Pointer[hooks.HookRegistry]
}

// NewManager creates a plugin manager backed by opts.Dir.
func NewManager(opts Options) (*Manager, error) {
	if opts.TriggerPrefix == nil {
		opts.TriggerPrefix = func() string { return "$" }
	}
	if opts.Fetcher == nil {
		opts.Fetcher = GitFetcher{}
	}
	m := &Manager{
		opts:     opts,
		entries:  make(map[string]*entry),
		settings: make(map[string]settings),
	}
	m.registry.Store(hooks.NewHookRegistry())

	if opts.Dir != "" {
		if err := m.loadSettings(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// HookRegistry returns the registry built by the last Activate.
func (m *Manager) HookRegistry() *hooks.HookRegistry {
	return m.registry.Load()
}

// Names returns plugin names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.names)
}

// Register adds a builtin plugin. It is not active until Activate runs.
func (m *Manager) Register(p Plugin) error {
	if p == nil {
		return errors.New("plugin is nil")
	}
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return errors.New("plugin name is required")
	}
	if got := strings.TrimSpace(p.APIVersion()); got != APIVersion {
		if got == "" {
			got = "<empty>"
		}
		return fmt.Errorf(
			"plugin %q api version mismatch: got %s, want %s",
			name,
			got,
			APIVersion,
		)
	}

	info := Info{Name: name, Enabled: true, Builtin: true}
	var protected bool
	if d, ok := p.(Describer); ok {
		meta := d.Describe()
		info.Version = meta.Version
		info.Desc = meta.Desc
		info.Author = meta.Author
		info.Priority = meta.Priority
		info.Hidden = meta.Hidden
		protected = meta.Protected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	m.addLocked(&entry{plugin: p, info: info, protected: protected})
	return nil
}

// RegisterAll registers plugins sequentially.
func (m *Manager) RegisterAll(plugins ...Plugin) error {
	for _, p := range plugins {
		if err := m.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// addLocked applies persisted settings and records the entry.
func (m *Manager) addLocked(e *entry) {
	if s, ok := m.settings[e.info.Name]; ok {
		e.info.Priority = s.Priority
		e.info.Enabled = s.Enabled || e.protected
	}
	m.entries[e.info.Name] = e
	m.names = append(m.names, e.info.Name)
}

// List returns all plugins, highest priority first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []Info {
	out := make([]Info, 0, len(m.entries))
	for _, name := range m.names {
		out = append(out, m.entries[name].info)
	}
	slices.SortStableFunc(out, func(a, b Info) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	return out
}

// Scan looks for plugin directories not seen before and returns them.
func (m *Manager) Scan() ([]Info, error) {
	if m.opts.Dir == "" {
		return nil, nil
	}
	dirs, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugins dir: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var found []Info
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(m.opts.Dir, d.Name())
		if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
			continue
		}
		mp, err := loadManifestPlugin(dir, m.opts.TriggerPrefix)
		if err != nil {
			logger.WarnCF("plugin", "Skipping invalid plugin", map[string]any{
				"dir":   dir,
				"error": err.Error(),
			})
			continue
		}
		if _, exists := m.entries[mp.Name()]; exists {
			continue
		}
		man := mp.manifest()
		m.addLocked(&entry{plugin: mp, info: Info{
			Name:     man.Name,
			Version:  man.Version,
			Desc:     man.Desc,
			Author:   man.Author,
			Priority: man.Priority,
			Enabled:  true,
			Hidden:   man.Hidden,
			Dir:      dir,
		}})
		found = append(found, m.entries[man.Name].info)
		logger.InfoCF("plugin", "Plugin discovered", map[string]any{
			"name":    man.Name,
			"version": man.Version,
		})
	}
	return found, nil
}

// Activate rebuilds the hook registry from the enabled plugins, highest
// priority first, and swaps it in.
func (m *Manager) Activate() error {
	m.mu.RLock()
	infos := m.sortedLocked()
	plugins := make(map[string]Plugin, len(m.entries))
	for name, e := range m.entries {
		plugins[name] = e.plugin
	}
	m.mu.RUnlock()

	reg := hooks.NewHookRegistry()
	var errs []error
	for _, info := range infos {
		if !info.Enabled {
			continue
		}
		if err := plugins[info.Name].Register(reg, info.Priority); err != nil {
			errs = append(errs, fmt.Errorf("register plugin %q: %w", info.Name, err))
			logger.ErrorCF("plugin", "Plugin registration failed", map[string]any{
				"name":  info.Name,
				"error": err.Error(),
			})
		}
	}
	m.registry.Store(reg)
	return errors.Join(errs...)
}

// SetPriority changes a plugin's priority, persists it and reactivates.
func (m *Manager) SetPriority(name string, priority int) error {
	if err := m.update(name, func(e *entry) error {
		e.info.Priority = priority
		return nil
	}); err != nil {
		return err
	}
	return m.Activate()
}

func (m *Manager) Enable(name string) error {
	if err := m.update(name, func(e *entry) error {
		e.info.Enabled = true
		return nil
	}); err != nil {
		return err
	}
	return m.Activate()
}

func (m *Manager) Disable(name string) error {
	if err := m.update(name, func(e *entry) error {
		if e.protected {
			return ErrProtected
		}
		e.info.Enabled = false
		return nil
	}); err != nil {
		return err
	}
	return m.Activate()
}

// Reload re-reads a plugin's configuration.
func (m *Manager) Reload(name string) error {
	m.mu.RLock()
	e, ok := m.entries[name]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if r, ok := e.plugin.(Reloader); ok {
		if err := r.Reload(); err != nil {
			return err
		}
	}
	if mp, ok := e.plugin.(*manifestPlugin); ok {
		man := mp.manifest()
		m.mu.Lock()
		e.info.Version = man.Version
		e.info.Desc = man.Desc
		e.info.Author = man.Author
		m.mu.Unlock()
	}
	return m.Activate()
}

// update applies fn to a copy of the entry and keeps it only once the
// settings file is written.
func (m *Manager) update(name string, fn func(*entry) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return ErrNotFound
	}
	next := *e
	if err := fn(&next); err != nil {
		return err
	}
	prev, hadPrev := m.settings[name]
	m.settings[name] = settings{Priority: next.info.Priority, Enabled: next.info.Enabled}
	if err := m.saveSettingsLocked(); err != nil {
		if hadPrev {
			m.settings[name] = prev
		} else {
			delete(m.settings, name)
		}
		return err
	}
	e.info = next.info
	return nil
}

func (m *Manager) remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
	delete(m.settings, name)
	m.names = slices.DeleteFunc(m.names, func(n string) bool { return n == name })
	if err := m.saveSettingsLocked(); err != nil {
		logger.WarnCF("plugin", "Failed to save plugin settings", map[string]any{"error": err.Error()})
	}
}

func (m *Manager) settingsPath() string {
	return filepath.Join(m.opts.Dir, "plugins.json")
}

func (m *Manager) loadSettings() error {
	data, err := os.ReadFile(m.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugins.json: %w", err)
	}
	if err := json.Unmarshal(data, &m.settings); err != nil {
		return fmt.Errorf("parse plugins.json: %w", err)
	}
	if m.settings == nil {
		m.settings = make(map[string]settings)
	}
	return nil
}

func (m *Manager) saveSettingsLocked() error {
	if m.opts.Dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(m.settingsPath(), data, 0o644)
}
