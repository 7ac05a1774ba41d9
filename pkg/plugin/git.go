package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"

	"github.com/sipeed/godcmd/pkg/logger"
)

// Fetcher retrieves plugin sources.
type Fetcher interface {
	Clone(ctx context.Context, url, dest string) error
	// Pull reports whether anything changed.
	Pull(ctx context.Context, dir string) (bool, error)
}

// GitFetcher is the go-git backed Fetcher.
type GitFetcher struct{}

func (GitFetcher) Clone(ctx context.Context, url, dest string) error {
	_, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:   url,
		Depth: 1,
	})
	return err
}

func (GitFetcher) Pull(ctx context.Context, dir string) (bool, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("worktree: %w", err)
	}
	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Source is one entry of source.json.
type Source struct {
	URL  string `json:"url"`
	Desc string `json:"desc"`
}

type sourceIndex struct {
	Repo map[string]Source `json:"repo"`
}

func (m *Manager) loadSources() (map[string]Source, error) {
	data, err := os.ReadFile(filepath.Join(m.opts.Dir, "source.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Source{}, nil
		}
		return nil, err
	}
	var idx sourceIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse source.json: %w", err)
	}
	return idx.Repo, nil
}

// resolveSource maps a plugin name or a ".git" repository address to a
// clone URL and a directory name.
func (m *Manager) resolveSource(nameOrRepo string) (url, dirName string, err error) {
	if strings.HasSuffix(nameOrRepo, ".git") {
		dirName = strings.TrimSuffix(path.Base(nameOrRepo), ".git")
		if dirName == "" || dirName == "." || dirName == "/" {
			return "", "", fmt.Errorf("invalid repository address %q", nameOrRepo)
		}
		return nameOrRepo, dirName, nil
	}

	sources, err := m.loadSources()
	if err != nil {
		return "", "", err
	}
	for name, src := range sources {
		if strings.EqualFold(name, nameOrRepo) {
			return src.URL, name, nil
		}
	}
	return "", "", fmt.Errorf("plugin %s is not in source.json, provide a repository address ending in .git", nameOrRepo)
}

// Install clones a plugin, scans it and activates it. It returns a message
// for the admin.
func (m *Manager) Install(ctx context.Context, nameOrRepo string) (string, error) {
	if m.opts.Dir == "" {
		return "", errors.New("plugins directory is not configured")
	}
	url, dirName, err := m.resolveSource(nameOrRepo)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(m.opts.Dir, dirName)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("directory %s already exists, use #updatep to update it", dirName)
	}

	logger.InfoCF("plugin", "Installing plugin", map[string]any{"url": url, "dir": dest})
	if err := m.opts.Fetcher.Clone(ctx, url, dest); err != nil {
		_ = os.RemoveAll(dest)
		return "", fmt.Errorf("clone %s: %w", url, err)
	}

	found, err := m.Scan()
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no %s found in %s", ManifestFile, dirName)
	}
	if err := m.Activate(); err != nil {
		return "", err
	}

	names := make([]string, len(found))
	for i, p := range found {
		names[i] = p.Name + "_v" + p.Version
	}
	return "plugin installed: " + strings.Join(names, ", "), nil
}

// Uninstall removes a directory plugin from disk and from the registry.
func (m *Manager) Uninstall(name string) (string, error) {
	e, err := m.lookupDirPlugin(name)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(e.info.Dir); err != nil {
		return "", fmt.Errorf("remove %s: %w", e.info.Dir, err)
	}
	m.remove(e.info.Name)
	if err := m.Activate(); err != nil {
		return "", err
	}
	logger.InfoCF("plugin", "Plugin uninstalled", map[string]any{"name": e.info.Name})
	return "plugin " + e.info.Name + " uninstalled", nil
}

// Update pulls a directory plugin and reloads it when anything changed.
func (m *Manager) Update(ctx context.Context, name string) (string, error) {
	e, err := m.lookupDirPlugin(name)
	if err != nil {
		return "", err
	}
	changed, err := m.opts.Fetcher.Pull(ctx, e.info.Dir)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", e.info.Name, err)
	}
	if !changed {
		return "plugin " + e.info.Name + " is already up to date", nil
	}
	if err := m.Reload(e.info.Name); err != nil {
		return "", err
	}
	logger.InfoCF("plugin", "Plugin updated", map[string]any{"name": e.info.Name})
	return "plugin " + e.info.Name + " updated", nil
}

func (m *Manager) lookupDirPlugin(name string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	if e.protected {
		return nil, ErrProtected
	}
	if e.info.Builtin || e.info.Dir == "" {
		return nil, ErrBuiltin
	}
	cp := *e
	return &cp, nil
}
