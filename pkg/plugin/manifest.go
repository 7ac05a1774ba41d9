package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sipeed/godcmd/pkg/hooks"
)

// ManifestFile marks a directory under the plugins dir as a plugin.
const ManifestFile = "plugin.json"

// Manifest describes a directory plugin. Replies maps a keyword, sent
// after the trigger prefix, to the text answered.
type Manifest struct {
	Name     string            `json:"name"`
	Version  string            `json:"version"`
	Desc     string            `json:"desc"`
	Author   string            `json:"author"`
	Priority int               `json:"priority"`
	Hidden   bool              `json:"hidden"`
	Replies  map[string]string `json:"replies"`
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var man Manifest
	if err := json.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	man.Name = strings.TrimSpace(man.Name)
	if man.Name == "" {
		man.Name = filepath.Base(dir)
	}
	if man.Version == "" {
		man.Version = "0.1"
	}
	return &man, nil
}

type manifestPlugin struct {
	dir    string
	prefix func() string
	man    atomic.Pointer[Manifest]
}

func loadManifestPlugin(dir string, prefix func() string) (*manifestPlugin, error) {
	man, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	p := &manifestPlugin{dir: dir, prefix: prefix}
	p.man.Store(man)
	return p, nil
}

func (p *manifestPlugin) manifest() *Manifest {
	return p.man.Load()
}

func (p *manifestPlugin) Name() string {
	return p.manifest().Name
}

func (p *manifestPlugin) APIVersion() string {
	return APIVersion
}

// Reload re-reads plugin.json. The plugin name is kept.
func (p *manifestPlugin) Reload() error {
	man, err := readManifest(p.dir)
	if err != nil {
		return err
	}
	man.Name = p.Name()
	p.man.Store(man)
	return nil
}

func (p *manifestPlugin) Register(r *hooks.HookRegistry, priority int) error {
	r.OnHandleContext(p.Name(), priority, func(_ context.Context, e *hooks.HandleContextEvent) error {
		reply, ok := p.match(e.Content)
		if !ok {
			return nil
		}
		e.Reply = &hooks.Reply{Type: hooks.ReplyText, Content: reply}
		e.Action = hooks.ActionBreakPass
		return nil
	})
	return nil
}

func (p *manifestPlugin) match(content string) (string, bool) {
	prefix := p.prefix()
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", false
	}
	reply, ok := p.manifest().Replies[fields[0]]
	return reply, ok
}
