// Package banwords is a builtin plugin that filters inbound messages and
// outbound replies against a configured word list.
package banwords

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/plugin"
)

const (
	Name = "banwords"

	ActionIgnore  = "ignore"
	ActionReplace = "replace"

	// DefaultPriority keeps the filter below godcmd but ahead of
	// ordinary plugins.
	DefaultPriority = 100

	rejectMessage = "your message contains banned words, please rephrase"
)

// Config is <plugins_dir>/banwords/config.json.
type Config struct {
	Words       []string `json:"words"`
	Action      string   `json:"action"`
	ReplyFilter bool     `json:"reply_filter"`
	ReplyAction string   `json:"reply_action"`
}

// Stats counts hook activity.
type Stats struct {
	Inspected       int
	Ignored         int
	Rejected        int
	RepliesFiltered int
	RepliesBlocked  int
	SessionsCleared int
}

type rules struct {
	words       []string
	action      string
	replyFilter bool
	replyAction string
}

type Plugin struct {
	path  string
	rules atomic.Pointer[rules]

	mu    sync.Mutex
	stats Stats
}

// New builds the plugin from cfg. path is the config file read by Reload;
// it may be empty.
func New(path string, cfg Config) *Plugin {
	p := &Plugin{path: path}
	p.rules.Store(compile(cfg))
	return p
}

// Load reads the plugin config from dir/banwords/config.json. A missing
// file yields an empty word list.
func Load(pluginsDir string) (*Plugin, error) {
	path := ""
	if pluginsDir != "" {
		path = filepath.Join(pluginsDir, Name, "config.json")
	}
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	return New(path, cfg), nil
}

func readConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read banwords config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse banwords config: %w", err)
	}
	return cfg, nil
}

func compile(cfg Config) *rules {
	r := &rules{
		action:      normalizeAction(cfg.Action),
		replyFilter: cfg.ReplyFilter,
		replyAction: normalizeAction(cfg.ReplyAction),
	}
	seen := make(map[string]struct{}, len(cfg.Words))
	for _, w := range cfg.Words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		r.words = append(r.words, w)
	}
	return r
}

func normalizeAction(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), ActionReplace) {
		return ActionReplace
	}
	return ActionIgnore
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) APIVersion() string {
	return plugin.APIVersion
}

func (p *Plugin) Describe() plugin.Meta {
	return plugin.Meta{
		Version:  "1.0",
		Desc:     "filter messages containing banned words",
		Author:   "godcmd",
		Priority: DefaultPriority,
	}
}

// Reload re-reads the config file.
func (p *Plugin) Reload() error {
	cfg, err := readConfig(p.path)
	if err != nil {
		return err
	}
	p.rules.Store(compile(cfg))
	logger.InfoCF("plugin", "Banwords reloaded", map[string]any{"words": len(cfg.Words)})
	return nil
}

func (p *Plugin) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Plugin) Register(r *hooks.HookRegistry, priority int) error {
	r.OnHandleContext(Name, priority, func(_ context.Context, e *hooks.HandleContextEvent) error {
		rs := p.rules.Load()
		p.count(func(s *Stats) { s.Inspected++ })
		if !rs.matches(e.Content) {
			return nil
		}
		e.Action = hooks.ActionBreakPass
		if rs.action == ActionReplace {
			e.Reply = &hooks.Reply{Type: hooks.ReplyInfo, Content: rejectMessage}
			p.count(func(s *Stats) { s.Rejected++ })
		} else {
			p.count(func(s *Stats) { s.Ignored++ })
		}
		logger.DebugCF("plugin", "Banned words in message", map[string]any{
			"sender": e.SenderID,
			"action": rs.action,
		})
		return nil
	})

	r.OnMessageSending(Name, priority, func(_ context.Context, e *hooks.MessageSendingEvent) error {
		rs := p.rules.Load()
		if !rs.replyFilter || !rs.matches(e.Content) {
			return nil
		}
		if rs.replyAction == ActionReplace {
			e.Content = rs.mask(e.Content)
			p.count(func(s *Stats) { s.RepliesFiltered++ })
			return nil
		}
		e.Cancel = true
		e.CancelReason = "reply contains banned words"
		p.count(func(s *Stats) { s.RepliesBlocked++ })
		return nil
	})

	r.OnSessionEnd(Name, 0, func(_ context.Context, _ *hooks.SessionEvent) error {
		p.count(func(s *Stats) { s.SessionsCleared++ })
		return nil
	})
	return nil
}

func (p *Plugin) count(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}

func (r *rules) matches(content string) bool {
	lower := strings.ToLower(content)
	for _, w := range r.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// mask replaces every occurrence of a banned word, matched
// case-insensitively, with one '*' per rune.
func (r *rules) mask(content string) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	if len(lower) != len(runes) {
		return content
	}
	for _, w := range r.words {
		wr := []rune(w)
		for i := 0; i+len(wr) <= len(lower); i++ {
			if string(lower[i:i+len(wr)]) != w {
				continue
			}
			for j := i; j < i+len(wr); j++ {
				runes[j] = '*'
			}
			i += len(wr) - 1
		}
	}
	return string(runes)
}
