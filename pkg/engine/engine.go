// Package engine implements the conversational engines that answer
// messages no plugin handled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/session"
	"github.com/sipeed/godcmd/pkg/state"
)

const (
	TypeEcho    = "echo"
	TypeOpenAI  = "openAI"
	TypeChatGPT = "chatGPT"
	TypeClaude  = "claude"
)

var ErrEmptyReply = errors.New("engine returned an empty reply")

// Request is one user turn.
type Request struct {
	SessionKey string
	UserID     string
	Content    string
}

type Engine interface {
	Type() string
	Model() string
	Reply(ctx context.Context, req Request) (string, error)
	ClearSession(sessionKey string)
	ClearAllSessions()
}

// Prefs resolves per-user overrides. state.Manager satisfies it.
type Prefs interface {
	Get(userID string) state.UserPrefs
}

// Options carry what every engine shares.
type Options struct {
	Sessions     *session.SessionManager
	Prefs        Prefs
	SystemPrompt string
	MaxHistory   int
	// OnClear runs after a session is dropped.
	OnClear func(sessionKey string)
}

// New builds the engine selected by cfg.BotType.
func New(cfg config.EngineConfig, opts Options) (Engine, error) {
	if opts.Sessions == nil {
		opts.Sessions = session.NewSessionManager("")
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = cfg.SystemPrompt
	}
	if opts.MaxHistory == 0 {
		opts.MaxHistory = cfg.MaxHistory
	}

	switch cfg.BotType {
	case "", TypeEcho:
		return NewEcho(opts), nil
	case TypeOpenAI, TypeChatGPT:
		return NewOpenAI(cfg.BotType, cfg.Model, cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, opts), nil
	case TypeClaude:
		return NewClaude(cfg.Model, cfg.ClaudeAPIKey, cfg.ClaudeAPIBase, opts), nil
	default:
		return nil, fmt.Errorf("unknown bot_type %q", cfg.BotType)
	}
}

// history is the session bookkeeping shared by the engines.
type history struct {
	opts Options
}

func (h *history) modelFor(userID, fallback string) string {
	if h.opts.Prefs != nil {
		if m := h.opts.Prefs.Get(userID).Model; m != "" {
			return m
		}
	}
	return fallback
}

func (h *history) apiKeyFor(userID string) string {
	if h.opts.Prefs == nil {
		return ""
	}
	return h.opts.Prefs.Get(userID).APIKey
}

// turn returns the prior messages of the session followed by the new user
// message. Nothing is recorded until commit.
func (h *history) turn(req Request) []session.Message {
	msgs := h.opts.Sessions.GetHistory(req.SessionKey)
	return append(msgs, session.Message{Role: "user", Content: req.Content})
}

func (h *history) commit(req Request, reply string) {
	sm := h.opts.Sessions
	sm.AddMessage(req.SessionKey, "user", req.Content)
	sm.AddMessage(req.SessionKey, "assistant", reply)
	if h.opts.MaxHistory > 0 {
		sm.TruncateHistory(req.SessionKey, h.opts.MaxHistory)
	}
	if err := sm.Save(req.SessionKey); err != nil {
		logger.WarnCF("engine", "Cannot save session", map[string]any{
			"session": req.SessionKey,
			"error":   err.Error(),
		})
	}
}

func (h *history) ClearSession(sessionKey string) {
	if err := h.opts.Sessions.Clear(sessionKey); err != nil {
		logger.WarnCF("engine", "Cannot clear session", map[string]any{
			"session": sessionKey,
			"error":   err.Error(),
		})
	}
	if h.opts.OnClear != nil {
		h.opts.OnClear(sessionKey)
	}
}

func (h *history) ClearAllSessions() {
	keys := h.opts.Sessions.Keys()
	if err := h.opts.Sessions.ClearAll(); err != nil {
		logger.WarnCF("engine", "Cannot clear sessions", map[string]any{"error": err.Error()})
	}
	if h.opts.OnClear != nil {
		for _, k := range keys {
			h.opts.OnClear(k)
		}
	}
	logger.InfoCF("engine", "All sessions cleared", map[string]any{"count": len(keys)})
}

func trimReply(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyReply
	}
	return s, nil
}
