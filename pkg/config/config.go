package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/sipeed/godcmd/pkg/fileutil"
	"github.com/sipeed/godcmd/pkg/redaction"
)

// CommandPrefix is the fixed sentinel that marks a message as a command.
const CommandPrefix = "#"

type Config struct {
	DataDir    string `json:"data_dir" env:"GODCMD_DATA_DIR"`
	PluginsDir string `json:"plugins_dir" env:"GODCMD_PLUGINS_DIR"`
	LogLevel   string `json:"log_level" env:"GODCMD_LOG_LEVEL"`
	LogFile    string `json:"log_file" env:"GODCMD_LOG_FILE"`

	// PluginTriggerPrefix is the prefix other plugins answer to. When it
	// equals CommandPrefix, unknown #commands are left for those plugins.
	PluginTriggerPrefix string `json:"plugin_trigger_prefix" env:"GODCMD_PLUGIN_TRIGGER_PREFIX"`

	// ClearMemoryCommands adds extra "#..." aliases to the reset command.
	ClearMemoryCommands []string `json:"clear_memory_commands" env:"GODCMD_CLEAR_MEMORY_COMMANDS"`

	// AdminUsers mirrors the authenticated admin set at runtime.
	AdminUsers []string `json:"admin_users"`

	// MasterKey encrypts per-user API keys at rest. Env only.
	MasterKey string `json:"-" env:"GODCMD_MASTER_KEY"`

	Engine   EngineConfig   `json:"engine"`
	Channels ChannelsConfig `json:"channels"`
	Auth     AuthConfig     `json:"auth"`
	Schedule ScheduleConfig `json:"schedule"`

	// Redaction masks secrets in log output.
	Redaction redaction.Config `json:"redaction"`
}

type EngineConfig struct {
	BotType       string `json:"bot_type" env:"GODCMD_ENGINE_BOT_TYPE"`
	Model         string `json:"model" env:"GODCMD_ENGINE_MODEL"`
	OpenAIAPIKey  string `json:"open_ai_api_key" env:"GODCMD_ENGINE_OPEN_AI_API_KEY"`
	OpenAIAPIBase string `json:"open_ai_api_base" env:"GODCMD_ENGINE_OPEN_AI_API_BASE"`
	ClaudeAPIKey  string `json:"claude_api_key" env:"GODCMD_ENGINE_CLAUDE_API_KEY"`
	ClaudeAPIBase string `json:"claude_api_base" env:"GODCMD_ENGINE_CLAUDE_API_BASE"`
	SystemPrompt  string `json:"system_prompt" env:"GODCMD_ENGINE_SYSTEM_PROMPT"`
	MaxHistory    int    `json:"max_history" env:"GODCMD_ENGINE_MAX_HISTORY"`
}

type ChannelsConfig struct {
	Console   ConsoleConfig   `json:"console"`
	WebSocket WebSocketConfig `json:"websocket"`
}

type ConsoleConfig struct {
	Enabled bool   `json:"enabled" env:"GODCMD_CHANNELS_CONSOLE_ENABLED"`
	UserID  string `json:"user_id" env:"GODCMD_CHANNELS_CONSOLE_USER_ID"`
	Prompt  string `json:"prompt" env:"GODCMD_CHANNELS_CONSOLE_PROMPT"`
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" env:"GODCMD_CHANNELS_WEBSOCKET_ENABLED"`
	Host    string `json:"host" env:"GODCMD_CHANNELS_WEBSOCKET_HOST"`
	Port    int    `json:"port" env:"GODCMD_CHANNELS_WEBSOCKET_PORT"`
	Path    string `json:"path" env:"GODCMD_CHANNELS_WEBSOCKET_PATH"`
}

type AuthConfig struct {
	MaxAttemptsPerMinute int `json:"max_attempts_per_minute" env:"GODCMD_AUTH_MAX_ATTEMPTS_PER_MINUTE"` // 0 = unlimited
}

type ScheduleConfig struct {
	PauseCron  string `json:"pause_cron" env:"GODCMD_SCHEDULE_PAUSE_CRON"`
	ResumeCron string `json:"resume_cron" env:"GODCMD_SCHEDULE_RESUME_CRON"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir:             "~/.godcmd/data",
		PluginsDir:          "~/.godcmd/plugins",
		LogLevel:            "info",
		PluginTriggerPrefix: "$",
		ClearMemoryCommands: []string{"#清除记忆"},
		AdminUsers:          []string{},
		Engine: EngineConfig{
			BotType:    "echo",
			Model:      "gpt-4o-mini",
			MaxHistory: 20,
		},
		Channels: ChannelsConfig{
			Console: ConsoleConfig{
				Enabled: true,
				UserID:  "console",
				Prompt:  "> ",
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    18793,
				Path:    "/ws",
			},
		},
		Auth: AuthConfig{
			MaxAttemptsPerMinute: 5,
		},
		Redaction: redaction.DefaultConfig(),
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	environ, err := environment(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, err
	}

	return cfg, nil
}

// environment merges an optional dotenv file under the process environment.
// Variables already set in the process win.
func environment(dotenv string) (map[string]string, error) {
	vars := env.ToMap(os.Environ())
	fileVars, err := godotenv.Read(dotenv)
	if err != nil {
		if os.IsNotExist(err) {
			return vars, nil
		}
		return nil, fmt.Errorf("read %s: %w", dotenv, err)
	}
	for k, v := range fileVars {
		if _, set := vars[k]; !set {
			vars[k] = v
		}
	}
	return vars, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.WriteFileAtomic(path, data, 0o600)
}

func (c *Config) DataPath() string {
	return expandHome(c.DataDir)
}

func (c *Config) PluginsPath() string {
	return expandHome(c.PluginsDir)
}

// clone returns a copy whose slices can be modified independently.
func (c *Config) clone() *Config {
	cp := *c
	cp.AdminUsers = slices.Clone(c.AdminUsers)
	cp.ClearMemoryCommands = slices.Clone(c.ClearMemoryCommands)
	cp.Redaction.CustomPatterns = slices.Clone(c.Redaction.CustomPatterns)
	return &cp
}

// Loader owns the live configuration. A *Config handed out by Current is
// never mutated afterwards; Reload and AddAdminUser swap in a new value.
type Loader struct {
	path string
	mu   sync.RWMutex
	cfg  *Config
}

func NewLoader(path string) (*Loader, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path, cfg: cfg}, nil
}

// NewStaticLoader wraps an in-memory config; Reload keeps it unchanged.
func NewStaticLoader(cfg *Config) *Loader {
	return &Loader{cfg: cfg}
}

func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Reload re-reads the config file. Admin users added at runtime survive
// the reload so the global list stays in sync with the authorizer.
func (l *Loader) Reload() error {
	if l.path == "" {
		return nil
	}
	fresh, err := LoadConfig(l.path)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.cfg.AdminUsers {
		if !slices.Contains(fresh.AdminUsers, id) {
			fresh.AdminUsers = append(fresh.AdminUsers, id)
		}
	}
	l.cfg = fresh
	return nil
}

func (l *Loader) AddAdminUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.cfg.AdminUsers, userID) {
		return
	}
	next := l.cfg.clone()
	next.AdminUsers = append(next.AdminUsers, userID)
	l.cfg = next
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
