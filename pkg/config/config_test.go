package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "$", cfg.PluginTriggerPrefix)
	assert.Equal(t, "echo", cfg.Engine.BotType)
	assert.True(t, cfg.Channels.Console.Enabled)
	assert.False(t, cfg.Channels.WebSocket.Enabled)
	assert.Equal(t, 5, cfg.Auth.MaxAttemptsPerMinute)
	assert.NotNil(t, cfg.AdminUsers)
	assert.True(t, cfg.Redaction.Enabled)
	assert.True(t, cfg.Redaction.RedactCommandSecrets)
}

func TestLoadConfig_RedactionSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"redaction": {"redact_emails": false, "custom_patterns": ["ACT-[A-Z0-9]{6}"]}
	}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.True(t, cfg.Redaction.Enabled)
	assert.False(t, cfg.Redaction.RedactEmails)
	assert.Equal(t, []string{"ACT-[A-Z0-9]{6}"}, cfg.Redaction.CustomPatterns)
	assert.Equal(t, "[REDACTED]", cfg.Redaction.Replacement)
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().PluginsDir, cfg.PluginsDir)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"plugin_trigger_prefix": "#",
		"engine": {"bot_type": "chatGPT", "model": "gpt-4o"},
		"admin_users": ["wxid_a"]
	}`), 0o600))

	t.Setenv("GODCMD_ENGINE_MODEL", "gpt-4.1")
	t.Setenv("GODCMD_CLEAR_MEMORY_COMMANDS", "#forget,#wipe")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "#", cfg.PluginTriggerPrefix)
	assert.Equal(t, "chatGPT", cfg.Engine.BotType)
	assert.Equal(t, "gpt-4.1", cfg.Engine.Model)
	assert.Equal(t, []string{"#forget", "#wipe"}, cfg.ClearMemoryCommands)
	assert.Equal(t, []string{"wxid_a"}, cfg.AdminUsers)
}

func TestLoadConfig_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"GODCMD_LOG_LEVEL=debug\nGODCMD_ENGINE_MODEL=from-dotenv\n"), 0o600))
	t.Setenv("GODCMD_ENGINE_MODEL", "from-process")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "from-process", cfg.Engine.Model)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveConfigRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Engine.BotType = "claude"

	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "claude", loaded.Engine.BotType)
}

func TestLoader_AddAdminUserDoesNotMutateSnapshots(t *testing.T) {
	loader := NewStaticLoader(DefaultConfig())
	before := loader.Current()

	loader.AddAdminUser("wxid_a")
	loader.AddAdminUser("wxid_a")

	assert.Empty(t, before.AdminUsers)
	assert.Equal(t, []string{"wxid_a"}, loader.Current().AdminUsers)
}

func TestLoader_ReloadKeepsRuntimeAdmins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"admin_users": ["wxid_file"], "plugin_trigger_prefix": "$"}`), 0o600))

	loader, err := NewLoader(path)
	require.NoError(t, err)
	loader.AddAdminUser("wxid_runtime")

	require.NoError(t, os.WriteFile(path, []byte(`{"admin_users": ["wxid_file"], "plugin_trigger_prefix": "#"}`), 0o600))
	require.NoError(t, loader.Reload())

	cfg := loader.Current()
	assert.Equal(t, "#", cfg.PluginTriggerPrefix)
	assert.ElementsMatch(t, []string{"wxid_file", "wxid_runtime"}, cfg.AdminUsers)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, "data"), expandHome("~/data"))
	assert.Equal(t, home, expandHome("~"))
	assert.Equal(t, "/abs", expandHome("/abs"))
	assert.Equal(t, "", expandHome(""))
}
