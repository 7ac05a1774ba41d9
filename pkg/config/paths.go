package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvGodcmdConfig = "GODCMD_CONFIG"
	EnvGodcmdHome   = "GODCMD_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
}

func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvGodcmdConfig))); configPath != "" {
		return RuntimePaths{HomeDir: filepath.Dir(configPath), ConfigPath: configPath}
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvGodcmdHome)))
	if homeDir == "" {
		homeDir = defaultGodcmdHome()
	}

	return RuntimePaths{HomeDir: homeDir, ConfigPath: filepath.Join(homeDir, "config.json")}
}

func defaultGodcmdHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".godcmd"
	}
	return filepath.Join(home, ".godcmd")
}
