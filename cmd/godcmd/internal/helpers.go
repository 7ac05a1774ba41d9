package internal

import (
	"fmt"
	"runtime"

	"github.com/sipeed/godcmd/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

// GetConfigPath honours GODCMD_CONFIG and GODCMD_HOME, falling back to
// ~/.godcmd/config.json.
func GetConfigPath() string {
	return config.ResolveRuntimePaths().ConfigPath
}

func LoadConfig() (*config.Config, error) {
	return config.LoadConfig(GetConfigPath())
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}
