// Package paths provides XDG-compliant path resolution for trail.
//
// Resolution order:
// 1. TRAIL_HOME (portable root) → $TRAIL_HOME/{config,data,state,run}
// 2. XDG env vars → $XDG_*_HOME/trail
// 3. Platform defaults → ~/.config/trail, ~/.local/share/trail, etc.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "trail"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("TRAIL_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getDataHome returns the base data home directory.
func getDataHome() string {
	if home := os.Getenv("TRAIL_HOME"); home != "" {
		return filepath.Join(home, "data")
	}
	if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return xdgDataHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "share")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("TRAIL_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the trail configuration directory.
// Used for the global trail.yml.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// DataDir returns the trail data directory.
// Used for the snapshot database.
func DataDir() string {
	base := getDataHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// StateDir returns the trail state directory.
// Used for the pid file and logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// LogsDir returns the directory daemon and CLI log files are written to.
func LogsDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// RuntimeDir returns the trail runtime directory for sockets.
// Uses XDG_RUNTIME_DIR when available (Linux), falls back to StateDir (macOS).
func RuntimeDir() string {
	if home := os.Getenv("TRAIL_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return StateDir()
}

// SocketPath returns the path to the trail daemon unix socket.
func SocketPath() string {
	return filepath.Join(RuntimeDir(), "traild.sock")
}

// PidFilePath returns the path to the trail daemon PID file.
func PidFilePath() string {
	return filepath.Join(StateDir(), "traild.pid")
}

// DatabasePath returns the default location of the snapshot database.
func DatabasePath() string {
	return filepath.Join(DataDir(), "trail.db")
}

// EnsureDirs creates all trail directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		DataDir(),
		StateDir(),
		LogsDir(),
		RuntimeDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
