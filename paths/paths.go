// Package paths provides centralized path resolution for the greeter's
// configuration, state and log files.
//
// The greeter follows the XDG Base Directory Specification:
//
//   - Config (XDG_CONFIG_HOME): config.yaml (operator settings)
//   - State (XDG_STATE_HOME): state.json, logs/ (last selection and logs)
//
// Resolution order:
//  1. If XDG env vars are set → use them (unset ones fall back to the
//     defaults under the home directory)
//  2. If a home directory is available → ~/.config/greeter and
//     ~/.local/state/greeter
//  3. No usable home (greeter system users often have none) → /etc/greeter
//     and /var/lib/greeter
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "greeter"

// System-wide fallbacks used when neither XDG variables nor a home
// directory are available.
const (
	SystemConfigDir = "/etc/greeter"
	SystemStateDir  = "/var/lib/greeter"
)

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	stateDir  string
	system    bool
}

// resolve computes the path layout once and caches it.
func resolve() *resolvedPaths {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	home, err := os.UserHomeDir()
	if err != nil || home == "" || home == "/" {
		home = ""
	}

	if home == "" && xdgConfig == "" && xdgState == "" {
		resolved = &resolvedPaths{
			configDir: SystemConfigDir,
			stateDir:  SystemStateDir,
			system:    true,
		}
		return resolved
	}

	configDir := SystemConfigDir
	if xdgConfig != "" {
		configDir = filepath.Join(xdgConfig, appName)
	} else if home != "" {
		configDir = filepath.Join(home, ".config", appName)
	}

	stateDir := SystemStateDir
	if xdgState != "" {
		stateDir = filepath.Join(xdgState, appName)
	} else if home != "" {
		stateDir = filepath.Join(home, ".local", "state", appName)
	}

	resolved = &resolvedPaths{
		configDir: configDir,
		stateDir:  stateDir,
	}
	return resolved
}

// ConfigDir returns the directory holding config.yaml.
func ConfigDir() string {
	return resolve().configDir
}

// StateDir returns the directory for runtime state and logs.
func StateDir() string {
	return resolve().stateDir
}

// ConfigFilePath returns the full path to config.yaml.
func ConfigFilePath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StateFilePath returns the full path to the persisted last selection.
func StateFilePath() string {
	return filepath.Join(StateDir(), "state.json")
}

// LogsDir returns the directory for log files. GREETER_LOG_DIR wins over
// the state directory so packagers can point logs at a tmpfs.
func LogsDir() string {
	if dir := os.Getenv("GREETER_LOG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(StateDir(), "logs")
}

// IsSystemLayout reports whether the system-wide fallback directories are in use.
func IsSystemLayout() bool {
	return resolve().system
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
