package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDirEnv overrides the default data directory.
const DataDirEnv = "TOWL_DATA_DIR"

// DefaultDataDir picks the data directory when none is configured:
// $TOWL_DATA_DIR, then $XDG_DATA_HOME/towl, then the platform location
// (/var/lib/towl when writable on Unix, Application Support on macOS,
// %LOCALAPPDATA% on Windows), then ~/.towl and finally ./data.
func DefaultDataDir() string {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "towl")
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		if home != "" {
			return filepath.Join(home, "Library", "Application Support", "towl")
		}
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "towl")
		}
	default:
		if writableDir("/var/lib") {
			return "/var/lib/towl"
		}
	}
	if home != "" {
		return filepath.Join(home, ".towl")
	}
	return "./data"
}

// writableDir reports whether dir exists and a file can be created in it.
func writableDir(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".towl-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
