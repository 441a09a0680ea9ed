package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "drivebridge"

// File and directory names inside the application directories.
const (
	configFileName  = "config.toml"
	tokenFileName   = "token.json"
	journalFileName = "journal.db"
	spoolDirName    = "spool"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/drivebridge).
// On macOS, uses ~/Library/Application Support/drivebridge.
func DefaultConfigDir() string {
	return platformDir(linuxConfigDir, filepath.Join("Library", "Application Support"), ".config")
}

// DefaultDataDir returns the platform-specific directory for application
// data (tokens, the journal database).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/drivebridge).
// On macOS config and data share ~/Library/Application Support/drivebridge.
func DefaultDataDir() string {
	return platformDir(linuxDataDir, filepath.Join("Library", "Application Support"), filepath.Join(".local", "share"))
}

// DefaultCacheDir returns the platform-specific directory for disposable
// files such as spooled transfer content.
// On Linux, respects XDG_CACHE_HOME (defaults to ~/.cache/drivebridge).
func DefaultCacheDir() string {
	return platformDir(linuxCacheDir, filepath.Join("Library", "Caches"), ".cache")
}

// platformDir picks the Linux resolver, the macOS home-relative directory,
// or the generic home-relative fallback.
func platformDir(linux func(home string) string, darwin, fallback string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return linux(home)
	case platformDarwin:
		return filepath.Join(home, darwin, appName)
	default:
		return filepath.Join(home, fallback, appName)
	}
}

func linuxConfigDir(home string) string {
	return xdgDir("XDG_CONFIG_HOME", home, ".config")
}

func linuxDataDir(home string) string {
	return xdgDir("XDG_DATA_HOME", home, filepath.Join(".local", "share"))
}

func linuxCacheDir(home string) string {
	return xdgDir("XDG_CACHE_HOME", home, ".cache")
}

func xdgDir(envVar, home, fallback string) string {
	if xdg := os.Getenv(envVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither DRIVEBRIDGE_CONFIG nor --config is given.
func DefaultConfigPath() string {
	return inDir(DefaultConfigDir(), configFileName)
}

// DefaultTokenPath returns where the file token store keeps the token.
func DefaultTokenPath() string {
	return inDir(DefaultDataDir(), tokenFileName)
}

// DefaultJournalPath returns where the journal database lives.
func DefaultJournalPath() string {
	return inDir(DefaultDataDir(), journalFileName)
}

func inDir(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
