package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile-specific directory under base.
func Dir(base, profile string) string {
	return filepath.Join(base, "profiles", profile)
}

// ArchivePath returns the sqlite archive path for a profile.
func ArchivePath(base, profile string) string {
	return filepath.Join(Dir(base, profile), "archive.db")
}

// LogDir returns the log directory for a profile.
func LogDir(base, profile string) string {
	return filepath.Join(Dir(base, profile), "logs")
}

// LogPath returns the daemon log file path for a profile.
func LogPath(base, profile string) string {
	return filepath.Join(LogDir(base, profile), "chatsyncd.log")
}

// ConfigPath returns the global config file path under base.
func ConfigPath(base string) string {
	return filepath.Join(base, "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only
// permissions.
func EnsureDir(base, profile string) error {
	dirs := []string{
		Dir(base, profile),
		LogDir(base, profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
