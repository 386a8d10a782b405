package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultLogDir returns ~/.fusearch/logs, or a temp directory when the home
// directory is unknown.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fusearch", "logs")
	}
	return filepath.Join(home, ".fusearch", "logs")
}

// LogPath returns the log file of the named component inside dir.
func LogPath(dir, name string) string {
	return filepath.Join(dir, name+".log")
}

// FindLogFiles returns the current (unrotated) log files in dir, sorted by
// name. An explicit path is returned as is when it exists.
func FindLogFiles(dir, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("log file not found: %s", explicit)
		}
		return []string{explicit}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("no log files found in %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no log files found in %s; run a fusearch command first", dir)
	}
	sort.Strings(paths)
	return paths, nil
}
