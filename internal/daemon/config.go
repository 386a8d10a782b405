// Package daemon runs fusearch in the foreground as a long-lived indexer:
// every configured root is indexed at startup, then again on a fixed
// interval and shortly after its files change. A Unix socket answers
// status and reindex requests from the CLI.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/larroy/fusearch/internal/config"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/scanner"
	"github.com/larroy/fusearch/internal/watcher"
)

// Config holds configuration for the daemon service.
type Config struct {
	// Roots are the absolute directories to keep indexed.
	Roots []string

	// Interval between periodic passes over every root (0 = startup and
	// watch triggers only).
	// Default: 15m
	Interval time.Duration

	// Watch enables fsnotify-triggered re-indexing.
	Watch bool

	// Watcher configures debouncing and the include/exclude rules.
	Watcher watcher.Options

	// PIDPath is the file path for storing the daemon's process ID.
	// Default: ~/.fusearch/fusearchd.pid
	PIDPath string

	// SocketPath is the Unix domain socket path for IPC. Empty disables it.
	// Default: ~/.fusearch/fusearchd.sock
	SocketPath string

	// MetricsAddr serves /metrics when set.
	MetricsAddr string

	// Timeout bounds a single IPC exchange.
	// Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod bounds the metrics server shutdown.
	// Default: 10s
	ShutdownGracePeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults and no roots.
func DefaultConfig() Config {
	dir := config.DataDir()
	return Config{
		Interval:            15 * time.Minute,
		Watch:               true,
		PIDPath:             filepath.Join(dir, "fusearchd.pid"),
		SocketPath:          filepath.Join(dir, "fusearchd.sock"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
	}
}

// FromConfig derives the daemon configuration from the user config.
// skipNames lists the index database files the watcher must ignore.
func FromConfig(cfg *config.Config, roots, skipNames []string) Config {
	d := DefaultConfig()
	d.Roots = roots
	d.Interval = cfg.Daemon.Interval
	d.Watch = cfg.Daemon.Watch
	d.PIDPath = cfg.Daemon.PIDFile
	d.SocketPath = cfg.Daemon.SocketPath
	d.MetricsAddr = cfg.Daemon.MetricsAddr
	d.Watcher = watcher.Options{
		Debounce: cfg.Daemon.Debounce,
		Scan: scanner.ScanOptions{
			IncludeExtensions: cfg.IncludeExtensions,
			ExcludePatterns:   cfg.ExcludePatterns,
			RespectGitignore:  cfg.RespectGitignore,
			SkipNames:         skipNames,
			MaxFileSize:       scanner.NoSizeLimit,
		},
	}
	return d
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	var errs []error
	if len(c.Roots) == 0 {
		errs = append(errs, errors.New("no index roots configured"))
	}
	if c.PIDPath == "" {
		errs = append(errs, errors.New("PID path cannot be empty"))
	}
	if c.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must be non-negative, got %s", c.Interval))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.ShutdownGracePeriod <= 0 {
		errs = append(errs, errors.New("shutdown grace period must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return ferrors.ConfigError("invalid daemon configuration", err).
			WithSuggestion("Set index_dirs or pass directories to `fusearch daemon`")
	}
	return nil
}

// EnsureDir creates the directories for the socket and PID files.
func (c Config) EnsureDir() error {
	pidDir := filepath.Dir(c.PIDPath)
	if err := os.MkdirAll(pidDir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}

	if c.SocketPath != "" {
		if socketDir := filepath.Dir(c.SocketPath); socketDir != pidDir {
			if err := os.MkdirAll(socketDir, 0755); err != nil {
				return fmt.Errorf("failed to create socket directory: %w", err)
			}
		}
	}
	return nil
}
