// Package ui renders indexing progress and index status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of an indexing run.
type Stage int

const (
	// StageDiscovering lists files and compares mtimes with the index.
	StageDiscovering Stage = iota
	// StageExtracting extracts and tokenizes stale files.
	StageExtracting
	// StageWriting drains built documents into the store.
	StageWriting
	// StageComplete indicates the run is finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageDiscovering:
		return "Discovering"
	case StageExtracting:
		return "Extracting"
	case StageWriting:
		return "Writing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage label for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageDiscovering:
		return "SCAN"
	case StageExtracting:
		return "EXTRACT"
	case StageWriting:
		return "WRITE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent represents a per-file failure. Warnings do not stop the run.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished run.
type CompletionStats struct {
	Root               string
	Discovered         int
	Stale              int
	Indexed            int
	Unchanged          int
	ExtractionFailures int
	WriteFailures      int
	Documents          int
	Duration           time.Duration
}

// Renderer displays progress of an indexing run. Implementations must be
// safe for concurrent use and must never block the caller for long.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Verbose    bool   // Plain mode prints every file, not just stage changes
	Root       string // Index root shown in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithVerbose prints one line per processed file in plain mode.
func WithVerbose(verbose bool) ConfigOption {
	return func(c *Config) {
		c.Verbose = verbose
	}
}

// WithRoot sets the index root displayed in the header.
func WithRoot(root string) ConfigOption {
	return func(c *Config) {
		c.Root = root
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for pipes, CI, verbose output, or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || cfg.Verbose || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// Discard is a Renderer that drops every event. The daemon uses it for
// background runs.
type Discard struct{}

func (Discard) Start(context.Context) error  { return nil }
func (Discard) UpdateProgress(ProgressEvent) {}
func (Discard) AddError(ErrorEvent)          {}
func (Discard) Complete(CompletionStats)     {}
func (Discard) Stop() error                  { return nil }

var _ Renderer = Discard{}
