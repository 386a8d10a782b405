// Package config loads fusearch configuration from YAML files and the
// environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/larroy/fusearch/configs"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/tokenize"
)

// Config represents the complete fusearch configuration.
type Config struct {
	// IndexDirs are the roots indexed when no directory is given. Each root
	// keeps its own index database.
	IndexDirs []string `yaml:"index_dirs" json:"index_dirs"`

	// IncludeExtensions admits files by extension. Empty admits every file.
	IncludeExtensions []string `yaml:"include_extensions" json:"include_extensions"`

	// ExcludePatterns are extra directory or file patterns to skip.
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`

	// RespectGitignore skips files ignored by .gitignore files in a root.
	RespectGitignore bool `yaml:"respect_gitignore" json:"respect_gitignore"`

	// Verbose prints every progress event instead of stage changes.
	Verbose bool `yaml:"verbose" json:"verbose"`

	// ParallelExtraction runs extraction on a worker pool.
	ParallelExtraction bool `yaml:"parallel_extraction" json:"parallel_extraction"`

	// Tokenizer selects the tokenization strategy. Indexing and searching
	// must use the same one.
	Tokenizer string `yaml:"tokenizer" json:"tokenizer"`

	// DBName is the index file created inside each root.
	DBName string `yaml:"db_name" json:"db_name"`

	Workers           int           `yaml:"workers" json:"workers"`
	ExtractionTimeout time.Duration `yaml:"extraction_timeout" json:"extraction_timeout"`
	MaxFileSize       int64         `yaml:"max_file_size" json:"max_file_size"`

	Search  SearchConfig  `yaml:"search" json:"search"`
	Daemon  DaemonConfig  `yaml:"daemon" json:"daemon"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SearchConfig configures query output.
type SearchConfig struct {
	// Limit caps the number of results printed (0 = unlimited).
	Limit int `yaml:"limit" json:"limit"`
}

// DaemonConfig configures `fusearch daemon`.
type DaemonConfig struct {
	// Interval between periodic re-index passes.
	Interval time.Duration `yaml:"interval" json:"interval"`

	// PIDFile guards against a second daemon (default ~/.fusearch/fusearchd.pid).
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// SocketPath is the Unix socket answering `fusearch daemon status`
	// (default ~/.fusearch/fusearchd.sock). Empty disables it.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	// MetricsAddr serves Prometheus metrics when set, e.g. "127.0.0.1:9464".
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// Watch re-indexes a root shortly after its files change.
	Watch bool `yaml:"watch" json:"watch"`

	// Debounce coalesces bursts of file events.
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	Dir       string `yaml:"dir" json:"dir"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultIncludeExtensions are the text formats the plain text extractor
// reads well, plus PDF, read through pdftotext.
var defaultIncludeExtensions = []string{
	".txt", ".md", ".markdown", ".rst", ".org", ".tex",
	".csv", ".tsv", ".log", ".json", ".yaml", ".yml", ".toml",
	".html", ".htm", ".xml", ".pdf",
}

// NewConfig returns a Config with defaults applied.
func NewConfig() *Config {
	return &Config{
		IndexDirs:          []string{},
		IncludeExtensions:  append([]string(nil), defaultIncludeExtensions...),
		ExcludePatterns:    []string{},
		RespectGitignore:   false,
		Verbose:            false,
		ParallelExtraction: true,
		Tokenizer:          string(tokenize.DefaultStrategy),
		DBName:             ".fusearch.db",
		Workers:            runtime.NumCPU(),
		ExtractionTimeout:  30 * time.Second,
		MaxFileSize:        10 * 1024 * 1024,
		Search: SearchConfig{
			Limit: 20,
		},
		Daemon: DaemonConfig{
			Interval:    15 * time.Minute,
			PIDFile:     filepath.Join(DataDir(), "fusearchd.pid"),
			SocketPath:  filepath.Join(DataDir(), "fusearchd.sock"),
			MetricsAddr: "",
			Watch:       true,
			Debounce:    2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Dir:       filepath.Join(DataDir(), "logs"),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// DataDir returns ~/.fusearch, where logs and the daemon pid file live.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".fusearch")
	}
	return filepath.Join(home, ".fusearch")
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/fusearch/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/fusearch/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fusearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fusearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "fusearch", "config.yaml")
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration. Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/fusearch/config.yaml)
//  3. The explicit file at path, when path is not empty
//  4. Environment variables (FUSEARCH_*)
//
// A missing explicit file is ERR_101_CONFIG_NOT_FOUND; unparsable or
// invalid settings are ERR_102_CONFIG_INVALID.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if !fileExists(path) {
			return nil, ferrors.New(ferrors.ErrCodeConfigNotFound, "config file not found", nil).
				WithDetail("path", path).
				WithSuggestion("run 'fusearch config init' to create one")
		}
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path over c. Keys absent from the file keep their
// current values, so explicit false and zero settings are honored.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ferrors.ConfigError("failed to read config file", err).WithDetail("path", path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return ferrors.ConfigError("failed to parse config file", err).WithDetail("path", path)
	}
	return nil
}

// applyEnvOverrides applies FUSEARCH_* environment variable overrides.
// Malformed values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FUSEARCH_INDEX_DIRS"); v != "" {
		c.IndexDirs = filepath.SplitList(v)
	}
	if v := os.Getenv("FUSEARCH_INCLUDE_EXTENSIONS"); v != "" {
		c.IncludeExtensions = splitList(v)
	}
	if v := os.Getenv("FUSEARCH_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
	if v := os.Getenv("FUSEARCH_PARALLEL_EXTRACTION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ParallelExtraction = b
		}
	}
	if v := os.Getenv("FUSEARCH_RESPECT_GITIGNORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.RespectGitignore = b
		}
	}
	if v := os.Getenv("FUSEARCH_TOKENIZER"); v != "" {
		c.Tokenizer = v
	}
	if v := os.Getenv("FUSEARCH_DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("FUSEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
	if v := os.Getenv("FUSEARCH_EXTRACTION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ExtractionTimeout = d
		}
	}
	if v := os.Getenv("FUSEARCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FUSEARCH_METRICS_ADDR"); v != "" {
		c.Daemon.MetricsAddr = v
	}
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration. Errors carry ERR_102_CONFIG_INVALID
// and name the offending key.
func (c *Config) Validate() error {
	var errs []error

	if _, err := tokenize.New(c.Tokenizer); err != nil {
		errs = append(errs, fmt.Errorf("tokenizer: %w", err))
	}
	if c.DBName == "" || strings.ContainsAny(c.DBName, `/\`) {
		errs = append(errs, fmt.Errorf("db_name must be a plain file name, got %q", c.DBName))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", c.Workers))
	}
	if c.ExtractionTimeout < 0 {
		errs = append(errs, fmt.Errorf("extraction_timeout must be non-negative, got %s", c.ExtractionTimeout))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("max_file_size must be non-negative, got %d", c.MaxFileSize))
	}
	if c.Search.Limit < 0 {
		errs = append(errs, fmt.Errorf("search.limit must be non-negative, got %d", c.Search.Limit))
	}
	if c.Daemon.Interval < 0 {
		errs = append(errs, fmt.Errorf("daemon.interval must be non-negative, got %s", c.Daemon.Interval))
	}
	if c.Daemon.Debounce < 0 {
		errs = append(errs, fmt.Errorf("daemon.debounce must be non-negative, got %s", c.Daemon.Debounce))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level))
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		errs = append(errs, fmt.Errorf("logging.max_size_mb and logging.max_files must be non-negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return ferrors.ConfigError("invalid configuration", errors.Join(errs...))
}

// Roots returns the configured index directories as absolute, cleaned,
// de-duplicated paths. A leading "~" expands to the home directory.
func (c *Config) Roots() ([]string, error) {
	return ResolveRoots(c.IndexDirs)
}

// ResolveRoots expands, absolutizes and de-duplicates dirs, keeping order.
func ResolveRoots(dirs []string) ([]string, error) {
	seen := make(map[string]bool, len(dirs))
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(ExpandHome(dir))
		if err != nil {
			return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index directory", err).WithDetail("dir", dir)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		roots = append(roots, abs)
	}
	return roots, nil
}

// ExpandHome replaces a leading "~" with the home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// WriteYAML writes the configuration to a YAML file, creating the parent
// directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var userTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"quote": strconv.Quote,
	"join": func(items []string) string {
		quoted := make([]string, len(items))
		for i, item := range items {
			quoted[i] = strconv.Quote(item)
		}
		return strings.Join(quoted, ", ")
	},
}).Parse(configs.UserConfigTemplate))

// RenderTemplate returns c as the commented user config file.
func (c *Config) RenderTemplate() ([]byte, error) {
	var buf bytes.Buffer
	if err := userTemplate.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("failed to render config template: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTemplate writes c through the commented template, creating the
// parent directory.
func (c *Config) WriteTemplate(path string) error {
	data, err := c.RenderTemplate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
