// Package cmd provides the CLI commands for fusearch.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/larroy/fusearch/internal/config"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/index"
	"github.com/larroy/fusearch/internal/logging"
	"github.com/larroy/fusearch/internal/metrics"
	"github.com/larroy/fusearch/internal/profiling"
	"github.com/larroy/fusearch/internal/tokenize"
	"github.com/larroy/fusearch/internal/ui"
	"github.com/larroy/fusearch/pkg/searcher"
	"github.com/larroy/fusearch/pkg/version"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	debug      bool
	profile    profiling.Options
	profiler   *profiling.Session
}

// NewRootCmd creates the root command for the fusearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fusearch",
		Short: "Local full-text search over your directories",
		Long: `fusearch indexes the text files of one or more directories into a
SQLite inverted index kept next to them, and ranks documents for
free-text queries with TF-IDF.

Indexing is incremental: only files modified since the last run are
read again. Run 'fusearch daemon' to keep the indexes fresh.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("fusearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default $XDG_CONFIG_HOME/fusearch/config.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Log at debug level and copy logs to stderr")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write a CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write a heap profile to file on exit")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write an execution trace to file")
	_ = cmd.PersistentFlags().MarkHidden("profile-trace")

	cmd.PersistentPreRunE = opts.startProfiling
	cmd.PersistentPostRunE = opts.stopProfiling

	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newDaemonCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newLogsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a failure to stderr.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), ferrors.FormatForCLI(err))
		return err
	}
	return nil
}

func (o *rootOptions) startProfiling(_ *cobra.Command, _ []string) error {
	if !o.profile.Enabled() {
		return nil
	}
	session, err := profiling.Start(o.profile)
	if err != nil {
		return ferrors.InternalError("failed to start profiling", err)
	}
	o.profiler = session
	return nil
}

func (o *rootOptions) stopProfiling(_ *cobra.Command, _ []string) error {
	err := o.profiler.Stop()
	o.profiler = nil
	if err != nil {
		return ferrors.InternalError("failed to write profiles", err)
	}
	return nil
}

// loadConfig loads the configuration honoring --config.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.configPath)
}

// setupLogging installs the JSON file logger of command name as the
// default logger. stderr gets a copy only with --debug and when allowed.
func (o *rootOptions) setupLogging(cfg *config.Config, name string, allowStderr bool) (*slog.Logger, func()) {
	level := cfg.Logging.Level
	if o.debug {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:     level,
		FilePath:  logging.LogPath(config.ExpandHome(cfg.Logging.Dir), name),
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
		Stderr:    o.debug && allowStderr,
	})
	if err != nil {
		// An unwritable log directory must not block searching.
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		cleanup = func() {}
	}
	slog.SetDefault(logger)
	return logger, cleanup
}

// resolveRoots returns args when given, otherwise the configured index_dirs.
func resolveRoots(cfg *config.Config, args []string) ([]string, error) {
	var (
		roots []string
		err   error
	)
	if len(args) > 0 {
		roots, err = config.ResolveRoots(args)
	} else {
		roots, err = cfg.Roots()
	}
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, ferrors.ValidationError("no directories to index", nil).
			WithSuggestion("pass directories or set index_dirs in the config ('fusearch config init')")
	}
	return roots, nil
}

// newTokenizer returns the configured tokenizer.
func newTokenizer(cfg *config.Config) (tokenize.Tokenizer, error) {
	return tokenize.New(cfg.Tokenizer)
}

// newPipeline builds the indexing pipeline from cfg.
func newPipeline(cfg *config.Config, renderer ui.Renderer, m *metrics.Metrics, logger *slog.Logger) (*index.Pipeline, error) {
	tok, err := newTokenizer(cfg)
	if err != nil {
		return nil, err
	}
	return index.NewPipeline(index.PipelineDependencies{
		Tokenizer: tok,
		Renderer:  renderer,
		Metrics:   m,
		Logger:    logger,
	}, index.PipelineConfig{
		IncludeExtensions: cfg.IncludeExtensions,
		ExcludePatterns:   cfg.ExcludePatterns,
		RespectGitignore:  cfg.RespectGitignore,
		DBName:            cfg.DBName,
		Parallel:          cfg.ParallelExtraction,
		Workers:           cfg.Workers,
		ExtractionTimeout: cfg.ExtractionTimeout,
		MaxFileSize:       cfg.MaxFileSize,
	})
}

// openSearcher opens the indexes of roots for querying.
func openSearcher(ctx context.Context, cfg *config.Config, roots []string, logger *slog.Logger, m *metrics.Metrics) (*searcher.MultiSearcher, error) {
	tok, err := newTokenizer(cfg)
	if err != nil {
		return nil, err
	}
	opts := []searcher.Option{
		searcher.WithTokenizer(tok),
		searcher.WithDBName(cfg.DBName),
		searcher.WithLogger(logger),
	}
	if m != nil {
		opts = append(opts, searcher.WithObserver(m.ObserveSearch))
	}
	return searcher.Open(ctx, roots, opts...)
}

// fileExists reports whether path exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
