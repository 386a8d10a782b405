package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/larroy/fusearch/internal/config"
	"github.com/larroy/fusearch/internal/logging"
	"github.com/larroy/fusearch/internal/ui"
)

// logsOptions holds CLI flags for logs.
type logsOptions struct {
	follow    bool
	lines     int
	level     string
	filter    string
	component string
	file      string
	noColor   bool
}

func newLogsCmd(root *rootOptions) *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View fusearch logs",
		Long: `Show the last lines of the fusearch logs (logging.dir, default
~/.fusearch/logs). Every command writes its own file: index.log,
search.log, daemon.log, serve.log and so on.

Examples:
  fusearch logs                     # last 50 lines of every log
  fusearch logs --component daemon  # only the daemon log
  fusearch logs -f                  # follow the most recent log
  fusearch logs --level warn        # warnings and errors only
  fusearch logs --filter extraction # lines matching a regex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runLogs(ctx, cmd, root, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only lines matching this regex")
	cmd.Flags().StringVar(&opts.component, "component", "", "Log of one command, e.g. daemon or index")
	cmd.Flags().StringVar(&opts.file, "file", "", "Read this log file")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	return cmd
}

func runLogs(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts logsOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	dir := config.ExpandHome(cfg.Logging.Dir)

	explicit := opts.file
	if explicit == "" && opts.component != "" {
		explicit = logging.LogPath(dir, opts.component)
	}
	files, err := logging.FindLogFiles(dir, explicit)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid --filter: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()),
	}, cmd.OutOrStdout())

	for _, f := range files {
		entries, err := viewer.Tail(f, opts.lines)
		if err != nil {
			return err
		}
		if len(files) > 1 {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "==> %s <==\n", f)
		}
		viewer.Print(entries)
	}

	if !opts.follow {
		return nil
	}
	err = viewer.Follow(ctx, newestFile(files), 250*time.Millisecond)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// newestFile returns the most recently modified of files.
func newestFile(files []string) string {
	newest, newestMod := files[0], time.Time{}
	for _, f := range files {
		if info, err := os.Stat(f); err == nil && info.ModTime().After(newestMod) {
			newest, newestMod = f, info.ModTime()
		}
	}
	return newest
}
