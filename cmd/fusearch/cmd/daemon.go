package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/larroy/fusearch/internal/config"
	"github.com/larroy/fusearch/internal/daemon"
	"github.com/larroy/fusearch/internal/index"
	"github.com/larroy/fusearch/internal/logging"
	"github.com/larroy/fusearch/internal/metrics"
	"github.com/larroy/fusearch/internal/output"
	"github.com/larroy/fusearch/internal/ui"
)

func newDaemonCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon [dirs...]",
		Short: "Keep the indexes up to date in the foreground",
		Long: `Run in the foreground and keep the indexes of the given directories
(or index_dirs) fresh: index them at startup, every daemon.interval,
shortly after files change (daemon.watch), and on 'fusearch daemon
reindex'.

A pid file lock (daemon.pid_file) prevents a second daemon. When
daemon.metrics_addr is set, Prometheus metrics are served on /metrics.

Stop it with Ctrl+C, SIGTERM or 'fusearch daemon stop'.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cmd, root, args)
		},
	}

	cmd.AddCommand(newDaemonStatusCmd(root))
	cmd.AddCommand(newDaemonReindexCmd(root))
	cmd.AddCommand(newDaemonStopCmd(root))

	return cmd
}

func newDaemonStatusCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStatus(cmd.Context(), cmd, root, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDaemonReindexCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [dir]",
		Short: "Ask the running daemon to re-index now",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runDaemonReindex(cmd.Context(), cmd, root, dir)
		},
	}
}

func newDaemonStopCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemonStop(cmd, root)
		},
	}
}

func runDaemon(ctx context.Context, cmd *cobra.Command, root *rootOptions, args []string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := root.setupLogging(cfg, "daemon", true)
	defer cleanup()

	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}

	m := metrics.New()
	pipeline, err := newPipeline(cfg, ui.Discard{}, m, logger)
	if err != nil {
		return err
	}

	dcfg := daemon.FromConfig(cfg, roots, pipeline.SkipNames())
	d, err := daemon.New(dcfg, index.NewCoordinator(pipeline),
		daemon.WithMetrics(m),
		daemon.WithLogger(logger))
	if err != nil {
		return err
	}

	out := output.New(cmd.ErrOrStderr())
	out.Statusf("*", "fusearch daemon (pid %d) maintaining %d director%s", os.Getpid(), len(d.Roots()), plural(len(d.Roots()), "y", "ies"))
	for _, r := range d.Roots() {
		out.Status("", r)
	}
	out.Statusf("", "Logs: %s", logging.LogPath(config.ExpandHome(cfg.Logging.Dir), "daemon"))
	if dcfg.MetricsAddr != "" {
		out.Statusf("", "Metrics: http://%s/metrics", dcfg.MetricsAddr)
	}
	out.Status("", "Press Ctrl+C to stop")

	if err := d.Run(ctx); err != nil {
		logger.Error("daemon_failed", slog.String("error", err.Error()))
		return err
	}
	out.Successf("Daemon stopped after %d passes", d.Passes())
	return nil
}

func runDaemonStatus(ctx context.Context, cmd *cobra.Command, root *rootOptions, jsonOutput bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	dcfg := daemon.FromConfig(cfg, nil, nil)
	client := daemon.NewClient(dcfg)
	out := output.New(cmd.OutOrStdout())

	if !client.IsRunning() {
		if jsonOutput {
			return writeJSON(cmd, daemon.StatusResult{Running: false})
		}
		out.Status("", "Daemon is not running")
		out.Status("", "Run 'fusearch daemon' to start it")
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if jsonOutput {
		return writeJSON(cmd, status)
	}

	out.Header("Daemon is running")
	out.Field("PID", 9, status.PID)
	out.Field("Uptime", 9, status.Uptime)
	out.Field("Watching", 9, status.Watching)
	out.Field("Interval", 9, status.Interval)
	out.Field("Socket", 9, dcfg.SocketPath)
	for _, r := range status.Roots {
		out.Newline()
		state := "idle"
		if r.Indexing {
			state = "indexing"
		}
		out.Statusf("", "%s (%s)", r.Root, state)
		if r.LastRun == nil {
			continue
		}
		out.Statusf("", "  last run %s ago: %d documents, %d indexed, %d unreadable, took %s",
			time.Since(r.LastRun.StartedAt).Round(time.Second), r.LastRun.Documents, r.LastRun.Indexed,
			r.LastRun.ExtractionFailures, r.LastRun.Duration)
	}
	return nil
}

func runDaemonReindex(ctx context.Context, cmd *cobra.Command, root *rootOptions, dir string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	client := daemon.NewClient(daemon.FromConfig(cfg, nil, nil))
	if !client.IsRunning() {
		return fmt.Errorf("daemon is not running; run 'fusearch index' instead")
	}

	if dir != "" {
		resolved, err := config.ResolveRoots([]string{dir})
		if err != nil {
			return err
		}
		dir = resolved[0]
	}

	queued, err := client.Reindex(ctx, dir)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	for _, r := range queued {
		out.Successf("Queued %s", r)
	}
	return nil
}

func runDaemonStop(cmd *cobra.Command, root *rootOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	pidFile := daemon.NewPIDFile(cfg.Daemon.PIDFile)

	if !pidFile.IsRunning() {
		out.Status("", "Daemon is not running")
		return nil
	}
	pid, err := pidFile.Read()
	if err != nil {
		return fmt.Errorf("failed to read PID: %w", err)
	}

	if err := pidFile.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	for range 50 {
		time.Sleep(100 * time.Millisecond)
		if !pidFile.IsRunning() {
			out.Successf("Daemon stopped (was pid: %d)", pid)
			return nil
		}
	}
	return fmt.Errorf("daemon (pid %d) did not stop within 5s", pid)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
