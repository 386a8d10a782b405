package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/larroy/fusearch/internal/daemon"
	"github.com/larroy/fusearch/internal/mcp"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var dirs []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search to AI clients over MCP (stdio)",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
'search' and 'index_status' tools over the indexes of index_dirs.

stdout carries the protocol exclusively; logs go to the log file. The
indexes are opened read-only, so 'fusearch index' or the daemon can
update them while the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, root, dirs)
		},
	}

	cmd.Flags().StringSliceVarP(&dirs, "dir", "d", nil, "Serve these directories instead of index_dirs (repeatable)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootOptions, dirs []string) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	// Never stderr: some clients merge it into the protocol stream.
	logger, cleanup := root.setupLogging(cfg, "serve", false)
	defer cleanup()

	if err := verifyStdinForMCP(); err != nil {
		logger.Warn("serve_stdin_terminal", slog.String("error", err.Error()))
		_, _ = io.WriteString(cmd.ErrOrStderr(), "Warning: "+err.Error()+"\n")
	}

	roots, err := resolveRoots(cfg, dirs)
	if err != nil {
		return err
	}
	m, err := openSearcher(ctx, cfg, roots, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	var sources []mcp.StatsSource
	for _, rs := range m.RootSearchers() {
		sources = append(sources, rs)
	}

	srv, err := mcp.NewServer(m, sources, cfg,
		mcp.WithLogger(logger),
		mcp.WithDaemonStatus(daemon.NewClient(daemon.FromConfig(cfg, nil, nil))))
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// verifyStdinForMCP returns an error when stdin is an interactive
// terminal, where no MCP client can be attached.
func verifyStdinForMCP() error {
	fd := os.Stdin.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return errors.New("stdin is a terminal; 'fusearch serve' expects an MCP client on a pipe")
	}
	return nil
}
