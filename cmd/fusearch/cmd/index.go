package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/index"
	"github.com/larroy/fusearch/internal/output"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/ui"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	plain   bool
	verbose bool
	force   bool
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [dirs...]",
		Short: "Bring the index of each directory up to date",
		Long: `Index the given directories, or the configured index_dirs when none
are given. Each directory keeps its own index file (db_name, default
.fusearch.db) at its top level.

Only files modified since the last run are read. Files that cannot be
read are recorded empty and skipped until they change.

Use --force to delete the index and rebuild it from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, root, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print every file (implies --no-tui)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete the existing index before indexing")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root *rootOptions, args []string, opts indexOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := root.setupLogging(cfg, "index", false)
	defer cleanup()

	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}
	out := output.New(cmd.ErrOrStderr())

	var errs []error
	for _, r := range roots {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if opts.force {
			if err := removeIndex(r, cfg.DBName); err != nil {
				errs = append(errs, err)
				continue
			}
			logger.Info("index_force_clear", slog.String("root", r))
		}

		renderer := ui.NewRenderer(ui.NewConfig(cmd.ErrOrStderr(),
			ui.WithForcePlain(opts.plain),
			ui.WithVerbose(opts.verbose || cfg.Verbose),
			ui.WithNoColor(ui.DetectNoColor()),
			ui.WithRoot(r),
		))
		pipeline, err := newPipeline(cfg, renderer, nil, logger)
		if err != nil {
			return err
		}

		result, err := index.NewCoordinator(pipeline).IndexRoot(ctx, r)
		if err != nil {
			out.Errorf("%s: %s", r, errorSummary(err))
			errs = append(errs, err)
			continue
		}
		if result.ExtractionFailures+result.WriteFailures > 0 {
			out.Warningf("%s: %d files could not be read, %d could not be written (see 'fusearch logs')",
				r, result.ExtractionFailures, result.WriteFailures)
		}
	}
	return errors.Join(errs...)
}

// removeIndex deletes the index of root together with its SQLite sidecars.
func removeIndex(root, dbName string) error {
	path := store.PathFor(root, dbName)
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ferrors.New(ferrors.ErrCodeWriteFailed, "failed to remove index", err).WithDetail("path", p)
		}
	}
	return nil
}

// errorSummary is the one-line form of err.
func errorSummary(err error) string {
	if fe, ok := ferrors.As(err); ok {
		if fe.Cause != nil {
			return fmt.Sprintf("%s: %v", fe.Message, fe.Cause)
		}
		return fe.Message
	}
	return err.Error()
}
