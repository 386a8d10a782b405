package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/output"
	"github.com/larroy/fusearch/pkg/searcher"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit      int
	jsonOutput bool
	dirs       []string
}

// searchJSON is the --json document.
type searchJSON struct {
	Query   string            `json:"query"`
	Results []searcher.Result `json:"results"`
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank indexed documents for a free-text query",
		Long: `Search the indexes of the configured index_dirs (or --dir) and print
matching documents by descending TF-IDF score. Equal scores are ordered
by path.

Examples:
  fusearch search "quarterly report"
  fusearch search kubernetes --limit 5
  fusearch search "error budget" --dir ~/notes --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				opts.limit = -1
			}
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum number of results, 0 for all (default search.limit)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().StringSliceVarP(&opts.dirs, "dir", "d", nil, "Search these directories instead of index_dirs (repeatable)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := root.setupLogging(cfg, "search", true)
	defer cleanup()

	if strings.TrimSpace(query) == "" {
		return ferrors.ValidationError("query cannot be empty", nil)
	}
	limit := opts.limit
	if limit < 0 {
		limit = cfg.Search.Limit
	}

	roots, err := resolveRoots(cfg, opts.dirs)
	if err != nil {
		return err
	}

	m, err := openSearcher(ctx, cfg, roots, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	start := time.Now()
	results, err := m.Search(ctx, query, limit)
	if err != nil {
		return err
	}
	logger.Info("search_complete",
		slog.String("query", query),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(searchJSON{Query: query, Results: results})
	}

	if len(results) == 0 {
		output.New(cmd.ErrOrStderr()).Warningf("No results for %q", query)
		return nil
	}
	out := output.New(cmd.OutOrStdout())
	for i, r := range results {
		out.Hit(i+1, r.Score, r.URL)
	}
	return nil
}
