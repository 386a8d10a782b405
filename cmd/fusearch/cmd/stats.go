package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/larroy/fusearch/internal/config"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/ui"
)

func newStatsCmd(root *rootOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats [dirs...]",
		Short: "Show document and term counts of each index",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, root, args, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, root *rootOptions, args []string, jsonOutput bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	_, cleanup := root.setupLogging(cfg, "stats", true)
	defer cleanup()

	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}

	infos := make([]ui.StatusInfo, 0, len(roots))
	for _, r := range roots {
		infos = append(infos, indexStatus(ctx, cfg, r))
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.IsTTY(cmd.OutOrStdout()) || ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(infos)
	}
	return renderer.Render(infos)
}

// indexStatus reads the statistics of the index of root. A missing or
// unreadable index is reported in the result, not as an error.
func indexStatus(ctx context.Context, cfg *config.Config, root string) ui.StatusInfo {
	path := store.PathFor(root, cfg.DBName)
	info := ui.StatusInfo{Root: root, Path: path, Status: "ok"}

	if !fileExists(path) {
		info.Status = "missing"
		return info
	}

	st, err := store.Open(ctx, path, store.Options{ReadOnly: true})
	if err != nil {
		info.Status = "error"
		info.Error = errorSummary(err)
		return info
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Stats(ctx)
	if err != nil {
		info.Status = "error"
		info.Error = errorSummary(err)
		return info
	}
	info.Documents = stats.Documents
	info.Terms = stats.Terms
	info.Postings = stats.Postings
	info.SizeBytes = stats.SizeBytes
	info.LastIndexed = stats.LastIndexed
	return info
}
