package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/output"
	"github.com/larroy/fusearch/internal/store"
)

// maxListedIssues bounds the inconsistencies printed per index.
const maxListedIssues = 20

func newCheckCmd(root *rootOptions) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check [dirs...]",
		Short: "Verify that each index is internally consistent",
		Long: `Verify that every posting matches the stored term frequencies of its
document, that term document frequencies equal their posting counts,
and that the document count is right.

With --repair, terms and postings are rebuilt from the stored term
frequencies. Documents whose stored record is unreadable are reset so
the next 'fusearch index' reads them again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd, root, args, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild inconsistent indexes")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, root *rootOptions, args []string, repair bool) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger, cleanup := root.setupLogging(cfg, "check", true)
	defer cleanup()

	roots, err := resolveRoots(cfg, args)
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	var errs []error
	for _, r := range roots {
		path := store.PathFor(r, cfg.DBName)
		if !fileExists(path) {
			out.Warningf("%s: not indexed", r)
			continue
		}
		if err := checkIndex(ctx, out, logger, path, repair); err != nil {
			out.Errorf("%s: %s", r, errorSummary(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkIndex(ctx context.Context, out *output.Writer, logger *slog.Logger, path string, repair bool) error {
	st, err := store.Open(ctx, path, store.Options{ReadOnly: !repair})
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	result, err := st.CheckConsistency(ctx)
	if err != nil {
		return err
	}
	logger.Info("check_complete",
		slog.String("path", path),
		slog.Int("documents", result.Documents),
		slog.Int("terms", result.Terms),
		slog.Int("issues", len(result.Inconsistencies)))

	if result.OK() {
		out.Successf("%s: %d documents, %d terms, consistent (%s)", path, result.Documents, result.Terms, result.Duration.Round(time.Millisecond))
		return nil
	}

	out.Warningf("%s: %d inconsistencies", path, len(result.Inconsistencies))
	for i, issue := range result.Inconsistencies {
		if i == maxListedIssues {
			out.Statusf("", "... and %d more", len(result.Inconsistencies)-maxListedIssues)
			break
		}
		out.Status("", describeIssue(issue))
	}

	if !repair {
		return ferrors.New(ferrors.ErrCodeCorruptIndex, "index is inconsistent", nil).
			WithDetail("path", path).
			WithSuggestion("run 'fusearch check --repair'")
	}

	if err := st.Repair(ctx); err != nil {
		return err
	}
	after, err := st.CheckConsistency(ctx)
	if err != nil {
		return err
	}
	if !after.OK() {
		return ferrors.New(ferrors.ErrCodeCorruptIndex, "index still inconsistent after repair", nil).
			WithDetail("path", path).
			WithSuggestion("delete the index and run 'fusearch index --force'")
	}
	logger.Info("check_repaired", slog.String("path", path))
	out.Successf("%s: repaired", path)
	return nil
}

func describeIssue(issue store.Inconsistency) string {
	s := issue.Type.String()
	if issue.URL != "" {
		s += fmt.Sprintf(" url=%s", issue.URL)
	}
	if issue.Term != "" {
		s += fmt.Sprintf(" term=%q", issue.Term)
	}
	if issue.Details != "" {
		s += ": " + issue.Details
	}
	return s
}
