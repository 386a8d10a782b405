package searcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/search"
)

// MultiSearcher runs a query on several searchers in parallel and merges
// their results by score.
//
// Scores of different roots are merged as-is: each root scores against its
// own document count and document frequencies.
type MultiSearcher struct {
	searchers []Searcher
	closers   []io.Closer
	observer  search.Observer
	logger    *slog.Logger
}

// NewMultiSearcher merges the given searchers. Returns ErrNoSearchers when
// the list is empty.
func NewMultiSearcher(searchers []Searcher, opts ...Option) (*MultiSearcher, error) {
	if len(searchers) == 0 {
		return nil, ErrNoSearchers
	}
	o := newOptions(opts)
	return &MultiSearcher{
		searchers: searchers,
		observer:  o.observer,
		logger:    o.logger,
	}, nil
}

// Open opens the index of every root. Roots that cannot be opened are
// logged and skipped; if none can, the first error is returned.
func Open(ctx context.Context, roots []string, opts ...Option) (*MultiSearcher, error) {
	o := newOptions(opts)

	var (
		searchers []Searcher
		closers   []io.Closer
		firstErr  error
	)
	for _, root := range roots {
		rs, err := OpenRoot(ctx, root, opts...)
		if err != nil {
			o.logger.Warn("search_root_unavailable", append(ferrors.LogAttrs(err), slog.String("root", root))...)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		searchers = append(searchers, rs)
		closers = append(closers, rs)
	}

	if len(searchers) == 0 {
		if firstErr == nil {
			return nil, ferrors.ValidationError("no directories to search", ErrNoSearchers).
				WithSuggestion("Set index_dirs in the config or pass directories")
		}
		return nil, firstErr
	}

	m, err := NewMultiSearcher(searchers, opts...)
	if err != nil {
		return nil, err
	}
	m.closers = closers
	return m, nil
}

// Roots returns the roots of the RootSearchers opened by Open.
func (m *MultiSearcher) Roots() []string {
	var roots []string
	for _, s := range m.searchers {
		if rs, ok := s.(*RootSearcher); ok {
			roots = append(roots, rs.Root())
		}
	}
	return roots
}

// RootSearchers returns the per-root searchers opened by Open.
func (m *MultiSearcher) RootSearchers() []*RootSearcher {
	var out []*RootSearcher
	for _, s := range m.searchers {
		if rs, ok := s.(*RootSearcher); ok {
			out = append(out, rs)
		}
	}
	return out
}

// Search queries every searcher in parallel. A failing searcher is logged
// and skipped; an error is returned only when all of them fail.
func (m *MultiSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	start := time.Now()
	results, err := m.search(ctx, query, limit)
	if m.observer != nil {
		m.observer(query, len(results), time.Since(start), err)
	}
	return results, err
}

func (m *MultiSearcher) search(ctx context.Context, query string, limit int) ([]Result, error) {
	if len(m.searchers) == 1 {
		return m.searchers[0].Search(ctx, query, limit)
	}

	lists := make([][]Result, len(m.searchers))
	errs := make([]error, len(m.searchers))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range m.searchers {
		g.Go(func() error {
			// Each searcher keeps its own limit: the merged top-N is
			// contained in the union of the per-searcher top-Ns.
			lists[i], errs[i] = s.Search(gctx, query, limit)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged []Result
		failed []error
	)
	for i, err := range errs {
		if err != nil {
			m.logger.Warn("search_searcher_failed", ferrors.LogAttrs(err)...)
			failed = append(failed, err)
			continue
		}
		merged = append(merged, lists[i]...)
	}
	if len(failed) == len(m.searchers) {
		return nil, ferrors.New(ferrors.ErrCodeSearchFailed, "all searchers failed", errors.Join(failed...))
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].URL < merged[j].URL
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []Result{}
	}
	return merged, nil
}

// Close closes the searchers opened by Open.
func (m *MultiSearcher) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
