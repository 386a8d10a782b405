package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/search"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/tokenize"
)

// RootSearcher scores the index of one directory.
type RootSearcher struct {
	root   string
	store  *store.Store
	engine *search.Engine

	mu sync.Mutex
}

// OpenRoot opens the index of root read-only. It fails with
// ERR_202_STORAGE_UNAVAILABLE when root has not been indexed.
func OpenRoot(ctx context.Context, root string, opts ...Option) (*RootSearcher, error) {
	o := newOptions(opts)

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index root", err).WithDetail("root", root)
	}

	st, err := store.Open(ctx, store.PathFor(abs, o.dbName), store.Options{ReadOnly: true})
	if err != nil {
		return nil, err
	}

	engine, err := search.NewEngine(st, o.tokenizer, search.WithLogger(o.logger))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &RootSearcher{root: abs, store: st, engine: engine}, nil
}

// Root returns the absolute indexed directory.
func (r *RootSearcher) Root() string {
	return r.root
}

// Search ranks query against the latest committed state of the index.
// The engine reads one snapshot per query, so a concurrent indexer's
// commits are either wholly visible or not at all.
func (r *RootSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hits, err := r.engine.Query(ctx, query)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeSearchFailed, "search failed", err).WithDetail("root", r.root)
	}

	matched := make(map[string][]string)
	for _, h := range hits {
		matched[h.URL] = append(matched[h.URL], h.Term)
	}

	ranked := search.Rank(hits)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	results := make([]Result, 0, len(ranked))
	for _, rr := range ranked {
		terms := matched[rr.URL]
		sort.Strings(terms)
		results = append(results, Result{
			URL:          rr.URL,
			Root:         r.root,
			Score:        rr.Score,
			MatchedTerms: terms,
		})
	}
	return results, nil
}

// Stats returns the statistics of the underlying index.
func (r *RootSearcher) Stats(ctx context.Context) (*store.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Stats(ctx)
}

// Close releases the index handle.
func (r *RootSearcher) Close() error {
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close index of %s: %w", r.root, err)
	}
	return nil
}

// Option configures searchers created by Open and OpenRoot.
type Option func(*options)

type options struct {
	tokenizer tokenize.Tokenizer
	dbName    string
	logger    *slog.Logger
	observer  search.Observer
}

func newOptions(opts []Option) options {
	o := options{
		tokenizer: tokenize.NewStemming(),
		dbName:    store.DefaultDBName,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTokenizer sets the tokenizer. It must match the one used to build
// the indexes. Default: the stemming tokenizer.
func WithTokenizer(t tokenize.Tokenizer) Option {
	return func(o *options) {
		if t != nil {
			o.tokenizer = t
		}
	}
}

// WithDBName sets the index file name inside each root.
func WithDBName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.dbName = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver is called once per MultiSearcher query, e.g. to record
// metrics.
func WithObserver(obs search.Observer) Option {
	return func(o *options) { o.observer = obs }
}
