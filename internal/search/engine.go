// Package search answers free-text queries over the inverted index with
// TF-IDF scores.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/termfreq"
	"github.com/larroy/fusearch/internal/tokenize"
)

// Index is the read side of the document store used for scoring.
type Index interface {
	DocumentCount() int
	AllTermsMatching(ctx context.Context, terms []string) ([]store.TermStats, error)
	TermFrequencies(ctx context.Context, urls []string) (map[string]termfreq.Frequencies, []error, error)
}

// Snapshotter is an Index that can open a consistent read view. When the
// index implements it, each query reads its document count, postings and
// term frequencies from one snapshot. *store.Store implements it.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*store.Snapshot, error)
}

var (
	_ Index       = (*store.Store)(nil)
	_ Index       = (*store.Snapshot)(nil)
	_ Snapshotter = (*store.Store)(nil)
)

// ScoredHit is the contribution of one query term to one document.
type ScoredHit struct {
	Term  string
	Score float64
	URL   string
}

// Result is a ranked document with its summed score.
type Result struct {
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// Observer receives per-query measurements. It must not block.
type Observer func(query string, results int, duration time.Duration, err error)

// Engine scores documents against queries. It must use the tokenizer the
// index was built with.
type Engine struct {
	index     Index
	tokenizer tokenize.Tokenizer
	observer  Observer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers a callback invoked after each Ranked call.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine over index.
func NewEngine(index Index, tokenizer tokenize.Tokenizer, opts ...Option) (*Engine, error) {
	if index == nil {
		return nil, ferrors.ValidationError("search index is required", nil)
	}
	if tokenizer == nil {
		return nil, ferrors.ValidationError("tokenizer is required", nil)
	}
	e := &Engine{
		index:     index,
		tokenizer: tokenizer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Query tokenizes text and returns one hit per (query term, document) pair:
//
//	score = tf * ln(N / df) / max(1, distinct terms of the document)
//
// Repeated query terms count once. Terms with no postings, or an empty
// index, contribute nothing. Documents whose stored record is malformed
// are dropped and logged. Only storage failures return an error.
func (e *Engine) Query(ctx context.Context, text string) ([]ScoredHit, error) {
	terms := uniqueTerms(e.tokenizer.Tokenize(text))
	if len(terms) == 0 {
		return []ScoredHit{}, nil
	}

	index, release, err := e.view(ctx)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeSearchFailed, "index snapshot failed", err)
	}
	defer release()

	n := index.DocumentCount()
	if n <= 0 {
		return []ScoredHit{}, nil
	}

	stats, err := index.AllTermsMatching(ctx, terms)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeSearchFailed, "term lookup failed", err)
	}
	if len(stats) == 0 {
		return []ScoredHit{}, nil
	}

	var urls []string
	for _, ts := range stats {
		urls = append(urls, ts.Postings...)
	}
	freqs, malformed, err := index.TermFrequencies(ctx, urls)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeSearchFailed, "document lookup failed", err)
	}
	for _, merr := range malformed {
		e.logger.Warn("search_record_dropped", ferrors.LogAttrs(merr)...)
	}

	hits := make([]ScoredHit, 0, len(urls))
	for _, ts := range stats {
		df := ts.DocumentFrequency()
		if df == 0 {
			continue
		}
		idf := math.Log(float64(n) / float64(df))
		for _, url := range ts.Postings {
			docFreqs, ok := freqs[url]
			if !ok {
				continue
			}
			tf := docFreqs[ts.Term]
			if tf <= 0 {
				continue
			}
			distinct := max(1, docFreqs.Distinct())
			hits = append(hits, ScoredHit{
				Term:  ts.Term,
				Score: float64(tf) * idf / float64(distinct),
				URL:   url,
			})
		}
	}
	return hits, nil
}

// view returns the index to score against and a release func.
func (e *Engine) view(ctx context.Context) (Index, func(), error) {
	sn, ok := e.index.(Snapshotter)
	if !ok {
		return e.index, func() {}, nil
	}
	snap, err := sn.Snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	return snap, func() {
		if err := snap.Close(); err != nil {
			e.logger.Debug("search_snapshot_close_failed", slog.String("error", err.Error()))
		}
	}, nil
}

// Rank sums hit scores per document and orders documents by descending
// score. Equal scores are ordered by url.
func Rank(hits []ScoredHit) []Result {
	totals := make(map[string]float64)
	for _, h := range hits {
		totals[h.URL] += h.Score
	}

	results := make([]Result, 0, len(totals))
	for url, score := range totals {
		results = append(results, Result{URL: url, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].URL < results[j].URL
	})
	return results
}

// Ranked runs Query then Rank.
func (e *Engine) Ranked(ctx context.Context, text string) ([]Result, error) {
	return e.RankedN(ctx, text, 0)
}

// RankedN is Ranked truncated to limit results (0 = unlimited).
func (e *Engine) RankedN(ctx context.Context, text string, limit int) ([]Result, error) {
	start := time.Now()

	hits, err := e.Query(ctx, text)
	var results []Result
	if err == nil {
		results = Rank(hits)
		if limit > 0 && len(results) > limit {
			results = results[:limit]
		}
	}

	duration := time.Since(start)
	if e.observer != nil {
		e.observer(text, len(results), duration, err)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Debug("search_complete",
		slog.String("query", text),
		slog.Int("hits", len(hits)),
		slog.Int("results", len(results)),
		slog.Duration("duration", duration))
	return results, nil
}

// Explain returns the hits contributing to url for text, for debugging
// rankings.
func (e *Engine) Explain(ctx context.Context, text, url string) ([]ScoredHit, error) {
	hits, err := e.Query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("explain %s: %w", url, err)
	}
	var out []ScoredHit
	for _, h := range hits {
		if h.URL == url {
			out = append(out, h)
		}
	}
	return out, nil
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
