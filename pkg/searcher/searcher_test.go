package searcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/termfreq"
	"github.com/larroy/fusearch/internal/tokenize"
)

// MockSearcher implements Searcher for testing MultiSearcher.
type MockSearcher struct {
	SearchFn func(ctx context.Context, query string, limit int) ([]Result, error)

	searchCalled atomic.Int32
}

func (m *MockSearcher) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	m.searchCalled.Add(1)
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit)
	}
	return []Result{}, nil
}

func returning(results ...Result) *MockSearcher {
	return &MockSearcher{SearchFn: func(context.Context, string, int) ([]Result, error) {
		return results, nil
	}}
}

func failing(err error) *MockSearcher {
	return &MockSearcher{SearchFn: func(context.Context, string, int) ([]Result, error) {
		return nil, err
	}}
}

// buildIndex writes docs (url suffix -> content) into an index under a
// fresh root, the way the indexer does.
func buildIndex(t *testing.T, docs map[string]string) string {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	st, err := store.Open(ctx, store.PathFor(root, ""), store.Options{CreateIfMissing: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, st.Close()) }()

	tok := tokenize.Whitespace{}
	for name, content := range docs {
		_, err := st.Upsert(ctx, &store.Document{
			URL:             filepath.Join(root, name),
			Filename:        name,
			Content:         content,
			Mtime:           1,
			TermFrequencies: termfreq.EncodeSlice(tok.Tokenize(content)),
		})
		require.NoError(t, err)
	}
	return root
}

func TestNewMultiSearcher_Empty_ReturnsErrNoSearchers(t *testing.T) {
	_, err := NewMultiSearcher(nil)

	assert.ErrorIs(t, err, ErrNoSearchers)
}

func TestMultiSearcher_Search_MergesByScoreThenURL(t *testing.T) {
	// Given: two searchers with interleaved scores and a tie
	a := returning(
		Result{URL: "/a/1", Score: 3},
		Result{URL: "/a/2", Score: 1},
	)
	b := returning(
		Result{URL: "/b/1", Score: 2},
		Result{URL: "/0/tie", Score: 1},
	)
	m, err := NewMultiSearcher([]Searcher{a, b})
	require.NoError(t, err)

	// When: searching with a limit
	results, err := m.Search(context.Background(), "q", 3)

	// Then: results are merged, ties broken by URL, and truncated
	require.NoError(t, err)
	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = r.URL
	}
	assert.Equal(t, []string{"/a/1", "/b/1", "/0/tie"}, urls)
	assert.Equal(t, int32(1), a.searchCalled.Load())
	assert.Equal(t, int32(1), b.searchCalled.Load())
}

func TestMultiSearcher_Search_DegradesWhenOneFails(t *testing.T) {
	m, err := NewMultiSearcher([]Searcher{
		failing(errors.New("disk gone")),
		returning(Result{URL: "/ok", Score: 1}),
	})
	require.NoError(t, err)

	results, err := m.Search(context.Background(), "q", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/ok", results[0].URL)
}

func TestMultiSearcher_Search_AllFail_ReturnsSearchFailed(t *testing.T) {
	m, err := NewMultiSearcher([]Searcher{
		failing(errors.New("one")),
		failing(errors.New("two")),
	})
	require.NoError(t, err)

	_, err = m.Search(context.Background(), "q", 10)

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeSearchFailed, ferrors.GetCode(err))
	assert.Contains(t, err.Error(), "one")
}

func TestMultiSearcher_Search_NoMatches_ReturnsEmptySlice(t *testing.T) {
	m, err := NewMultiSearcher([]Searcher{returning(), returning()})
	require.NoError(t, err)

	results, err := m.Search(context.Background(), "q", 10)

	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestMultiSearcher_Search_CallsObserver(t *testing.T) {
	var (
		gotQuery string
		gotCount int
	)
	m, err := NewMultiSearcher([]Searcher{returning(Result{URL: "/x", Score: 1})},
		WithObserver(func(q string, n int, _ time.Duration, err error) {
			gotQuery, gotCount = q, n
			assert.NoError(t, err)
		}))
	require.NoError(t, err)

	_, err = m.Search(context.Background(), "hello", 10)

	require.NoError(t, err)
	assert.Equal(t, "hello", gotQuery)
	assert.Equal(t, 1, gotCount)
}

func TestRootSearcher_Search_RanksWithMatchedTerms(t *testing.T) {
	// Given: the two-document example index
	root := buildIndex(t, map[string]string{
		"a.txt": "this is a a sample",
		"b.txt": "this is another another example example example",
	})
	rs, err := OpenRoot(context.Background(), root, WithTokenizer(tokenize.Whitespace{}))
	require.NoError(t, err)
	defer rs.Close()

	// When: searching for a term only b contains
	results, err := rs.Search(context.Background(), "example", 0)

	// Then: b is the only hit, attributed to the root
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(root, "b.txt"), results[0].URL)
	assert.Equal(t, root, results[0].Root)
	assert.Equal(t, []string{"example"}, results[0].MatchedTerms)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestRootSearcher_Search_SeesLaterWrites(t *testing.T) {
	// Given: an open searcher over a one-document index
	ctx := context.Background()
	root := buildIndex(t, map[string]string{"a.txt": "alpha beta"})
	rs, err := OpenRoot(ctx, root, WithTokenizer(tokenize.Whitespace{}))
	require.NoError(t, err)
	defer rs.Close()

	// When: another handle adds a document
	st, err := store.Open(ctx, store.PathFor(root, ""), store.Options{CreateIfMissing: true})
	require.NoError(t, err)
	_, err = st.Upsert(ctx, &store.Document{
		URL:             filepath.Join(root, "b.txt"),
		Content:         "gamma",
		Mtime:           1,
		TermFrequencies: termfreq.EncodeSlice([]string{"gamma"}),
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// Then: the searcher finds it with a nonzero idf
	results, err := rs.Search(ctx, "gamma", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestOpen_SkipsUnindexedRoots(t *testing.T) {
	// Given: one indexed and one plain directory
	indexed := buildIndex(t, map[string]string{"a.txt": "alpha"})
	plain := t.TempDir()

	// When: opening both
	m, err := Open(context.Background(), []string{plain, indexed}, WithTokenizer(tokenize.Whitespace{}))

	// Then: only the indexed root is searched
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, []string{indexed}, m.Roots())
	require.Len(t, m.RootSearchers(), 1)

	stats, err := m.RootSearchers()[0].Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
}

func TestOpen_NoIndexedRoots_ReturnsStorageUnavailable(t *testing.T) {
	_, err := Open(context.Background(), []string{t.TempDir()})

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeStorageUnavailable, ferrors.GetCode(err))
}

func TestOpen_NoRoots_ReturnsValidationError(t *testing.T) {
	_, err := Open(context.Background(), nil)

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}
