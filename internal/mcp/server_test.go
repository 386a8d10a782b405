package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larroy/fusearch/internal/config"
	"github.com/larroy/fusearch/internal/daemon"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/pkg/searcher"
)

type mockSearcher struct {
	results   []searcher.Result
	err       error
	lastQuery string
	lastLimit int
}

func (m *mockSearcher) Search(_ context.Context, query string, limit int) ([]searcher.Result, error) {
	m.lastQuery = query
	m.lastLimit = limit
	return m.results, m.err
}

type mockStats struct {
	root  string
	stats *store.Stats
	err   error
}

func (m *mockStats) Root() string { return m.root }

func (m *mockStats) Stats(context.Context) (*store.Stats, error) { return m.stats, m.err }

type mockDaemon struct {
	status *daemon.StatusResult
	err    error
}

func (m *mockDaemon) Status(context.Context) (*daemon.StatusResult, error) { return m.status, m.err }

func newTestServer(t *testing.T, srch searcher.Searcher, roots []StatsSource, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	s, err := NewServer(srch, roots, config.NewConfig(), opts...)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresSearcher(t *testing.T) {
	_, err := NewServer(nil, nil, nil)
	require.Error(t, err)
}

func TestNewServer_NilConfigUsesDefaults(t *testing.T) {
	s, err := NewServer(&mockSearcher{}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 20, s.config.Search.Limit)
	assert.NotNil(t, s.MCPServer())
}

func TestServer_Search_ReturnsRankedPaths(t *testing.T) {
	// Given: a searcher with two hits
	srch := &mockSearcher{results: []searcher.Result{
		{URL: "/docs/a.txt", Root: "/docs", Score: 1.5, MatchedTerms: []string{"go"}},
		{URL: "/docs/sub/b.md", Root: "/docs", Score: 0.5},
	}}
	s := newTestServer(t, srch, nil)

	// When: calling the search tool
	res, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "  go  "})

	// Then: results keep their order and carry file names
	require.NoError(t, err)
	assert.Equal(t, "go", srch.lastQuery)
	assert.Equal(t, 20, srch.lastLimit, "default limit comes from config")
	require.Len(t, out.Results, 2)
	assert.Equal(t, "/docs/a.txt", out.Results[0].Path)
	assert.Equal(t, "a.txt", out.Results[0].Filename)
	assert.Equal(t, []string{"go"}, out.Results[0].MatchedTerms)
	assert.Equal(t, "b.md", out.Results[1].Filename)

	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
}

func TestServer_Search_ClampsLimit(t *testing.T) {
	srch := &mockSearcher{}
	s := newTestServer(t, srch, nil)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "x", Limit: 10000})

	require.NoError(t, err)
	assert.Equal(t, maxLimit, srch.lastLimit)
}

func TestServer_Search_EmptyQueryIsInvalid(t *testing.T) {
	s := newTestServer(t, &mockSearcher{}, nil)

	_, _, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: " \t "})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestServer_Search_MapsSearcherErrors(t *testing.T) {
	srch := &mockSearcher{err: ferrors.New(ferrors.ErrCodeSearchFailed, "all searchers failed", nil)}
	s := newTestServer(t, srch, nil)

	_, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "x"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeSearchFailed, mcpErr.Code)
	assert.Empty(t, out.Results)
}

func TestServer_Search_NoResultsIsEmptyList(t *testing.T) {
	s := newTestServer(t, &mockSearcher{results: []searcher.Result{}}, nil)

	_, out, err := s.mcpSearchHandler(context.Background(), nil, SearchInput{Query: "nothing"})

	require.NoError(t, err)
	assert.NotNil(t, out.Results)
	assert.Empty(t, out.Results)
}

func TestServer_IndexStatus_ReportsRootsAndErrors(t *testing.T) {
	// Given: one healthy root and one whose index is gone
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	roots := []StatsSource{
		&mockStats{root: "/a", stats: &store.Stats{Documents: 3, Terms: 10, Postings: 14, SizeBytes: 4096, LastIndexed: last}},
		&mockStats{root: "/b", err: ferrors.StorageUnavailable("/b/.fusearch.db", nil)},
	}
	s := newTestServer(t, &mockSearcher{}, roots)

	// When: calling index_status without a daemon
	res, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	// Then: each root is listed, the broken one with its error
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "stemming", out.Tokenizer)
	require.Len(t, out.Roots, 2)
	assert.Equal(t, 3, out.Roots[0].Documents)
	assert.Equal(t, "2026-03-01T12:00:00Z", out.Roots[0].LastIndexed)
	assert.Contains(t, out.Roots[1].Error, "index storage unavailable")
	assert.Nil(t, out.Daemon)
}

func TestServer_IndexStatus_IncludesDaemon(t *testing.T) {
	roots := []StatsSource{&mockStats{root: "/a", stats: &store.Stats{}}}
	d := &mockDaemon{status: &daemon.StatusResult{
		Running:  true,
		PID:      42,
		Uptime:   "1m0s",
		Watching: true,
		Interval: "15m0s",
		Roots:    []daemon.RootStatus{{Root: "/a", Indexing: true}},
	}}
	s := newTestServer(t, &mockSearcher{}, roots, WithDaemonStatus(d))

	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	require.NoError(t, err)
	require.NotNil(t, out.Daemon)
	assert.Equal(t, 42, out.Daemon.PID)
	assert.True(t, out.Roots[0].Indexing)
	assert.Empty(t, out.Roots[0].LastIndexed)
}

func TestServer_IndexStatus_UnreachableDaemonIsOmitted(t *testing.T) {
	d := &mockDaemon{err: errors.New("connection refused")}
	s := newTestServer(t, &mockSearcher{}, nil, WithDaemonStatus(d))

	_, out, err := s.mcpIndexStatusHandler(context.Background(), nil, IndexStatusInput{})

	require.NoError(t, err)
	assert.Nil(t, out.Daemon)
	assert.Empty(t, out.Roots)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name           string
		limit, def, hi int
		want           int
	}{
		{"explicit", 5, 20, 200, 5},
		{"default", 0, 20, 200, 20},
		{"above max", 500, 20, 200, 200},
		{"unlimited default", 0, 0, 200, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.limit, tt.def, 1, tt.hi))
		})
	}
}

func TestGenerateRequestID(t *testing.T) {
	id := generateRequestID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, generateRequestID())
}
