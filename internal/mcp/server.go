package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/larroy/fusearch/internal/config"
	"github.com/larroy/fusearch/internal/daemon"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/pkg/searcher"
	"github.com/larroy/fusearch/pkg/version"
)

const (
	maxLimit    = 200
	serverName  = "fusearch"
	statusProbe = 2 * time.Second
)

// StatsSource reports the statistics of one indexed root.
type StatsSource interface {
	Root() string
	Stats(ctx context.Context) (*store.Stats, error)
}

// DaemonStatus queries a running daemon. *daemon.Client satisfies it.
type DaemonStatus interface {
	Status(ctx context.Context) (*daemon.StatusResult, error)
}

// Server exposes search and index status as MCP tools.
type Server struct {
	mcp      *mcp.Server
	searcher searcher.Searcher
	roots    []StatsSource
	daemon   DaemonStatus
	config   *config.Config
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. In stdio mode it must not write to stdout.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDaemonStatus reports the daemon in index_status.
func WithDaemonStatus(d DaemonStatus) Option {
	return func(s *Server) {
		s.daemon = d
	}
}

// NewServer creates an MCP server answering from srch. roots feed the
// index_status tool.
func NewServer(srch searcher.Searcher, roots []StatsSource, cfg *config.Config, opts ...Option) (*Server, error) {
	if srch == nil {
		return nil, errors.New("searcher is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		searcher: srch,
		roots:    roots,
		config:   cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    serverName,
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Full-text search over the locally indexed directories. Ranks files by TF-IDF and returns their absolute paths.",
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Document and term counts of every indexed directory, when it was last indexed and whether the background daemon is running.",
	}, s.mcpIndexStatusHandler)

	s.logger.Debug("mcp_tools_registered", slog.Int("count", 2))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	limit := clampLimit(input.Limit, s.config.Search.Limit, 1, maxLimit)

	requestID := generateRequestID()
	start := time.Now()

	results, err := s.searcher.Search(ctx, query, limit)
	if err != nil {
		s.logger.Error("mcp_search_failed", append(ferrors.LogAttrs(err),
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)))...)
		return nil, SearchOutput{}, MapError(err)
	}

	output := SearchOutput{
		Query:   query,
		Results: make([]SearchResultOutput, 0, len(results)),
	}
	for _, r := range results {
		output.Results = append(output.Results, SearchResultOutput{
			Path:         r.URL,
			Root:         r.Root,
			Filename:     filepath.Base(r.URL),
			Score:        r.Score,
			MatchedTerms: r.MatchedTerms,
		})
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("results", len(output.Results)),
		slog.Duration("duration", time.Since(start)))

	return textResult(FormatSearchResults(query, output.Results)), output, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	IndexStatusOutput,
	error,
) {
	output := s.indexStatus(ctx)
	return textResult(FormatIndexStatus(&output)), output, nil
}

// indexStatus collects per-root statistics. A root whose stats cannot be
// read is reported with its error instead of failing the call.
func (s *Server) indexStatus(ctx context.Context) IndexStatusOutput {
	output := IndexStatusOutput{
		Tokenizer: s.config.Tokenizer,
		Roots:     make([]RootIndexStatus, 0, len(s.roots)),
	}

	for _, src := range s.roots {
		status := RootIndexStatus{Root: src.Root()}
		stats, err := src.Stats(ctx)
		if err != nil {
			status.Error = MapError(err).Message
			output.Roots = append(output.Roots, status)
			continue
		}
		status.Documents = stats.Documents
		status.Terms = stats.Terms
		status.Postings = stats.Postings
		status.SizeBytes = stats.SizeBytes
		if !stats.LastIndexed.IsZero() {
			status.LastIndexed = stats.LastIndexed.UTC().Format(time.RFC3339)
		}
		output.Roots = append(output.Roots, status)
	}

	if s.daemon == nil {
		return output
	}

	probeCtx, cancel := context.WithTimeout(ctx, statusProbe)
	defer cancel()
	ds, err := s.daemon.Status(probeCtx)
	if err != nil {
		s.logger.Debug("mcp_daemon_unreachable", slog.String("error", err.Error()))
		return output
	}
	output.Daemon = &DaemonInfo{
		PID:      ds.PID,
		Uptime:   ds.Uptime,
		Watching: ds.Watching,
		Interval: ds.Interval,
	}
	indexing := make(map[string]bool, len(ds.Roots))
	for _, r := range ds.Roots {
		indexing[r.Root] = r.Indexing
	}
	for i := range output.Roots {
		output.Roots[i].Indexing = indexing[output.Roots[i].Root]
	}
	return output
}

// Serve runs the server on stdin/stdout until ctx is cancelled or the
// client disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"), slog.Int("roots", len(s.roots)))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_failed", slog.String("error", err.Error()))
		return fmt.Errorf("mcp server: %w", err)
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// clampLimit applies the default to a non-positive limit and bounds it.
func clampLimit(limit, def, lo, hi int) int {
	if limit <= 0 {
		limit = def
	}
	if limit <= 0 {
		return hi
	}
	return max(lo, min(limit, hi))
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
