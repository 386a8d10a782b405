// Package index runs incremental indexing of a directory tree into its
// document store.
package index

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/extract"
	"github.com/larroy/fusearch/internal/metrics"
	"github.com/larroy/fusearch/internal/scanner"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/termfreq"
	"github.com/larroy/fusearch/internal/tokenize"
	"github.com/larroy/fusearch/internal/ui"
)

// DocumentChannelSize bounds the documents built but not yet written.
const DocumentChannelSize = 256

// workQueueFactor sizes the work channel relative to the worker count.
const workQueueFactor = 8

// DefaultExtractionTimeout bounds extraction of a single file.
const DefaultExtractionTimeout = 30 * time.Second

// Store is the part of the document store the pipeline writes through.
type Store interface {
	MtimeOf(ctx context.Context, url string) (int64, bool, error)
	Upsert(ctx context.Context, doc *store.Document) (store.UpsertResult, error)
	DocumentCount() int
	Close() error
}

// OpenFunc opens the store for an index root.
type OpenFunc func(ctx context.Context, root string) (Store, error)

// PipelineDependencies contains the injected collaborators of a Pipeline.
type PipelineDependencies struct {
	// Tokenizer splits document content into terms (required).
	Tokenizer tokenize.Tokenizer

	// Open opens the store of a root. Defaults to the SQLite store at
	// <root>/<DBName>, created when missing.
	Open OpenFunc

	// Lister enumerates candidate files. Defaults to scanner.New().
	Lister scanner.Lister

	// Extractor reads text from a file. Defaults to extract.NewPlainText.
	Extractor extract.Extractor

	// Renderer displays progress. Defaults to ui.Discard.
	Renderer ui.Renderer

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// PipelineConfig configures indexing runs.
type PipelineConfig struct {
	// IncludeExtensions admits files by extension. Empty admits all files.
	IncludeExtensions []string

	// ExcludePatterns are extra patterns skipped by the lister.
	ExcludePatterns []string

	// RespectGitignore skips files ignored by .gitignore files.
	RespectGitignore bool

	// DBName is the index file name inside each root (default ".fusearch.db").
	DBName string

	// Parallel extracts with a worker pool. When false every stage runs
	// inline on the calling goroutine.
	Parallel bool

	// Workers is the extraction parallelism (0 = runtime.NumCPU()).
	Workers int

	// ExtractionTimeout bounds each extraction (0 = DefaultExtractionTimeout,
	// negative disables the bound).
	ExtractionTimeout time.Duration

	// MaxFileSize caps how many bytes of text are extracted from a file
	// (0 = extract.DefaultMaxSize). Larger files are indexed truncated.
	MaxFileSize int64

	// SpoolDir holds the temporary stale-file list (default os.TempDir()).
	SpoolDir string

	// Retry is the policy for retryable write failures.
	Retry ferrors.RetryConfig
}

// RunResult summarizes one IndexDirectory run.
type RunResult struct {
	Root               string
	Discovered         int
	Stale              int
	Indexed            int
	Unchanged          int
	ExtractionFailures int
	WriteFailures      int
	Documents          int
	StartedAt          time.Time
	Duration           time.Duration
	RunID              string
}

// Pipeline indexes directories incrementally: only files whose mtime moved
// past the stored one are extracted and upserted.
type Pipeline struct {
	cfg       PipelineConfig
	open      OpenFunc
	lister    scanner.Lister
	extractor extract.Extractor
	tokenizer tokenize.Tokenizer
	renderer  ui.Renderer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline, filling defaults for optional
// dependencies.
func NewPipeline(deps PipelineDependencies, cfg PipelineConfig) (*Pipeline, error) {
	if deps.Tokenizer == nil {
		return nil, fmt.Errorf("tokenizer is required")
	}
	if cfg.DBName == "" {
		cfg.DBName = store.DefaultDBName
	}
	if strings.ContainsRune(cfg.DBName, filepath.Separator) {
		return nil, ferrors.ConfigError("db_name must be a file name", nil).WithDetail("db_name", cfg.DBName)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ExtractionTimeout == 0 {
		cfg.ExtractionTimeout = DefaultExtractionTimeout
	}
	if cfg.Retry == (ferrors.RetryConfig{}) {
		cfg.Retry = ferrors.DefaultRetryConfig()
	}

	p := &Pipeline{
		cfg:       cfg,
		open:      deps.Open,
		lister:    deps.Lister,
		extractor: deps.Extractor,
		tokenizer: deps.Tokenizer,
		renderer:  deps.Renderer,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if p.open == nil {
		p.open = p.openSQLite
	}
	if p.lister == nil {
		p.lister = scanner.New()
	}
	if p.extractor == nil {
		p.extractor = extract.NewDefault(cfg.MaxFileSize)
	}
	p.extractor = extract.WithTimeout(p.extractor, cfg.ExtractionTimeout)
	if p.renderer == nil {
		p.renderer = ui.Discard{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

func (p *Pipeline) openSQLite(ctx context.Context, root string) (Store, error) {
	return store.Open(ctx, store.PathFor(root, p.cfg.DBName), store.Options{CreateIfMissing: true})
}

// SkipNames returns the index database file and its SQLite sidecars, which
// the lister must never emit.
func (p *Pipeline) SkipNames() []string {
	name := p.cfg.DBName
	return []string{name, name + "-wal", name + "-shm", name + "-journal"}
}

// staleFile is one spooled entry.
type staleFile struct {
	path  string
	mtime int64
}

// counters are updated by workers and the writer.
type counters struct {
	extractionFailures atomic.Int64
	processed          atomic.Int64
	indexed            int
	unchanged          int
	writeFailures      int
}

// IndexDirectory brings the index of root up to date. Per-file extraction
// and write failures are counted and skipped; only failing to open the
// store aborts the run. When ctx is cancelled the documents already built
// are still written and the partial result is returned with ctx's error.
func (p *Pipeline) IndexDirectory(ctx context.Context, root string) (*RunResult, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index root", err).WithDetail("root", root)
	}
	info, err := os.Stat(absRoot)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index root", err).WithDetail("root", absRoot)
	}

	result := &RunResult{Root: absRoot, RunID: uuid.NewString(), StartedAt: start}
	logger := p.logger.With(slog.String("run_id", result.RunID), slog.String("root", absRoot))

	st, err := p.open(ctx, absRoot)
	if err != nil {
		logger.Error("index_open_failed", ferrors.LogAttrs(err)...)
		p.metrics.ObserveRun(absRoot, "error", time.Since(start), 0)
		return nil, err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("index_close_failed", ferrors.LogAttrs(cerr)...)
		}
	}()

	if err := p.renderer.Start(ctx); err != nil {
		logger.Debug("renderer_start_failed", slog.String("error", err.Error()))
	}
	defer func() { _ = p.renderer.Stop() }()

	logger.Info("index_started",
		slog.Bool("parallel", p.cfg.Parallel),
		slog.Int("workers", p.cfg.Workers))

	runErr := p.run(ctx, st, absRoot, result, logger)

	result.Documents = st.DocumentCount()
	result.Duration = time.Since(start)

	p.renderer.Complete(ui.CompletionStats{
		Root:               absRoot,
		Discovered:         result.Discovered,
		Stale:              result.Stale,
		Indexed:            result.Indexed,
		Unchanged:          result.Unchanged,
		ExtractionFailures: result.ExtractionFailures,
		WriteFailures:      result.WriteFailures,
		Documents:          result.Documents,
		Duration:           result.Duration,
	})

	status := "ok"
	if runErr != nil {
		status = "cancelled"
		if !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
			status = "error"
		}
	}
	p.metrics.ObserveRun(absRoot, status, result.Duration, result.Documents)

	logger.Info("index_complete",
		slog.String("status", status),
		slog.Int("discovered", result.Discovered),
		slog.Int("stale", result.Stale),
		slog.Int("indexed", result.Indexed),
		slog.Int("unchanged", result.Unchanged),
		slog.Int("extraction_failures", result.ExtractionFailures),
		slog.Int("write_failures", result.WriteFailures),
		slog.Int("documents", result.Documents),
		slog.Duration("duration", result.Duration))

	return result, runErr
}

func (p *Pipeline) run(ctx context.Context, st Store, root string, result *RunResult, logger *slog.Logger) error {
	spool, err := os.CreateTemp(p.cfg.SpoolDir, "fusearch-stale-*.txt")
	if err != nil {
		return ferrors.InternalError("create stale file spool", err)
	}
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spool.Name())
	}()

	discovered, stale, err := p.discover(ctx, st, root, spool, logger)
	result.Discovered, result.Stale = discovered, stale
	if err != nil {
		return err
	}
	if stale == 0 {
		return nil
	}
	if _, err := spool.Seek(0, 0); err != nil {
		return ferrors.InternalError("rewind stale file spool", err)
	}

	c := &counters{}
	if p.cfg.Parallel {
		err = p.dispatchParallel(ctx, st, spool, stale, c, logger)
	} else {
		err = p.dispatchSerial(ctx, st, spool, stale, c, logger)
	}

	result.Indexed = c.indexed
	result.Unchanged = c.unchanged
	result.WriteFailures = c.writeFailures
	result.ExtractionFailures = int(c.extractionFailures.Load())

	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageWriting,
		Current: int(c.processed.Load()),
		Total:   stale,
		Message: "Index updated",
	})
	return err
}

// discover lists candidates and spools the stale ones, one per line.
func (p *Pipeline) discover(ctx context.Context, st Store, root string, spool *os.File, logger *slog.Logger) (discovered, stale int, err error) {
	p.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDiscovering, Message: "Scanning " + root})

	results, err := p.lister.Scan(ctx, &scanner.ScanOptions{
		RootDir:           root,
		IncludeExtensions: p.cfg.IncludeExtensions,
		ExcludePatterns:   p.cfg.ExcludePatterns,
		RespectGitignore:  p.cfg.RespectGitignore,
		SkipNames:         p.SkipNames(),
		MaxFileSize:       scanner.NoSizeLimit,
	})
	if err != nil {
		return 0, 0, err
	}

	w := bufio.NewWriter(spool)
	for res := range results {
		if res.Error != nil {
			logger.Warn("scan_error", slog.String("error", res.Error.Error()))
			continue
		}
		discovered++

		mtime := res.File.Mtime()
		stored, found, err := st.MtimeOf(ctx, res.File.Path)
		if err != nil {
			// Unreadable state is re-indexed; the upsert repairs it.
			logger.Warn("index_mtime_lookup_failed", append(ferrors.LogAttrs(err), slog.String("path", res.File.Path))...)
		} else if found && mtime <= stored {
			continue
		}

		if _, err := fmt.Fprintf(w, "%d\t%s\n", mtime, strconv.Quote(res.File.Path)); err != nil {
			return discovered, stale, ferrors.InternalError("write stale file spool", err)
		}
		stale++
		if stale%100 == 0 {
			p.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDiscovering, Current: stale, CurrentFile: res.File.RelPath})
		}
	}
	if err := w.Flush(); err != nil {
		return discovered, stale, ferrors.InternalError("flush stale file spool", err)
	}
	if err := ctx.Err(); err != nil {
		return discovered, stale, err
	}

	logger.Debug("index_discovery_complete",
		slog.Int("discovered", discovered),
		slog.Int("stale", stale))
	return discovered, stale, nil
}

// readSpool yields spooled entries in order until fn returns false.
func readSpool(spool *os.File, fn func(staleFile) bool) error {
	sc := bufio.NewScanner(spool)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		mtimeField, quoted, ok := strings.Cut(sc.Text(), "\t")
		if !ok {
			return fmt.Errorf("malformed spool line %q", sc.Text())
		}
		mtime, err := strconv.ParseInt(mtimeField, 10, 64)
		if err != nil {
			return fmt.Errorf("malformed spool mtime: %w", err)
		}
		path, err := strconv.Unquote(quoted)
		if err != nil {
			return fmt.Errorf("malformed spool path: %w", err)
		}
		if !fn(staleFile{path: path, mtime: mtime}) {
			return nil
		}
	}
	return sc.Err()
}

// dispatchParallel runs one producer, cfg.Workers extraction workers and a
// single writer on the calling goroutine.
func (p *Pipeline) dispatchParallel(ctx context.Context, st Store, spool *os.File, stale int, c *counters, logger *slog.Logger) error {
	work := make(chan staleFile, p.cfg.Workers*workQueueFactor)
	docs := make(chan *store.Document, DocumentChannelSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(work)
		err := readSpool(spool, func(f staleFile) bool {
			select {
			case work <- f:
				return true
			case <-gctx.Done():
				return false
			}
		})
		if err != nil {
			return ferrors.InternalError("read stale file spool", err)
		}
		return nil
	})

	var remaining atomic.Int32
	remaining.Store(int32(p.cfg.Workers))
	for range p.cfg.Workers {
		g.Go(func() error {
			defer func() {
				if remaining.Add(-1) == 0 {
					close(docs)
				}
			}()
			for {
				select {
				case <-gctx.Done():
					return nil
				case f, ok := <-work:
					if !ok {
						return nil
					}
					doc := p.build(gctx, f, c, logger)
					if doc == nil {
						continue
					}
					select {
					case docs <- doc:
					case <-gctx.Done():
						return nil
					}
				}
			}
		})
	}

	for doc := range docs {
		p.write(ctx, st, doc, stale, c, logger)
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// dispatchSerial runs every stage inline.
func (p *Pipeline) dispatchSerial(ctx context.Context, st Store, spool *os.File, stale int, c *counters, logger *slog.Logger) error {
	err := readSpool(spool, func(f staleFile) bool {
		if ctx.Err() != nil {
			return false
		}
		if doc := p.build(ctx, f, c, logger); doc != nil {
			p.write(ctx, st, doc, stale, c, logger)
		}
		return true
	})
	if err != nil {
		return ferrors.InternalError("read stale file spool", err)
	}
	return ctx.Err()
}

// build extracts, tokenizes and encodes one file. A failed extraction
// yields a document holding only the filename line. It returns nil when
// ctx was cancelled before the document was complete.
func (p *Pipeline) build(ctx context.Context, f staleFile, c *counters, logger *slog.Logger) *store.Document {
	text, err := p.extractor.Extract(ctx, f.path)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		c.extractionFailures.Add(1)
		timeout := errors.Is(err, ferrors.ErrExtractionTimeout)
		p.metrics.RecordExtractionFailure(timeout)
		logger.Warn("index_extraction_failed", append(ferrors.LogAttrs(err), slog.String("path", f.path))...)
		p.renderer.AddError(ui.ErrorEvent{File: f.path, Err: err, IsWarn: true})
		text = ""
	}

	filename := extract.FilenameOf(f.path)
	content := extract.Content(filename, text)
	return &store.Document{
		URL:             f.path,
		Filename:        filename,
		Content:         content,
		Mtime:           f.mtime,
		TermFrequencies: termfreq.EncodeSlice(p.tokenizer.Tokenize(content)),
	}
}

// write upserts a fully built document. Cancellation does not interrupt
// it: the document is complete, so it is stored.
func (p *Pipeline) write(ctx context.Context, st Store, doc *store.Document, stale int, c *counters, logger *slog.Logger) {
	wctx := context.WithoutCancel(ctx)

	var res store.UpsertResult
	err := ferrors.Retry(wctx, p.cfg.Retry, func() error {
		var err error
		res, err = st.Upsert(wctx, doc)
		return err
	})

	processed := int(c.processed.Add(1))
	if err != nil {
		c.writeFailures++
		p.metrics.RecordWriteFailure()
		logger.Error("index_write_failed", append(ferrors.LogAttrs(err), slog.String("url", doc.URL))...)
		p.renderer.AddError(ui.ErrorEvent{File: doc.URL, Err: err})
	} else {
		if res == store.UpsertUnchanged {
			c.unchanged++
		} else {
			c.indexed++
		}
		p.metrics.RecordWrite(res.String())
	}

	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageExtracting,
		Current:     processed,
		Total:       stale,
		CurrentFile: doc.URL,
	})
}
