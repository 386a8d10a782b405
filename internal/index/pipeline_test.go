package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/extract"
	"github.com/larroy/fusearch/internal/metrics"
	"github.com/larroy/fusearch/internal/search"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/tokenize"
	"github.com/larroy/fusearch/internal/ui"
)

// writeFile creates path under root with content and a fixed mtime.
func writeFile(t *testing.T, root, name, content string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func newTestPipeline(t *testing.T, deps PipelineDependencies, cfg PipelineConfig) *Pipeline {
	t.Helper()
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenize.Whitespace{}
	}
	if cfg.SpoolDir == "" {
		cfg.SpoolDir = t.TempDir()
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	p, err := NewPipeline(deps, cfg)
	require.NoError(t, err)
	return p
}

// searchRoot opens the index of root read-only and ranks text.
func searchRoot(t *testing.T, root, text string) []string {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, store.PathFor(root, store.DefaultDBName), store.Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	e, err := search.NewEngine(s, tokenize.Whitespace{})
	require.NoError(t, err)
	results, err := e.Ranked(ctx, text)
	require.NoError(t, err)

	urls := make([]string, len(results))
	for i, r := range results {
		urls[i] = filepath.Base(r.URL)
	}
	return urls
}

// recordingRenderer captures events.
type recordingRenderer struct {
	mu        sync.Mutex
	started   bool
	stopped   bool
	progress  []ui.ProgressEvent
	errs      []ui.ErrorEvent
	completed *ui.CompletionStats
}

func (r *recordingRenderer) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *recordingRenderer) UpdateProgress(e ui.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
}

func (r *recordingRenderer) AddError(e ui.ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, e)
}

func (r *recordingRenderer) Complete(s ui.CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = &s
}

func (r *recordingRenderer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return nil
}

// failingStore fails every upsert of failURL.
type failingStore struct {
	*store.Store
	failURL string
	calls   atomic.Int32
}

func (s *failingStore) Upsert(ctx context.Context, doc *store.Document) (store.UpsertResult, error) {
	if doc.URL == s.failURL {
		s.calls.Add(1)
		return 0, ferrors.WriteFailed(doc.URL, errors.New("disk full"))
	}
	return s.Store.Upsert(ctx, doc)
}

func TestNewPipeline_RequiresTokenizer(t *testing.T) {
	// When: no tokenizer is supplied
	_, err := NewPipeline(PipelineDependencies{}, PipelineConfig{})

	// Then: construction fails
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenizer")
}

func TestNewPipeline_RejectsDBNameWithSeparator(t *testing.T) {
	_, err := NewPipeline(PipelineDependencies{Tokenizer: tokenize.Whitespace{}},
		PipelineConfig{DBName: filepath.Join("sub", "index.db")})

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeConfigInvalid, ferrors.GetCode(err))
}

func TestPipeline_IndexDirectory_IndexesAllFilesOnFirstRun(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(map[bool]string{true: "parallel", false: "serial"}[parallel], func(t *testing.T) {
			// Given: a directory with two documents
			root := t.TempDir()
			mtime := time.Unix(1_700_000_000, 0)
			writeFile(t, root, "a.txt", "this is an example document example", mtime)
			writeFile(t, root, "b.txt", "this is an another document days go by", mtime)

			p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: parallel})

			// When: indexing it
			result, err := p.IndexDirectory(context.Background(), root)

			// Then: both files are written and searchable
			require.NoError(t, err)
			assert.Equal(t, 2, result.Discovered)
			assert.Equal(t, 2, result.Stale)
			assert.Equal(t, 2, result.Indexed)
			assert.Equal(t, 0, result.Unchanged)
			assert.Equal(t, 2, result.Documents)
			assert.NotEmpty(t, result.RunID)

			assert.Equal(t, []string{"a.txt"}, searchRoot(t, root, "example"))
			assert.Equal(t, []string{"a.txt", "b.txt"}, searchRoot(t, root, "another example"))
		})
	}
}

func TestPipeline_IndexDirectory_SecondRunIsNoop(t *testing.T) {
	// Given: an indexed directory
	root := t.TempDir()
	mtime := time.Unix(1_700_000_000, 0)
	writeFile(t, root, "a.txt", "alpha beta", mtime)
	writeFile(t, root, "b.txt", "gamma", mtime)

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// When: indexing again without changes
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: nothing is stale and the index is unchanged
	require.NoError(t, err)
	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 0, result.Stale)
	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 2, result.Documents)
}

func TestPipeline_IndexDirectory_ReindexesOnlyModifiedFiles(t *testing.T) {
	// Given: an indexed directory
	root := t.TempDir()
	old := time.Unix(1_700_000_000, 0)
	a := writeFile(t, root, "a.txt", "alpha beta", old)
	writeFile(t, root, "b.txt", "gamma", old)

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// When: one file changes
	writeFile(t, root, "a.txt", "delta", old.Add(time.Minute))
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: only it is re-indexed, and its old terms are gone
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stale)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 2, result.Documents)

	assert.Equal(t, []string{"a.txt"}, searchRoot(t, root, "delta"))
	assert.Empty(t, searchRoot(t, root, "alpha"))

	s, err := store.Open(context.Background(), store.PathFor(root, store.DefaultDBName), store.Options{ReadOnly: true})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	mtime, found, err := s.MtimeOf(context.Background(), a)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, old.Add(time.Minute).Unix(), mtime)
}

func TestPipeline_IndexDirectory_TouchedFileCountsAsUnchanged(t *testing.T) {
	// Given: an indexed file
	root := t.TempDir()
	old := time.Unix(1_700_000_000, 0)
	writeFile(t, root, "a.txt", "alpha", old)

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// When: its mtime moves but the content does not
	writeFile(t, root, "a.txt", "alpha", old.Add(time.Hour))
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: it is stale but the store reports it unchanged
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stale)
	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 1, result.Unchanged)
}

func TestPipeline_IndexDirectory_FilenameIsSearchable(t *testing.T) {
	// Given: a file whose name does not occur in its text
	root := t.TempDir()
	writeFile(t, root, "invoices.txt", "total due", time.Unix(1_700_000_000, 0))

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})

	// When: indexing
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// Then: the filename line matches
	assert.Equal(t, []string{"invoices.txt"}, searchRoot(t, root, "invoices"))
}

func TestPipeline_IndexDirectory_OversizedFileIsIndexedTruncated(t *testing.T) {
	// Given: a file longer than the extraction cap
	root := t.TempDir()
	writeFile(t, root, "big.txt", "head "+strings.Repeat("x", 64)+" tail", time.Unix(1_700_000_000, 0))

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true, MaxFileSize: 16})

	// When: indexing
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: it is indexed from its leading bytes only
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, []string{"big.txt"}, searchRoot(t, root, "head"))
	assert.Empty(t, searchRoot(t, root, "tail"))
}

func TestPipeline_IndexDirectory_SkipsIndexDatabase(t *testing.T) {
	// Given: an indexed directory, so the database and sidecars exist
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha", time.Unix(1_700_000_000, 0))

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// When: indexing again with every extension admitted
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: only the document is discovered
	require.NoError(t, err)
	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, []string{store.DefaultDBName, store.DefaultDBName + "-wal", store.DefaultDBName + "-shm", store.DefaultDBName + "-journal"}, p.SkipNames())
}

func TestPipeline_IndexDirectory_IncludeExtensionsFilters(t *testing.T) {
	root := t.TempDir()
	mtime := time.Unix(1_700_000_000, 0)
	writeFile(t, root, "a.txt", "alpha", mtime)
	writeFile(t, root, "b.md", "alpha", mtime)

	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true, IncludeExtensions: []string{"md"}})

	result, err := p.IndexDirectory(context.Background(), root)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Discovered)
	assert.Equal(t, []string{"b.md"}, searchRoot(t, root, "alpha"))
}

func TestPipeline_IndexDirectory_ExtractionFailureYieldsFilenameOnlyDocument(t *testing.T) {
	for _, parallel := range []bool{true, false} {
		t.Run(map[bool]string{true: "parallel", false: "serial"}[parallel], func(t *testing.T) {
			// Given: an extractor that fails for one file
			root := t.TempDir()
			mtime := time.Unix(1_700_000_000, 0)
			writeFile(t, root, "good.txt", "shared words", mtime)
			bad := writeFile(t, root, "broken.txt", "shared hidden", mtime)

			plain := extract.NewPlainText(0)
			renderer := &recordingRenderer{}
			m := metrics.New()
			p := newTestPipeline(t, PipelineDependencies{
				Renderer: renderer,
				Metrics:  m,
				Extractor: extract.Func(func(ctx context.Context, path string) (string, error) {
					if path == bad {
						return "", ferrors.ExtractionFailed(path, errors.New("unsupported"))
					}
					return plain.Extract(ctx, path)
				}),
			}, PipelineConfig{Parallel: parallel})

			// When: indexing
			result, err := p.IndexDirectory(context.Background(), root)

			// Then: the failure is counted, the document still exists by name
			require.NoError(t, err)
			assert.Equal(t, 1, result.ExtractionFailures)
			assert.Equal(t, 2, result.Indexed)
			assert.Equal(t, []string{"broken.txt"}, searchRoot(t, root, "broken"))
			assert.Empty(t, searchRoot(t, root, "hidden"))

			require.Len(t, renderer.errs, 1)
			assert.Equal(t, bad, renderer.errs[0].File)
			assert.True(t, renderer.errs[0].IsWarn)
		})
	}
}

func TestPipeline_IndexDirectory_ExtractionTimeoutCountsAsProcessed(t *testing.T) {
	// Given: an extractor that blocks until cancelled
	root := t.TempDir()
	writeFile(t, root, "slow.txt", "never read", time.Unix(1_700_000_000, 0))

	p := newTestPipeline(t, PipelineDependencies{
		Extractor: extract.Func(func(ctx context.Context, path string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
	}, PipelineConfig{Parallel: true, ExtractionTimeout: 20 * time.Millisecond})

	// When: indexing
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: the run completes with an empty processed document
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExtractionFailures)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, []string{"slow.txt"}, searchRoot(t, root, "slow"))
	assert.Empty(t, searchRoot(t, root, "never"))
}

func TestPipeline_IndexDirectory_WriteFailureIsSkipped(t *testing.T) {
	// Given: a store that rejects one document
	root := t.TempDir()
	mtime := time.Unix(1_700_000_000, 0)
	writeFile(t, root, "a.txt", "alpha", mtime)
	bad := writeFile(t, root, "b.txt", "beta", mtime)

	var fs *failingStore
	p := newTestPipeline(t, PipelineDependencies{
		Open: func(ctx context.Context, root string) (Store, error) {
			s, err := store.Open(ctx, store.PathFor(root, store.DefaultDBName), store.Options{CreateIfMissing: true})
			if err != nil {
				return nil, err
			}
			fs = &failingStore{Store: s, failURL: bad}
			return fs, nil
		},
	}, PipelineConfig{
		Parallel: true,
		Retry:    ferrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})

	// When: indexing
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: the failure is retried, counted and skipped
	require.NoError(t, err)
	assert.Equal(t, 1, result.WriteFailures)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Documents)
	assert.Equal(t, int32(3), fs.calls.Load())
}

func TestPipeline_IndexDirectory_OpenFailureAborts(t *testing.T) {
	// Given: a store that cannot be opened
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha", time.Unix(1_700_000_000, 0))
	p := newTestPipeline(t, PipelineDependencies{
		Open: func(context.Context, string) (Store, error) {
			return nil, ferrors.StorageUnavailable(root, errors.New("locked"))
		},
	}, PipelineConfig{Parallel: true})

	// When: indexing
	result, err := p.IndexDirectory(context.Background(), root)

	// Then: the run aborts with the storage error
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, ferrors.ErrCodeStorageUnavailable, ferrors.GetCode(err))
}

func TestPipeline_IndexDirectory_InvalidRoot(t *testing.T) {
	p := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{})

	_, err := p.IndexDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidPath, ferrors.GetCode(err))
}

func TestPipeline_IndexDirectory_CancellationLeavesStoreConsistent(t *testing.T) {
	// Given: many files and an extractor that cancels the run midway
	root := t.TempDir()
	mtime := time.Unix(1_700_000_000, 0)
	for i := range 50 {
		writeFile(t, root, filepath.Join("docs", string(rune('a'+i%26))+string(rune('a'+i/26))+".txt"), "common words here", mtime)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	plain := extract.NewPlainText(0)
	p := newTestPipeline(t, PipelineDependencies{
		Extractor: extract.Func(func(ectx context.Context, path string) (string, error) {
			if calls.Add(1) == 10 {
				cancel()
			}
			return plain.Extract(ectx, path)
		}),
	}, PipelineConfig{Parallel: true, Workers: 2})

	// When: indexing is cancelled
	result, err := p.IndexDirectory(ctx, root)

	// Then: the error is the cancellation and the partial index is consistent
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Less(t, result.Indexed, 50)

	s, err := store.Open(context.Background(), store.PathFor(root, store.DefaultDBName), store.Options{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	check, err := s.CheckConsistency(context.Background())
	require.NoError(t, err)
	assert.True(t, check.OK(), "inconsistencies: %v", check.Inconsistencies)
	assert.Equal(t, result.Indexed, s.DocumentCount())

	// And: a later run completes the rest
	p2 := newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true})
	result, err = p2.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 50, result.Documents)
}

func TestPipeline_IndexDirectory_ReportsProgressAndMetrics(t *testing.T) {
	// Given: a renderer and metrics
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha", time.Unix(1_700_000_000, 0))
	renderer := &recordingRenderer{}
	m := metrics.New()
	p := newTestPipeline(t, PipelineDependencies{Renderer: renderer, Metrics: m}, PipelineConfig{Parallel: true})

	// When: indexing
	result, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	// Then: the renderer saw the full lifecycle
	assert.True(t, renderer.started)
	assert.True(t, renderer.stopped)
	require.NotNil(t, renderer.completed)
	assert.Equal(t, result.Indexed, renderer.completed.Indexed)
	assert.Equal(t, 1, renderer.completed.Documents)

	stages := map[ui.Stage]bool{}
	for _, e := range renderer.progress {
		stages[e.Stage] = true
	}
	assert.True(t, stages[ui.StageDiscovering])
	assert.True(t, stages[ui.StageExtracting])
	assert.True(t, stages[ui.StageWriting])
}

func TestCoordinator_IndexRoot_RejectsConcurrentRunOfSameRoot(t *testing.T) {
	// Given: a run blocked inside extraction
	root := t.TempDir()
	writeFile(t, root, "a.txt", "alpha", time.Unix(1_700_000_000, 0))

	entered := make(chan struct{})
	release := make(chan struct{})
	p := newTestPipeline(t, PipelineDependencies{
		Extractor: extract.Func(func(ctx context.Context, path string) (string, error) {
			close(entered)
			<-release
			return "alpha", nil
		}),
	}, PipelineConfig{Parallel: true, ExtractionTimeout: -1})
	c := NewCoordinator(p)

	done := make(chan error, 1)
	go func() {
		_, err := c.IndexRoot(context.Background(), root)
		done <- err
	}()
	<-entered

	// When: the same root is indexed again
	_, err := c.IndexRoot(context.Background(), root)

	// Then: it is rejected as already running
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeAlreadyRunning, ferrors.GetCode(err))
	assert.True(t, c.Running(root))

	close(release)
	require.NoError(t, <-done)
	assert.False(t, c.Running(root))
	last, ok := c.LastResult(root)
	require.True(t, ok)
	assert.Equal(t, 1, last.Indexed)
}

func TestCoordinator_IndexAll_ContinuesPastFailingRoot(t *testing.T) {
	// Given: one valid root and one missing root
	good := t.TempDir()
	writeFile(t, good, "a.txt", "alpha", time.Unix(1_700_000_000, 0))
	missing := filepath.Join(t.TempDir(), "missing")

	c := NewCoordinator(newTestPipeline(t, PipelineDependencies{}, PipelineConfig{Parallel: true}))

	// When: indexing both
	results, err := c.IndexAll(context.Background(), []string{missing, good})

	// Then: the valid root is indexed and the error is reported
	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidPath, ferrors.GetCode(err))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Indexed)
}
