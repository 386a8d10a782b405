package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larroy/fusearch/internal/scanner"
)

func startWatcher(t *testing.T, opts Options, roots ...string) *Watcher {
	t.Helper()
	w, err := New(opts, nil)
	require.NoError(t, err)
	for _, r := range roots {
		require.NoError(t, w.Add(r))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func waitTrigger(t *testing.T, w *Watcher, timeout time.Duration) (Trigger, bool) {
	t.Helper()
	select {
	case tr, ok := <-w.Triggers():
		return tr, ok
	case <-time.After(timeout):
		return Trigger{}, false
	}
}

func TestWatcher_FileWrite_TriggersRoot(t *testing.T) {
	// Given: a watched root
	root := t.TempDir()
	w := startWatcher(t, Options{Debounce: 50 * time.Millisecond}, root)

	// When: a document is created
	require.NoError(t, os.WriteFile(filepath.Join(root, "note.txt"), []byte("hi"), 0o644))

	// Then: the root is triggered
	tr, ok := waitTrigger(t, w, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, root, tr.Root)
	assert.GreaterOrEqual(t, tr.Changes, 1)
}

func TestWatcher_NewSubdirectory_IsWatched(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, Options{Debounce: 50 * time.Millisecond}, root)

	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	_, ok := waitTrigger(t, w, 2*time.Second)
	require.True(t, ok, "directory creation triggers a pass")

	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.txt"), []byte("x"), 0o644))
	tr, ok := waitTrigger(t, w, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(sub, "deep.txt"), tr.Sample)
}

func TestWatcher_IgnoresSkippedAndExcludedFiles(t *testing.T) {
	// Given: a root watching only .txt and skipping the index database
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))
	w := startWatcher(t, Options{
		Debounce: 50 * time.Millisecond,
		Scan: scanner.ScanOptions{
			IncludeExtensions: []string{".txt"},
			SkipNames:         []string{".fusearch.db", ".fusearch.db-wal"},
		},
	}, root)

	// When: only non-indexable files change
	require.NoError(t, os.WriteFile(filepath.Join(root, ".fusearch.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".fusearch.db-wal"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "image.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "a.txt"), []byte("x"), 0o644))

	// Then: nothing triggers
	_, ok := waitTrigger(t, w, 300*time.Millisecond)
	assert.False(t, ok)
}

func TestWatcher_IgnoresGitignoredFiles(t *testing.T) {
	// Given: a root whose .gitignore ignores a build directory and *.tmp
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("build/\n*.tmp.txt\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "build"), 0o755))
	w := startWatcher(t, Options{
		Debounce: 50 * time.Millisecond,
		Scan: scanner.ScanOptions{
			IncludeExtensions: []string{".txt"},
			RespectGitignore:  true,
		},
	}, root)

	// When: only ignored files change
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "out.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp.txt"), []byte("x"), 0o644))

	// Then: nothing triggers until a tracked file changes
	_, ok := waitTrigger(t, w, 300*time.Millisecond)
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	tr, ok := waitTrigger(t, w, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "notes.txt"), tr.Sample)
}

func TestWatcher_RootOf_PrefersDeepestRoot(t *testing.T) {
	outer := t.TempDir()
	inner := filepath.Join(outer, "inner")
	require.NoError(t, os.Mkdir(inner, 0o755))

	w, err := New(Options{}, nil)
	require.NoError(t, err)
	defer func() { _ = w.fsw.Close() }()
	require.NoError(t, w.Add(outer))
	require.NoError(t, w.Add(inner))

	root, rel, filter, ok := w.rootOf(filepath.Join(inner, "a.txt"))
	require.True(t, ok)
	assert.Equal(t, inner, root)
	assert.Equal(t, "a.txt", rel)
	assert.NotNil(t, filter)

	_, _, _, ok = w.rootOf(filepath.Join(outer+"-sibling", "a.txt"))
	assert.False(t, ok)
	assert.Equal(t, []string{outer, inner}, w.Roots())
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 2*time.Second, o.Debounce)
	assert.Equal(t, 30*time.Second, o.MaxDelay)
}
