package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/index"
	"github.com/larroy/fusearch/pkg/searcher"
)

func TestIntegration_IndexThenSearch_RanksByTFIDF(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed directory
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.txt":      "the quick brown fox jumps over the fox",
		"b.txt":      "the lazy dog sleeps",
		"notes/c.md": "a fox and a dog",
	})
	result, err := newPipeline(t, index.PipelineConfig{Parallel: true, Workers: 2}).IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Indexed)
	assert.Equal(t, 3, result.Documents)

	// When: searching
	s := openSearcher(t, root)
	results, err := s.Search(context.Background(), "fox", 0)

	// Then: the denser document ranks first and non-matching ones are absent
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "notes", "c.md"),
	}, urls(results))
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Equal(t, []string{"fox"}, results[0].MatchedTerms)
	assert.Equal(t, root, results[0].Root)
}

func TestIntegration_FilenameIsSearchable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"quarterly-report.txt": "numbers",
		"other.txt":            "words",
	})
	_, err := newPipeline(t, index.PipelineConfig{}).IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	results, err := openSearcher(t, root).Search(context.Background(), "quarterly-report.txt", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "quarterly-report.txt")}, urls(results))
}

func TestIntegration_PDFTextIsSearchable(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	if _, err := exec.LookPath("pdftotext"); err != nil {
		t.Skip("pdftotext not installed")
	}

	// Given: a PDF and a text file in an indexed directory
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "paper.pdf"), pdfWithText("marsupial survey"), 0o644))
	writeFiles(t, root, map[string]string{"notes.txt": "unrelated"})
	result, err := newPipeline(t, index.PipelineConfig{
		Parallel:          true,
		IncludeExtensions: []string{".txt", ".pdf"},
	}).IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExtractionFailures)

	// When: searching for a word of the PDF's text layer
	results, err := openSearcher(t, root).Search(context.Background(), "marsupial", 0)

	// Then: the PDF is found
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "paper.pdf")}, urls(results))
}

func TestIntegration_Reindex_OnlyModifiedFiles(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed directory and an open searcher
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.txt": "alpha fox",
		"b.txt": "beta dog",
	})
	p := newPipeline(t, index.PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	s := openSearcher(t, root)

	// When: nothing changed
	again, err := p.IndexDirectory(context.Background(), root)

	// Then: nothing is extracted
	require.NoError(t, err)
	assert.Zero(t, again.Stale)
	assert.Zero(t, again.Indexed)
	assert.Equal(t, 2, again.Documents)

	// When: one file changes and another appears
	writeFiles(t, root, map[string]string{"b.txt": "beta dog and fox", "c.txt": "gamma fox"})
	touchLater(t, filepath.Join(root, "b.txt"))
	third, err := p.IndexDirectory(context.Background(), root)

	// Then: only those are re-read and the live searcher sees them
	require.NoError(t, err)
	assert.Equal(t, 2, third.Stale)
	assert.Equal(t, 2, third.Indexed)
	assert.Equal(t, 3, third.Documents)

	results, err := s.Search(context.Background(), "fox", 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.txt"),
		filepath.Join(root, "c.txt"),
	}, urls(results))
}

func TestIntegration_SerialAndParallelProduceSameRanking(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	files := map[string]string{
		"1.txt": "red green blue",
		"2.txt": "red red green",
		"3.txt": "red",
		"4.txt": "green blue blue blue",
	}
	serial, parallel := t.TempDir(), t.TempDir()
	writeFiles(t, serial, files)
	writeFiles(t, parallel, files)

	_, err := newPipeline(t, index.PipelineConfig{Parallel: false}).IndexDirectory(context.Background(), serial)
	require.NoError(t, err)
	_, err = newPipeline(t, index.PipelineConfig{Parallel: true, Workers: 4}).IndexDirectory(context.Background(), parallel)
	require.NoError(t, err)

	for _, query := range []string{"red", "blue green", "red blue"} {
		rs, err := openSearcher(t, serial).Search(context.Background(), query, 0)
		require.NoError(t, err)
		rp, err := openSearcher(t, parallel).Search(context.Background(), query, 0)
		require.NoError(t, err)

		require.Len(t, rp, len(rs), query)
		for i := range rs {
			assert.Equal(t, filepath.Base(rs[i].URL), filepath.Base(rp[i].URL), query)
			assert.InDelta(t, rs[i].Score, rp[i].Score, 1e-12, query)
		}
	}
}

func TestIntegration_MultiRootSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: two independently indexed roots
	papers, notes := t.TempDir(), t.TempDir()
	writeFiles(t, papers, map[string]string{"p.txt": "entropy coding"})
	writeFiles(t, notes, map[string]string{"n.txt": "entropy notes", "m.txt": "unrelated"})
	coord := index.NewCoordinator(newPipeline(t, index.PipelineConfig{}))
	runs, err := coord.IndexAll(context.Background(), []string{papers, notes})
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// When: searching both
	results, err := openSearcher(t, papers, notes).Search(context.Background(), "entropy", 0)

	// Then: hits come from both roots, tagged with their root
	require.NoError(t, err)
	require.Len(t, results, 2)
	roots := map[string]string{}
	for _, r := range results {
		roots[filepath.Base(r.URL)] = r.Root
	}
	assert.Equal(t, map[string]string{"p.txt": papers, "n.txt": notes}, roots)
}

func TestIntegration_GitignoredFilesAreNotIndexed(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".gitignore":    "build/\n",
		"src.txt":       "kernel source",
		"build/out.txt": "kernel build output",
	})
	_, err := newPipeline(t, index.PipelineConfig{RespectGitignore: true}).IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	results, err := openSearcher(t, root).Search(context.Background(), "kernel", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "src.txt")}, urls(results))
}

func TestIntegration_SearchDuringIndexing(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: an indexed root being re-indexed
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"seed.txt": "needle"})
	p := newPipeline(t, index.PipelineConfig{Parallel: true})
	_, err := p.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	s := openSearcher(t, root)

	files := map[string]string{}
	for i := range 50 {
		files[filepath.Join("bulk", string(rune('a'+i%26))+string(rune('a'+i/26))+".txt")] = "needle haystack"
	}
	writeFiles(t, root, files)

	// When: searching while the pipeline writes
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := p.IndexDirectory(context.Background(), root)
		assert.NoError(t, err)
	}()
	for range 20 {
		_, err := s.Search(context.Background(), "needle", 5)
		require.NoError(t, err)
	}
	wg.Wait()

	// Then: every document is eventually visible
	results, err := s.Search(context.Background(), "needle", 0)
	require.NoError(t, err)
	assert.Len(t, results, 51)
}

func TestIntegration_SearchUnindexedRoot_StorageUnavailable(t *testing.T) {
	_, err := searcher.Open(context.Background(), []string{t.TempDir()})

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeStorageUnavailable, ferrors.GetCode(err))
}
