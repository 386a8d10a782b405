package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// isolate points HOME and the user config at temp directories and clears
// the FUSEARCH_* overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("NO_COLOR", "1")
	for _, key := range []string{
		"FUSEARCH_INDEX_DIRS", "FUSEARCH_INCLUDE_EXTENSIONS", "FUSEARCH_VERBOSE",
		"FUSEARCH_PARALLEL_EXTRACTION", "FUSEARCH_TOKENIZER", "FUSEARCH_DB_NAME",
		"FUSEARCH_WORKERS", "FUSEARCH_EXTRACTION_TIMEOUT", "FUSEARCH_LOG_LEVEL",
		"FUSEARCH_METRICS_ADDR", "FUSEARCH_RESPECT_GITIGNORE",
	} {
		t.Setenv(key, "")
	}
	return home
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// corpus creates a directory with the given files.
func corpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func foxCorpus(t *testing.T) string {
	return corpus(t, map[string]string{
		"a.txt":       "the quick brown fox jumps over the fox",
		"b.txt":       "the lazy dog sleeps",
		"notes/c.md":  "a fox and a dog",
		"image.bin":   "\x00\x01\x02",
		"ignored.exe": "fox",
	})
}
