package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larroy/fusearch/internal/config"
	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/store"
	"github.com/larroy/fusearch/internal/ui"
)

func TestStatsCmd_ReportsIndexedAndMissing(t *testing.T) {
	// Given: one indexed directory and one that never was
	isolate(t)
	dir := foxCorpus(t)
	empty := t.TempDir()
	_, _, err := execute(t, "index", "--no-tui", dir)
	require.NoError(t, err)

	// When: asking for stats as JSON
	stdout, _, err := execute(t, "stats", "--json", dir, empty)

	// Then: both are reported with their status
	require.NoError(t, err)
	var infos []ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "ok", infos[0].Status)
	assert.Equal(t, 3, infos[0].Documents)
	assert.Positive(t, infos[0].Terms)
	assert.False(t, infos[0].LastIndexed.IsZero())
	assert.Equal(t, "missing", infos[1].Status)
}

func TestStatsCmd_HumanOutput(t *testing.T) {
	isolate(t)
	dir := foxCorpus(t)
	_, _, err := execute(t, "index", "--no-tui", dir)
	require.NoError(t, err)

	stdout, _, err := execute(t, "stats", dir)

	require.NoError(t, err)
	assert.Contains(t, stdout, dir)
	assert.Contains(t, stdout, "Documents:    3")
}

func TestCheckCmd_ConsistentIndex(t *testing.T) {
	isolate(t)
	dir := foxCorpus(t)
	_, _, err := execute(t, "index", "--no-tui", dir)
	require.NoError(t, err)

	stdout, _, err := execute(t, "check", dir)

	require.NoError(t, err)
	assert.Contains(t, stdout, "consistent")
}

func TestCheckCmd_NotIndexedIsWarning(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	stdout, _, err := execute(t, "check", dir)

	require.NoError(t, err)
	assert.Contains(t, stdout, "not indexed")
}

func TestDescribeIssue(t *testing.T) {
	issue := store.Inconsistency{Type: store.InconsistencyType(0), URL: "/a.txt", Term: "fox", Details: "count 2 != 1"}

	got := describeIssue(issue)

	assert.Contains(t, got, "url=/a.txt")
	assert.Contains(t, got, `term="fox"`)
	assert.True(t, strings.HasSuffix(got, ": count 2 != 1"))
}

func TestConfigCmd_InitShowAndPath(t *testing.T) {
	// Given: no user config
	isolate(t)
	dir := t.TempDir()

	// When: initializing with a directory
	stdout, _, err := execute(t, "config", "init", "--dir", dir)
	require.NoError(t, err)

	// Then: the file exists and show reflects it
	path := config.GetUserConfigPath()
	assert.FileExists(t, path)
	assert.Contains(t, stdout, path)

	shown, _, err := execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, shown, "tokenizer: stemming")
	assert.Contains(t, shown, dir)

	printed, _, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", printed)
}

func TestConfigCmd_InitRefusesOverwriteWithoutForce(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "config", "init")
	require.NoError(t, err)

	_, _, err = execute(t, "config", "init")

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}

func TestConfigCmd_InitForceBacksUp(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "config", "init")
	require.NoError(t, err)

	stdout, _, err := execute(t, "config", "init", "--force")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Backed up")
	backups, err := config.ListBackups(config.GetUserConfigPath())
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigCmd_ShowJSON(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, "config", "show", "--json")

	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &cfg))
	assert.Equal(t, "stemming", cfg["tokenizer"])
}

func TestLogsCmd_ShowsCommandLog(t *testing.T) {
	// Given: an index run that wrote its log
	isolate(t)
	dir := foxCorpus(t)
	_, _, err := execute(t, "index", "--no-tui", dir)
	require.NoError(t, err)

	// When: viewing the index log
	stdout, _, err := execute(t, "logs", "--component", "index", "--no-color")

	// Then: the run events are listed
	require.NoError(t, err)
	assert.Contains(t, stdout, "index_complete")
}

func TestLogsCmd_NoLogs_Fails(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "logs")

	require.Error(t, err)
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	isolate(t)
	dir := foxCorpus(t)
	_, _, err := execute(t, "index", "--no-tui", dir)
	require.NoError(t, err)

	_, _, err = execute(t, "logs", "--filter", "(")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --filter")
}

func TestNewestFile(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "a.log")
	newer := filepath.Join(dir, "b.log")
	require.NoError(t, os.WriteFile(older, nil, 0o644))
	require.NoError(t, os.WriteFile(newer, nil, 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	assert.Equal(t, newer, newestFile([]string{older, newer}))
}

func TestDaemonStatusCmd_NotRunning(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, "daemon", "status")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Daemon is not running")
}

func TestDaemonStatusCmd_NotRunningJSON(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, "daemon", "status", "--json")

	require.NoError(t, err)
	assert.Contains(t, stdout, `"running": false`)
}

func TestDaemonReindexCmd_NotRunning(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "daemon", "reindex")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not running")
}

func TestDaemonStopCmd_NotRunning(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, "daemon", "stop")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Daemon is not running")
}

func TestDaemonCmd_NoDirectories_Fails(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "daemon")

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}

func TestServeCmd_NoDirectories_Fails(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "serve")

	require.Error(t, err)
	assert.Equal(t, ferrors.ErrCodeInvalidInput, ferrors.GetCode(err))
}

func TestVerifyStdinForMCP_MentionsTerminal(t *testing.T) {
	// stdin may or may not be a terminal depending on how tests run.
	if err := verifyStdinForMCP(); err != nil {
		assert.Contains(t, err.Error(), "terminal")
	}
}
