package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testSocketPath returns a unique socket path short enough for sun_path.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join(os.TempDir(), fmt.Sprintf("fusearch-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { _ = os.Remove(socketPath) })
	return socketPath
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// fakeHandler records reindex requests and returns a canned status.
type fakeHandler struct {
	mu       sync.Mutex
	status   StatusResult
	reindex  []string
	failWith error
}

func (h *fakeHandler) Status() StatusResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *fakeHandler) Reindex(root string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return nil, h.failWith
	}
	h.reindex = append(h.reindex, root)
	if root == "" {
		return []string{"/a", "/b"}, nil
	}
	return []string{root}, nil
}

func (h *fakeHandler) requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reindex...)
}
