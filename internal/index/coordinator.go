package index

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	ferrors "github.com/larroy/fusearch/internal/errors"
)

// Coordinator serializes indexing runs per root. The CLI and the daemon
// both index through it, so a watch trigger never races a periodic run of
// the same directory.
type Coordinator struct {
	pipeline *Pipeline
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]bool
	last    map[string]*RunResult
}

// NewCoordinator creates a coordinator over pipeline.
func NewCoordinator(pipeline *Pipeline) *Coordinator {
	return &Coordinator{
		pipeline: pipeline,
		logger:   pipeline.logger,
		running:  make(map[string]bool),
		last:     make(map[string]*RunResult),
	}
}

// IndexRoot indexes one root. It fails with ERR_303_ALREADY_RUNNING when a
// run of the same root is in progress.
func (c *Coordinator) IndexRoot(ctx context.Context, root string) (*RunResult, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index root", err).WithDetail("root", root)
	}

	c.mu.Lock()
	if c.running[abs] {
		c.mu.Unlock()
		return nil, ferrors.New(ferrors.ErrCodeAlreadyRunning, "indexing already running", nil).WithDetail("root", abs)
	}
	c.running[abs] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.running, abs)
		c.mu.Unlock()
	}()

	result, err := c.pipeline.IndexDirectory(ctx, abs)
	if result != nil {
		c.mu.Lock()
		c.last[abs] = result
		c.mu.Unlock()
	}
	return result, err
}

// IndexAll indexes roots one after another. A failing root is logged and
// does not stop the others; the joined errors are returned. Cancellation
// stops at the current root.
func (c *Coordinator) IndexAll(ctx context.Context, roots []string) ([]*RunResult, error) {
	results := make([]*RunResult, 0, len(roots))
	var errs []error

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, err := c.IndexRoot(ctx, root)
		if result != nil {
			results = append(results, result)
		}
		if err != nil {
			c.logger.Error("index_root_failed", append(ferrors.LogAttrs(err), slog.String("root", root))...)
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// LastResult returns the most recent result for root.
func (c *Coordinator) LastResult(root string) (*RunResult, bool) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.last[abs]
	return r, ok
}

// Running reports whether root is being indexed.
func (c *Coordinator) Running(root string) bool {
	abs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running[abs]
}
