package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes line-oriented progress for pipes, CI, and verbose
// runs. Without Verbose it prints only stage transitions.
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	root    string
	stage   Stage
	started bool
	errors  int
	warns   int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		verbose: cfg.Verbose,
		root:    cfg.Root,
		stage:   -1,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.root != "" {
		_, _ = fmt.Fprintf(r.out, "Indexing %s\n", r.root)
	}
	r.started = true
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := event.Stage != r.stage
	r.stage = event.Stage
	if !changed && !r.verbose {
		return
	}

	msg := event.Message
	if msg == "" {
		msg = event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	default:
		_, _ = fmt.Fprintf(r.out, "[%s]\n", event.Stage.Icon())
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
		r.warns++
	} else {
		r.errors++
	}

	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d indexed, %d unchanged of %d stale (%d files) in %s",
		stats.Indexed, stats.Unchanged, stats.Stale, stats.Discovered, stats.Duration.Round(100*time.Millisecond))
	if stats.ExtractionFailures > 0 || stats.WriteFailures > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d extraction failures, %d write failures)",
			stats.ExtractionFailures, stats.WriteFailures)
	}
	_, _ = fmt.Fprintln(r.out)
	_, _ = fmt.Fprintf(r.out, "Documents in index: %d\n", stats.Documents)
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
