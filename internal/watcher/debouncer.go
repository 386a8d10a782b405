package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces bursts of changes per root into one Trigger, emitted
// once the root has been quiet for the window. A root that keeps changing
// is still flushed after maxDelay so long-running writers do not starve
// indexing.
type Debouncer struct {
	window   time.Duration
	maxDelay time.Duration
	output   chan Trigger

	mu      sync.Mutex
	pending map[string]*pendingRoot
	stopped bool
}

type pendingRoot struct {
	first  time.Time
	count  int
	sample string
	timer  *time.Timer
}

// NewDebouncer creates a debouncer. maxDelay <= window disables the cap.
func NewDebouncer(window, maxDelay time.Duration) *Debouncer {
	return &Debouncer{
		window:   window,
		maxDelay: maxDelay,
		output:   make(chan Trigger, 16),
		pending:  make(map[string]*pendingRoot),
	}
}

// Add records a change of path under root.
func (d *Debouncer) Add(root, path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	now := time.Now()
	p, ok := d.pending[root]
	if !ok {
		p = &pendingRoot{first: now}
		d.pending[root] = p
	}
	p.count++
	p.sample = path

	if p.timer != nil {
		p.timer.Stop()
	}
	wait := d.window
	if d.maxDelay > d.window {
		if deadline := p.first.Add(d.maxDelay); now.Add(wait).After(deadline) {
			wait = max(deadline.Sub(now), 0)
		}
	}
	p.timer = time.AfterFunc(wait, func() { d.flush(root, p) })
}

func (d *Debouncer) flush(root string, p *pendingRoot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || d.pending[root] != p {
		return
	}
	delete(d.pending, root)

	t := Trigger{Root: root, Changes: p.count, Sample: p.sample, At: time.Now()}
	select {
	case d.output <- t:
	default:
		// A trigger for this root is likely already queued.
		slog.Warn("watch_trigger_dropped", slog.String("root", root), slog.Int("changes", p.count))
	}
}

// Output returns the debounced triggers. It is closed by Stop.
func (d *Debouncer) Output() <-chan Trigger {
	return d.output
}

// Pending returns the number of roots with unflushed changes.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop discards pending changes and closes the output. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	for _, p := range d.pending {
		p.timer.Stop()
	}
	d.pending = nil
	close(d.output)
}
