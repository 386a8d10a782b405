// Package watcher turns file system changes under index roots into
// debounced re-index triggers.
//
// Only creations and writes of indexable files trigger: the indexer is
// incremental, so one trigger per root is enough to pick up every change
// in a burst.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/larroy/fusearch/internal/scanner"
)

// Trigger asks for root to be re-indexed.
type Trigger struct {
	Root string
	// Changes is the number of events coalesced into this trigger.
	Changes int
	// Sample is the last changed path.
	Sample string
	At     time.Time
}

// Options configures the watcher.
type Options struct {
	// Debounce is the quiet period before a root is triggered.
	// Default: 2s
	Debounce time.Duration

	// MaxDelay caps how long a continuously changing root waits.
	// Default: 30s
	MaxDelay time.Duration

	// Scan holds the include, exclude and skip rules shared with the
	// scanner. RootDir is ignored; each watched root gets its own filter.
	Scan scanner.ScanOptions
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	return o
}

// Watcher watches index roots recursively with fsnotify.
type Watcher struct {
	fsw       *fsnotify.Watcher
	scan      scanner.ScanOptions
	debouncer *Debouncer
	errs      chan error
	logger    *slog.Logger

	mu      sync.RWMutex
	roots   []string
	filters map[string]*scanner.Filter
}

// New creates a watcher. It fails when the platform notification
// mechanism is unavailable; callers then rely on periodic indexing.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:       fsw,
		scan:      opts.Scan,
		debouncer: NewDebouncer(opts.Debounce, opts.MaxDelay),
		errs:      make(chan error, 10),
		logger:    logger,
		filters:   make(map[string]*scanner.Filter),
	}, nil
}

// Add starts watching root and every non-excluded directory below it.
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	scan := w.scan
	scan.RootDir = abs
	filter := scanner.NewFilter(&scan)
	filter.LoadIgnoreFile(".")

	w.mu.Lock()
	w.roots = append(w.roots, abs)
	w.filters[abs] = filter
	w.mu.Unlock()

	return w.addTree(abs, abs, filter)
}

// Roots returns the watched roots.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}

func (w *Watcher) addTree(root, dir string, filter *scanner.Filter) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil {
				return nil
			}
			if filter.ExcludeDir(rel) {
				return filepath.SkipDir
			}
			filter.LoadIgnoreFile(rel)
		}
		if err := w.fsw.Add(path); err != nil {
			// Out of inotify watches; the periodic pass still covers it.
			w.emitError(fmt.Errorf("watch %s: %w", path, err))
			return filepath.SkipDir
		}
		return nil
	})
}

// Triggers returns debounced re-index requests. The channel is closed when
// Run returns.
func (w *Watcher) Triggers() <-chan Trigger {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Run processes events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		_ = w.fsw.Close()
		w.debouncer.Stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	root, rel, filter, ok := w.rootOf(event.Name)
	if !ok {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !filter.ExcludeDir(rel) {
			if err := w.addTree(root, event.Name, filter); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.emitError(err)
			}
			// Files may have landed before the watch was in place.
			w.debouncer.Add(root, event.Name)
		}
		return
	}

	if filter.ExcludeFile(rel) {
		return
	}
	if _, _, ok := filter.Admit(event.Name); !ok {
		return
	}

	w.logger.Debug("watch_event",
		slog.String("root", root),
		slog.String("path", rel),
		slog.String("op", event.Op.String()))
	w.debouncer.Add(root, event.Name)
}

// rootOf returns the watched root containing path, preferring the deepest,
// and its filter.
func (w *Watcher) rootOf(path string) (root, rel string, filter *scanner.Filter, ok bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, r := range w.roots {
		if path != r && !strings.HasPrefix(path, r+string(filepath.Separator)) {
			continue
		}
		if len(r) > len(root) {
			root = r
		}
	}
	if root == "" {
		return "", "", nil, false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", "", nil, false
	}
	return root, rel, w.filters[root], true
}

func (w *Watcher) emitError(err error) {
	select {
	case w.errs <- err:
	default:
		w.logger.Warn("watch_error", slog.String("error", err.Error()))
	}
}
