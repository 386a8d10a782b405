package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	ferrors "github.com/larroy/fusearch/internal/errors"
	"github.com/larroy/fusearch/internal/index"
	"github.com/larroy/fusearch/internal/metrics"
	"github.com/larroy/fusearch/internal/watcher"
)

// requestQueueSize bounds reindex requests waiting for the loop.
const requestQueueSize = 8

// Daemon keeps a set of roots indexed until its context is cancelled.
// All indexing happens on one goroutine, so runs never overlap.
type Daemon struct {
	cfg     Config
	coord   *index.Coordinator
	metrics *metrics.Metrics
	logger  *slog.Logger

	roots    []string
	rootSet  map[string]bool
	requests chan string
	watching atomic.Bool

	mu          sync.Mutex
	started     time.Time
	metricsAddr string
	passes      int
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetrics records into m and serves it on Config.MetricsAddr.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithLogger sets the logger (default slog.Default).
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// New creates a daemon indexing through coord.
func New(cfg Config, coord *index.Coordinator, opts ...Option) (*Daemon, error) {
	if coord == nil {
		return nil, errors.New("coordinator is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		coord:    coord,
		logger:   slog.Default(),
		rootSet:  make(map[string]bool, len(cfg.Roots)),
		requests: make(chan string, requestQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}

	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "invalid index root", err).WithDetail("root", root)
		}
		if d.rootSet[abs] {
			continue
		}
		d.rootSet[abs] = true
		d.roots = append(d.roots, abs)
	}
	return d, nil
}

// Roots returns the absolute roots the daemon maintains.
func (d *Daemon) Roots() []string {
	return append([]string(nil), d.roots...)
}

// Run acquires the PID file, starts the socket, metrics and watcher
// services, and indexes until ctx is cancelled. It returns nil on a clean
// shutdown and ERR_303_ALREADY_RUNNING when another daemon holds the PID
// file.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	pf := NewPIDFile(d.cfg.PIDPath)
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := pf.Release(); err != nil {
			d.logger.Warn("daemon_pidfile_release_failed", slog.String("error", err.Error()))
		}
	}()

	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()

	d.logger.Info("daemon_started",
		slog.Int("pid", os.Getpid()),
		slog.Any("roots", d.roots),
		slog.Duration("interval", d.cfg.Interval),
		slog.Bool("watch", d.cfg.Watch),
		slog.String("pid_file", pf.Path()))

	// Bind before starting anything so a bad address fails Run cleanly.
	metricsLn, err := d.listenMetrics()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.cfg.SocketPath != "" {
		srv := NewServer(d.cfg.SocketPath, d, d.logger)
		srv.timeout = d.cfg.Timeout
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	if metricsLn != nil {
		d.serveMetrics(gctx, g, metricsLn)
	}

	triggers := d.startWatcher(gctx, g)

	g.Go(func() error { return d.loop(gctx, triggers) })

	err = g.Wait()
	d.watching.Store(false)
	d.logger.Info("daemon_stopped")
	return err
}

// listenMetrics returns nil when metrics are not served.
func (d *Daemon) listenMetrics() (net.Listener, error) {
	if d.cfg.MetricsAddr == "" {
		return nil, nil
	}
	if d.metrics == nil {
		d.logger.Warn("daemon_metrics_disabled", slog.String("reason", "no metrics registry"))
		return nil, nil
	}

	ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
	if err != nil {
		return nil, ferrors.New(ferrors.ErrCodeConfigInvalid, "failed to listen for metrics", err).
			WithDetail("metrics_addr", d.cfg.MetricsAddr)
	}

	d.mu.Lock()
	d.metricsAddr = ln.Addr().String()
	d.mu.Unlock()
	return ln, nil
}

func (d *Daemon) serveMetrics(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	d.logger.Info("daemon_metrics_listening", slog.String("addr", ln.Addr().String()))

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.ShutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metricsAddr
}

// startWatcher returns nil when watching is disabled or unavailable; the
// periodic interval still keeps the roots fresh.
func (d *Daemon) startWatcher(ctx context.Context, g *errgroup.Group) <-chan watcher.Trigger {
	if !d.cfg.Watch {
		return nil
	}

	w, err := watcher.New(d.cfg.Watcher, d.logger)
	if err != nil {
		d.logger.Warn("watch_unavailable", slog.String("error", err.Error()))
		return nil
	}

	watched := 0
	for _, root := range d.roots {
		if err := w.Add(root); err != nil {
			d.logger.Warn("watch_root_failed", slog.String("root", root), slog.String("error", err.Error()))
			continue
		}
		watched++
	}
	if watched == 0 {
		d.logger.Warn("watch_unavailable", slog.String("error", "no root could be watched"))
	}

	d.watching.Store(watched > 0)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-w.Errors():
				d.logger.Warn("watch_error", slog.String("error", err.Error()))
			}
		}
	})
	return w.Triggers()
}

func (d *Daemon) loop(ctx context.Context, triggers <-chan watcher.Trigger) error {
	d.indexAll(ctx, "startup")

	var tick <-chan time.Time
	if d.cfg.Interval > 0 {
		ticker := time.NewTicker(d.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			d.indexAll(ctx, "interval")
		case t, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			d.logger.Info("watch_trigger",
				slog.String("root", t.Root),
				slog.Int("changes", t.Changes),
				slog.String("sample", t.Sample))
			d.indexRoot(ctx, t.Root, "watch")
		case root := <-d.requests:
			if root == "" {
				d.indexAll(ctx, "request")
			} else {
				d.indexRoot(ctx, root, "request")
			}
		}
	}
}

func (d *Daemon) indexAll(ctx context.Context, reason string) {
	results, _ := d.coord.IndexAll(ctx, d.roots)

	indexed := 0
	for _, r := range results {
		indexed += r.Indexed
	}

	d.mu.Lock()
	d.passes++
	d.mu.Unlock()

	d.logger.Info("daemon_pass_complete",
		slog.String("reason", reason),
		slog.Int("roots", len(results)),
		slog.Int("indexed", indexed))
}

func (d *Daemon) indexRoot(ctx context.Context, root, reason string) {
	result, err := d.coord.IndexRoot(ctx, root)
	if err != nil {
		if ctx.Err() != nil || ferrors.GetCode(err) == ferrors.ErrCodeAlreadyRunning {
			return
		}
		d.logger.Error("daemon_index_failed",
			append(ferrors.LogAttrs(err), slog.String("root", root), slog.String("reason", reason))...)
		return
	}
	d.logger.Debug("daemon_root_indexed",
		slog.String("root", root),
		slog.String("reason", reason),
		slog.Int("indexed", result.Indexed))
}

// Passes returns the number of completed full passes.
func (d *Daemon) Passes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.passes
}

// Reindex queues root, or every root when root is empty. It implements
// RequestHandler.
func (d *Daemon) Reindex(root string) ([]string, error) {
	queued := d.Roots()
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil || !d.rootSet[abs] {
			return nil, ferrors.New(ferrors.ErrCodeInvalidPath, "root is not maintained by this daemon", err).
				WithDetail("root", root)
		}
		root = abs
		queued = []string{abs}
	}

	select {
	case d.requests <- root:
		return queued, nil
	default:
		return nil, ferrors.New(ferrors.ErrCodeAlreadyRunning, "reindex queue full", nil).
			WithSuggestion("Wait for the current run to finish")
	}
}

// Status reports the daemon and per-root state. It implements
// RequestHandler.
func (d *Daemon) Status() StatusResult {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()

	status := StatusResult{
		Running:  true,
		PID:      os.Getpid(),
		Uptime:   time.Since(started).Round(time.Second).String(),
		Watching: d.watching.Load(),
		Interval: d.cfg.Interval.String(),
		Roots:    make([]RootStatus, 0, len(d.roots)),
	}
	for _, root := range d.roots {
		rs := RootStatus{Root: root, Indexing: d.coord.Running(root)}
		if r, ok := d.coord.LastResult(root); ok {
			rs.LastRun = summarize(r)
		}
		status.Roots = append(status.Roots, rs)
	}
	return status
}

func summarize(r *index.RunResult) *RunSummary {
	return &RunSummary{
		RunID:              r.RunID,
		StartedAt:          r.StartedAt,
		Duration:           r.Duration.Round(time.Millisecond).String(),
		Discovered:         r.Discovered,
		Stale:              r.Stale,
		Indexed:            r.Indexed,
		Unchanged:          r.Unchanged,
		ExtractionFailures: r.ExtractionFailures,
		WriteFailures:      r.WriteFailures,
		Documents:          r.Documents,
	}
}
