// Package watch re-runs an extraction when its targets change. Local files
// are watched with fsnotify; remote files are polled for size changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/simvis/simvis/pkg/core"
)

// Config tunes a Refresher.
type Config struct {
	// Interval between size polls of remote targets.
	Interval time.Duration
	// Debounce coalesces bursts of changes into one refresh.
	Debounce time.Duration
	// IsLocal reports whether a host is this machine. Nil treats only the
	// empty host as local.
	IsLocal func(host string) bool
}

// DefaultConfig returns the CLI defaults.
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Second, Debounce: 500 * time.Millisecond}
}

// Refresher calls OnRefresh whenever a target of its request changes.
type Refresher struct {
	fs     core.FileSystem
	req    core.Request
	cfg    Config
	logger *slog.Logger

	OnRefresh func(ctx context.Context) error
	OnError   func(t core.Target, err error)

	mu      sync.Mutex
	started bool
	watcher *fsnotify.Watcher
	local   map[string]bool // absolute paths
	remote  []core.Target
	sizes   map[core.Target]int64
}

// NewRefresher creates a refresher for req. fs is polled for remote sizes.
func NewRefresher(fs core.FileSystem, req core.Request, cfg Config, logger *slog.Logger) *Refresher {
	d := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = d.Interval
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = d.Debounce
	}
	if cfg.IsLocal == nil {
		cfg.IsLocal = func(host string) bool { return host == "" }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		fs:     fs,
		req:    req,
		cfg:    cfg,
		logger: logger,
		local:  make(map[string]bool),
		sizes:  make(map[core.Target]int64),
	}
}

// Start registers the local watches and records the baseline size of every
// remote target. Run calls it when needed.
func (r *Refresher) Start(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	defer func() {
		if err == nil {
			return
		}
		if r.watcher != nil {
			r.watcher.Close()
			r.watcher = nil
		}
		r.remote = nil
		clear(r.local)
	}()

	for _, t := range r.req.Targets {
		if !r.cfg.IsLocal(t.Host) {
			r.remote = append(r.remote, t)
			continue
		}
		abs, err := filepath.Abs(t.Path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", t.Path, err)
		}
		if r.watcher == nil {
			if r.watcher, err = fsnotify.NewWatcher(); err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
		}
		// Watching the directory survives editors that replace the file.
		if err := r.watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
		}
		r.local[abs] = true
	}

	for _, t := range r.remote {
		n, err := r.fs.Stat(ctx, r.req.Session, t)
		if err != nil {
			r.reportError(t, err)
			n = -1
		}
		r.sizes[t] = n
	}
	r.started = true
	return nil
}

func (r *Refresher) reportError(t core.Target, err error) {
	r.logger.Warn("watch check failed", "target", t.String(), "error", err)
	if r.OnError != nil {
		r.OnError(t, err)
	}
}

// poll reports whether any remote target changed size.
func (r *Refresher) poll(ctx context.Context) bool {
	changed := false
	for _, t := range r.remote {
		n, err := r.fs.Stat(ctx, r.req.Session, t)
		if err != nil {
			if ctx.Err() == nil {
				r.reportError(t, err)
			}
			continue
		}
		r.mu.Lock()
		if r.sizes[t] != n {
			r.logger.Debug("remote target changed", "target", t.String(), "size", n)
			r.sizes[t] = n
			changed = true
		}
		r.mu.Unlock()
	}
	return changed
}

// Run blocks until ctx is done, calling OnRefresh after each debounced change.
func (r *Refresher) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Close()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if r.watcher != nil {
		events, errs = r.watcher.Events, r.watcher.Errors
	}

	var tick <-chan time.Time
	if len(r.remote) > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(r.cfg.Debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	schedule := func() {
		if pending && !debounce.Stop() {
			select {
			case <-debounce.C:
			default:
			}
		}
		debounce.Reset(r.cfg.Debounce)
		pending = true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			abs, err := filepath.Abs(ev.Name)
			if err != nil || !r.local[abs] {
				continue
			}
			r.logger.Debug("local target changed", "path", abs, "op", ev.Op.String())
			schedule()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.reportError(core.Target{}, err)

		case <-tick:
			if r.poll(ctx) {
				schedule()
			}

		case <-debounce.C:
			pending = false
			if r.OnRefresh == nil {
				continue
			}
			if err := r.OnRefresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("refresh failed", "error", err)
				if r.OnError != nil {
					r.OnError(core.Target{}, err)
				}
			}
		}
	}
}

// Close releases the file watcher.
func (r *Refresher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}
