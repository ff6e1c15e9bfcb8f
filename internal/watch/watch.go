package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/promirror/promirror/internal/config"
	"github.com/promirror/promirror/internal/mirror"
)

// RunFunc performs one sync run
type RunFunc func(ctx context.Context) (*mirror.Result, error)

// Watcher re-runs the mirror whenever the source tree changes. Filesystem
// events are debounced, and syncs run single-flight with at most one queued
// re-run.
type Watcher struct {
	cfg    *config.Config
	logger *slog.Logger
	run    RunFunc

	debounce *debouncer

	syncMu      sync.Mutex // guards syncRunning and syncPending
	syncRunning bool
	syncPending bool
	syncWG      sync.WaitGroup

	lastMu  sync.RWMutex
	last    *mirror.Result
	lastErr string
}

// debouncer coalesces bursts of filesystem events into one sync
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	stopped  bool
	callback func()
}

// New creates a watcher around the given run function
func New(cfg *config.Config, logger *slog.Logger, run RunFunc) *Watcher {
	return &Watcher{
		cfg:      cfg,
		logger:   logger,
		run:      run,
		debounce: &debouncer{delay: time.Duration(cfg.Watch.Debounce)},
	}
}

// Last returns the most recent run result and error message, if any
func (w *Watcher) Last() (*mirror.Result, string) {
	w.lastMu.RLock()
	defer w.lastMu.RUnlock()
	return w.last, w.lastErr
}

// Trigger schedules a debounced sync run
func (w *Watcher) Trigger(ctx context.Context) {
	w.debounce.trigger(func() {
		w.performSync(ctx)
	})
}

// Run performs an initial sync and then watches the source tree until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("performing initial sync before watching")
	w.performSync(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer func() {
		_ = fw.Close()
	}()

	if err := addRecursive(fw, w.cfg.Paths.Source); err != nil {
		return fmt.Errorf("failed to watch source tree: %w", err)
	}
	w.logger.Info("watching source tree", "source", w.cfg.Paths.Source, "debounce", w.cfg.Watch.Debounce)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			w.debounce.stop()
			w.syncWG.Wait()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return fmt.Errorf("filesystem watcher closed unexpectedly")
			}
			w.handleEvent(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return fmt.Errorf("filesystem watcher closed unexpectedly")
			}
			w.logger.Warn("filesystem watcher error", "error", err)
		}
	}
}

// handleEvent filters noise and schedules syncs for relevant changes
func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if hiddenPath(w.cfg.Paths.Source, event.Name) {
		return
	}

	// Chmod-only events fire for metadata noise (e.g. touch) and would
	// cause busy re-sync loops on some platforms.
	if event.Op == fsnotify.Chmod {
		return
	}

	// Newly created directories must join the watch set before files
	// inside them generate events.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(fw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
		}
	}

	w.logger.Debug("source tree changed", "file", event.Name, "op", event.Op.String())
	w.Trigger(ctx)
}

// performSync executes the sync operation with single-flight semantics.
// If a sync is already in progress, at most one additional run is queued;
// further concurrent requests are dropped to avoid unbounded pile-up.
func (w *Watcher) performSync(ctx context.Context) {
	w.syncMu.Lock()
	if w.syncRunning {
		w.syncPending = true
		w.syncMu.Unlock()
		w.logger.Info("sync already in progress, queuing pending re-run")
		return
	}
	w.syncRunning = true
	w.syncMu.Unlock()

	w.syncWG.Add(1)
	defer w.syncWG.Done()

	for {
		if ctx.Err() != nil {
			w.syncMu.Lock()
			w.syncRunning = false
			w.syncPending = false
			w.syncMu.Unlock()
			return
		}

		result, err := w.run(ctx)

		w.lastMu.Lock()
		if err != nil {
			w.logger.Error("sync failed", "error", err)
			w.lastErr = err.Error()
		} else {
			w.last = result
			w.lastErr = ""
		}
		w.lastMu.Unlock()

		// Atomically check whether another sync was requested while we were
		// running. If not, release the running slot and stop; if yes, clear
		// the flag and loop to service that one pending request.
		w.syncMu.Lock()
		if !w.syncPending {
			w.syncRunning = false
			w.syncMu.Unlock()
			return
		}
		w.syncPending = false
		w.syncMu.Unlock()

		w.logger.Info("re-running sync due to pending request")
	}
}

// addRecursive adds dir and all its visible subdirectories to the watcher
func addRecursive(fw *fsnotify.Watcher, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}

// hiddenPath reports whether any path element below base starts with a dot
func hiddenPath(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		stopped := d.stopped
		d.mu.Unlock()

		if cb != nil && !stopped {
			cb()
		}
	})
}

// stop cancels any pending debounced callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
