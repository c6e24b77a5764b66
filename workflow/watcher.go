package workflow

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is how long the watcher waits for the file to settle
// before reloading. Editors often write definition files in several steps.
const defaultDebounce = 500 * time.Millisecond

// Watcher keeps a Registry in sync with a directory of definition files.
type Watcher struct {
	dir      string
	registry *Registry
	logger   *slog.Logger
	debounce time.Duration

	// loaded maps file name to the workflow name it registered, so deletes
	// and renames can unregister the right workflow.
	mu     sync.Mutex
	loaded map[string]string
}

// NewWatcher creates a watcher for the given directory. Call Run to load
// the directory and start watching.
func NewWatcher(dir string, registry *Registry, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:      dir,
		registry: registry,
		logger:   logger,
		debounce: defaultDebounce,
		loaded:   make(map[string]string),
	}
}

// Run loads all definitions in the directory, then watches for changes
// until the context is cancelled. Invalid files are logged and skipped;
// they never unregister a previously good version.
func (w *Watcher) Run(ctx context.Context) error {
	w.loadAll()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return err
	}

	pending := make(map[string]fsnotify.Op)
	var pendingMu sync.Mutex
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !definitionExtensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			pendingMu.Lock()
			pending[event.Name] |= event.Op
			pendingMu.Unlock()
			timer.Reset(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("workflow watcher error", "error", err)

		case <-timer.C:
			pendingMu.Lock()
			batch := pending
			pending = make(map[string]fsnotify.Op)
			pendingMu.Unlock()
			for path, op := range batch {
				w.handleChange(path, op)
			}
		}
	}
}

func (w *Watcher) loadAll() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("read workflow directory", "dir", w.dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() || !definitionExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		d, err := LoadFile(path)
		if err != nil {
			w.logger.Error("skipping invalid workflow file", "file", e.Name(), "error", err)
			continue
		}
		if err := w.registry.Register(d); err != nil {
			w.logger.Error("workflow rejected", "workflow", d.Name, "error", err)
			continue
		}
		w.mu.Lock()
		w.loaded[path] = d.Name
		w.mu.Unlock()
	}
}

func (w *Watcher) handleChange(path string, op fsnotify.Op) {
	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		name, ok := w.loaded[path]
		delete(w.loaded, path)
		w.mu.Unlock()
		if ok {
			if err := w.registry.Remove(name); err != nil {
				w.logger.Warn("unregister on delete failed", "workflow", name, "error", err)
			} else {
				w.logger.Info("workflow unregistered", "workflow", name, "file", filepath.Base(path))
			}
		}
		return
	}

	d, err := LoadFile(path)
	if err != nil {
		w.logger.Error("skipping invalid workflow file", "file", filepath.Base(path), "error", err)
		return
	}
	if err := w.registry.Register(d); err != nil {
		w.logger.Error("workflow rejected", "workflow", d.Name, "error", err)
		return
	}
	w.mu.Lock()
	w.loaded[path] = d.Name
	w.mu.Unlock()
	w.logger.Info("workflow reloaded", "workflow", d.Name, "file", filepath.Base(path))
}
