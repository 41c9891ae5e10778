// Package watcher runs the auto-save daemon: it watches a source tree and
// asks the editor to save after files change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"claude-auto/internal/config"
	"claude-auto/internal/logger"
)

// DefaultSettle is how long a file must be quiet before it is saved.
const DefaultSettle = 500 * time.Millisecond

// excludedDirs are never watched.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"vendor":       true,
}

// Options configures a Watcher.
type Options struct {
	Root string

	// SaveDelay is the minimum time between two saves of one file. Zero
	// disables the throttle.
	SaveDelay time.Duration

	Settle   time.Duration
	AutoSave bool
	Saver    Saver
	Log      *logger.Logger
}

// OptionsFromSettings derives watcher options from the settings document.
// yolo forces the throttle off regardless of the document.
func OptionsFromSettings(root string, s config.Settings, yolo bool) Options {
	opts := Options{
		Root:      root,
		SaveDelay: time.Duration(s.Automation.SaveDelay * float64(time.Second)),
		Settle:    DefaultSettle,
		AutoSave:  s.Automation.AutoSave,
	}
	if yolo || s.Automation.YoloMode || opts.SaveDelay < 0 {
		opts.SaveDelay = 0
	}
	return opts
}

// pendingSave identifies one scheduled save. The timer field is only
// touched with Watcher.mu held.
type pendingSave struct {
	timer *time.Timer
}

// Watcher reacts to file changes under a root directory.
type Watcher struct {
	opts Options
	log  *logger.Logger
	fs   *fsnotify.Watcher
	now  func() time.Time

	mu       sync.Mutex
	lastSave map[string]time.Time
	pending  map[string]*pendingSave
	stopped  bool
	inflight sync.WaitGroup
}

// New creates a watcher over opts.Root and its subdirectories.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Settle <= 0 {
		opts.Settle = DefaultSettle
	}
	if opts.Saver == nil {
		opts.Saver = DefaultSaver()
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}

	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root is not a directory: %s", opts.Root)
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := addDirsRecursive(fsW, opts.Root); err != nil {
		fsW.Close()
		return nil, fmt.Errorf("watch %s: %w", opts.Root, err)
	}

	return &Watcher{
		opts:     opts,
		log:      log.WithFields(zap.String("root", opts.Root)),
		fs:       fsW,
		now:      time.Now,
		lastSave: make(map[string]time.Time),
		pending:  make(map[string]*pendingSave),
	}, nil
}

// Run processes file events until ctx is cancelled. Pending saves are
// dropped and in-flight saves are waited for before it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.shutdown()

	w.log.Info("auto-save watcher started",
		zap.Bool("auto_save", w.opts.AutoSave),
		zap.Duration("save_delay", w.opts.SaveDelay))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			w.handle(ctx, event)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.log.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event) {
	if excluded(w.opts.Root, event.Name) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // removed or renamed away
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) {
			if err := addDirsRecursive(w.fs, event.Name); err != nil {
				w.log.Warn("watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
		return
	}

	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
		w.schedule(ctx, event.Name)
	}
}

// schedule arranges a save of path after the settle delay. A change to a
// file that already has a pending save pushes that save back instead of
// adding another.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	if p, ok := w.pending[path]; ok && p.timer.Stop() {
		p.timer.Reset(w.opts.Settle)
		return
	}
	if !w.dueLocked(path) {
		w.log.Debug("save throttled", zap.String("path", path))
		return
	}

	p := &pendingSave{}
	w.inflight.Add(1)
	p.timer = time.AfterFunc(w.opts.Settle, func() {
		defer w.inflight.Done()
		w.fire(ctx, path, p)
	})
	w.pending[path] = p
}

func (w *Watcher) dueLocked(path string) bool {
	if w.opts.SaveDelay <= 0 {
		return true
	}
	last, ok := w.lastSave[path]
	return !ok || w.now().Sub(last) > w.opts.SaveDelay
}

func (w *Watcher) fire(ctx context.Context, path string, p *pendingSave) {
	w.mu.Lock()
	if w.pending[path] == p {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	if !w.opts.AutoSave {
		w.log.Info("file changed, auto-save disabled", zap.String("path", path))
	} else if err := w.opts.Saver.Save(ctx, path); err != nil {
		w.log.Warn("save failed", zap.String("path", path), zap.Error(err))
	} else {
		w.log.Info("saved", zap.String("path", path))
	}

	w.mu.Lock()
	w.lastSave[path] = w.now()
	w.mu.Unlock()
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	w.stopped = true
	for path, p := range w.pending {
		if p.timer.Stop() {
			w.inflight.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	w.inflight.Wait()
	w.fs.Close()
	w.log.Info("auto-save watcher stopped")
}

// excluded reports whether path lies in an excluded directory below root
// or is a compiled Python file.
func excluded(root, path string) bool {
	if strings.HasSuffix(path, ".pyc") {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if excludedDirs[part] {
			return true
		}
	}
	return false
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if excludedDirs[d.Name()] && path != dir {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
