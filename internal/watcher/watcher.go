// Package watcher keeps document sessions in step with reference files on
// disk: a created or modified file is reloaded after a quiet period, a removed
// or renamed one is dropped.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/config"
	"github.com/hyperjump/diydoctor/pkg/utils"
)

const defaultDebounce = 500 * time.Millisecond

// Handler reacts to settled file changes.
type Handler interface {
	Changed(ctx context.Context, path string)
	Removed(path string)
}

// Watcher watches document directories and forwards debounced events to a Handler.
type Watcher struct {
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	handler    Handler
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	pending map[string]*time.Timer
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for event output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a path must stay quiet before it is reloaded.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher over roots. Only files whose extension is listed are
// reported; an empty list reports every file.
func New(roots, extensions []string, recursive bool, h Handler, opts ...Option) *Watcher {
	w := &Watcher{
		roots:      cleanAll(roots),
		extensions: extensions,
		recursive:  recursive,
		debounce:   defaultDebounce,
		handler:    h,
		pending:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.LoggerOrNop(w.logger)
	return w
}

// FromConfig creates a watcher for the watch section of the configuration.
func FromConfig(cfg config.WatchConfig, h Handler, opts ...Option) *Watcher {
	opts = append([]Option{WithDebounce(time.Duration(cfg.DebounceMs) * time.Millisecond)}, opts...)
	return New(cfg.Directories, cfg.Extensions, cfg.RecursiveOrDefault(), h, opts...)
}

// Start creates missing roots, registers them and begins forwarding events
// until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
		if err := w.addTree(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.logger.Info("watching documents",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.loop(w.ctx, fsw, w.done)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("file event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.matches(path) {
			w.handler.Removed(path)
		}
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.addDirectory(path)
			return
		}
		if w.matches(path) {
			w.schedule(path)
		}
	}
}

// addDirectory registers a directory that appeared under a root and loads
// the files already in it.
func (w *Watcher) addDirectory(dir string) {
	w.mu.Lock()
	var err error
	if w.fsw != nil && w.recursive {
		err = w.addTree(dir)
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Warn("failed to watch directory", zap.String("path", dir), zap.Error(err))
		return
	}
	for _, path := range w.files(dir) {
		w.schedule(path)
	}
}

// addTree registers dir, and every directory below it when recursive. w.mu must be held.
func (w *Watcher) addTree(dir string) error {
	if !w.recursive {
		return w.fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil || w.ctx.Err() != nil {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	ctx := w.ctx
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		w.handler.Changed(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// Sync reports every matching file already present under the roots as changed.
func (w *Watcher) Sync(ctx context.Context) {
	for _, root := range w.roots {
		for _, path := range w.files(root) {
			if ctx.Err() != nil {
				return
			}
			w.handler.Changed(ctx, path)
		}
	}
}

func (w *Watcher) files(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.matches(path) {
			out = append(out, path)
		}
		return nil
	})
	return out
}

// Stop cancels pending reloads and closes the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	fsw, done := w.fsw, w.done
	w.fsw = nil
	w.mu.Unlock()
	_ = fsw.Close()
	<-done
}

// Roots returns the watched root directories.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

func (w *Watcher) matches(path string) bool {
	return matchExtension(path, w.extensions)
}

func (w *Watcher) underRoot(path string) bool {
	for _, root := range w.roots {
		if inDir(root, path) {
			return true
		}
	}
	return false
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}
