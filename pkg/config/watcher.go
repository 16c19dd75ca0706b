package config

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/getmockd/mockproxy/pkg/logging"
)

// Watcher reports changes to files matching a set of patterns. Bursts of
// events are collapsed into one callback per debounce window.
type Watcher struct {
	watcher  *fsnotify.Watcher
	patterns []string
	debounce time.Duration
	onChange func()
	log      *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	dirs  map[string]bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher watches the directories that can hold files matching patterns.
// Patterns are absolute paths or doublestar globs.
func NewWatcher(patterns []string, onChange func(), opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		patterns: patterns,
		debounce: DefaultDebounce,
		onChange: onChange,
		log:      logging.Nop(),
		dirs:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, p := range patterns {
		if err := w.addRoots(p); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Run dispatches events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("file watcher error", "error", err)
		}
	}
}

// Close stops watching. A pending callback is cancelled.
func (w *Watcher) Close() error {
	w.stopTimer()
	return w.watcher.Close()
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.dirs))
	for d := range w.dirs {
		out = append(out, d)
	}
	return out
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.underRecursive(event.Name) {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("watch new directory failed", "path", event.Name, "error", err)
			}
			return
		}
	}
	if !w.matches(event.Name) {
		return
	}
	w.log.Debug("watched file changed", "path", event.Name, "op", event.Op.String())
	w.schedule()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

func (w *Watcher) matches(path string) bool {
	path = filepath.Clean(path)
	for _, p := range w.patterns {
		if p == path {
			return true
		}
		if ok, err := doublestar.PathMatch(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// addRoots watches the static prefix of pattern, and every directory below
// it when the pattern recurses.
func (w *Watcher) addRoots(pattern string) error {
	if !hasMeta(pattern) {
		return w.addDir(filepath.Dir(pattern))
	}
	base, rest := doublestar.SplitPattern(filepath.ToSlash(pattern))
	base = filepath.FromSlash(base)
	if recursive(rest) {
		return w.addTree(base)
	}
	return w.addDir(base)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.addDir(path)
		}
		return nil
	})
}

func (w *Watcher) addDir(dir string) error {
	dir = filepath.Clean(dir)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

func (w *Watcher) underRecursive(dir string) bool {
	for _, p := range w.patterns {
		if !hasMeta(p) {
			continue
		}
		base, rest := doublestar.SplitPattern(filepath.ToSlash(p))
		rel, err := filepath.Rel(filepath.FromSlash(base), dir)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && recursive(rest) {
			return true
		}
	}
	return false
}

// recursive reports whether the glob remainder can match below its first
// directory level.
func recursive(rest string) bool {
	return strings.Contains(rest, "**") || hasMeta(filepath.Dir(rest))
}
