package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// skippedDirs are never descended into when watching a tree.
var skippedDirs = map[string]struct{}{
	".git":         {},
	"node_modules": {},
}

// WatchTarget describes a set of files watched under one name.
type WatchTarget struct {
	// Root is the directory the globs are relative to.
	Root string

	// Globs select the files under Root that count as changes, using doublestar syntax.
	// An empty list matches every file.
	Globs []string

	// Recursive watches the whole tree under Root rather than Root alone.
	Recursive bool
}

// fileTarget watches a single file through its directory, so replacing the file is seen as well.
func fileTarget(path string) WatchTarget {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return WatchTarget{Root: filepath.Dir(abs), Globs: []string{filepath.Base(abs)}}
}

// Watcher reports debounced file changes per target name.
// NewWatcher should be used to create instances of Watcher.
type Watcher struct {
	logger    hclog.Logger
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	onChange  func(name string)

	mu      sync.Mutex
	targets map[string]WatchTarget
	dirs    map[string]struct{}
	pending map[string]*time.Timer
	closed  bool
}

// NewWatcher returns a watcher that calls onChange with a target's name once changes under it settle for debounce.
func NewWatcher(logger hclog.Logger, debounce time.Duration, onChange func(name string)) (*Watcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if onChange == nil {
		return nil, fmt.Errorf("change handler cannot be nil")
	}
	if debounce < 0 {
		return nil, fmt.Errorf("debounce cannot be negative")
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		logger:    logger,
		fsWatcher: fsWatcher,
		debounce:  debounce,
		onChange:  onChange,
		targets:   map[string]WatchTarget{},
		dirs:      map[string]struct{}{},
		pending:   map[string]*time.Timer{},
	}, nil
}

// Sync replaces the watched targets. Directories no target needs any more are unwatched.
func (w *Watcher) Sync(targets map[string]WatchTarget) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}

	wanted := map[string]struct{}{}
	normalized := make(map[string]WatchTarget, len(targets))
	for name, t := range targets {
		root, err := filepath.Abs(t.Root)
		if err != nil {
			return fmt.Errorf("failed to resolve '%s' for '%s': %w", t.Root, name, err)
		}
		t.Root = root
		normalized[name] = t

		for _, dir := range dirsUnder(t) {
			wanted[dir] = struct{}{}
		}
	}

	var errs []error
	for dir := range w.dirs {
		if _, ok := wanted[dir]; ok {
			continue
		}
		_ = w.fsWatcher.Remove(dir)
		delete(w.dirs, dir)
	}
	for _, dir := range slices.Sorted(maps.Keys(wanted)) {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to watch '%s': %w", dir, err))
			continue
		}
		w.dirs[dir] = struct{}{}
		w.logger.Trace("Watching directory", "path", dir)
	}

	for name, timer := range w.pending {
		if _, ok := normalized[name]; !ok {
			timer.Stop()
			delete(w.pending, name)
		}
	}
	w.targets = normalized

	if len(errs) > 0 {
		return fmt.Errorf("%d directories could not be watched, first: %w", len(errs), errs[0])
	}
	return nil
}

// Run processes file events until ctx is done, then releases the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if event.Has(fsnotify.Create) {
		w.watchNewDir(event.Name)
	}

	for name, t := range w.targets {
		if matches(t, event.Name) {
			w.logger.Debug("File changed", "target", name, "path", event.Name, "op", event.Op.String())
			w.scheduleLocked(name)
		}
	}
}

// watchNewDir follows a directory created inside a recursive target.
func (w *Watcher) watchNewDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if _, skip := skippedDirs[filepath.Base(path)]; skip {
		return
	}

	for _, t := range w.targets {
		if !t.Recursive || !within(t.Root, path) {
			continue
		}
		for _, dir := range dirsUnder(WatchTarget{Root: path, Recursive: true}) {
			if _, ok := w.dirs[dir]; ok {
				continue
			}
			if err := w.fsWatcher.Add(dir); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", dir, "error", err)
				continue
			}
			w.dirs[dir] = struct{}{}
		}
		return
	}
}

func (w *Watcher) scheduleLocked(name string) {
	if timer, ok := w.pending[name]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.pending[name] != timer || w.closed {
			w.mu.Unlock()
			return
		}
		delete(w.pending, name)
		w.mu.Unlock()

		w.onChange(name)
	})
	w.pending[name] = timer
}

func (w *Watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}
	if err := w.fsWatcher.Close(); err != nil {
		w.logger.Warn("Failed to close file watcher", "error", err)
	}
}

// dirsUnder lists the directories to watch for t. A missing root yields nothing.
func dirsUnder(t WatchTarget) []string {
	info, err := os.Stat(t.Root)
	if err != nil || !info.IsDir() {
		return nil
	}
	if !t.Recursive {
		return []string{t.Root}
	}

	var dirs []string
	_ = filepath.WalkDir(t.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := skippedDirs[d.Name()]; skip && path != t.Root {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}

// matches reports whether a change at path belongs to t.
func matches(t WatchTarget, path string) bool {
	rel, err := filepath.Rel(t.Root, path)
	if err != nil || rel == "." || !within(t.Root, path) {
		return false
	}
	if !t.Recursive && filepath.Dir(rel) != "." {
		return false
	}
	if len(t.Globs) == 0 {
		return true
	}

	rel = filepath.ToSlash(rel)
	for _, glob := range t.Globs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func within(root string, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
