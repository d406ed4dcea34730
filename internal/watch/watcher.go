// SPDX-License-Identifier: MPL-2.0

// Package watch reports debounced filesystem changes under a set of
// repository directories.
//
// Every root is watched recursively. Events within the debounce window are
// coalesced so the callback fires once with the changed paths grouped by the
// root they belong to.
package watch

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the delay before firing the OnChange callback after the
// last filesystem event. Editors that write a temp file and rename it produce
// several events for one save.
const defaultDebounce = 250 * time.Millisecond

// defaultIgnores lists path patterns that are always excluded from watching,
// regardless of user-supplied ignore patterns.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.#*",
	"**/.DS_Store",
	"**/*.tmp",
}

// ErrNoRoots is returned by New when Config.Roots is empty.
var ErrNoRoots = errors.New("watch: no directories to watch")

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Roots are the directories to watch. Relative paths are resolved
		// against the working directory. Nested roots are allowed; an event is
		// attributed to the deepest root containing it.
		Roots []string

		// Patterns are doublestar-compatible glob patterns, relative to a root,
		// that select which files trigger callbacks. An empty slice watches all
		// non-ignored files.
		Patterns []string

		// Ignore are additional doublestar-compatible glob patterns for paths
		// that should never trigger callbacks. These are merged with the
		// built-in default ignores.
		Ignore []string

		// Debounce is the quiet period after the last event before the callback
		// fires. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnChange is called after the debounce window closes. A nil callback
		// is a no-op. Calls never overlap.
		OnChange func(ctx context.Context, changes Changes) error

		// Logger receives watcher diagnostics. nil logs to stderr.
		Logger *log.Logger
	}

	// Changes maps the absolute path of each root to the slash-separated
	// paths below it that changed.
	Changes map[string][]string

	// Watcher monitors repository directories and fires a debounced callback
	// when matching files change. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []string
		ignores  []string
		logger   *log.Logger
		debounce time.Duration
		started  atomic.Bool
	}
)

// Roots returns the roots with changes, sorted.
func (c Changes) Roots() []string {
	return slices.Sorted(maps.Keys(c))
}

// Len returns the number of changed paths across all roots.
func (c Changes) Len() int {
	n := 0
	for _, paths := range c {
		n += len(paths)
	}
	return n
}

// New creates a Watcher from the given Config. It resolves every root to an
// absolute path, initialises the underlying fsnotify watcher, and registers
// all non-ignored directories under each root.
func New(cfg Config) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, ErrNoRoots
	}

	// Validate all patterns eagerly so invalid globs fail at construction
	// time rather than silently failing to match at runtime.
	if err := validatePatterns(cfg.Patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(cfg.Roots))
	for _, root := range cfg.Roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve %q: %w", root, err)
		}
		if !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}
	// Deepest root first so rootOf finds the most specific match.
	slices.SortFunc(roots, func(a, b string) int { return len(b) - len(a) })

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "watch"})
	}

	ignores := make([]string, 0, len(defaultIgnores)+len(cfg.Ignore))
	ignores = append(ignores, defaultIgnores...)
	ignores = append(ignores, cfg.Ignore...)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		roots:    roots,
		ignores:  ignores,
		logger:   logger,
		debounce: debounce,
	}

	for _, root := range roots {
		if err := w.addDirectories(root); err != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				logger.Warn("close after init failure", "err", closeErr)
			}
			return nil, err
		}
	}

	return w, nil
}

// Run blocks until ctx is cancelled, processing filesystem events and
// dispatching debounced callbacks. It returns nil on clean context
// cancellation and propagates fatal watcher errors.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire drains the pending set and invokes OnChange. It may be scheduled
	// by time.AfterFunc after ctx is cancelled. When the previous callback is
	// still running it reschedules itself instead of overlapping.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous change still being applied, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changes := make(Changes, len(pending))
		for root, paths := range pending {
			changes[root] = slices.Sorted(maps.Keys(paths))
		}
		clear(pending)
		mu.Unlock()

		w.logger.Debug("change detected", "roots", len(changes), "paths", changes.Len())
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changes); err != nil {
				w.logger.Error("apply change", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("close fsnotify", "err", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: fsnotify event channel closed unexpectedly")
			}

			root, rel, ok := w.rootOf(evt.Name)
			if !ok || w.isIgnored(rel) {
				continue
			}

			// Extend the recursive watch to directories created after startup,
			// whether or not the directory itself matches a pattern.
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(evt.Name, rel)
			}

			if !w.matchesPatterns(rel) {
				continue
			}

			mu.Lock()
			if pending[root] == nil {
				pending[root] = make(map[string]struct{})
			}
			pending[root][rel] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: fsnotify error channel closed unexpectedly")
			}
			// Resource exhaustion means the watcher has stopped seeing events.
			// isFatalWatchError is platform-specific (see watcher_fatal_*.go).
			if isFatalWatchError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// rootOf returns the deepest root containing path and path relative to it in
// slash form.
func (w *Watcher) rootOf(path string) (root, rel string, ok bool) {
	for _, r := range w.roots {
		p, err := filepath.Rel(r, path)
		if err != nil || p == ".." || strings.HasPrefix(p, ".."+string(filepath.Separator)) {
			continue
		}
		return r, filepath.ToSlash(p), true
	}
	return "", "", false
}

// addDirectories walks root and adds every non-ignored directory to the
// fsnotify watcher. Pattern filtering is applied when events arrive.
func (w *Watcher) addDirectories(root string) error {
	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			if path == root {
				return walkDirErr
			}
			w.logger.Warn("skipping inaccessible path", "path", path, "err", walkDirErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil //nolint:nilerr // skip paths that cannot be made relative
		}
		rel = filepath.ToSlash(rel)

		// Skip ignored directories entirely to avoid descending into them.
		if w.isIgnored(rel) || w.isIgnored(rel+"/") {
			return filepath.SkipDir
		}

		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk %s: %w", root, walkErr)
	}
	return nil
}

// maybeAddDir adds path, and any directories already below it, when path is a
// directory that is not ignored.
func (w *Watcher) maybeAddDir(path, rel string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if w.isIgnored(rel) || w.isIgnored(rel+"/") {
		return
	}
	if err := w.addDirectories(path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "err", err)
	}
}

// isIgnored reports whether rel (slash form, relative to its root) matches any
// ignore pattern.
func (w *Watcher) isIgnored(rel string) bool {
	return matchAny(w.ignores, rel)
}

// matchesPatterns reports whether rel matches at least one watch pattern. When
// no patterns are configured, all paths match.
func (w *Watcher) matchesPatterns(rel string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	return matchAny(w.cfg.Patterns, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if matched, matchErr := doublestar.Match(pat, rel); matchErr == nil && matched {
			return true
		}
	}
	return false
}

// DefaultIgnores returns a copy of the built-in ignore patterns.
func DefaultIgnores() []string {
	return slices.Clone(defaultIgnores)
}

// validatePatterns checks that every pattern in the slice is a valid doublestar
// glob. The label (e.g., "watch" or "ignore") is used in error messages.
func validatePatterns(patterns []string, label string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid %s pattern %q: %w", label, pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}
