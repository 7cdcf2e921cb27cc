package cartridge

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
	"github.com/gobwas/glob"
)

// =============================================================================
// Watch configuration
// =============================================================================

// DefaultDebounce is the wait before a changed file is re-announced.
const DefaultDebounce = 100 * time.Millisecond

var (
	// ErrNoWatchPaths indicates no directories were given to watch.
	ErrNoWatchPaths = errors.New("cartridge: no watch paths configured")

	// ErrWatchPathInvalid indicates a watch path is missing or not a directory.
	ErrWatchPathInvalid = errors.New("cartridge: watch path invalid")
)

// ingestibleExtensions are the source formats the builder understands.
var ingestibleExtensions = map[string]struct{}{
	".md":   {},
	".csv":  {},
	".json": {},
	".txt":  {},
}

// WatchConfig configures source-file watching.
type WatchConfig struct {
	// Paths are directories watched recursively.
	Paths []string

	// ExcludePatterns are glob patterns for paths to ignore.
	ExcludePatterns []string

	// Debounce collapses bursts of writes to the same file.
	Debounce time.Duration
}

// ChangeEvent reports an ingestible source file that was created or
// modified.
type ChangeEvent struct {
	Path string
	Time time.Time
}

// =============================================================================
// Watcher
// =============================================================================

// Watcher monitors cartridge source directories and emits debounced change
// events for files the builder can ingest. Deletions are not reported.
type Watcher struct {
	config   WatchConfig
	fsw      *fsnotify.Watcher
	excludes []glob.Glob
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	eventCh chan ChangeEvent
	stopped bool

	stopOnce sync.Once
}

// NewWatcher validates the configuration and prepares a watcher. A nil
// logger falls back to slog.Default().
func NewWatcher(config WatchConfig, logger *slog.Logger) (*Watcher, error) {
	if len(config.Paths) == 0 {
		return nil, ErrNoWatchPaths
	}
	for _, path := range config.Paths {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrWatchPathInvalid, path)
		}
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	excludes := make([]glob.Glob, 0, len(config.ExcludePatterns))
	for _, pattern := range config.ExcludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		excludes = append(excludes, g)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config:   config,
		fsw:      fsw,
		excludes: excludes,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. The returned channel closes when the context is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) (<-chan ChangeEvent, error) {
	w.eventCh = make(chan ChangeEvent)

	for _, path := range w.config.Paths {
		if err := w.watchRecursive(path); err != nil {
			close(w.eventCh)
			return nil, err
		}
	}

	go w.run(ctx)
	return w.eventCh, nil
}

// watchRecursive registers a directory tree, skipping excluded subtrees.
func (w *Watcher) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.isExcluded(path) || (path != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handleEvent filters one fsnotify event and schedules a debounced emit.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.isExcluded(event.Name) {
		return
	}

	// New subdirectories get watched so later files are seen.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watchRecursive(event.Name)
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	if _, ok := ingestibleExtensions[ext]; !ok {
		return
	}

	w.schedule(event.Name)
}

// schedule (re)arms the debounce timer for a path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(w.config.Debounce, func() {
		w.emit(path)
	})
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	delete(w.pending, path)

	select {
	case w.eventCh <- ChangeEvent{Path: path, Time: time.Now()}:
	default:
		w.logger.Debug("change event dropped", "path", path)
	}
}

func (w *Watcher) isExcluded(path string) bool {
	base := filepath.Base(path)
	for _, g := range w.excludes {
		if g.Match(path) || g.Match(base) {
			return true
		}
	}
	return false
}

// Stop halts watching and closes the event channel. Safe to call twice.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
		w.mu.Unlock()

		w.fsw.Close()
	})
	return nil
}

func (w *Watcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		w.stopped = true
		for _, timer := range w.pending {
			timer.Stop()
		}
		w.pending = make(map[string]*time.Timer)
	}
	close(w.eventCh)
}
