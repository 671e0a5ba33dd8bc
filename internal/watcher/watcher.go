// Package watcher observes a directory tree and raises a single debounced
// notification when configuration files change.
//
// A Watcher is either Idle or Watching one path. Raw fsnotify events are
// collected for one debounce window, measured from the first event of the
// batch. Later events join the batch without extending the window. When it
// closes the batch is inspected and, if any path looks like a configuration
// file, the OnEvent callback fires once with EventConfigFilesChanged.
package watcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/jenian/confgrd/internal/scanner"
)

// EventConfigFilesChanged is the only event name emitted
const EventConfigFilesChanged = "config-files-changed"

// DefaultDebounce is the window that closes a batch of events
const DefaultDebounce = time.Second

// relevantSuffixes mark a changed path as a configuration file. Any path
// containing ".env" is relevant too.
var relevantSuffixes = []string{".yaml", ".yml", ".json", ".toml"}

// Options configures a Watcher
type Options struct {
	// OnEvent receives EventConfigFilesChanged. It runs on the watcher's
	// event loop and must not call Start or Stop itself; hand the signal to
	// another goroutine instead.
	OnEvent func(name string)

	// Logger receives watch errors. nil discards them.
	Logger *log.Logger

	// Debounce overrides DefaultDebounce. Zero or negative uses the default.
	Debounce time.Duration
}

// Error is returned when a watch cannot be installed
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("watch %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Watcher owns at most one active filesystem watch
type Watcher struct {
	onEvent  func(string)
	logger   *log.Logger
	debounce time.Duration
	ignores  []string

	mu     sync.Mutex // serializes Start and Stop
	active atomic.Pointer[session]
}

// session is one installed watch and its event loop
type session struct {
	path string // as requested, reported by Status
	root string // symlinks resolved, what fsnotify reports events under
	fsw  *fsnotify.Watcher
	stop chan struct{}
	done chan struct{}
}

// New creates an idle Watcher
func New(opts Options) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	// Directories the scanner never reads are not watched either
	dirs := scanner.IgnoredDirs()
	ignores := make([]string, 0, len(dirs))
	for _, name := range dirs {
		ignores = append(ignores, "**/"+name)
	}

	return &Watcher{
		onEvent:  opts.OnEvent,
		logger:   logger,
		debounce: debounce,
		ignores:  ignores,
	}
}

// Start watches path recursively, replacing any active watch. On error the
// watcher is left Idle.
func (w *Watcher) Start(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	absPath, err := filepath.Abs(path)
	if err != nil {
		return &Error{Path: path, Op: "resolve path", Err: err}
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return &Error{Path: path, Op: "stat", Err: err}
	}
	if !info.IsDir() {
		return &Error{Path: path, Op: "stat", Err: fmt.Errorf("not a directory")}
	}
	// A root that is itself a symlink is followed; links below it are not
	root, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return &Error{Path: path, Op: "resolve path", Err: err}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return &Error{Path: path, Op: "create watcher", Err: err}
	}

	s := &session{
		path: absPath,
		root: root,
		fsw:  fsw,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := w.addTree(s, root); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			w.logger.Warn("close after failed start", "err", closeErr)
		}
		return &Error{Path: path, Op: "add watch", Err: err}
	}

	w.active.Store(s)
	go w.run(s)

	w.logger.Debug("watch started", "path", absPath)
	return nil
}

// Stop removes the active watch, if any, and waits for its event loop to
// exit. No callback fires after Stop returns. Stopping an idle watcher is a
// no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *Watcher) stopLocked() {
	s := w.active.Swap(nil)
	if s == nil {
		return
	}
	close(s.stop)
	<-s.done
	w.logger.Debug("watch stopped", "path", s.path)
}

// Status reports whether a watch is active and on which path
func (w *Watcher) Status() (bool, string) {
	s := w.active.Load()
	if s == nil {
		return false, ""
	}
	return true, s.path
}

// Done returns a channel that is closed when the active watch ends, either
// through Stop or on its own after a fatal error. It returns nil when idle.
func (w *Watcher) Done() <-chan struct{} {
	s := w.active.Load()
	if s == nil {
		return nil
	}
	return s.done
}

// run is the event loop of one session. It owns the fsnotify watcher and
// closes it on exit.
func (w *Watcher) run(s *session) {
	defer close(s.done)
	defer func() {
		if err := s.fsw.Close(); err != nil {
			w.logger.Warn("close watcher", "err", err)
		}
	}()

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = make(map[string]struct{})
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.stop:
			return

		case evt, ok := <-s.fsw.Events:
			if !ok {
				w.retire(s)
				return
			}

			rel := relPath(s.root, evt.Name)
			if w.isIgnored(rel) {
				continue
			}

			// New directories extend the recursive watch
			if evt.Has(fsnotify.Create) {
				w.maybeAddDir(s, evt.Name)
			}

			pending[rel] = struct{}{}
			// Only the first event of a batch arms the timer
			if timerC == nil {
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			batch := pending
			pending = make(map[string]struct{})

			if !anyRelevant(batch) {
				continue
			}
			// Stop may have raced the timer; never emit once it has begun
			select {
			case <-s.stop:
				return
			default:
			}
			w.emit(len(batch))

		case err, ok := <-s.fsw.Errors:
			if !ok {
				w.retire(s)
				return
			}
			if isFatalFsnotifyError(err) {
				w.logger.Error("watch failed", "path", s.path, "err", err)
				w.retire(s)
				return
			}
			w.logger.Warn("watch error", "path", s.path, "err", err)
		}
	}
}

// retire moves the watcher back to Idle when a session ends on its own
func (w *Watcher) retire(s *session) {
	w.active.CompareAndSwap(s, nil)
}

func (w *Watcher) emit(changed int) {
	w.logger.Debug("config files changed", "events", changed)
	if w.onEvent != nil {
		w.onEvent(EventConfigFilesChanged)
	}
}

// addTree registers root and every non-ignored directory below it.
// Symbolic links are not followed.
func (w *Watcher) addTree(s *session, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			w.logger.Warn("skipping inaccessible path", "path", path, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.isIgnored(relPath(root, path)) {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(path); err != nil {
			return fmt.Errorf("add %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) maybeAddDir(s *session, path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.addTree(s, path); err != nil {
		w.logger.Warn("watch new directory", "path", path, "err", err)
	}
}

// isIgnored reports whether rel is, or lies below, an ignored directory
func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pat := range w.ignores {
		if ok, _ := doublestar.Match(pat, normalized); ok {
			return true
		}
		if ok, _ := doublestar.Match(pat+"/**", normalized); ok {
			return true
		}
	}
	return false
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}

// IsRelevant reports whether a changed path should trigger a rescan
func IsRelevant(path string) bool {
	if strings.Contains(path, ".env") {
		return true
	}
	lower := strings.ToLower(path)
	for _, suffix := range relevantSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func anyRelevant(batch map[string]struct{}) bool {
	for path := range batch {
		if IsRelevant(path) {
			return true
		}
	}
	return false
}
