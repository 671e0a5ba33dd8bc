// Package session runs the scan pipeline over a directory and owns the
// long-lived pieces around it: the parse cache and the filesystem watcher.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jenian/confgrd/internal/analyzer"
	"github.com/jenian/confgrd/internal/cache"
	"github.com/jenian/confgrd/internal/export"
	"github.com/jenian/confgrd/internal/model"
	"github.com/jenian/confgrd/internal/parser"
	"github.com/jenian/confgrd/internal/scanner"
	"github.com/jenian/confgrd/internal/watcher"
)

// DefaultConcurrency bounds the number of files processed at once
const DefaultConcurrency = 16

// Options configures a Session. The zero value is usable.
type Options struct {
	Concurrency   int                                // Parallel file tasks, DefaultConcurrency when <= 0
	Logger        *log.Logger                        // nil discards
	FS            func(root string) billy.Filesystem // Filesystem rooted at the scan root, osfs by default
	Notify        func(event string)                 // Receives watcher events
	Debounce      time.Duration                      // Watcher debounce, watcher.DefaultDebounce when zero
	RedactSecrets bool                               // Blank secret-guessed values on export
}

// Summary holds the headline numbers of a scan
type Summary struct {
	TotalFiles int `json:"totalFiles"`
	TotalKeys  int `json:"totalKeys"`
	UniqueKeys int `json:"uniqueKeys"`
}

// ScanResult is the complete, immutable outcome of one scan
type ScanResult struct {
	Root    string                  `json:"root"`
	Files   []model.DiscoveredFile  `json:"files"`
	Entries []model.NormalizedEntry `json:"entries"`
	Issues  analyzer.ScanIssues     `json:"issues"`
	Summary Summary                 `json:"summary"`
}

// Session scans directories and keeps parsed files cached between scans
type Session struct {
	scanner       *scanner.Scanner
	cache         *cache.FileCache
	watcher       *watcher.Watcher
	logger        *log.Logger
	concurrency   int
	newFS         func(root string) billy.Filesystem
	redactSecrets bool
}

// New creates a session with an empty cache and an idle watcher
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	newFS := opts.FS
	if newFS == nil {
		newFS = func(root string) billy.Filesystem { return osfs.New(root) }
	}

	sc := scanner.NewScanner()
	sc.SetLogger(logger)

	notify := opts.Notify
	w := watcher.New(watcher.Options{
		Logger:   logger,
		Debounce: opts.Debounce,
		OnEvent: func(event string) {
			if notify != nil {
				notify(event)
			}
		},
	})

	return &Session{
		scanner:       sc,
		cache:         cache.New(),
		watcher:       w,
		logger:        logger,
		concurrency:   concurrency,
		newFS:         newFS,
		redactSecrets: opts.RedactSecrets,
	}
}

// fileResult is the outcome of one file task
type fileResult struct {
	entries []model.NormalizedEntry
	err     *model.ParseError
	cached  bool
}

// Scan discovers and parses every configuration file under root. A bad
// root fails the whole scan with *scanner.PathError; a file that cannot be
// read or parsed only adds a parse error to the result.
func (s *Session) Scan(ctx context.Context, root string) (*ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &scanner.PathError{Path: root, Reason: "invalid path", Err: err}
	}

	files, err := s.scanner.Scan(absRoot)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("discovered files", "root", absRoot, "count", len(files))

	fsys := s.newFS(absRoot)
	results := make([]fileResult, len(files))

	var wg sync.WaitGroup
	workers := make(chan struct{}, s.concurrency)

dispatch:
	for i, f := range files {
		select {
		case <-ctx.Done():
			break dispatch
		case workers <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, f model.DiscoveredFile) {
			defer wg.Done()
			defer func() { <-workers }()
			results[i] = s.processFile(fsys, absRoot, f)
		}(i, f)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.assemble(absRoot, files, results), nil
}

// processFile stats one file, serves it from the cache when the
// modification time is unchanged and parses it otherwise.
func (s *Session) processFile(fsys billy.Filesystem, root string, f model.DiscoveredFile) (res fileResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("file task panicked", "file", f.Path, "panic", r)
			res = fileResult{err: &model.ParseError{File: f.Path, Message: fmt.Sprintf("task failed: %v", r)}}
		}
	}()

	cacheKey := filepath.Join(root, filepath.FromSlash(f.Path))

	info, err := fsys.Stat(f.Path)
	if err != nil {
		s.cache.Delete(cacheKey)
		return fileResult{err: &model.ParseError{File: f.Path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}
	modTime := info.ModTime()

	if entries, ok := s.cache.Get(cacheKey, modTime); ok {
		s.logger.Debug("cache hit", "file", f.Path)
		return fileResult{entries: entries, cached: true}
	}

	entries, err := parser.ParseFile(fsys, f.Path, f.Format)
	if err != nil {
		s.cache.Delete(cacheKey)
		s.logger.Warn("failed to parse file", "file", f.Path, "err", err)

		var parseErr *model.ParseError
		if errors.As(err, &parseErr) {
			return fileResult{err: parseErr}
		}
		return fileResult{err: &model.ParseError{File: f.Path, Message: err.Error()}}
	}

	s.cache.Put(cacheKey, modTime, entries)
	s.logger.Debug("parsed file", "file", f.Path, "entries", len(entries))
	return fileResult{entries: entries}
}

// assemble joins per-file results in discovery order
func (s *Session) assemble(root string, files []model.DiscoveredFile, results []fileResult) *ScanResult {
	entries := []model.NormalizedEntry{}
	parseErrors := []model.ParseError{}
	hits := 0

	for i := range files {
		r := results[i]
		if r.err != nil {
			parseErrors = append(parseErrors, *r.err)
			continue
		}
		if r.cached {
			hits++
		}
		files[i].Count = len(r.entries)
		entries = append(entries, r.entries...)
	}

	issues := analyzer.Analyze(entries)
	issues.ParseErrors = parseErrors

	s.logger.Debug("scan complete", "files", len(files), "entries", len(entries), "cacheHits", hits, "parseErrors", len(parseErrors))

	return &ScanResult{
		Root:    root,
		Files:   files,
		Entries: entries,
		Issues:  issues,
		Summary: Summary{
			TotalFiles: len(files),
			TotalKeys:  len(entries),
			UniqueKeys: analyzer.UniqueKeys(entries),
		},
	}
}

// Export writes entries to outputPath in format and returns the absolute
// path written.
func (s *Session) Export(entries []model.NormalizedEntry, outputPath string, format export.Format) (string, error) {
	path, err := export.Write(entries, outputPath, format, export.Options{RedactSecrets: s.redactSecrets})
	if err != nil {
		return "", err
	}
	s.logger.Info("exported entries", "path", path, "format", format, "entries", len(entries))
	return path, nil
}

// StartWatch watches path, replacing any active watch. Changes to
// configuration files are reported through Options.Notify.
func (s *Session) StartWatch(path string) error {
	return s.watcher.Start(path)
}

// StopWatch ends the active watch, if any
func (s *Session) StopWatch() {
	s.watcher.Stop()
}

// WatchStatus reports whether a watch is active and on which path
func (s *Session) WatchStatus() (bool, string) {
	return s.watcher.Status()
}

// WatchDone returns a channel closed when the active watch ends, or nil if
// no watch is active
func (s *Session) WatchDone() <-chan struct{} {
	return s.watcher.Done()
}

// CachedFiles returns the number of files held in the parse cache
func (s *Session) CachedFiles() int {
	return s.cache.Len()
}

// Close stops the watcher and drops cached entries
func (s *Session) Close() {
	s.watcher.Stop()
	s.cache.Clear()
}
