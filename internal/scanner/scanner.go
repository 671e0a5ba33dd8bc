package scanner

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/jenian/confgrd/internal/model"
)

// ignoredDirs are directory names never descended into. The list is fixed:
// dependency caches, VCS metadata, build output and coverage reports.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"venv":         true,
	"__pycache__":  true,
	".next":        true,
	".nuxt":        true,
	"coverage":     true,
	".cache":       true,
}

// IgnoredDirs returns the fixed directory-name blacklist, sorted
func IgnoredDirs() []string {
	names := make([]string, 0, len(ignoredDirs))
	for name := range ignoredDirs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsIgnoredDir reports whether a directory with this name is skipped
func IsIgnoredDir(name string) bool {
	return ignoredDirs[name]
}

// PathError is returned when the scan root cannot be used
type PathError struct {
	Path   string
	Reason string
	Err    error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Path)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// Scanner handles configuration file discovery
type Scanner struct {
	logger *log.Logger
}

// NewScanner creates a scanner that logs nowhere
func NewScanner() *Scanner {
	return &Scanner{logger: log.New(io.Discard)}
}

// SetLogger sets the logger used for skipped entries
func (s *Scanner) SetLogger(logger *log.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// DetectFormat classifies a file by name. A name starting with ".env" is
// always an env file; otherwise the extension decides.
func DetectFormat(name string) (model.Format, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".env") {
		return model.FormatEnv, true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return model.FormatYAML, true
	case ".json":
		return model.FormatJSON, true
	case ".toml":
		return model.FormatTOML, true
	default:
		return "", false
	}
}

// Scan walks rootPath and returns every configuration file below it, sorted
// by relative path. A root that is itself a symlink is resolved first; links
// below it are not followed. WalkDir visits entries
// in lexical order but the result is keyed by path, so ordering only comes
// from the final sort.
func (s *Scanner) Scan(rootPath string) ([]model.DiscoveredFile, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PathError{Path: rootPath, Reason: "path does not exist", Err: err}
		}
		return nil, &PathError{Path: rootPath, Reason: "cannot access path", Err: err}
	}
	if !info.IsDir() {
		return nil, &PathError{Path: rootPath, Reason: "path is not a directory"}
	}
	walkRoot, err := filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, &PathError{Path: rootPath, Reason: "cannot access path", Err: err}
	}

	discovered := make(map[string]model.Format)

	err = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == walkRoot {
				return err
			}
			s.logger.Warn("skipping unreadable entry", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != walkRoot && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks and other non-regular entries are never followed
		if !d.Type().IsRegular() {
			return nil
		}

		format, ok := DetectFormat(d.Name())
		if !ok {
			return nil
		}

		rel, err := filepath.Rel(walkRoot, path)
		if err != nil {
			rel = path
		}
		discovered[filepath.ToSlash(rel)] = format
		return nil
	})
	if err != nil {
		return nil, &PathError{Path: rootPath, Reason: "failed to walk directory", Err: err}
	}

	files := make([]model.DiscoveredFile, 0, len(discovered))
	for path, format := range discovered {
		files = append(files, model.DiscoveredFile{Path: path, Format: format})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}
