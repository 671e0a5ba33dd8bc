package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bradleyjkemp/cupaloy/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/jenian/confgrd/internal/analyzer"
	"github.com/jenian/confgrd/internal/export"
	"github.com/jenian/confgrd/internal/model"
	"github.com/jenian/confgrd/internal/scanner"
	"github.com/jenian/confgrd/internal/watcher"
)

// countingFS counts content reads made through the filesystem
type countingFS struct {
	billy.Filesystem
	opens atomic.Int32
}

func (c *countingFS) Open(name string) (billy.File, error) {
	c.opens.Add(1)
	return c.Filesystem.Open(name)
}

// panickingFS panics while statting one file
type panickingFS struct {
	billy.Filesystem
	target string
}

func (p *panickingFS) Stat(name string) (os.FileInfo, error) {
	if name == p.target {
		panic("stat exploded")
	}
	return p.Filesystem.Stat(name)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func fixtureRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("testdata", "fixture"))
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func checkCountInvariant(t *testing.T, result *ScanResult) {
	t.Helper()
	if result.Summary.TotalKeys != len(result.Entries) {
		t.Errorf("TotalKeys %d does not match %d entries", result.Summary.TotalKeys, len(result.Entries))
	}
	if result.Summary.TotalFiles != len(result.Files) {
		t.Errorf("TotalFiles %d does not match %d files", result.Summary.TotalFiles, len(result.Files))
	}
	for _, f := range result.Files {
		n := 0
		for _, e := range result.Entries {
			if e.SourceFile == f.Path {
				n++
			}
		}
		if f.Count != n {
			t.Errorf("File %s: count %d, but %d entries reference it", f.Path, f.Count, n)
		}
	}
}

func TestScan_Fixture(t *testing.T) {
	s := New(Options{})
	result, err := s.Scan(context.Background(), fixtureRoot(t))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	checkCountInvariant(t, result)

	var paths []string
	for _, f := range result.Files {
		paths = append(paths, f.Path)
	}
	expectedPaths := []string{".env", ".env.example", "broken.json", "config/app.yaml", "config/settings.json", "pyproject.toml"}
	if !reflect.DeepEqual(paths, expectedPaths) {
		t.Errorf("Expected files %v, got %v", expectedPaths, paths)
	}

	expectedSummary := Summary{TotalFiles: 6, TotalKeys: 11, UniqueKeys: 8}
	if result.Summary != expectedSummary {
		t.Errorf("Expected summary %+v, got %+v", expectedSummary, result.Summary)
	}

	expectedDuplicates := []analyzer.Duplicate{
		{Key: "API_URL", Files: []string{".env", ".env.example"}},
		{Key: "PORT", Files: []string{".env", ".env.example"}},
		{Key: "server.port", Files: []string{"config/app.yaml", "config/settings.json"}},
	}
	if !reflect.DeepEqual(result.Issues.Duplicates, expectedDuplicates) {
		t.Errorf("Expected duplicates %v, got %v", expectedDuplicates, result.Issues.Duplicates)
	}

	expectedMissing := []analyzer.MissingKeys{
		{File: ".env", MissingKeys: []string{"database.url", "features", "server.host", "server.port", "tool.name"}},
		{File: ".env.example", MissingKeys: []string{"DB_PASSWORD", "database.url", "features", "server.host", "server.port", "tool.name"}},
	}
	if !reflect.DeepEqual(result.Issues.MissingByEnvFile, expectedMissing) {
		t.Errorf("Expected missing %v, got %v", expectedMissing, result.Issues.MissingByEnvFile)
	}

	if len(result.Issues.ParseErrors) != 1 {
		t.Fatalf("Expected 1 parse error, got %v", result.Issues.ParseErrors)
	}
	parseErr := result.Issues.ParseErrors[0]
	if parseErr.File != "broken.json" || !strings.HasPrefix(parseErr.Message, "JSON parse error") {
		t.Errorf("Unexpected parse error %+v", parseErr)
	}
}

func TestScan_FixtureSnapshot(t *testing.T) {
	s := New(Options{})
	result, err := s.Scan(context.Background(), fixtureRoot(t))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	result.Root = "[ROOT]"

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	cupaloy.New(cupaloy.FailOnUpdate(false)).SnapshotT(t, string(data))
}

func TestScan_CacheSkipsUnchangedFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".env":              "A=1\nB=2\n",
		"config/app.yaml":   "server:\n  port: 8080\n",
		"config/flags.json": `{"beta": true}`,
		"Cargo.toml":        "[package]\nname = \"x\"\n",
	})

	cfs := &countingFS{}
	s := New(Options{FS: func(root string) billy.Filesystem {
		cfs.Filesystem = osfs.New(root)
		return cfs
	}})

	first, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("first Scan failed: %v", err)
	}
	if got := cfs.opens.Load(); got != 4 {
		t.Fatalf("Expected 4 reads on the first scan, got %d", got)
	}
	if s.CachedFiles() != 4 {
		t.Errorf("Expected 4 cached files, got %d", s.CachedFiles())
	}

	cfs.opens.Store(0)
	second, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("second Scan failed: %v", err)
	}
	if got := cfs.opens.Load(); got != 0 {
		t.Errorf("Expected no reads for unchanged files, got %d", got)
	}
	if !reflect.DeepEqual(first.Entries, second.Entries) {
		t.Errorf("Cached scan returned different entries")
	}

	// A new modification time invalidates exactly that file
	path := filepath.Join(root, ".env")
	if err := os.WriteFile(path, []byte("A=changed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	cfs.opens.Store(0)
	third, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("third Scan failed: %v", err)
	}
	if got := cfs.opens.Load(); got != 1 {
		t.Errorf("Expected 1 read after touching one file, got %d", got)
	}

	var envValues []string
	for _, e := range third.Entries {
		if e.SourceFile == ".env" {
			envValues = append(envValues, e.Key+"="+e.Value.Str)
		}
	}
	if !reflect.DeepEqual(envValues, []string{"A=changed"}) {
		t.Errorf("Expected the re-parsed .env, got %v", envValues)
	}
	checkCountInvariant(t, third)
}

func TestScan_ResultsDoNotAliasCache(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.json": `{"k": [1, 2]}`})

	s := New(Options{})
	first, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	first.Entries[0].Value.Array[0] = model.NewString("mutated")

	second, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if second.Entries[0].Value.Array[0].Kind != model.KindNumber {
		t.Errorf("Mutating a result must not change later scans, got %+v", second.Entries[0].Value.Array[0])
	}
}

func TestScan_BrokenFileIsIsolated(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"good.json": `{"name": "ok"}`,
		"bad.yaml":  "key: [unclosed\n",
		"bad.toml":  "= nope\n",
		"bin.json":  "\xff\xfe",
	})

	s := New(Options{})
	result, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(result.Entries) != 1 || result.Entries[0].Key != "name" {
		t.Errorf("Expected only the good file's entry, got %v", result.Entries)
	}
	if result.Summary.TotalFiles != 4 {
		t.Errorf("Failed files still count towards TotalFiles, got %d", result.Summary.TotalFiles)
	}

	var failed []string
	for _, pe := range result.Issues.ParseErrors {
		failed = append(failed, pe.File)
	}
	expected := []string{"bad.toml", "bad.yaml", "bin.json"}
	if !reflect.DeepEqual(failed, expected) {
		t.Errorf("Expected parse errors for %v, got %v", expected, failed)
	}
	for _, f := range result.Files {
		if f.Path != "good.json" && f.Count != 0 {
			t.Errorf("Failed file %s should have a zero count, got %d", f.Path, f.Count)
		}
	}
	if s.CachedFiles() != 1 {
		t.Errorf("Only successful parses are cached, got %d records", s.CachedFiles())
	}
}

func TestScan_PanicBecomesParseError(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"boom.json": `{"a": 1}`,
		"fine.json": `{"b": 2}`,
	})

	s := New(Options{FS: func(root string) billy.Filesystem {
		return &panickingFS{Filesystem: osfs.New(root), target: "boom.json"}
	}})

	result, err := s.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if len(result.Issues.ParseErrors) != 1 {
		t.Fatalf("Expected 1 parse error, got %v", result.Issues.ParseErrors)
	}
	pe := result.Issues.ParseErrors[0]
	if pe.File != "boom.json" || pe.Message != "task failed: stat exploded" {
		t.Errorf("Unexpected parse error %+v", pe)
	}
	if len(result.Entries) != 1 || result.Entries[0].Key != "b" {
		t.Errorf("Expected the other file to survive, got %v", result.Entries)
	}
}

func TestScan_InvalidRoot(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.json")
	writeFiles(t, dir, map[string]string{"file.json": "{}"})

	s := New(Options{})
	for _, root := range []string{filepath.Join(dir, "missing"), file} {
		_, err := s.Scan(context.Background(), root)

		var pathErr *scanner.PathError
		if !errors.As(err, &pathErr) {
			t.Errorf("Scan(%s): expected *scanner.PathError, got %v", root, err)
		}
	}
}

func TestScan_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{".env": "A=1\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Options{}).Scan(ctx, root)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestScan_ConcurrencyDoesNotChangeResult(t *testing.T) {
	root := fixtureRoot(t)

	serial, err := New(Options{Concurrency: 1}).Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := New(Options{Concurrency: 64}).Scan(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(serial, parallel) {
		t.Error("Results differ between serial and parallel scans")
	}
}

func TestSession_Export(t *testing.T) {
	s := New(Options{RedactSecrets: true})
	result, err := s.Scan(context.Background(), fixtureRoot(t))
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), ".env.example")
	written, err := s.Export(result.Entries, out, export.FormatEnv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	data, err := os.ReadFile(written)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "DB_PASSWORD=\n") {
		t.Errorf("Expected redacted DB_PASSWORD, got:\n%s", content)
	}
	if !strings.Contains(content, "SERVER_PORT=8080\n") {
		t.Errorf("Expected the first SERVER_PORT value, got:\n%s", content)
	}

	_, err = s.Export(result.Entries, filepath.Join(t.TempDir(), "missing", "x.env"), export.FormatEnv)
	var exportErr *export.Error
	if !errors.As(err, &exportErr) {
		t.Errorf("Expected *export.Error, got %v", err)
	}
}

func TestSession_WatchForwardsEvents(t *testing.T) {
	events := make(chan string, 8)
	s := New(Options{
		Debounce: 100 * time.Millisecond,
		Notify:   func(event string) { events <- event },
	})
	t.Cleanup(s.Close)

	dir := t.TempDir()
	if err := s.StartWatch(dir); err != nil {
		t.Fatalf("StartWatch failed: %v", err)
	}
	if active, _ := s.WatchStatus(); !active {
		t.Fatal("Expected an active watch")
	}
	done := s.WatchDone()
	if done == nil {
		t.Fatal("Expected a done channel while watching")
	}

	writeFiles(t, dir, map[string]string{".env": "A=1\n"})

	select {
	case event := <-events:
		if event != watcher.EventConfigFilesChanged {
			t.Errorf("Expected %q, got %q", watcher.EventConfigFilesChanged, event)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a watch event")
	}

	s.StopWatch()
	s.StopWatch()
	if active, path := s.WatchStatus(); active || path != "" {
		t.Errorf("Expected idle after StopWatch, got %v %q", active, path)
	}
	select {
	case <-done:
	default:
		t.Error("Expected done channel closed after StopWatch")
	}
	if s.WatchDone() != nil {
		t.Error("Expected nil done channel while idle")
	}
}
