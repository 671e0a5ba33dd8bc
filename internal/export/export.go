// Package export writes scanned entries to a single flat file, the way a
// .env.example or a merged config snapshot would be produced.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jenian/confgrd/internal/model"
)

// Format is an export file format
type Format string

const (
	FormatEnv  Format = "env"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat converts a user-supplied export format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "env":
		return FormatEnv, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (expected env, json or yaml)", s)
	}
}

// Options tunes an export
type Options struct {
	RedactSecrets bool // Write secret-guessed values as empty
}

// Error describes a failed export
type Error struct {
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("export %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// envHeader starts every exported env file
const envHeader = "# Generated by confgrd. Values of keys that look secret may be blank.\n"

// Write renders entries in format and stores them at outputPath, replacing
// the file atomically. It returns the absolute path written.
func Write(entries []model.NormalizedEntry, outputPath string, format Format, opts Options) (string, error) {
	absPath, err := filepath.Abs(outputPath)
	if err != nil {
		return "", &Error{Path: outputPath, Op: "resolve path", Err: err}
	}

	dir := filepath.Dir(absPath)
	info, err := os.Stat(dir)
	if err != nil {
		return "", &Error{Path: absPath, Op: "check directory", Err: err}
	}
	if !info.IsDir() {
		return "", &Error{Path: absPath, Op: "check directory", Err: fmt.Errorf("%s is not a directory", dir)}
	}

	data, err := Render(entries, format, opts)
	if err != nil {
		return "", &Error{Path: absPath, Op: "encode", Err: err}
	}

	if err := atomicWrite(absPath, data); err != nil {
		return "", &Error{Path: absPath, Op: "write", Err: err}
	}
	return absPath, nil
}

// Render returns the file content Write would store
func Render(entries []model.NormalizedEntry, format Format, opts Options) ([]byte, error) {
	switch format {
	case FormatEnv:
		return renderEnv(entries, opts), nil
	case FormatJSON:
		data, err := json.MarshalIndent(flatValues(entries, opts, false), "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		return yaml.Marshal(flatValues(entries, opts, false))
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// flatValues keeps the first value seen for every key. When envKeys is set
// keys are converted to env style before deduplication.
func flatValues(entries []model.NormalizedEntry, opts Options, envKeys bool) map[string]model.Value {
	out := make(map[string]model.Value, len(entries))
	for _, e := range entries {
		key := e.Key
		if envKeys && e.SourceFormat != model.FormatEnv {
			key = EnvKey(key)
		}
		if _, seen := out[key]; seen {
			continue
		}

		switch {
		case opts.RedactSecrets && e.IsSecretGuess:
			out[key] = model.NewString("")
		case e.Value == nil:
			out[key] = model.NewNull()
		default:
			out[key] = e.Value.Clone()
		}
	}
	return out
}

func renderEnv(entries []model.NormalizedEntry, opts Options) []byte {
	values := flatValues(entries, opts, true)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(envHeader)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteEnv(envText(values[k])))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// EnvKey converts a dotted structured key to an env variable name
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func envText(v model.Value) string {
	switch v.Kind {
	case model.KindNull:
		return ""
	case model.KindString:
		return v.Str
	case model.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// lineBreaks turns raw line breaks into their escaped text so every value
// stays on its own line.
var lineBreaks = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`)

// quoteEnv wraps s in one quote layer when the env parser would otherwise
// split or trim it. The layer is chosen so it does not clash with s.
func quoteEnv(s string) string {
	s = lineBreaks.Replace(s)
	if !strings.ContainsAny(s, " \t#\"'") {
		return s
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	return `"` + s + `"`
}

// atomicWrite stores data through a temporary file in the target directory
// so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
