package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/jenian/confgrd/internal/analyzer"
	"github.com/jenian/confgrd/internal/model"
	"github.com/jenian/confgrd/internal/session"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// redacted replaces secret values in every rendering
const redacted = "[REDACTED]"

// Options selects what Format writes
type Options struct {
	JSON        bool // Machine-readable output
	Silent      bool // Write nothing; callers only use the exit code
	ShowEntries bool // Include every entry, secrets redacted
}

// JSONOutput represents the JSON output format
type JSONOutput struct {
	Root    string                  `json:"root"`
	Summary session.Summary         `json:"summary"`
	Files   []model.DiscoveredFile  `json:"files"`
	Issues  analyzer.ScanIssues     `json:"issues"`
	Entries []model.NormalizedEntry `json:"entries,omitempty"`
}

// Format writes the scan result to w
func Format(w io.Writer, result *session.ScanResult, opts Options) error {
	if opts.Silent {
		return nil
	}
	if opts.JSON {
		return formatJSON(w, result, opts)
	}
	return formatHumanReadable(w, result, opts)
}

func formatJSON(w io.Writer, result *session.ScanResult, opts Options) error {
	out := JSONOutput{
		Root:    result.Root,
		Summary: result.Summary,
		Files:   result.Files,
		Issues:  result.Issues,
	}
	if opts.ShowEntries {
		out.Entries = RedactEntries(result.Entries)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

// printer writes colored text when its target is a terminal
type printer struct {
	w      io.Writer
	colors bool
	err    error
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, colors: colorSupport(w)}
}

// colorSupport reports whether w is a terminal that accepts ANSI sequences
func colorSupport(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return enableANSI()
}

func (p *printer) color(code string) string {
	if p.colors {
		return code
	}
	return ""
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func formatHumanReadable(w io.Writer, result *session.ScanResult, opts Options) error {
	p := newPrinter(w)
	bold, reset, gray, cyan := p.color(colorBold), p.color(colorReset), p.color(colorGray), p.color(colorCyan)

	p.printf("%sScanned %s:%s %d files, %d keys (%d unique)\n\n",
		bold, result.Root, reset, result.Summary.TotalFiles, result.Summary.TotalKeys, result.Summary.UniqueKeys)

	width := 0
	for _, f := range result.Files {
		width = max(width, len(f.Path))
	}
	for _, f := range result.Files {
		p.printf("  %s%-*s%s  %s%-4s%s  %d keys\n", cyan, width, f.Path, reset, gray, f.Format, reset, f.Count)
	}
	if len(result.Files) > 0 {
		p.printf("\n")
	}

	issues := result.Issues

	if len(issues.Duplicates) > 0 {
		yellow := p.color(colorYellow)
		p.printf("%s%sDuplicate keys:%s\n\n", bold, yellow, reset)
		for _, d := range issues.Duplicates {
			p.printf("  %s%s%s\n", yellow, d.Key, reset)
			p.printf("    %sdefined in:%s %s%s%s\n", gray, reset, cyan, strings.Join(d.Files, ", "), reset)
		}
		p.printf("\n")
	}

	if len(issues.MissingByEnvFile) > 0 {
		red := p.color(colorRed)
		p.printf("%s%sMissing keys by env file:%s\n\n", bold, red, reset)
		for _, m := range issues.MissingByEnvFile {
			p.printf("  %s%s%s %s(%d missing)%s\n", cyan, m.File, reset, gray, len(m.MissingKeys), reset)
			for _, key := range m.MissingKeys {
				p.printf("    %s%s%s\n", red, key, reset)
			}
		}
		p.printf("\n")
	}

	if len(issues.ParseErrors) > 0 {
		red := p.color(colorRed)
		p.printf("%s%sParse errors:%s\n\n", bold, red, reset)
		for _, pe := range issues.ParseErrors {
			p.printf("  %s%s%s: %s\n", cyan, pe.File, reset, pe.Message)
		}
		p.printf("\n")
	}

	if opts.ShowEntries && len(result.Entries) > 0 {
		p.printf("%sEntries:%s\n\n", bold, reset)
		for _, e := range result.Entries {
			p.printf("  %s=%s%s%s %s(%s, %s)%s\n", e.Key, gray, DisplayValue(e), reset, gray, e.SourceFile, e.InferredType, reset)
		}
		p.printf("\n")
	}

	if !HasIssues(result) {
		p.printf("%s%s✓ No issues found. All configuration files are consistent.%s\n", p.color(colorGreen), bold, reset)
	}

	return p.err
}

// DisplayValue renders an entry's value for humans, redacting secrets
func DisplayValue(e model.NormalizedEntry) string {
	if e.Value == nil {
		return "null"
	}

	var text string
	if e.Value.Kind == model.KindString {
		text = e.Value.Str
	} else {
		data, err := json.Marshal(e.Value)
		if err != nil {
			return "<invalid>"
		}
		text = string(data)
	}

	switch {
	case text == "":
		return `""`
	case e.IsSecretGuess:
		return redacted
	default:
		return text
	}
}

// RedactEntries returns copies of entries with secret values replaced
func RedactEntries(entries []model.NormalizedEntry) []model.NormalizedEntry {
	out := model.CloneEntries(entries)
	for i := range out {
		if out[i].IsSecretGuess && out[i].Value != nil {
			v := model.NewString(redacted)
			out[i].Value = &v
		}
	}
	return out
}

// HasIssues returns true if the scan found duplicates, missing keys or
// unreadable files
func HasIssues(result *session.ScanResult) bool {
	return result.Issues.Count() > 0
}

// FileCounts summarizes discovered files by format, e.g.
// "Found 3 files (env: 2, json: 1)"
func FileCounts(files []model.DiscoveredFile) string {
	counts := make(map[model.Format]int)
	for _, f := range files {
		counts[f.Format]++
	}

	var parts []string
	for _, format := range []model.Format{model.FormatEnv, model.FormatYAML, model.FormatJSON, model.FormatTOML} {
		if n := counts[format]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d", format, n))
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("Found %d configuration files", len(files))
	}
	return fmt.Sprintf("Found %d files (%s)", len(files), strings.Join(parts, ", "))
}

// FormatError formats an error message
func FormatError(err error) string {
	return fmt.Sprintf("Error: %s\n", err)
}
