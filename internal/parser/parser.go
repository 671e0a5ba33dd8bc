// Package parser reads configuration files and normalizes them into flat
// key/value entries.
//
// Env files are line oriented and keep their keys verbatim. YAML, JSON and
// TOML documents are converted into model.Value trees and flattened: nested
// mappings join their keys with ".", every other value (arrays included) is
// a leaf and stays intact.
package parser

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-billy/v5"

	"github.com/jenian/confgrd/internal/model"
)

// secretMarkers are matched against the upper-cased key
var secretMarkers = []string{
	"SECRET",
	"PASSWORD",
	"TOKEN",
	"API_KEY",
	"PRIVATE_KEY",
	"CREDENTIALS",
}

// IsSecretGuess reports whether a key looks like it holds sensitive
// material. It is a substring heuristic, not a security control: redaction
// built on it will miss secrets with innocuous names.
func IsSecretGuess(key string) bool {
	upper := strings.ToUpper(key)
	for _, marker := range secretMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

// ParseFile reads relPath from fsys and parses it as format
func ParseFile(fsys billy.Filesystem, relPath string, format model.Format) ([]model.NormalizedEntry, error) {
	f, err := fsys.Open(relPath)
	if err != nil {
		return nil, newError(relPath, "failed to read file: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, newError(relPath, "failed to read file: %v", err)
	}

	return Parse(data, relPath, format)
}

// Parse normalizes already-loaded content. relPath is only recorded as the
// entries' provenance.
func Parse(data []byte, relPath string, format model.Format) ([]model.NormalizedEntry, error) {
	if !utf8.Valid(data) {
		return nil, newError(relPath, "failed to read file: invalid UTF-8")
	}

	switch format {
	case model.FormatEnv:
		return parseDotEnv(data, relPath), nil
	case model.FormatYAML:
		root, err := yamlToValue(data)
		if err != nil {
			return nil, newError(relPath, "YAML parse error: %v", err)
		}
		return flattenEntries(root, relPath, format), nil
	case model.FormatJSON:
		root, err := jsonToValue(data)
		if err != nil {
			return nil, newError(relPath, "JSON parse error: %v", err)
		}
		return flattenEntries(root, relPath, format), nil
	case model.FormatTOML:
		root, err := tomlToValue(data)
		if err != nil {
			return nil, newError(relPath, "TOML parse error: %v", err)
		}
		return flattenEntries(root, relPath, format), nil
	default:
		return nil, newError(relPath, "unsupported format %q", format)
	}
}

func newError(file, format string, args ...any) *model.ParseError {
	return &model.ParseError{File: file, Message: fmt.Sprintf(format, args...)}
}

// newEntry builds an entry and classifies it
func newEntry(key string, value model.Value, file string, format model.Format) model.NormalizedEntry {
	return model.NormalizedEntry{
		Key:           key,
		Value:         &value,
		SourceFile:    file,
		SourceFormat:  format,
		InferredType:  value.InferType(),
		IsSecretGuess: IsSecretGuess(key),
	}
}
