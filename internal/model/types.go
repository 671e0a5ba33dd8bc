// Package model holds the data types shared by the scan pipeline.
package model

import (
	"fmt"
	"strings"
)

// Format is the declared format of a configuration file
type Format string

const (
	FormatEnv  Format = "env"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// ParseFormat converts a user-supplied format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "env":
		return FormatEnv, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// InferredType is the coarse type guessed for an entry's value
type InferredType string

const (
	TypeString  InferredType = "string"
	TypeNumber  InferredType = "number"
	TypeBoolean InferredType = "boolean"
	TypeNull    InferredType = "null"
	TypeUnknown InferredType = "unknown"
)

// DiscoveredFile is a configuration file found by the scanner
type DiscoveredFile struct {
	Path   string `json:"path"`   // Relative to the scan root, slash separated
	Format Format `json:"format"` // Declared format
	Count  int    `json:"count"`  // Entries parsed from the file
}

// NormalizedEntry is one flattened key with its value and provenance
type NormalizedEntry struct {
	Key           string       `json:"key"`
	Value         *Value       `json:"value,omitempty"`
	SourceFile    string       `json:"sourceFile"`
	SourceFormat  Format       `json:"sourceFormat"`
	InferredType  InferredType `json:"inferredType"`
	IsSecretGuess bool         `json:"isSecretGuess"`
}

// Clone returns a deep copy of the entry
func (e NormalizedEntry) Clone() NormalizedEntry {
	out := e
	if e.Value != nil {
		v := e.Value.Clone()
		out.Value = &v
	}
	return out
}

// CloneEntries deep-copies a slice of entries
func CloneEntries(entries []NormalizedEntry) []NormalizedEntry {
	if entries == nil {
		return nil
	}
	out := make([]NormalizedEntry, len(entries))
	for i, e := range entries {
		out[i] = e.Clone()
	}
	return out
}

// ParseError records a file that could not be read or parsed. It is
// isolated to that file and never aborts a scan.
type ParseError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
