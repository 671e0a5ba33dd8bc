package parser

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/jenian/confgrd/internal/model"
)

// parseDotEnv parses KEY=value lines. Values are plain strings: there is no
// escape processing, no multi-line support and no interpolation. Repeated
// keys each produce an entry.
func parseDotEnv(data []byte, file string) []model.NormalizedEntry {
	entries := []model.NormalizedEntry{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	// The whole file is already in memory, so no line can exceed it
	scanner.Buffer(make([]byte, 0, 4096), len(data)+1)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			// Skip malformed lines
			continue
		}

		// An empty key is kept as ""
		key = strings.TrimSpace(key)
		value = trimQuotes(strings.TrimSpace(value))

		entries = append(entries, newEntry(key, model.NewString(value), file, model.FormatEnv))
	}

	return entries
}

// trimQuotes removes one layer of matching single or double quotes
func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') ||
			(s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
