package analyzer

import (
	"sort"

	"github.com/jenian/confgrd/internal/model"
)

// Analyze computes duplicate and missing keys over the entries of one scan.
// It is pure: the same entries always give the same, sorted, issues.
// ParseErrors is left empty for the caller to fill.
func Analyze(entries []model.NormalizedEntry) ScanIssues {
	return ScanIssues{
		Duplicates:       findDuplicates(entries),
		MissingByEnvFile: findMissingKeys(entries),
		ParseErrors:      []model.ParseError{},
	}
}

// findDuplicates reports keys whose set of source files has more than one
// member. A key repeated inside a single file is not a duplicate.
func findDuplicates(entries []model.NormalizedEntry) []Duplicate {
	keyFiles := make(map[string]map[string]bool)
	for _, e := range entries {
		files, ok := keyFiles[e.Key]
		if !ok {
			files = make(map[string]bool)
			keyFiles[e.Key] = files
		}
		files[e.SourceFile] = true
	}

	duplicates := []Duplicate{}
	for key, files := range keyFiles {
		if len(files) < 2 {
			continue
		}
		duplicates = append(duplicates, Duplicate{Key: key, Files: sortedSet(files)})
	}

	sort.Slice(duplicates, func(i, j int) bool {
		return duplicates[i].Key < duplicates[j].Key
	})
	return duplicates
}

// findMissingKeys compares every env file against the global key set.
// Structured files are never checked; env files are the flat variable
// lists consumers are expected to fill completely. Env files are taken
// from the entries, so a file with no entries at all is not reported.
func findMissingKeys(entries []model.NormalizedEntry) []MissingKeys {
	allKeys := make(map[string]bool)
	envFileKeys := make(map[string]map[string]bool)

	for _, e := range entries {
		allKeys[e.Key] = true
	}
	for _, e := range entries {
		if e.SourceFormat != model.FormatEnv {
			continue
		}
		keys, ok := envFileKeys[e.SourceFile]
		if !ok {
			keys = make(map[string]bool)
			envFileKeys[e.SourceFile] = keys
		}
		keys[e.Key] = true
	}

	result := []MissingKeys{}
	for file, fileKeys := range envFileKeys {
		var missing []string
		for key := range allKeys {
			if !fileKeys[key] {
				missing = append(missing, key)
			}
		}
		if len(missing) == 0 {
			continue
		}
		sort.Strings(missing)
		result = append(result, MissingKeys{File: file, MissingKeys: missing})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].File < result[j].File
	})
	return result
}

// UniqueKeys returns the number of distinct keys among entries
func UniqueKeys(entries []model.NormalizedEntry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Key] = struct{}{}
	}
	return len(seen)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
