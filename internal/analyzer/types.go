package analyzer

import "github.com/jenian/confgrd/internal/model"

// Duplicate is a key defined in more than one file
type Duplicate struct {
	Key   string   `json:"key"`   // The flattened key
	Files []string `json:"files"` // Distinct source files, sorted
}

// MissingKeys lists keys an env file lacks compared with the whole scan
type MissingKeys struct {
	File        string   `json:"file"`        // The env file
	MissingKeys []string `json:"missingKeys"` // Keys seen elsewhere but not here, sorted
}

// ScanIssues contains the consistency problems found in one scan
type ScanIssues struct {
	Duplicates       []Duplicate        `json:"duplicates"`
	MissingByEnvFile []MissingKeys      `json:"missingByEnvFile"`
	ParseErrors      []model.ParseError `json:"parseErrors"`
}

// Count returns the total number of reported problems
func (s ScanIssues) Count() int {
	return len(s.Duplicates) + len(s.MissingByEnvFile) + len(s.ParseErrors)
}
