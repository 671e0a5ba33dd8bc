// Package cache keeps parsed entries per file, valid for as long as the
// file's modification time is unchanged.
package cache

import (
	"sync"
	"time"

	"github.com/jenian/confgrd/internal/model"
)

type record struct {
	modTime time.Time
	entries []model.NormalizedEntry
}

// FileCache maps a file path to the entries parsed at a given modification
// time. It is safe for concurrent use. Racing Puts for the same path are
// resolved last-write-wins.
type FileCache struct {
	mu      sync.RWMutex
	records map[string]record
}

// New creates an empty cache
func New() *FileCache {
	return &FileCache{records: make(map[string]record)}
}

// Get returns a copy of the entries cached for path, only if they were
// stored for exactly modTime.
func (c *FileCache) Get(path string, modTime time.Time) ([]model.NormalizedEntry, bool) {
	c.mu.RLock()
	rec, ok := c.records[path]
	c.mu.RUnlock()

	if !ok || !rec.modTime.Equal(modTime) {
		return nil, false
	}
	return model.CloneEntries(rec.entries), true
}

// Put stores a copy of entries for path at modTime, replacing any previous
// record.
func (c *FileCache) Put(path string, modTime time.Time, entries []model.NormalizedEntry) {
	rec := record{modTime: modTime, entries: model.CloneEntries(entries)}
	if rec.entries == nil {
		rec.entries = []model.NormalizedEntry{}
	}

	c.mu.Lock()
	c.records[path] = rec
	c.mu.Unlock()
}

// Delete drops the record for path
func (c *FileCache) Delete(path string) {
	c.mu.Lock()
	delete(c.records, path)
	c.mu.Unlock()
}

// Len returns the number of cached files
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Clear drops every record
func (c *FileCache) Clear() {
	c.mu.Lock()
	clear(c.records)
	c.mu.Unlock()
}
