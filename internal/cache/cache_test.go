package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jenian/confgrd/internal/model"
)

func sampleEntries() []model.NormalizedEntry {
	v := model.NewArray([]model.Value{model.NewString("a")})
	return []model.NormalizedEntry{
		{Key: "LIST", Value: &v, SourceFile: "app.json", SourceFormat: model.FormatJSON, InferredType: model.TypeUnknown},
	}
}

func TestFileCache_GetRequiresExactModTime(t *testing.T) {
	c := New()
	mtime := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	c.Put("/root/app.json", mtime, sampleEntries())

	if _, ok := c.Get("/root/app.json", mtime); !ok {
		t.Error("Expected a hit for the stored modification time")
	}
	if _, ok := c.Get("/root/app.json", mtime.Add(time.Nanosecond)); ok {
		t.Error("A different modification time must miss")
	}
	if _, ok := c.Get("/root/other.json", mtime); ok {
		t.Error("Unknown path must miss")
	}
	// Same instant in another location is still equal
	if _, ok := c.Get("/root/app.json", mtime.In(time.FixedZone("x", 3600))); !ok {
		t.Error("Expected a hit for an equal instant in another zone")
	}
}

func TestFileCache_ReturnsCopies(t *testing.T) {
	c := New()
	mtime := time.Now()
	entries := sampleEntries()
	c.Put("p", mtime, entries)

	// Mutating the caller's slice after Put must not leak into the cache
	entries[0].Value.Array[0] = model.NewString("mutated")

	got, _ := c.Get("p", mtime)
	if got[0].Value.Array[0].Str != "a" {
		t.Fatalf("Cache was mutated through the Put argument")
	}

	// Mutating a Get result must not leak either
	got[0].Key = "CHANGED"
	got[0].Value.Array[0] = model.NewString("mutated")

	again, _ := c.Get("p", mtime)
	if again[0].Key != "LIST" || again[0].Value.Array[0].Str != "a" {
		t.Errorf("Cache was mutated through a Get result: %+v", again[0])
	}
}

func TestFileCache_OverwriteAndDelete(t *testing.T) {
	c := New()
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	c.Put("p", t1, sampleEntries())
	c.Put("p", t2, nil)

	if _, ok := c.Get("p", t1); ok {
		t.Error("Overwritten record should not match the old time")
	}
	got, ok := c.Get("p", t2)
	if !ok || len(got) != 0 {
		t.Errorf("Expected an empty hit, got %v %v", got, ok)
	}

	c.Delete("p")
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Delete, got %d", c.Len())
	}
}

func TestFileCache_Concurrent(t *testing.T) {
	c := New()
	mtime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("file-%d", i%8)
			c.Put(path, mtime, sampleEntries())
			c.Get(path, mtime)
			c.Len()
		}(i)
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Expected 8 records, got %d", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Expected empty cache after Clear, got %d", c.Len())
	}
}
