package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	in := map[string]int{"10": 3, "42": 7}
	if err := s.Set("tab_groups", in); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}

	var out map[string]int
	ok, err := s.Get("tab_groups", &out)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if !ok {
		t.Fatal("Get() = not found; want found")
	}
	if out["10"] != 3 || out["42"] != 7 {
		t.Fatalf("Get() = %v; want %v", out, in)
	}
}

func TestFileStoreMissingKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	var out int
	ok, err := s.Get("mcp_group_id", &out)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if ok {
		t.Fatal("Get() = found; want not found")
	}
}

func TestFileStoreRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}

	if err := s.Set("dismissed_groups", []int{5}); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := s.Remove("dismissed_groups"); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dismissed_groups.json")); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err = %v", err)
	}
	// Removing again is not an error.
	if err := s.Remove("dismissed_groups"); err != nil {
		t.Fatalf("Remove() second call failed: %v", err)
	}
}

func TestFileStoreRejectsBadKey(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() failed: %v", err)
	}
	if err := s.Set("../escape", 1); err == nil {
		t.Fatal("Set() with path traversal key succeeded; want error")
	}
}
