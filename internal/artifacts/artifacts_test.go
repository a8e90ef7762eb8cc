package artifacts

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	payload := []byte(`{"family":"knn"}`)
	if err := store.Save("model-1.json", payload); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load("model-1.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: got %q", got)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Save("model.json", []byte("data")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Delete("does-not-exist"); err != nil {
		t.Errorf("Delete of missing blob should not error, got %v", err)
	}
}

func TestRejectsTraversalNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "store"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		if err := store.Save(name, []byte("x")); err == nil {
			t.Errorf("expected error for name %q", name)
		}
	}
}
