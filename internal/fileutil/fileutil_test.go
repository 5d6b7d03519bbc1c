package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	in := sample{Name: "alpha", Count: 3}
	if err := WriteJSONAtomic(path, in, 0644); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}

	var out sample
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var out sample
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	if !os.IsNotExist(err) {
		t.Errorf("expected os.IsNotExist error, got %v", err)
	}
}

func TestReadJSONInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	var out sample
	if err := ReadJSON(path, &out); err == nil {
		t.Error("expected parse error for invalid JSON")
	}
}

func TestWriteJSONAtomicLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "atomic.json")

	if err := WriteJSONAtomic(path, sample{Name: "x"}, 0644); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should not remain after atomic write")
	}

	var out sample
	if err := ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON after atomic write: %v", err)
	}
	if out.Name != "x" {
		t.Errorf("Name = %q, want %q", out.Name, "x")
	}
}
