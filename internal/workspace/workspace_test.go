package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareCreatesFreshDirectory(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("calm-blue-otter")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stale := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := m.Prepare("calm-blue-otter")
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	if again != dir {
		t.Fatalf("expected same directory, got %q and %q", dir, again)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale file removed, got %v", err)
	}
}

func TestPrepareRejectsPathSegments(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"", "..", "a/b", "../escape"} {
		if _, err := m.Prepare(id); err == nil {
			t.Fatalf("expected error for %q", id)
		}
	}
}

func TestOutputDir(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("site")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := m.OutputDir(dir, "dist"); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory for missing dist, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dist"), []byte("file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := m.OutputDir(dir, "dist"); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory for file dist, got %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "build", "out"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	out, err := m.OutputDir(dir, "build/out")
	if err != nil {
		t.Fatalf("output dir: %v", err)
	}
	if out != filepath.Join(dir, "build", "out") {
		t.Fatalf("unexpected output dir %q", out)
	}
	if _, err := m.OutputDir(dir, "../other"); err == nil {
		t.Fatalf("expected error for escaping path")
	}
}

func TestCleanupStaysInsideRoot(t *testing.T) {
	root := t.TempDir()
	m, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("site")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected directory removed")
	}
	if err := m.Cleanup(root); err == nil {
		t.Fatalf("expected refusal to remove root")
	}
	if err := m.Cleanup(filepath.Dir(root)); err == nil {
		t.Fatalf("expected refusal outside root")
	}
}
