package workdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareCreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	d, err := Prepare(context.Background(), dir, false, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !filepath.IsAbs(d.Root()) {
		t.Fatalf("expected absolute root, got %s", d.Root())
	}
	info, err := os.Stat(d.Root())
	if err != nil || !info.IsDir() {
		t.Fatalf("expected output directory: %v", err)
	}
}

func TestPrepareReusesExisting(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "keep.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Prepare(context.Background(), dir, false, ""); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected existing content kept: %v", err)
	}
}

func TestPrepareClearsWhenAsked(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "stale.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Prepare(context.Background(), dir, true, ""); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected stale content removed, got %v", err)
	}
}

func TestPrepareTemplateReplacesExisting(t *testing.T) {
	template := t.TempDir()
	if err := os.MkdirAll(filepath.Join(template, "training"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(template, "training", "seed.txt"), []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Template copy replaces the directory even without delete-if-exists.
	d, err := Prepare(context.Background(), dir, false, template)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	data, err := os.ReadFile(d.Path("training", "seed.txt"))
	if err != nil || string(data) != "seed" {
		t.Fatalf("expected template content, got %q: %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected stale content replaced, got %v", err)
	}
}

func TestEnsure(t *testing.T) {
	d, err := Prepare(context.Background(), filepath.Join(t.TempDir(), "out"), false, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	sub, err := d.Ensure("classification-devel")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	info, err := os.Stat(sub)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected subdirectory: %v", err)
	}
	if sub != d.Path("classification-devel") {
		t.Fatalf("path mismatch: %s", sub)
	}
}
