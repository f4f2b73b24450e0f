package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendSaveRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model-devel")
	m, err := Open(path, Append)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if err := m.AddStr("detector", "edge"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddStr("preprocessorParams", "intermediateFiles"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := Open(path, Read)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer r.Close()
	got, err := r.GetStr("detector")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "edge" {
		t.Fatalf("detector = %q", got)
	}
	keys, err := r.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestReadRequiresExisting(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"), Read)
	if err == nil {
		t.Fatalf("read mode opened a missing model")
	}
}

func TestReadRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	m, err := Open(path, Append)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.AddStr("detector", "event"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	m.Close()

	r, err := Open(path, Read)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer r.Close()
	if err := r.AddStr("detector", "other"); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("write through read handle: %v", err)
	}
	if err := r.Save(); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("save through read handle: %v", err)
	}
}

func TestMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	m, err := Open(path, Append)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	if _, err := m.GetStr("absent"); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("expected ErrNoSuchKey, got %v", err)
	}
}

func TestCloseWithoutSaveDiscards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	m, err := Open(path, Append)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m.AddStr("detector", "edge"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddStr("keep", "yes"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.AddStr("lost", "value"); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.Close()

	r, err := Open(path, Read)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r.Close()
	if _, err := r.GetStr("keep"); err != nil {
		t.Fatalf("saved key lost: %v", err)
	}
	if _, err := r.GetStr("lost"); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("unsaved write survived close: %v", err)
	}
}

func TestValueReplacement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m")
	m, err := Open(path, Append)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	if err := m.AddStr("edge-classifier-parameter", "c=1000"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddStr("edge-classifier-parameter", "c=5000"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := m.GetStr("edge-classifier-parameter")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "c=5000" {
		t.Fatalf("value = %q", got)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}
}
