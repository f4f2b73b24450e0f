package split

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"textrain/internal/corpus"
	"textrain/internal/domain"
)

func writeCorpus(t *testing.T, path string, sets ...string) {
	t.Helper()
	c := &corpus.Corpus{}
	for i, set := range sets {
		c.Documents = append(c.Documents, &corpus.Document{ID: fmt.Sprintf("d%d", i), Set: set})
	}
	if err := corpus.Save(c, path); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
}

func TestSubsetNamingAndCache(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "training")
	src := filepath.Join(dir, "corpus.xml")
	writeCorpus(t, src, "a", "a", "a", "a", "a", "a", "a", "a")

	files := &domain.FileSet{Train: src}
	if err := Subsets(context.Background(), files, "train=0.5", outDir); err != nil {
		t.Fatalf("subsets: %v", err)
	}
	want := filepath.Join(outDir, "subset_0.5_0_corpus.xml")
	if files.Train != want {
		t.Fatalf("train = %q, want %q", files.Train, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("derived file missing: %v", err)
	}

	// A present derivation is reused untouched.
	marker := &corpus.Corpus{Documents: []*corpus.Document{{ID: "marker"}}}
	if err := corpus.Save(marker, want); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	files = &domain.FileSet{Train: src}
	if err := Subsets(context.Background(), files, "train=0.5", outDir); err != nil {
		t.Fatalf("subsets again: %v", err)
	}
	got, err := corpus.Load(files.Train)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Documents) != 1 || got.Documents[0].ID != "marker" {
		t.Fatalf("cache entry was recomputed")
	}
}

func TestSubsetSeedInName(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.xml")
	writeCorpus(t, src, "a", "a", "a", "a")
	files := &domain.FileSet{Devel: src}
	if err := Subsets(context.Background(), files, "all=0.5:seed=3", dir); err != nil {
		t.Fatalf("subsets: %v", err)
	}
	if files.Devel != filepath.Join(dir, "subset_0.5_3_in.xml") {
		t.Fatalf("devel = %q", files.Devel)
	}
}

func TestSubsetIgnoresUnsetRoles(t *testing.T) {
	files := &domain.FileSet{Test: domain.None}
	if err := Subsets(context.Background(), files, "all=0.5", t.TempDir()); err != nil {
		t.Fatalf("subsets: %v", err)
	}
	if files.Train != "" || files.Test != domain.None {
		t.Fatalf("untouched roles changed: %+v", files)
	}
}

func TestSubsetRejectsBadFraction(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.xml")
	writeCorpus(t, src, "a")
	for _, spec := range []string{"train=1.5", "train=x", "train=0"} {
		files := &domain.FileSet{Train: src}
		err := Subsets(context.Background(), files, spec, dir)
		if err == nil || !domain.IsConfig(err) {
			t.Fatalf("spec %q: expected configuration error, got %v", spec, err)
		}
	}
}

func TestFoldsDeriveAllRolesFromTrain(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "training")
	src := filepath.Join(dir, "all.xml")
	writeCorpus(t, src, "f1", "f2", "f3", "f1", "f2", "f3")

	files := &domain.FileSet{Train: src}
	err := Folds(context.Background(), files, "train=f2,f1:devel=f3", outDir)
	if err != nil {
		t.Fatalf("folds: %v", err)
	}
	if files.Train != filepath.Join(outDir, "train-f1_f2.xml") {
		t.Fatalf("train = %q", files.Train)
	}
	if files.Devel != filepath.Join(outDir, "devel-f3.xml") {
		t.Fatalf("devel = %q", files.Devel)
	}
	if files.Test != "" {
		t.Fatalf("test should be cleared, got %q", files.Test)
	}
	train, err := corpus.Load(files.Train)
	if err != nil {
		t.Fatalf("load train: %v", err)
	}
	devel, err := corpus.Load(files.Devel)
	if err != nil {
		t.Fatalf("load devel: %v", err)
	}
	if len(train.Documents) != 4 || len(devel.Documents) != 2 {
		t.Fatalf("fold sizes: train=%d devel=%d", len(train.Documents), len(devel.Documents))
	}
	for _, d := range devel.Documents {
		if d.Set != "f3" {
			t.Fatalf("devel got document from fold %q", d.Set)
		}
	}
}

func TestFoldNameAbbreviatesTrainToken(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "all.xml")
	writeCorpus(t, src, "train1", "train2", "dev")
	files := &domain.FileSet{Train: src}
	if err := Folds(context.Background(), files, "train=train2,train1:devel=dev", dir); err != nil {
		t.Fatalf("folds: %v", err)
	}
	if filepath.Base(files.Train) != "train-t1_t2.xml" {
		t.Fatalf("train slice = %q", filepath.Base(files.Train))
	}
}

func TestFoldsRequireUnsetDevelAndTest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "all.xml")
	writeCorpus(t, src, "f1", "f2")
	files := &domain.FileSet{Train: src, Devel: "/elsewhere/devel.xml"}
	err := Folds(context.Background(), files, "train=f1:devel=f2", dir)
	if err == nil || !domain.IsConfig(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	files = &domain.FileSet{Train: src, Devel: domain.None, Test: domain.None}
	if err := Folds(context.Background(), files, "train=f1:devel=f2", dir); err != nil {
		t.Fatalf("disabled slots should satisfy the precondition: %v", err)
	}
}

func TestFoldsInactiveWithoutBothLists(t *testing.T) {
	files := &domain.FileSet{Train: "/keep/train.xml", Devel: "/keep/devel.xml"}
	if err := Folds(context.Background(), files, "train=f1", t.TempDir()); err != nil {
		t.Fatalf("folds: %v", err)
	}
	if files.Train != "/keep/train.xml" || files.Devel != "/keep/devel.xml" {
		t.Fatalf("inactive fold spec changed inputs: %+v", files)
	}
}
