// Package split derives training inputs before the pipeline runs: seeded
// fractional subsets for quick experiments, and fold recombination of a
// single train corpus into train/devel/test sets. Both modes cache by
// existence, so repeated runs reuse prior derivations.
package split

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"textrain/internal/corpus"
	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/params"
)

var subsetKeys = []string{"train", "devel", "test", "seed", "all"}
var foldKeys = []string{"train", "devel", "test"}

// Subsets applies a subset spec ("train=0.5:seed=3", "all=0.1", ...) to
// the file set, repointing each sampled role at its derived file under
// outDir. Derived names embed the raw fraction token, the seed and the
// source basename, so identical requests share a cache entry.
func Subsets(ctx context.Context, files *domain.FileSet, spec string, outDir string) error {
	logger := ctxlog.FromContext(ctx)
	set, err := params.Parse(spec, subsetKeys)
	if err != nil {
		return err
	}
	if set.Len() == 0 {
		return nil
	}
	seedToken := set.Get("seed")
	if seedToken == "" {
		seedToken = "0"
	}
	seed, err := strconv.ParseInt(seedToken, 10, 64)
	if err != nil {
		return domain.Configf("invalid subset seed %q", seedToken)
	}
	for _, role := range domain.Datasets() {
		in := files.Get(role)
		if !domain.IsSet(in) {
			continue
		}
		fracToken := set.Get(role)
		if fracToken == "" {
			fracToken = set.Get("all")
		}
		if fracToken == "" {
			continue
		}
		fraction, err := strconv.ParseFloat(fracToken, 64)
		if err != nil || fraction <= 0 || fraction > 1 {
			return domain.Configf("invalid subset fraction %q for %s", fracToken, role)
		}
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		out := filepath.Join(dir, "subset_"+fracToken+"_"+seedToken+"_"+filepath.Base(in))
		if _, err := os.Stat(out); err == nil {
			logger.Info("reusing subset", "dataset", role, "path", out)
		} else {
			logger.Info("sampling subset", "dataset", role, "fraction", fracToken, "seed", seed, "path", out)
			if err := corpus.Sample(in, out, fraction, seed); err != nil {
				return err
			}
		}
		files.Put(role, out)
	}
	return nil
}

// Folds applies a fold spec ("train=f1,f2:devel=f3") to the file set. All
// derived sets are filtered out of the single declared train source by
// document set label; roles without fold labels are cleared. Inactive
// unless both train and devel folds are given.
func Folds(ctx context.Context, files *domain.FileSet, spec string, outDir string) error {
	logger := ctxlog.FromContext(ctx)
	set, err := params.Parse(spec, foldKeys)
	if err != nil {
		return err
	}
	if len(set.Values("train")) == 0 || len(set.Values("devel")) == 0 {
		return nil
	}
	if domain.IsSet(files.Devel) {
		return domain.Configf("fold mode derives the devel set, but a devel file is configured (%s)", files.Devel)
	}
	if domain.IsSet(files.Test) {
		return domain.Configf("fold mode derives the test set, but a test file is configured (%s)", files.Test)
	}
	source := files.Train
	if !domain.IsSet(source) {
		return domain.Configf("fold mode needs a train file to slice")
	}
	for _, role := range domain.Datasets() {
		labels := set.Values(role)
		if len(labels) == 0 {
			files.Put(role, "")
			continue
		}
		sorted := make([]string, len(labels))
		copy(sorted, labels)
		sort.Strings(sorted)
		id := strings.ReplaceAll(strings.Join(sorted, "_"), "train", "t")
		dir, err := ensureOutDir(outDir)
		if err != nil {
			return err
		}
		out := filepath.Join(dir, role+"-"+id+".xml")
		if _, err := os.Stat(out); err == nil {
			logger.Info("reusing fold slice", "dataset", role, "path", out)
		} else {
			logger.Info("slicing folds", "dataset", role, "folds", strings.Join(sorted, ","), "path", out)
			if err := corpus.FilterBySet(source, out, labels); err != nil {
				return err
			}
		}
		files.Put(role, out)
	}
	return nil
}

func ensureOutDir(outDir string) (string, error) {
	if outDir == "" {
		return os.MkdirTemp("", "textrain-slices-")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	return outDir, nil
}
