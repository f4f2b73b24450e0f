// Package workdir prepares and addresses the output directory of a
// training run. Every pipeline path is produced through a Dir; the
// process working directory is never changed.
package workdir

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"textrain/internal/ctxlog"
)

// Dir is the output directory context of a run.
type Dir struct {
	root string
}

// Prepare sets up the output directory. A non-empty copyFrom clones the
// template and always replaces an existing directory. Otherwise an
// existing directory is removed when deleteIfExists is set and reused
// when not; a missing one is created.
func Prepare(ctx context.Context, path string, deleteIfExists bool, copyFrom string) (*Dir, error) {
	logger := ctxlog.FromContext(ctx)
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	if copyFrom != "" {
		if _, err := os.Stat(abs); err == nil {
			logger.Info("removing existing output directory", "path", abs)
			if err := os.RemoveAll(abs); err != nil {
				return nil, fmt.Errorf("remove output directory: %w", err)
			}
		}
		logger.Info("cloning output directory from template", "path", abs, "template", copyFrom)
		if err := copyTree(copyFrom, abs); err != nil {
			return nil, fmt.Errorf("clone output directory: %w", err)
		}
		return &Dir{root: abs}, nil
	}
	if _, err := os.Stat(abs); err == nil {
		if !deleteIfExists {
			logger.Info("using existing output directory", "path", abs)
			return &Dir{root: abs}, nil
		}
		logger.Info("removing existing output directory", "path", abs)
		if err := os.RemoveAll(abs); err != nil {
			return nil, fmt.Errorf("remove output directory: %w", err)
		}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	logger.Info("created output directory", "path", abs)
	return &Dir{root: abs}, nil
}

// Root returns the absolute output directory.
func (d *Dir) Root() string { return d.root }

// Path joins parts under the output directory.
func (d *Dir) Path(parts ...string) string {
	return filepath.Join(append([]string{d.root}, parts...)...)
}

// Ensure creates a subdirectory if needed and returns its path.
func (d *Dir) Ensure(parts ...string) (string, error) {
	p := d.Path(parts...)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return p, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !d.Type().IsRegular() {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
