// Package connection scopes where detector jobs keep their scratch
// files. Only local execution is implemented; the type keeps the seam for
// running jobs elsewhere explicit.
package connection

import (
	"context"
	"os"
	"path/filepath"

	"textrain/internal/ctxlog"
	"textrain/internal/domain"
	"textrain/internal/params"
)

var validKeys = []string{"local", "workDir"}

// Connection is a job environment for a run.
type Connection struct {
	name    string
	workDir string
	debug   bool
}

// Parse reads a connection spec: "local" or "local:workDir=<path>". The
// empty spec is local with no dedicated scratch dir.
func Parse(spec string, debug bool) (*Connection, error) {
	c := &Connection{name: "local", debug: debug}
	if spec == "" {
		return c, nil
	}
	set, err := params.Parse(spec, validKeys)
	if err != nil {
		return nil, err
	}
	if !set.Has("local") {
		return nil, domain.Configf("unknown connection %q (only local is supported)", spec)
	}
	c.workDir = set.Get("workDir")
	return c, nil
}

// Name returns the connection kind.
func (c *Connection) Name() string { return c.name }

// WorkDir returns the dedicated scratch root, or "" when unscoped.
func (c *Connection) WorkDir() string { return c.workDir }

// Debug reports whether jobs keep their intermediate files.
func (c *Connection) Debug() bool { return c.debug }

// JobDir creates and returns a scratch dir for a named job. Unscoped
// connections place it under the caller's fallback dir.
func (c *Connection) JobDir(fallback, name string) (string, error) {
	root := c.workDir
	if root == "" {
		root = fallback
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// ClearWorkDir removes the dedicated scratch root. Unscoped connections
// have nothing to clear.
func (c *Connection) ClearWorkDir(ctx context.Context) error {
	if c.workDir == "" {
		return nil
	}
	ctxlog.FromContext(ctx).Info("clearing connection work dir", "path", c.workDir)
	return os.RemoveAll(c.workDir)
}
