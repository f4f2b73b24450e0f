// Package app resolves the effective workspace context the CLI commands
// share: the settings file layered under whatever the caller set
// explicitly.
package app

import (
	"textrain/internal/settings"
)

// Version is reported by tt version and the API.
var Version = "0.1.0"

// Overrides are the explicitly set values that win over the settings
// file. Empty strings leave the file (or default) value in place; flag
// versus environment precedence is the caller's business.
type Overrides struct {
	CorpusDir  string
	Connection string
	Addr       string
	BasePath   string
}

// Resolve loads the workspace settings and layers the overrides on top.
// The merged result is validated again so a bad override fails the same
// way a bad settings file does.
func Resolve(workspace string, o Overrides) (*settings.Settings, error) {
	s, err := settings.Load(workspace)
	if err != nil {
		return nil, err
	}
	if o.CorpusDir != "" {
		s.CorpusDir = o.CorpusDir
	}
	if o.Connection != "" {
		s.Connection = o.Connection
	}
	if o.Addr != "" {
		s.Server.Addr = o.Addr
	}
	if o.BasePath != "" {
		s.Server.BasePath = o.BasePath
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
