// Package settings reads the workspace settings file textrain.yml.
// Effective values are resolved by the CLI with flag over environment
// over file over default; this package only covers the file and the
// defaults.
package settings

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"textrain/internal/domain"
)

// Settings models textrain.yml.
type Settings struct {
	CorpusDir  string `yaml:"corpus_dir"`
	Connection string `yaml:"connection"`
	Server     Server `yaml:"server"`
}

// Server holds the read-only API settings.
type Server struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		CorpusDir:  "corpora",
		Connection: "local",
		Server: Server{
			Addr:     ":8765",
			BasePath: "/v0",
		},
	}
}

// Path returns the settings file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "textrain.yml")
}

// Load reads the workspace settings over the defaults and validates
// the result. A missing file yields the defaults.
func Load(workspace string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("invalid settings yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for usable values.
func (s *Settings) Validate() error {
	if s.CorpusDir == "" {
		return domain.Configf("settings: corpus_dir is empty")
	}
	if s.Server.Addr == "" {
		return domain.Configf("settings: server.addr is empty")
	}
	if _, _, err := net.SplitHostPort(s.Server.Addr); err != nil {
		return domain.Configf("settings: server.addr %q: %v", s.Server.Addr, err)
	}
	if !strings.HasPrefix(s.Server.BasePath, "/") {
		return domain.Configf("settings: server.base_path %q must start with /", s.Server.BasePath)
	}
	return nil
}

// Init writes the default settings file and returns its path. An
// existing file is never overwritten.
func Init(workspace string) (string, error) {
	path := Path(workspace)
	if _, err := os.Stat(path); err == nil {
		return "", domain.Configf("settings file %s already exists", path)
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

const defaultTemplate = `# textrain workspace settings
corpus_dir: corpora
connection: local

server:
  addr: ":8765"
  base_path: /v0
`
