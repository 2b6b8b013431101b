// Package config resolves gitgres's runtime settings: the environment
// variables the remote-helper adapter and CLI read directly, plus an
// optional YAML file for values a caller would rather not repeat on
// every invocation.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andrewpi/gitgres/pkg/log"
)

// Env variable names read directly by the adapter and CLI.
const (
	// EnvGitDir selects the local repository path during fetch/push.
	// Defaults to ".git" when unset.
	EnvGitDir = "GIT_DIR"

	// EnvTrace names a file path to tee the remote-helper protocol
	// dialogue into, for debugging. Empty or unset disables tracing.
	EnvTrace = "GITGRES_TRACE"
)

// GitDir returns GIT_DIR, defaulting to ".git".
func GitDir() string {
	if v := os.Getenv(EnvGitDir); v != "" {
		return v
	}
	return ".git"
}

// TracePath returns GITGRES_TRACE, or "" if tracing is disabled.
func TracePath() string {
	return os.Getenv(EnvTrace)
}

// File is the optional YAML configuration file, conventionally
// ~/.gitgres.yaml. Every field is optional. Load parses it; the
// commands under cmd/ take the conninfo and repository name from their
// arguments and do not read this file.
type File struct {
	Conninfo   string `yaml:"conninfo,omitempty"`
	Repository string `yaml:"repository,omitempty"`
}

// Load reads and parses path. A missing file is not an error — it
// returns a zero-value File, since the whole file is optional.
func Load(path string) (File, error) {
	var f File

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return f, err
	}

	if err := yaml.Unmarshal(data, &f); err != nil {
		log.WithComponent("config").Warn().Err(err).Str("path", path).Msg("failed to parse config file")
		return File{}, err
	}
	return f, nil
}

// DefaultPath returns ~/.gitgres.yaml, or "" if the home directory
// cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.gitgres.yaml"
}
