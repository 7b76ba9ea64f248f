// Package config assembles run configuration for the version checker from
// environment variables, with GitHub Actions values as fallbacks.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// Config holds one run's settings. Fields map to FVC_* environment
// variables; FromEnv fills in the values a GitHub Actions workflow already
// exposes when the FVC_* variable is unset.
type Config struct {
	// Branch is the branch whose history is scanned and pushed to.
	Branch string `env:"FVC_BRANCH"`
	// ManifestPath points at the pubspec to reconcile. Empty means discover
	// it under Dir using ManifestGlobs.
	ManifestPath string `env:"FVC_MANIFEST"`
	// ManifestGlobs are the discovery patterns tried when ManifestPath is
	// empty. Discovery must match exactly one file.
	ManifestGlobs []string `env:"FVC_MANIFEST_GLOBS" envSeparator:"," envDefault:"pubspec.yaml,*/pubspec.yaml"`
	// Dir is the repository working tree.
	Dir string `env:"FVC_DIR" envDefault:"."`
	// Remote names the git remote used for fetch and push.
	Remote string `env:"FVC_REMOTE" envDefault:"origin"`
	// MaxCommits bounds the history scan window.
	MaxCommits int `env:"FVC_MAX_COMMITS" envDefault:"100"`
	// CommitTemplate is the bump commit message; {old} and {new} expand to
	// the previous and corrected version strings.
	CommitTemplate string `env:"FVC_COMMIT_TEMPLATE" envDefault:"chore: bump version {old} -> {new} [skip ci]"`
	// AuthorName and AuthorEmail identify the bump commit and tag author.
	AuthorName  string `env:"FVC_AUTHOR_NAME" envDefault:"github-actions[bot]"`
	AuthorEmail string `env:"FVC_AUTHOR_EMAIL" envDefault:"github-actions[bot]@users.noreply.github.com"`
	// Token authenticates fetch and push. Never logged.
	Token string `env:"FVC_TOKEN"`
	// CacheDir overrides the scan cache location. Empty means
	// {Dir}/.fvc/cache.
	CacheDir string `env:"FVC_CACHE_DIR"`
	// Debug enables debug logging.
	Debug bool `env:"FVC_DEBUG"`
}

// FromEnv builds a Config from the environment.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.Branch == "" {
		cfg.Branch = os.Getenv("GITHUB_REF_NAME")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.MaxCommits <= 0 {
		cfg.MaxCommits = 100
	}
	return &cfg, nil
}

// Validate checks the fields a run cannot proceed without.
func (c *Config) Validate() error {
	if c.Branch == "" {
		return errors.New("branch is required (set FVC_BRANCH or GITHUB_REF_NAME)")
	}
	if c.Remote == "" {
		return errors.New("remote is required")
	}
	if c.MaxCommits <= 0 {
		return fmt.Errorf("max commits must be positive, got %d", c.MaxCommits)
	}
	return nil
}
