package config

import (
	"os"
	"strings"
	"testing"
)

func clearRunEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FVC_BRANCH", "FVC_MANIFEST", "FVC_MANIFEST_GLOBS", "FVC_DIR",
		"FVC_REMOTE", "FVC_MAX_COMMITS", "FVC_COMMIT_TEMPLATE",
		"FVC_AUTHOR_NAME", "FVC_AUTHOR_EMAIL", "FVC_TOKEN",
		"FVC_CACHE_DIR", "FVC_DEBUG",
		"GITHUB_REF_NAME", "GITHUB_TOKEN",
	} {
		// Setenv registers the restore, Unsetenv leaves the var truly
		// absent for the duration of the test.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearRunEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error = %v", err)
	}
	if cfg.Dir != "." {
		t.Errorf("Dir = %q, want .", cfg.Dir)
	}
	if cfg.Remote != "origin" {
		t.Errorf("Remote = %q, want origin", cfg.Remote)
	}
	if cfg.MaxCommits != 100 {
		t.Errorf("MaxCommits = %d, want 100", cfg.MaxCommits)
	}
	if cfg.AuthorName != "github-actions[bot]" {
		t.Errorf("AuthorName = %q", cfg.AuthorName)
	}
	if !strings.Contains(cfg.CommitTemplate, "{old}") || !strings.Contains(cfg.CommitTemplate, "{new}") {
		t.Errorf("CommitTemplate = %q, want {old} and {new} placeholders", cfg.CommitTemplate)
	}
	if len(cfg.ManifestGlobs) != 2 {
		t.Errorf("ManifestGlobs = %v, want two default patterns", cfg.ManifestGlobs)
	}
}

func TestFromEnvExplicit(t *testing.T) {
	clearRunEnv(t)
	t.Setenv("FVC_BRANCH", "release")
	t.Setenv("FVC_MANIFEST", "app/pubspec.yaml")
	t.Setenv("FVC_MAX_COMMITS", "25")
	t.Setenv("FVC_DEBUG", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error = %v", err)
	}
	if cfg.Branch != "release" {
		t.Errorf("Branch = %q, want release", cfg.Branch)
	}
	if cfg.ManifestPath != "app/pubspec.yaml" {
		t.Errorf("ManifestPath = %q", cfg.ManifestPath)
	}
	if cfg.MaxCommits != 25 {
		t.Errorf("MaxCommits = %d, want 25", cfg.MaxCommits)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestFromEnvGitHubFallbacks(t *testing.T) {
	clearRunEnv(t)
	t.Setenv("GITHUB_REF_NAME", "main")
	t.Setenv("GITHUB_TOKEN", "ghs_test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error = %v", err)
	}
	if cfg.Branch != "main" {
		t.Errorf("Branch = %q, want GITHUB_REF_NAME fallback", cfg.Branch)
	}
	if cfg.Token != "ghs_test" {
		t.Errorf("Token = %q, want GITHUB_TOKEN fallback", cfg.Token)
	}

	// Explicit FVC_ values win over the fallbacks.
	t.Setenv("FVC_BRANCH", "release")
	t.Setenv("FVC_TOKEN", "override")
	cfg, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error = %v", err)
	}
	if cfg.Branch != "release" || cfg.Token != "override" {
		t.Errorf("Branch = %q, Token set = %v; FVC_ values should win", cfg.Branch, cfg.Token == "override")
	}
}

func TestFromEnvBadMaxCommits(t *testing.T) {
	clearRunEnv(t)
	t.Setenv("FVC_MAX_COMMITS", "0")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error = %v", err)
	}
	if cfg.MaxCommits != 100 {
		t.Errorf("MaxCommits = %d, want default 100", cfg.MaxCommits)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Branch: "main", Remote: "origin", MaxCommits: 100}, false},
		{"no branch", Config{Remote: "origin", MaxCommits: 100}, true},
		{"no remote", Config{Branch: "main", MaxCommits: 100}, true},
		{"bad window", Config{Branch: "main", Remote: "origin", MaxCommits: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
