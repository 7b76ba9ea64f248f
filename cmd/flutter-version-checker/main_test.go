package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Abdo-ka/flutter-version-checker/internal/config"
	"github.com/Abdo-ka/flutter-version-checker/internal/manifest"
	"github.com/Abdo-ka/flutter-version-checker/internal/reconcile"
	"github.com/Abdo-ka/flutter-version-checker/internal/version"
)

// TestRootCommand verifies the command tree wiring.
func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "flutter-version-checker" {
		t.Errorf("Use = %q", rootCmd.Use)
	}
	if rootCmd.RunE == nil {
		t.Error("root RunE should not be nil")
	}
	for _, sub := range []string{"reconcile", "check", "cache", "version"} {
		found := false
		for _, c := range rootCmd.Commands() {
			if c.Use == sub || strings.HasPrefix(c.Use, sub) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("root should have subcommand %q", sub)
		}
	}
}

// TestCacheCommands verifies the cache command group and its argument rules.
func TestCacheCommands(t *testing.T) {
	if !cacheCmd.HasSubCommands() {
		t.Fatal("cache should have subcommands")
	}
	if err := cacheShowCmd.Args(cacheShowCmd, []string{"abc123"}); err != nil {
		t.Errorf("cache show should accept one argument, got error: %v", err)
	}
	if err := cacheShowCmd.Args(cacheShowCmd, []string{}); err == nil {
		t.Error("cache show should reject zero arguments")
	}
	if err := cacheShowCmd.Args(cacheShowCmd, []string{"a", "b"}); err == nil {
		t.Error("cache show should reject two arguments")
	}
}

// TestWriteGitHubOutputs verifies the job output file gets the four keys
// appended after any existing lines.
func TestWriteGitHubOutputs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	if err := os.WriteFile(path, []byte("existing=1\n"), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	t.Setenv("GITHUB_OUTPUT", path)

	out := &reconcile.Outcome{
		PreviousVersion: version.MustParse("1.0.0+1"),
		CurrentVersion:  version.MustParse("1.0.0+1"),
		Updated:         true,
		NewVersion:      version.MustParse("1.0.1+2"),
	}
	if err := writeGitHubOutputs(out); err != nil {
		t.Fatalf("writeGitHubOutputs error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	text := string(data)

	if !strings.HasPrefix(text, "existing=1\n") {
		t.Errorf("prior output lines were not kept:\n%s", text)
	}
	for _, line := range []string{
		"previous-version=1.0.0+1\n",
		"current-version=1.0.1+2\n",
		"updated=true\n",
		"new-version=1.0.1+2\n",
	} {
		if !strings.Contains(text, line) {
			t.Errorf("output missing %q:\n%s", line, text)
		}
	}
}

func TestWriteGitHubOutputsNoUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output")
	t.Setenv("GITHUB_OUTPUT", path)

	out := &reconcile.Outcome{
		CurrentVersion: version.MustParse("1.0.0"),
	}
	if err := writeGitHubOutputs(out); err != nil {
		t.Fatalf("writeGitHubOutputs error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	text := string(data)

	for _, line := range []string{
		"previous-version=none\n",
		"current-version=1.0.0\n",
		"updated=false\n",
		"new-version=\n",
	} {
		if !strings.Contains(text, line) {
			t.Errorf("output missing %q:\n%s", line, text)
		}
	}
}

func TestWriteGitHubOutputsUnset(t *testing.T) {
	t.Setenv("GITHUB_OUTPUT", "")

	out := &reconcile.Outcome{CurrentVersion: version.MustParse("1.0.0")}
	if err := writeGitHubOutputs(out); err != nil {
		t.Errorf("writeGitHubOutputs error = %v, want no-op outside a workflow", err)
	}
}

// TestCorrectionErrorGate verifies the error type main maps to the gate exit
// code survives wrapping and carries both versions.
func TestCorrectionErrorGate(t *testing.T) {
	err := fmt.Errorf("running check: %w", &correctionError{
		current: version.MustParse("1.0.0+1"),
		next:    version.MustParse("1.0.1+2"),
	})

	var gate *correctionError
	if !errors.As(err, &gate) {
		t.Fatalf("errors.As failed on %v", err)
	}
	if got := gate.Error(); got != "version 1.0.0+1 must be corrected to 1.0.1+2" {
		t.Errorf("Error() = %q", got)
	}

	var other *correctionError
	if errors.As(errors.New("opening repository: not found"), &other) {
		t.Error("generic error matched the gate type")
	}
}

// TestResolveManifest verifies discovery, explicit paths, and the rejection
// of manifests outside the repository.
func TestResolveManifest(t *testing.T) {
	dir := t.TempDir()
	write := func(rel string) {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("MkdirAll error = %v", err)
		}
		if err := os.WriteFile(path, []byte("version: 1.0.0\n"), 0644); err != nil {
			t.Fatalf("WriteFile error = %v", err)
		}
	}
	globs := []string{"pubspec.yaml", "*/pubspec.yaml"}

	t.Run("discovered", func(t *testing.T) {
		write("pubspec.yaml")
		cfg = &config.Config{Dir: dir, ManifestGlobs: globs}

		path, rel, err := resolveManifest()
		if err != nil {
			t.Fatalf("resolveManifest error = %v", err)
		}
		if path != filepath.Join(dir, "pubspec.yaml") {
			t.Errorf("path = %q", path)
		}
		if rel != "pubspec.yaml" {
			t.Errorf("rel = %q, want pubspec.yaml", rel)
		}
	})

	t.Run("explicit relative", func(t *testing.T) {
		write("app/pubspec.yaml")
		cfg = &config.Config{Dir: dir, ManifestPath: "app/pubspec.yaml"}

		path, rel, err := resolveManifest()
		if err != nil {
			t.Fatalf("resolveManifest error = %v", err)
		}
		if path != filepath.Join(dir, "app", "pubspec.yaml") {
			t.Errorf("path = %q", path)
		}
		if rel != "app/pubspec.yaml" {
			t.Errorf("rel = %q, want app/pubspec.yaml", rel)
		}
	})

	t.Run("ambiguous discovery", func(t *testing.T) {
		// Both manifests written above are still in place.
		cfg = &config.Config{Dir: dir, ManifestGlobs: globs}

		_, _, err := resolveManifest()
		if !errors.Is(err, manifest.ErrAmbiguous) {
			t.Errorf("error = %v, want ErrAmbiguous", err)
		}
	})

	t.Run("outside repository", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "pubspec.yaml")
		cfg = &config.Config{Dir: dir, ManifestPath: outside}

		_, _, err := resolveManifest()
		if err == nil || !strings.Contains(err.Error(), "outside repository") {
			t.Errorf("error = %v, want outside-repository rejection", err)
		}
	})
}

func initRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit error = %v", err)
	}
	return repo, dir
}

func commitManifestFile(t *testing.T, repo *git.Repository, dir, content, msg string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "pubspec.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile error = %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree error = %v", err)
	}
	if _, err := wt.Add("pubspec.yaml"); err != nil {
		t.Fatalf("Add error = %v", err)
	}
	if _, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	}); err != nil {
		t.Fatalf("Commit error = %v", err)
	}
}

// TestRunAgainstRepository drives run over a real repository in dry-run mode:
// reused version detected, correction decided, nothing written.
func TestRunAgainstRepository(t *testing.T) {
	repo, dir := initRepo(t)
	commitManifestFile(t, repo, dir, "name: app\nversion: 1.0.0+1\n", "one")
	commitManifestFile(t, repo, dir, "name: app\ndescription: x\nversion: 1.0.0+1\n", "two")

	cfg = &config.Config{
		Branch:        "master",
		ManifestGlobs: []string{"pubspec.yaml", "*/pubspec.yaml"},
		Dir:           dir,
		Remote:        "origin",
		MaxCommits:    100,
	}
	logger = zap.NewNop()

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	out, err := run(cmd, true)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if !out.Updated {
		t.Fatal("Updated = false, want reuse correction decided")
	}
	if out.NewVersion.String() != "1.0.1+2" {
		t.Errorf("NewVersion = %s, want 1.0.1+2", out.NewVersion)
	}

	data, err := os.ReadFile(filepath.Join(dir, "pubspec.yaml"))
	if err != nil {
		t.Fatalf("ReadFile error = %v", err)
	}
	if !strings.Contains(string(data), "version: 1.0.0+1") {
		t.Errorf("dry run touched the manifest:\n%s", data)
	}
}

// TestApplyFlagOverrides verifies explicit flags win over env configuration
// and untouched flags leave it alone.
func TestApplyFlagOverrides(t *testing.T) {
	cfg = &config.Config{Branch: "main", Remote: "origin", MaxCommits: 100}

	if err := rootCmd.ParseFlags([]string{"--branch", "release", "--max-commits", "25"}); err != nil {
		t.Fatalf("ParseFlags error = %v", err)
	}
	applyFlagOverrides(rootCmd)

	if cfg.Branch != "release" {
		t.Errorf("Branch = %q, want flag override", cfg.Branch)
	}
	if cfg.MaxCommits != 25 {
		t.Errorf("MaxCommits = %d, want 25", cfg.MaxCommits)
	}
	if cfg.Remote != "origin" {
		t.Errorf("Remote = %q, want untouched", cfg.Remote)
	}
}
