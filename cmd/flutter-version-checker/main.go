// Command flutter-version-checker keeps a Flutter project's pubspec version
// monotonically increasing across the commits of a branch. It scans recent
// history for the manifest's version, corrects the working copy when the
// version was reused or went backwards, and persists the correction as a
// commit, an annotated tag, and pushes.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Abdo-ka/flutter-version-checker/internal/config"
	"github.com/Abdo-ka/flutter-version-checker/internal/gitio"
	"github.com/Abdo-ka/flutter-version-checker/internal/histcache"
	"github.com/Abdo-ka/flutter-version-checker/internal/manifest"
	"github.com/Abdo-ka/flutter-version-checker/internal/reconcile"
	"github.com/Abdo-ka/flutter-version-checker/internal/version"
)

const buildVersion = "1.2.0"

var (
	// Flags
	flagBranch     string
	flagManifest   string
	flagDir        string
	flagRemote     string
	flagMaxCommits int
	flagTemplate   string
	flagAuthor     string
	flagEmail      string
	flagCacheDir   string
	flagNoCache    bool
	flagDebug      bool
	flagDryRun     bool

	// Shared run state
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "flutter-version-checker",
	Short: "Keep a pubspec version monotonically increasing across a branch",
	Long: `flutter-version-checker reconciles the version in pubspec.yaml against
the versions committed on a branch.

It walks recent first-parent history, and when the current version was
already committed more than once (never bumped) or is not greater than the
last distinct version found, it bumps patch and build together, commits the
corrected manifest, tags the commit v<version>, and pushes branch and tag.

Configuration comes from FVC_* environment variables (GITHUB_REF_NAME and
GITHUB_TOKEN are fallbacks) and can be overridden with flags. When the
GITHUB_OUTPUT file is present, the run's results are appended to it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.FromEnv()
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)

		zcfg := zap.NewProductionConfig()
		if flagDebug || cfg.Debug {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = logger.With(zap.String("run", uuid.New().String()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	// Running the bare command reconciles, matching its main CI use.
	RunE: runReconcile,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Scan history and correct the pubspec version if needed",
	RunE:  runReconcile,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Report whether a correction would be made, without changing anything",
	Long: `check runs the same scan and decision as reconcile but never writes,
commits, tags, or pushes. It exits non-zero when a correction is needed,
so it can gate a pipeline.`,
	RunE: runCheck,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the history scan cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show scan cache statistics",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all scan cache entries",
	RunE:  runCacheClear,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <commit>",
	Short: "Print the cached manifest observation for a commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flutter-version-checker version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flutter-version-checker v%s\n", buildVersion)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagBranch, "branch", "", "Branch to scan and push (default: FVC_BRANCH or GITHUB_REF_NAME)")
	pf.StringVar(&flagManifest, "manifest", "", "Path to pubspec.yaml (default: discover under --dir)")
	pf.StringVar(&flagDir, "dir", "", "Repository working tree (default: FVC_DIR or .)")
	pf.StringVar(&flagRemote, "remote", "", "Git remote for fetch and push (default: origin)")
	pf.IntVar(&flagMaxCommits, "max-commits", 0, "History scan window (default: 100)")
	pf.StringVar(&flagTemplate, "commit-template", "", "Bump commit message, {old} and {new} expand to versions")
	pf.StringVar(&flagAuthor, "author-name", "", "Bump commit author name")
	pf.StringVar(&flagEmail, "author-email", "", "Bump commit author email")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "Scan cache directory (default: {dir}/.fvc/cache)")
	pf.BoolVar(&flagNoCache, "no-cache", false, "Scan without the observation cache")
	pf.BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	reconcileCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Decide but do not write, commit, tag, or push")
	rootCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Decide but do not write, commit, tag, or push")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheShowCmd)

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var gate *correctionError
		if errors.As(err, &gate) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// correctionError is the check gate verdict: the version must change. It gets
// its own exit code so pipelines can tell it apart from a fatal error.
type correctionError struct {
	current *version.Version
	next    *version.Version
}

func (e *correctionError) Error() string {
	return fmt.Sprintf("version %s must be corrected to %s", e.current, e.next)
}

// applyFlagOverrides lets explicit flags win over environment configuration.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("branch") {
		cfg.Branch = flagBranch
	}
	if flags.Changed("manifest") {
		cfg.ManifestPath = flagManifest
	}
	if flags.Changed("dir") {
		cfg.Dir = flagDir
	}
	if flags.Changed("remote") {
		cfg.Remote = flagRemote
	}
	if flags.Changed("max-commits") {
		cfg.MaxCommits = flagMaxCommits
	}
	if flags.Changed("commit-template") {
		cfg.CommitTemplate = flagTemplate
	}
	if flags.Changed("author-name") {
		cfg.AuthorName = flagAuthor
	}
	if flags.Changed("author-email") {
		cfg.AuthorEmail = flagEmail
	}
	if flags.Changed("cache-dir") {
		cfg.CacheDir = flagCacheDir
	}
}

// resolveManifest returns the manifest's filesystem path and its
// slash-separated path relative to the repository root.
func resolveManifest() (string, string, error) {
	path := cfg.ManifestPath
	if path == "" {
		found, err := manifest.Discover(cfg.Dir, cfg.ManifestGlobs)
		if err != nil {
			return "", "", err
		}
		path = found
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.Dir, path)
	}

	rel, err := filepath.Rel(cfg.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("manifest %s is outside repository %s", path, cfg.Dir)
	}
	return path, filepath.ToSlash(rel), nil
}

// openCache opens the scan cache. Failure is not fatal: the scan just runs
// uncached.
func openCache() *histcache.Cache {
	if flagNoCache {
		return nil
	}

	var (
		cache *histcache.Cache
		err   error
	)
	if cfg.CacheDir != "" {
		cache, err = histcache.OpenDir(cfg.CacheDir)
	} else {
		cache, err = histcache.Open(cfg.Dir)
	}
	if err != nil {
		logger.Warn("scan cache unavailable, continuing without it", zap.Error(err))
		return nil
	}
	return cache
}

func openRepo() (*gitio.Repository, error) {
	return gitio.Open(gitio.Options{
		Path:        cfg.Dir,
		Remote:      cfg.Remote,
		Token:       cfg.Token,
		AuthorName:  cfg.AuthorName,
		AuthorEmail: cfg.AuthorEmail,
		Logger:      logger,
	})
}

func runReconcile(cmd *cobra.Command, args []string) error {
	out, err := run(cmd, flagDryRun)
	if err != nil {
		return err
	}

	if err := writeGitHubOutputs(out); err != nil {
		logger.Warn("writing job outputs failed", zap.Error(err))
	}
	printOutcome(out)
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	out, err := run(cmd, true)
	if err != nil {
		return err
	}

	if err := writeGitHubOutputs(out); err != nil {
		logger.Warn("writing job outputs failed", zap.Error(err))
	}
	printOutcome(out)

	if out.Updated {
		return &correctionError{current: out.CurrentVersion, next: out.NewVersion}
	}
	return nil
}

// run wires config, repository, and cache into one reconciliation.
func run(cmd *cobra.Command, dryRun bool) (*reconcile.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	path, rel, err := resolveManifest()
	if err != nil {
		return nil, err
	}

	repo, err := openRepo()
	if err != nil {
		return nil, err
	}

	if head, err := repo.Head(); err == nil {
		logger.Info("opened repository", zap.String("head", head), zap.String("branch", cfg.Branch))
	} else {
		logger.Debug("repository has no HEAD yet", zap.Error(err))
	}

	cache := openCache()
	if cache != nil {
		defer cache.Close()
	}

	return reconcile.New(repo, logger).Run(cmd.Context(), reconcile.Options{
		Branch:         cfg.Branch,
		ManifestPath:   path,
		RelPath:        rel,
		MaxCommits:     cfg.MaxCommits,
		CommitTemplate: cfg.CommitTemplate,
		DryRun:         dryRun,
		Cache:          cache,
		Logger:         logger,
	})
}

func printOutcome(out *reconcile.Outcome) {
	prev := "none"
	if out.PreviousVersion != nil {
		prev = out.PreviousVersion.String()
	}
	fmt.Printf("Previous version: %s\n", prev)
	fmt.Printf("Current version:  %s\n", out.FinalVersion())

	switch {
	case !out.Updated:
		fmt.Println("No correction needed")
	case out.CommitHash != "":
		fmt.Printf("Corrected to %s (commit %s, tag %s)\n", out.NewVersion, shortHash(out.CommitHash), out.Tag)
	default:
		fmt.Printf("Would correct to %s (tag %s)\n", out.NewVersion, out.Tag)
	}
}

// writeGitHubOutputs appends the run's results to the GitHub Actions output
// file, when the workflow provides one.
func writeGitHubOutputs(out *reconcile.Outcome) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	prev := "none"
	if out.PreviousVersion != nil {
		prev = out.PreviousVersion.String()
	}
	newVersion := ""
	if out.NewVersion != nil {
		newVersion = out.NewVersion.String()
	}

	_, err = fmt.Fprintf(f, "previous-version=%s\ncurrent-version=%s\nupdated=%t\nnew-version=%s\n",
		prev, out.FinalVersion(), out.Updated, newVersion)
	if err != nil {
		return fmt.Errorf("writing outputs: %w", err)
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cache := openCache()
	if cache == nil {
		return fmt.Errorf("scan cache unavailable")
	}
	defer cache.Close()

	stats, err := cache.Stats()
	if err != nil {
		return fmt.Errorf("reading cache stats: %w", err)
	}

	fmt.Printf("Entries:       %d\n", stats.TotalEntries)
	fmt.Printf("With version:  %d\n", stats.WithVersion)
	fmt.Printf("Blob bytes:    %d (compressed)\n", stats.BlobBytes)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cache := openCache()
	if cache == nil {
		return fmt.Errorf("scan cache unavailable")
	}
	defer cache.Close()

	if err := cache.Clear(); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Println("Scan cache cleared")
	return nil
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	cache := openCache()
	if cache == nil {
		return fmt.Errorf("scan cache unavailable")
	}
	defer cache.Close()

	_, rel, err := resolveManifest()
	if err != nil {
		return err
	}

	commit := args[0]
	entry, ok, err := cache.Get(commit, rel)
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}
	if !ok {
		return fmt.Errorf("no cached observation for %s", commit)
	}

	if entry.Version == "" {
		fmt.Printf("%s: no parsable version\n", commit)
	} else {
		fmt.Printf("%s: version %s\n", commit, entry.Version)
	}
	if entry.Digest != "" {
		fmt.Printf("digest: %s\n", entry.Digest)
	}

	blob, err := cache.Blob(commit, rel)
	if err != nil {
		return fmt.Errorf("reading cached blob: %w", err)
	}
	if blob != nil {
		fmt.Println("---")
		os.Stdout.Write(blob)
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
