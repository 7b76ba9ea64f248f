// Package reconcile drives one version reconciliation run: read the
// manifest, classify the branch history, correct the version when history
// says it went backwards or stood still, and persist the correction as a
// commit, an annotated tag, and pushes.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Abdo-ka/flutter-version-checker/internal/histcache"
	"github.com/Abdo-ka/flutter-version-checker/internal/manifest"
	"github.com/Abdo-ka/flutter-version-checker/internal/scan"
	"github.com/Abdo-ka/flutter-version-checker/internal/version"
)

// DefaultCommitTemplate is the bump commit message used when no custom
// template is configured. {old} and {new} expand to version strings.
const DefaultCommitTemplate = "chore: bump version {old} -> {new} [skip ci]"

// History is the version-control collaborator a run drives. gitio.Repository
// satisfies it.
type History interface {
	scan.Source
	EnsureDepth(ctx context.Context, depth int) error
	CommitManifest(relPath, message string) (string, error)
	EnsureTag(ctx context.Context, name, commitHash, message string) error
	PushBranch(ctx context.Context, branch string) error
	PushTag(ctx context.Context, name string) error
}

// Outcome reports one run.
type Outcome struct {
	// PreviousVersion is the reference version history produced: the first
	// differing version, or the current version itself when it was reused.
	// nil means no usable history was found.
	PreviousVersion *version.Version
	// CurrentVersion is the manifest version when the run started.
	CurrentVersion *version.Version
	// Updated reports whether a correction was decided. In dry runs the
	// decision is reported but nothing is persisted.
	Updated bool
	// NewVersion is the corrected version, set only when Updated.
	NewVersion *version.Version
	// Relation is the scan verdict the decision came from.
	Relation scan.Relation
	// CommitHash and Tag identify the persisted correction.
	CommitHash string
	Tag        string
	// TagPushed reports whether the tag reached the remote. A false value
	// with Updated set means the tag push failed and was logged.
	TagPushed bool
}

// FinalVersion is the version the working tree ends the run with.
func (o *Outcome) FinalVersion() *version.Version {
	if o.Updated && o.NewVersion != nil {
		return o.NewVersion
	}
	return o.CurrentVersion
}

// Options configures one run.
type Options struct {
	// Branch is scanned and pushed to.
	Branch string
	// ManifestPath is the manifest's filesystem path.
	ManifestPath string
	// RelPath is the same file as a slash-separated path relative to the
	// repository root, used for history lookups and staging.
	RelPath string
	// MaxCommits bounds the history scan.
	MaxCommits int
	// CommitTemplate overrides DefaultCommitTemplate.
	CommitTemplate string
	// DryRun decides without writing, committing, tagging, or pushing.
	DryRun bool
	// Cache, when non-nil, memoizes history observations.
	Cache *histcache.Cache
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// FatalPushError marks a branch push that failed after all fallbacks. The
// bump commit and tag still exist locally and are not rolled back.
type FatalPushError struct {
	Branch string
	Err    error
}

func (e *FatalPushError) Error() string {
	return fmt.Sprintf("pushing branch %s: %v (local commit and tag kept, resolve manually)", e.Branch, e.Err)
}

func (e *FatalPushError) Unwrap() error { return e.Err }

// Runner performs reconciliation runs against one repository.
type Runner struct {
	hist History
	log  *zap.Logger
}

// New creates a Runner. A nil logger is replaced with a nop logger.
func New(hist History, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{hist: hist, log: log}
}

// Run executes one reconciliation. Manifest problems are fatal; history
// problems degrade to scanning whatever is available; a failed branch push
// is returned as *FatalPushError; a failed tag push is only logged.
//
// The side-effect order is fixed: manifest write, commit, tag, branch push,
// tag push. Each step reads the result of the one before it.
func (r *Runner) Run(ctx context.Context, opts Options) (*Outcome, error) {
	rec, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}
	current := rec.Version
	r.log.Info("read manifest version",
		zap.String("manifest", opts.ManifestPath),
		zap.String("version", current.String()))

	if err := r.hist.EnsureDepth(ctx, opts.MaxCommits); err != nil {
		r.log.Warn("could not widen history, scanning what is available", zap.Error(err))
	}

	cls := scan.Classify(r.hist, current, scan.Options{
		Ref:          opts.Branch,
		ManifestPath: opts.RelPath,
		MaxCommits:   opts.MaxCommits,
		Cache:        opts.Cache,
		Logger:       r.log,
	})

	out := &Outcome{
		PreviousVersion: cls.Reference,
		CurrentVersion:  current,
		Relation:        cls.Relation,
	}

	switch cls.Relation {
	case scan.FirstBuild:
		r.log.Info("no usable prior version, keeping current",
			zap.String("version", current.String()))
		return out, nil

	case scan.Reuse:
		out.NewVersion = version.NextAfter(current)
		r.log.Info("version reused across commits, correcting",
			zap.String("version", current.String()),
			zap.Int("times", cls.EqualCount),
			zap.String("corrected", out.NewVersion.String()))

	case scan.AdvanceOrRegress:
		cmp := version.Compare(current, cls.Reference)
		if cmp > 0 {
			r.log.Info("version already advanced",
				zap.String("version", current.String()),
				zap.String("previous", cls.Reference.String()))
			return out, nil
		}
		out.NewVersion = version.NextAfter(cls.Reference)
		r.log.Info("version did not advance, correcting",
			zap.String("version", current.String()),
			zap.String("previous", cls.Reference.String()),
			zap.String("corrected", out.NewVersion.String()))
	}

	out.Updated = true
	out.Tag = "v" + out.NewVersion.String()

	if opts.DryRun {
		r.log.Info("dry run, skipping manifest write, commit, tag, and push")
		return out, nil
	}

	rec.SetVersion(out.NewVersion)
	if err := rec.Save(); err != nil {
		return nil, err
	}

	message := renderMessage(opts.CommitTemplate, current, out.NewVersion)
	hash, err := r.hist.CommitManifest(opts.RelPath, message)
	if err != nil {
		return nil, fmt.Errorf("committing bump: %w", err)
	}
	out.CommitHash = hash
	r.log.Info("committed bump", zap.String("commit", hash), zap.String("message", message))

	if err := r.hist.EnsureTag(ctx, out.Tag, hash, "Version "+out.NewVersion.String()); err != nil {
		return nil, fmt.Errorf("tagging bump: %w", err)
	}

	if err := r.hist.PushBranch(ctx, opts.Branch); err != nil {
		return nil, &FatalPushError{Branch: opts.Branch, Err: err}
	}

	if err := r.hist.PushTag(ctx, out.Tag); err != nil {
		r.log.Warn("tag push failed, run continues",
			zap.String("tag", out.Tag),
			zap.Error(err))
	} else {
		out.TagPushed = true
	}

	r.log.Info("version corrected",
		zap.String("from", current.String()),
		zap.String("to", out.NewVersion.String()),
		zap.String("tag", out.Tag))
	return out, nil
}

// renderMessage expands {old} and {new} in the commit message template.
func renderMessage(tpl string, prev, next *version.Version) string {
	if tpl == "" {
		tpl = DefaultCommitTemplate
	}
	msg := strings.ReplaceAll(tpl, "{old}", prev.String())
	return strings.ReplaceAll(msg, "{new}", next.String())
}
