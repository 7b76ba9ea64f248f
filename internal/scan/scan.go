// Package scan walks a branch's history and classifies how the working-copy
// version relates to the versions committed before it.
package scan

import (
	"go.uber.org/zap"

	"github.com/Abdo-ka/flutter-version-checker/internal/histcache"
	"github.com/Abdo-ka/flutter-version-checker/internal/manifest"
	"github.com/Abdo-ka/flutter-version-checker/internal/version"
)

// Relation labels what the scan found.
type Relation int

const (
	// FirstBuild means no usable distinct prior version exists.
	FirstBuild Relation = iota
	// Reuse means the current version was committed at least twice before
	// any different version appeared.
	Reuse
	// AdvanceOrRegress means a differing prior version was found; the
	// caller compares it against the current version.
	AdvanceOrRegress
)

func (r Relation) String() string {
	switch r {
	case Reuse:
		return "reuse"
	case AdvanceOrRegress:
		return "advance-or-regress"
	default:
		return "first-build"
	}
}

// Source supplies history: ancestor commit ids for a ref, newest first, and
// file bytes at a commit. gitio.Repository satisfies it.
type Source interface {
	ListAncestors(ref string, limit int) ([]string, error)
	FileAt(commitHash, path string) ([]byte, error)
}

// Observation records what one commit's manifest said. Version is nil when
// the manifest was absent or unparsable there.
type Observation struct {
	CommitHash string
	Version    *version.Version
}

// Classification is the scan verdict handed to the reconciler.
type Classification struct {
	Relation Relation
	// Reference is the version the reconciler compares against: the
	// current version itself for Reuse, the first differing historical
	// version for AdvanceOrRegress, nil for FirstBuild.
	Reference *version.Version
	// EqualCount is how many scanned commits carried the current version
	// before the scan stopped.
	EqualCount int
	// Observations lists every commit examined, newest first.
	Observations []Observation
}

// Options configures one classification scan.
type Options struct {
	// Ref is the branch (or other ref) whose history is walked.
	Ref string
	// ManifestPath is the slash-separated manifest path inside the repo.
	ManifestPath string
	// MaxCommits bounds the walk.
	MaxCommits int
	// Cache, when non-nil, memoizes per-commit observations.
	Cache *histcache.Cache
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

// Classify walks up to MaxCommits first-parent ancestors of Ref and relates
// current to the versions found there. History failures degrade: whatever
// commits could be enumerated are scanned, and an empty history yields
// FirstBuild. current must be non-nil.
func Classify(src Source, current *version.Version, opts Options) *Classification {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxCommits <= 0 {
		opts.MaxCommits = 100
	}

	ids, err := src.ListAncestors(opts.Ref, opts.MaxCommits)
	if err != nil {
		log.Warn("history enumeration incomplete, scanning what is available",
			zap.String("ref", opts.Ref),
			zap.Int("commits", len(ids)),
			zap.Error(err))
	}
	log.Info("scanning history",
		zap.String("ref", opts.Ref),
		zap.Int("commits", len(ids)),
		zap.String("current", current.String()))

	c := &Classification{Relation: FirstBuild}
	equalCount := 0

	for _, id := range ids {
		v := observe(src, opts.Cache, id, opts.ManifestPath, log)
		c.Observations = append(c.Observations, Observation{CommitHash: id, Version: v})

		if v == nil {
			continue
		}
		if v.Equal(current) {
			equalCount++
			continue
		}

		// First differing version. Repeated reuse of the current version
		// wins over it.
		c.EqualCount = equalCount
		if equalCount > 1 {
			c.Relation = Reuse
			c.Reference = current
		} else {
			c.Relation = AdvanceOrRegress
			c.Reference = v
		}
		return c
	}

	c.EqualCount = equalCount
	if equalCount > 1 {
		c.Relation = Reuse
		c.Reference = current
	}
	return c
}

// observe reads one commit's manifest version, consulting the cache first.
// Every failure mode is a skip, never an error.
func observe(src Source, cache *histcache.Cache, id, path string, log *zap.Logger) *version.Version {
	if cache != nil {
		if e, ok, err := cache.Get(id, path); err == nil && ok {
			if e.Version == "" {
				return nil
			}
			return version.Parse(e.Version)
		}
	}

	raw, err := src.FileAt(id, path)
	if err != nil {
		log.Debug("manifest unavailable at commit", zap.String("commit", id), zap.Error(err))
		record(cache, id, path, nil, "", log)
		return nil
	}

	v, err := manifest.VersionFromBytes(raw)
	if err != nil {
		log.Debug("manifest unparsable at commit", zap.String("commit", id), zap.Error(err))
		record(cache, id, path, raw, "", log)
		return nil
	}

	record(cache, id, path, raw, v.String(), log)
	return v
}

func record(cache *histcache.Cache, id, path string, raw []byte, ver string, log *zap.Logger) {
	if cache == nil {
		return
	}
	if _, err := cache.Put(id, path, raw, ver); err != nil {
		// Caching is best-effort.
		log.Debug("cache write failed", zap.String("commit", id), zap.Error(err))
	}
}
