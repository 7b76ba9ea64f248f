// Package gitio provides Git repository I/O for version reconciliation
// using go-git: resolving refs, walking first-parent history, reading
// manifest blobs at commits, and the commit/tag/push sequence.
package gitio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

var (
	// ErrAbsent indicates the requested file does not exist at a commit.
	ErrAbsent = errors.New("file absent at commit")
	// ErrNoHistory indicates a ref that cannot be resolved to any commit.
	ErrNoHistory = errors.New("no history for ref")
)

// Options configures a repository handle.
type Options struct {
	// Path is the working tree root.
	Path string
	// Remote names the remote used for fetch and push. Defaults to origin.
	Remote string
	// Token, when set, authenticates remote operations over HTTPS. GitHub
	// installation tokens work as basic auth with a fixed username.
	Token string
	// AuthorName and AuthorEmail identify bump commits and tags.
	AuthorName  string
	AuthorEmail string
	// Logger receives warnings from fallback strategies. Defaults to a nop
	// logger.
	Logger *zap.Logger
}

// Repository wraps a go-git repository plus the remote-operation settings
// for one run. Credentials live here, never in process-global state.
type Repository struct {
	repo   *git.Repository
	path   string
	remote string
	auth   transport.AuthMethod
	name   string
	email  string
	log    *zap.Logger
}

// Open opens an existing Git repository.
func Open(opts Options) (*Repository, error) {
	repo, err := git.PlainOpen(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}

	r := &Repository{
		repo:   repo,
		path:   opts.Path,
		remote: opts.Remote,
		name:   opts.AuthorName,
		email:  opts.AuthorEmail,
		log:    opts.Logger,
	}
	if r.remote == "" {
		r.remote = "origin"
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if opts.Token != "" {
		r.auth = &githttp.BasicAuth{Username: "x-access-token", Password: opts.Token}
	}
	return r, nil
}

// ResolveRef resolves a branch name, tag, or commit hash to a commit. Local
// branches are tried before remote-tracking refs so a bump commit made this
// run is seen immediately.
func (r *Repository) ResolveRef(refName string) (*object.Commit, error) {
	ref, err := r.repo.Reference(plumbing.NewBranchReferenceName(refName), true)
	if err == nil {
		return r.commitAt(ref.Hash())
	}

	ref, err = r.repo.Reference(plumbing.NewRemoteReferenceName(r.remote, refName), true)
	if err == nil {
		return r.commitAt(ref.Hash())
	}

	ref, err = r.repo.Reference(plumbing.NewTagReferenceName(refName), true)
	if err == nil {
		return r.commitAt(ref.Hash())
	}

	commit, err := r.repo.CommitObject(plumbing.NewHash(refName))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q: %w", refName, ErrNoHistory)
	}
	return commit, nil
}

func (r *Repository) commitAt(hash plumbing.Hash) (*object.Commit, error) {
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("getting commit: %w", err)
	}
	return commit, nil
}

// ListAncestors returns up to limit commit hashes reachable from ref along
// first parents, newest first, starting at the ref tip itself. A shallow
// clone boundary ends the walk early; whatever was collected is returned.
func (r *Repository) ListAncestors(refName string, limit int) ([]string, error) {
	tip, err := r.ResolveRef(refName)
	if err != nil {
		return nil, err
	}

	var hashes []string
	current := tip
	for len(hashes) < limit {
		hashes = append(hashes, current.Hash.String())
		if current.NumParents() == 0 {
			break
		}
		parent, err := current.Parent(0)
		if err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				break
			}
			return hashes, fmt.Errorf("walking parents of %s: %w", current.Hash, err)
		}
		current = parent
	}
	return hashes, nil
}

// FileAt reads a file's bytes at a commit. ErrAbsent is returned when the
// slash-separated path does not exist in that commit's tree.
func (r *Repository) FileAt(commitHash, path string) ([]byte, error) {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return nil, fmt.Errorf("getting commit %s: %w", commitHash, err)
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("getting tree: %w", err)
	}

	f, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) ||
			errors.Is(err, object.ErrDirectoryNotFound) ||
			errors.Is(err, object.ErrEntryNotFound) {
			return nil, ErrAbsent
		}
		return nil, fmt.Errorf("getting file %s: %w", path, err)
	}

	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening file %s: %w", path, err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return content, nil
}

// Head returns the current HEAD commit hash.
func (r *Repository) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

func (r *Repository) signature() *object.Signature {
	return &object.Signature{Name: r.name, Email: r.email, When: time.Now()}
}

// CommitManifest stages one file (slash-separated, relative to the worktree
// root) and commits it, returning the new commit hash.
func (r *Repository) CommitManifest(relPath, message string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}

	if _, err := wt.Add(relPath); err != nil {
		return "", fmt.Errorf("staging %s: %w", relPath, err)
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: r.signature()})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

// EnsureTag creates an annotated tag at the given commit. An existing tag
// with the same name is deleted locally and on the remote, then recreated,
// so reruns converge instead of erroring.
func (r *Repository) EnsureTag(ctx context.Context, name, commitHash, message string) error {
	hash := plumbing.NewHash(commitHash)
	opts := &git.CreateTagOptions{Tagger: r.signature(), Message: message}

	_, err := r.repo.CreateTag(name, hash, opts)
	if err == nil {
		return nil
	}
	if !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("creating tag %s: %w", name, err)
	}

	r.log.Warn("tag already exists, recreating", zap.String("tag", name))
	if err := r.repo.DeleteTag(name); err != nil {
		return fmt.Errorf("deleting tag %s: %w", name, err)
	}
	if err := r.DeleteRemoteTag(ctx, name); err != nil {
		// The remote copy may simply not exist yet.
		r.log.Warn("deleting remote tag failed", zap.String("tag", name), zap.Error(err))
	}
	if _, err := r.repo.CreateTag(name, hash, opts); err != nil {
		return fmt.Errorf("recreating tag %s: %w", name, err)
	}
	return nil
}

// DeleteRemoteTag removes a tag on the remote via a delete refspec.
func (r *Repository) DeleteRemoteTag(ctx context.Context, name string) error {
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(":refs/tags/" + name)},
		Auth:       r.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("deleting remote tag %s: %w", name, err)
	}
	return nil
}

// PushBranch pushes the branch to the remote: an explicit refspec first,
// then the remote's default refspecs as fallback.
func (r *Repository) PushBranch(ctx context.Context, branch string) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	return r.trySteps("push branch", []step{
		{"explicit refspec", func() error {
			return r.repo.PushContext(ctx, &git.PushOptions{
				RemoteName: r.remote,
				RefSpecs:   []gitconfig.RefSpec{spec},
				Auth:       r.auth,
			})
		}},
		{"default refspec", func() error {
			return r.repo.PushContext(ctx, &git.PushOptions{RemoteName: r.remote, Auth: r.auth})
		}},
	})
}

// PushTag pushes a single tag to the remote.
func (r *Repository) PushTag(ctx context.Context, name string) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("refs/tags/%s:refs/tags/%s", name, name))
	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.remote,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       r.auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pushing tag %s: %w", name, err)
	}
	return nil
}

// EnsureDepth widens a shallow clone until roughly depth commits are
// available, trying cheaper strategies first. Full clones return
// immediately. Callers treat failure as recoverable and scan whatever
// history is present.
func (r *Repository) EnsureDepth(ctx context.Context, depth int) error {
	shallow, err := r.repo.Storer.Shallow()
	if err != nil {
		return fmt.Errorf("checking shallow state: %w", err)
	}
	if len(shallow) == 0 {
		return nil
	}

	return r.trySteps("widen history", []step{
		{"deepen", func() error {
			return r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: r.remote, Depth: depth, Auth: r.auth})
		}},
		{"git fetch --deepen", func() error {
			return r.execGit(ctx, "fetch", "--deepen="+strconv.Itoa(depth), r.remote)
		}},
		{"git fetch --unshallow", func() error {
			return r.execGit(ctx, "fetch", "--unshallow", r.remote)
		}},
		{"plain fetch", func() error {
			return r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: r.remote, Auth: r.auth})
		}},
	})
}

// step is one candidate way to perform a risky remote operation.
type step struct {
	name string
	run  func() error
}

// trySteps runs candidates in order and stops at the first success. An
// already-up-to-date result counts as success.
func (r *Repository) trySteps(op string, steps []step) error {
	var lastErr error
	for _, s := range steps {
		err := s.run()
		if err == nil || errors.Is(err, git.NoErrAlreadyUpToDate) {
			if lastErr != nil {
				r.log.Info("fallback succeeded", zap.String("op", op), zap.String("strategy", s.name))
			}
			return nil
		}
		lastErr = err
		r.log.Warn("strategy failed", zap.String("op", op), zap.String("strategy", s.name), zap.Error(err))
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}

func (r *Repository) execGit(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.path
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s failed: %v, detail: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
