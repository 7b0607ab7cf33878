package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// infoDir is where info keys live inside the work tree. Key "image/id"
// maps to aetros/job/image/id.json.
const infoDir = "aetros/job"

const (
	commitName  = "aetros"
	commitEmail = "cli@aetros.com"
)

// Git stores the job record in a git repository with a work tree.
// Scope commits map to single git commits, which makes them atomic by
// construction.
type Git struct {
	mu     sync.Mutex
	repo   *git.Repository
	wt     *git.Worktree
	dir    string
	closed bool
}

// Open opens the repository at dir, initializing a fresh one when none
// exists.
func Open(dir string) (*Git, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
	}
	if err != nil {
		return nil, fmt.Errorf("opening store at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening work tree at %s: %w", dir, err)
	}
	return &Git{repo: repo, wt: wt, dir: dir}, nil
}

func (g *Git) WorkTree() string {
	return g.dir
}

// BaseCommand returns the external git invocation reaching this store,
// handed to child processes so a nested supervisor writes to the same
// record.
func (g *Git) BaseCommand() string {
	return "git --git-dir " + filepath.Join(g.dir, ".git") + " --work-tree " + g.dir
}

func (g *Git) SetInfo(key string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if err := g.writeInfoFile(key, value); err != nil {
		return err
	}
	return g.commit("info: " + key)
}

func (g *Git) BeginScope(label string) Scope {
	return &gitScope{g: g, label: label}
}

func (g *Git) HasFile(p string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	head, err := g.repo.Head()
	if err != nil {
		return false
	}
	commit, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return false
	}
	_, err = commit.File(p)
	return err == nil
}

func (g *Git) CommitFile(p string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if _, err := g.wt.Add(p); err != nil {
		return fmt.Errorf("staging %s: %w", p, err)
	}
	return g.commit("add " + p)
}

func (g *Git) Fetch(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	err := g.repo.Fetch(&git.FetchOptions{RemoteName: git.DefaultRemoteName})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case errors.Is(err, git.ErrRemoteNotFound):
		// local-only store, nothing to fetch
		return nil
	}
	return fmt.Errorf("fetching job %s: %w", id, err)
}

// Restore checks out the job's branch, creating it from HEAD on the
// first run. A repository without any commit yet stays on its unborn
// default branch.
func (g *Git) Restore(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if _, err := g.repo.Head(); err != nil {
		return nil
	}
	branch := plumbing.NewBranchReferenceName("aetros/jobs/" + id)
	_, err := g.repo.Reference(branch, true)
	create := err != nil
	err = g.wt.Checkout(&git.CheckoutOptions{
		Branch: branch,
		Create: create,
		Keep:   true,
	})
	if err != nil {
		return fmt.Errorf("restoring job %s: %w", id, err)
	}
	return nil
}

func (g *Git) RemoteURL(name string) (string, error) {
	remote, err := g.repo.Remote(name)
	if err != nil {
		return "", fmt.Errorf("looking up remote %s: %w", name, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no URL", name)
	}
	return urls[0], nil
}

func (g *Git) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// writeInfoFile writes the JSON form of value into the work tree and
// stages it. Callers hold g.mu and commit afterwards.
func (g *Git) writeInfoFile(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding info %s: %w", key, err)
	}
	rel := path.Join(infoDir, key+".json")
	abs := filepath.Join(g.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, raw, 0o644); err != nil {
		return err
	}
	if _, err := g.wt.Add(rel); err != nil {
		return fmt.Errorf("staging info %s: %w", key, err)
	}
	return nil
}

func (g *Git) commit(msg string) error {
	_, err := g.wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  commitName,
			Email: commitEmail,
			When:  time.Now(),
		},
		AllowEmptyCommits: true,
	})
	if err != nil {
		return fmt.Errorf("committing %q: %w", msg, err)
	}
	return nil
}

type infoWrite struct {
	key   string
	value any
}

type gitScope struct {
	g      *Git
	label  string
	staged []infoWrite
}

func (s *gitScope) SetInfo(key string, value any) {
	s.staged = append(s.staged, infoWrite{key: key, value: value})
}

// Commit writes all staged keys and produces exactly one commit. Nothing
// is observable until it returns nil.
func (s *gitScope) Commit() error {
	s.g.mu.Lock()
	defer s.g.mu.Unlock()
	if s.g.closed {
		return ErrClosed
	}
	for _, w := range s.staged {
		if err := s.g.writeInfoFile(w.key, w.value); err != nil {
			return err
		}
	}
	return s.g.commit(s.label)
}
