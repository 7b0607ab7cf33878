package store_test

import (
	"os"
	"path/filepath"
	"testing"

	gogit "github.com/go-git/go-git/v5"
	gitcfg "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/require"

	"github.com/maxpumperla/aetros-cli/internal/store"
)

func openStore(t *testing.T) *store.Git {
	t.Helper()
	dir := t.TempDir()
	g, err := store.Open(dir)
	require.NoError(t, err)
	return g
}

func TestOpenInitializes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	g, err := store.Open(dir)
	require.NoError(t, err)
	require.Equal(t, dir, g.WorkTree())
	require.DirExists(t, filepath.Join(dir, ".git"))

	// reopening an existing repository works too
	g2, err := store.Open(dir)
	require.NoError(t, err)
	require.Equal(t, dir, g2.WorkTree())
}

func TestBaseCommand(t *testing.T) {
	t.Parallel()
	g := openStore(t)
	base := g.BaseCommand()
	require.Contains(t, base, "git --git-dir ")
	require.Contains(t, base, "--work-tree "+g.WorkTree())
}

func TestSetInfo(t *testing.T) {
	t.Parallel()
	g := openStore(t)
	require.NoError(t, g.SetInfo("exit_code", 0))
	require.True(t, g.HasFile("aetros/job/exit_code.json"))

	raw, err := os.ReadFile(filepath.Join(g.WorkTree(), "aetros", "job", "exit_code.json"))
	require.NoError(t, err)
	require.Equal(t, "0", string(raw))
}

func TestScopeCommitsTogether(t *testing.T) {
	t.Parallel()

	t.Run("committed", func(t *testing.T) {
		g := openStore(t)
		sc := g.BeginScope("docker image")
		sc.SetInfo("image/id", "sha256:abc")
		sc.SetInfo("image/os", "linux")
		require.NoError(t, sc.Commit())
		require.True(t, g.HasFile("aetros/job/image/id.json"))
		require.True(t, g.HasFile("aetros/job/image/os.json"))
	})

	t.Run("abandoned_scope_commits_nothing", func(t *testing.T) {
		g := openStore(t)
		sc := g.BeginScope("docker image")
		sc.SetInfo("image/id", "sha256:abc")
		sc.SetInfo("image/os", "linux")
		// Commit never called: no key may be observable
		require.False(t, g.HasFile("aetros/job/image/id.json"))
		require.False(t, g.HasFile("aetros/job/image/os.json"))
	})
}

func TestCommitFile(t *testing.T) {
	t.Parallel()
	g := openStore(t)
	path := filepath.Join(g.WorkTree(), "Dockerfile")
	require.NoError(t, os.WriteFile(path, []byte("FROM scratch\n"), 0o644))

	require.False(t, g.HasFile("Dockerfile"))
	require.NoError(t, g.CommitFile("Dockerfile"))
	require.True(t, g.HasFile("Dockerfile"))
}

func TestRestoreCreatesJobBranch(t *testing.T) {
	t.Parallel()
	g := openStore(t)
	// unborn repository: restore is a no-op
	require.NoError(t, g.Restore("run1"))

	require.NoError(t, g.SetInfo("status", "created"))
	require.NoError(t, g.Restore("run1"))
	// restoring the same job twice checks out the existing branch
	require.NoError(t, g.Restore("run1"))
}

func TestRemoteURL(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitcfg.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@github.com:alice/mnist.git"},
	})
	require.NoError(t, err)

	g, err := store.Open(dir)
	require.NoError(t, err)

	url, err := g.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "git@github.com:alice/mnist.git", url)

	_, err = g.RemoteURL("upstream")
	require.Error(t, err)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	t.Parallel()
	g := openStore(t)
	sc := g.BeginScope("late")
	sc.SetInfo("exit_code", 1)

	require.NoError(t, g.Close())
	require.ErrorIs(t, g.SetInfo("exit_code", 1), store.ErrClosed)
	require.ErrorIs(t, g.CommitFile("Dockerfile"), store.ErrClosed)
	require.ErrorIs(t, g.Fetch("run1"), store.ErrClosed)
	require.ErrorIs(t, g.Restore("run1"), store.ErrClosed)
	require.ErrorIs(t, sc.Commit(), store.ErrClosed)
}
