package gitrepo_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indiseek/indiseek/infrastructure/gitrepo"
)

// testRepo builds a local repository and returns its path plus a commit
// function that writes files and commits them.
func testRepo(t *testing.T) (string, func(msg string, files map[string]string, remove ...string) string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	commit := func(msg string, files map[string]string, remove ...string) string {
		wt, err := repo.Worktree()
		require.NoError(t, err)
		for path, content := range files {
			full := filepath.Join(dir, path)
			require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
			require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
			_, err = wt.Add(path)
			require.NoError(t, err)
		}
		for _, path := range remove {
			_, err = wt.Remove(path)
			require.NoError(t, err)
		}
		sha, err := wt.Commit(msg, &gogit.CommitOptions{
			Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
		})
		require.NoError(t, err)
		return sha.String()
	}
	return dir, commit
}

func TestClient_HeadSHA(t *testing.T) {
	ctx := context.Background()
	client := gitrepo.NewClient(nil)
	dir, commit := testRepo(t)

	sha := commit("initial", map[string]string{"main.go": "package main\n"})

	head, err := client.HeadSHA(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, sha, head)
}

func TestClient_Exists(t *testing.T) {
	ctx := context.Background()
	client := gitrepo.NewClient(nil)
	dir, _ := testRepo(t)

	ok, err := client.Exists(ctx, dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(ctx, t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_CommitsBehind(t *testing.T) {
	ctx := context.Background()
	client := gitrepo.NewClient(nil)
	dir, commit := testRepo(t)

	first := commit("one", map[string]string{"a.go": "package a\n"})
	commit("two", map[string]string{"b.go": "package a\n"})
	third := commit("three", map[string]string{"c.go": "package a\n"})

	behind, err := client.CommitsBehind(ctx, dir, first, third)
	require.NoError(t, err)
	assert.Equal(t, 2, behind)

	behind, err = client.CommitsBehind(ctx, dir, third, third)
	require.NoError(t, err)
	assert.Zero(t, behind)

	// Unknown base counts the whole history.
	behind, err = client.CommitsBehind(ctx, dir, "0000000000000000000000000000000000000000", third)
	require.NoError(t, err)
	assert.Equal(t, 3, behind)
}

func TestClient_ChangedFiles(t *testing.T) {
	ctx := context.Background()
	client := gitrepo.NewClient(nil)
	dir, commit := testRepo(t)

	first := commit("base", map[string]string{
		"keep.go":   "package a\n",
		"modify.go": "package a\n",
		"delete.go": "package a\n",
	})
	second := commit("change", map[string]string{
		"modify.go": "package a\n\nfunc f() {}\n",
		"added.go":  "package a\n",
	}, "delete.go")

	changed, err := client.ChangedFiles(ctx, dir, first, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"added.go", "delete.go", "modify.go"}, changed)

	deleted, err := client.DeletedFiles(ctx, dir, first, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"delete.go"}, deleted)
}

func TestClient_CloneLocal(t *testing.T) {
	ctx := context.Background()
	client := gitrepo.NewClient(nil)
	src, commit := testRepo(t)
	sha := commit("initial", map[string]string{"main.go": "package main\n"})

	dest := filepath.Join(t.TempDir(), "clone")
	require.NoError(t, client.Clone(ctx, src, dest))

	head, err := client.HeadSHA(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, sha, head)

	_, err = os.Stat(filepath.Join(dest, "main.go"))
	require.NoError(t, err)
}
