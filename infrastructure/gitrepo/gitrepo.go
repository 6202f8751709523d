// Package gitrepo wraps go-git for cloning, syncing and freshness checks.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrBranchNotFound indicates the requested branch was not found.
var ErrBranchNotFound = errors.New("branch not found")

// Client performs git operations on local working trees.
type Client struct {
	logger *slog.Logger
}

// NewClient creates a Client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{logger: logger}
}

// Clone clones a repository to the local path, replacing any existing
// directory there.
func (c *Client) Clone(ctx context.Context, remoteURL, localPath string) error {
	c.logger.Info("cloning repository",
		slog.String("url", remoteURL),
		slog.String("path", localPath),
	)

	if _, err := os.Stat(localPath); err == nil {
		c.logger.Warn("removing existing directory", slog.String("path", localPath))
		if err := os.RemoveAll(localPath); err != nil {
			return fmt.Errorf("remove existing directory: %w", err)
		}
	}

	if _, err := gogit.PlainCloneContext(ctx, localPath, false, &gogit.CloneOptions{URL: remoteURL}); err != nil {
		return fmt.Errorf("clone repository: %w", err)
	}
	return nil
}

// Fetch updates remote-tracking refs without touching the working tree.
func (c *Client) Fetch(ctx context.Context, localPath string) error {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{RemoteName: "origin", Force: true})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch repository: %w", err)
	}
	return nil
}

// Pull fetches and fast-forwards the working tree.
func (c *Client) Pull(ctx context.Context, localPath string) error {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{RemoteName: "origin", Force: true})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch repository: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("get worktree: %w", err)
	}

	err = worktree.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin", Force: true})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		// Pull can fail in detached HEAD state; fetch already succeeded.
		c.logger.Debug("pull failed (possibly detached HEAD)", slog.String("error", err.Error()))
	}
	return nil
}

// HeadSHA returns the working tree's HEAD commit.
func (c *Client) HeadSHA(ctx context.Context, localPath string) (string, error) {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// RemoteHeadSHA returns the tip of the default branch on the remote, as of
// the last fetch. Local repos without a remote fall back to HEAD.
func (c *Client) RemoteHeadSHA(ctx context.Context, localPath string) (string, error) {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}

	branch, err := c.defaultBranch(repo)
	if err != nil {
		return "", err
	}

	if ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", branch), true); err == nil {
		return ref.Hash().String(), nil
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// Exists reports whether a git repository exists at the path.
func (c *Client) Exists(ctx context.Context, localPath string) (bool, error) {
	_, err := gogit.PlainOpen(localPath)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return false, nil
		}
		return false, fmt.Errorf("check repository: %w", err)
	}
	return true, nil
}

// CommitsBehind counts commits reachable from toSHA but not from fromSHA.
// An empty fromSHA, or one that no longer exists in history, counts the
// whole history of toSHA.
func (c *Client) CommitsBehind(ctx context.Context, localPath, fromSHA, toSHA string) (int, error) {
	if fromSHA == toSHA {
		return 0, nil
	}

	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return 0, fmt.Errorf("open repository: %w", err)
	}

	iter, err := repo.Log(&gogit.LogOptions{From: plumbing.NewHash(toSHA)})
	if err != nil {
		return 0, fmt.Errorf("get commit log: %w", err)
	}
	defer iter.Close()

	count := 0
	stop := errors.New("stop")
	err = iter.ForEach(func(commit *object.Commit) error {
		if commit.Hash.String() == fromSHA {
			return stop
		}
		count++
		return nil
	})
	if err != nil && !errors.Is(err, stop) {
		return 0, fmt.Errorf("iterate commits: %w", err)
	}
	return count, nil
}

// ChangedFiles returns the sorted union of paths touched between two
// commits: added, modified and deleted files all appear once.
func (c *Client) ChangedFiles(ctx context.Context, localPath, fromSHA, toSHA string) ([]string, error) {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	fromTree, err := commitTree(repo, fromSHA)
	if err != nil {
		return nil, err
	}
	toTree, err := commitTree(repo, toSHA)
	if err != nil {
		return nil, err
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("compute diff: %w", err)
	}

	seen := make(map[string]struct{})
	for _, change := range changes {
		if change.From.Name != "" {
			seen[change.From.Name] = struct{}{}
		}
		if change.To.Name != "" {
			seen[change.To.Name] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// DeletedFiles returns paths present in fromSHA but absent in toSHA.
func (c *Client) DeletedFiles(ctx context.Context, localPath, fromSHA, toSHA string) ([]string, error) {
	repo, err := gogit.PlainOpen(localPath)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	fromTree, err := commitTree(repo, fromSHA)
	if err != nil {
		return nil, err
	}
	toTree, err := commitTree(repo, toSHA)
	if err != nil {
		return nil, err
	}

	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, fmt.Errorf("compute diff: %w", err)
	}

	var deleted []string
	for _, change := range changes {
		if change.From.Name != "" && change.To.Name == "" {
			deleted = append(deleted, change.From.Name)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (c *Client) defaultBranch(repo *gogit.Repository) (string, error) {
	// origin/HEAD symbolic ref names the remote default.
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", "HEAD"), false)
	if err == nil && ref.Type() == plumbing.SymbolicReference {
		target := ref.Target().Short()
		if len(target) > 7 && target[:7] == "origin/" {
			return target[7:], nil
		}
		return target, nil
	}

	for _, candidate := range []string{"main", "master"} {
		if _, err := repo.Reference(plumbing.NewBranchReferenceName(candidate), true); err == nil {
			return candidate, nil
		}
		if _, err := repo.Reference(plumbing.NewRemoteReferenceName("origin", candidate), true); err == nil {
			return candidate, nil
		}
	}

	branches, err := repo.Branches()
	if err != nil {
		return "", fmt.Errorf("get branches: %w", err)
	}
	defer branches.Close()

	first, err := branches.Next()
	if err != nil {
		return "", ErrBranchNotFound
	}
	return first.Name().Short(), nil
}

func commitTree(repo *gogit.Repository, sha string) (*object.Tree, error) {
	commit, err := repo.CommitObject(plumbing.NewHash(sha))
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("get tree for %s: %w", sha, err)
	}
	return tree, nil
}
