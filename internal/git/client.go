// Package git synchronizes working copies with their remotes by driving the
// git command line, and resolves repository state (HEAD, branch) in-process.
package git

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Client drives git subprocesses for clone and pull. One instance is shared
// across all repositories of a run.
type Client struct {
	timeout time.Duration
}

// NewClient creates a git client. A non-positive timeout falls back to
// DefaultTimeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{timeout: timeout}
}

// Clone clones url into localPath. When localPath already exists the clone is
// skipped; the subsequent pull on a later run is responsible for freshness.
func (c *Client) Clone(ctx context.Context, url, localPath string) error {
	if _, err := os.Stat(localPath); err == nil {
		slog.Info("Clone skipped, path already exists", "path", localPath)
		return nil
	}
	parent := filepath.Dir(localPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	slog.Info("Cloning repository", "url", url, "path", localPath)
	_, err := c.run(ctx, parent, "clone", url, localPath)
	return err
}

// Pull brings an existing working copy up to date with its remote primary
// branch: fetch with prune, refresh origin/HEAD, switch to the primary branch
// when needed, ensure an upstream, then fast-forward pull. When upstream
// resolution fails it falls back to explicit `pull --ff-only origin <branch>`
// attempts.
func (c *Client) Pull(ctx context.Context, localPath string) error {
	if _, err := os.Stat(filepath.Join(localPath, ".git")); err != nil {
		return &NotARepositoryError{Path: localPath}
	}

	if _, err := c.run(ctx, localPath, "fetch", "--prune", "origin"); err != nil {
		return err
	}

	// Refresh the remote default-branch pointer. Some servers reject this;
	// the primary-branch preference below copes without it.
	if _, err := c.run(ctx, localPath, "remote", "set-head", "origin", "-a"); err != nil {
		slog.Debug("remote set-head failed", "path", localPath, "error", err)
	}

	current := c.currentBranch(ctx, localPath)
	remoteDefault := c.remoteDefaultBranch(ctx, localPath)

	primary := c.pickPrimaryBranch(ctx, localPath, remoteDefault, current)
	if primary != "" && primary != current {
		if err := c.checkoutBranch(ctx, localPath, primary); err != nil {
			return err
		}
		current = primary
	}

	if !c.hasUpstream(ctx, localPath) && current != "" {
		if _, err := c.run(ctx, localPath, "branch", "--set-upstream-to=origin/"+current, current); err != nil {
			slog.Debug("set upstream failed", "path", localPath, "branch", current, "error", err)
		}
	}

	if _, err := c.run(ctx, localPath, "pull", "--ff-only"); err == nil {
		slog.Info("Repository updated", "path", localPath, "branch", current)
		return nil
	}

	// Upstream resolution failed; pull explicitly from origin.
	var lastErr error
	for _, branch := range dedupe(current, remoteDefault, "main", "master") {
		if _, err := c.run(ctx, localPath, "pull", "--ff-only", "origin", branch); err != nil {
			lastErr = err
			continue
		}
		slog.Info("Repository updated via explicit pull", "path", localPath, "branch", branch)
		return nil
	}
	if lastErr == nil {
		lastErr = &NotARepositoryError{Path: localPath}
	}
	return lastErr
}

// currentBranch returns the checked-out branch name, or "" for detached HEAD
// and unborn repositories.
func (c *Client) currentBranch(ctx context.Context, localPath string) string {
	out, err := c.run(ctx, localPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

// remoteDefaultBranch resolves origin/HEAD to a short branch name, or "".
func (c *Client) remoteDefaultBranch(ctx context.Context, localPath string) string {
	out, err := c.run(ctx, localPath, "symbolic-ref", "--short", "refs/remotes/origin/HEAD")
	if err != nil {
		return ""
	}
	return trimOriginPrefix(out)
}

// pickPrimaryBranch chooses the branch to track: remote default, then master,
// then main, then the current branch; the first candidate that exists as an
// origin tracking ref wins.
func (c *Client) pickPrimaryBranch(ctx context.Context, localPath, remoteDefault, current string) string {
	for _, candidate := range dedupe(remoteDefault, "master", "main", current) {
		if c.remoteBranchExists(ctx, localPath, candidate) {
			return candidate
		}
	}
	return current
}

func (c *Client) remoteBranchExists(ctx context.Context, localPath, branch string) bool {
	_, err := c.run(ctx, localPath, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branch)
	return err == nil
}

func (c *Client) localBranchExists(ctx context.Context, localPath, branch string) bool {
	_, err := c.run(ctx, localPath, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func (c *Client) checkoutBranch(ctx context.Context, localPath, branch string) error {
	if c.localBranchExists(ctx, localPath, branch) {
		_, err := c.run(ctx, localPath, "checkout", branch)
		return err
	}
	_, err := c.run(ctx, localPath, "checkout", "-b", branch, "--track", "origin/"+branch)
	return err
}

func (c *Client) hasUpstream(ctx context.Context, localPath string) bool {
	_, err := c.run(ctx, localPath, "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	return err == nil
}

func trimOriginPrefix(ref string) string {
	const prefix = "origin/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}

// dedupe keeps the first occurrence of each non-empty value, preserving order.
func dedupe(values ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
