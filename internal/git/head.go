package git

import (
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ResolveRevision returns the HEAD commit hash of the working copy, or ""
// when the repository cannot be opened or has no commits. Reading happens
// in-process; no subprocess is spawned.
func ResolveRevision(repoPath string) string {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// ResolveBranch returns the checked-out branch name. A detached HEAD falls
// back to the remote default branch (origin/HEAD) stripped of its origin/
// prefix. Returns "" when neither is available.
func ResolveBranch(repoPath string) string {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return ""
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		return head.Name().Short()
	}
	ref, err := repo.Reference(plumbing.ReferenceName("refs/remotes/origin/HEAD"), false)
	if err != nil || ref.Type() != plumbing.SymbolicReference {
		return ""
	}
	short := plumbing.ReferenceName(ref.Target()).Short()
	return strings.TrimPrefix(short, "origin/")
}
