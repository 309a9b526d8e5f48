// Package pipeline defines the per-repository action contract and the ordered
// pipeline that executes actions over a shared repository context.
package pipeline

import (
	"context"
	"sort"

	"git.home.luguber.info/inful/gitoteko/internal/provider"
)

// RepoContext is the mutable per-repository state shared by all actions of
// one pipeline run. Actions read upstream results and may publish values into
// Metadata for downstream actions. It is valid only for the duration of one
// repository iteration.
type RepoContext struct {
	WorkspaceID        provider.WorkspaceID
	Repository         provider.Repository
	LocalPath          string
	DetectedExtensions map[string]struct{}
	Metadata           map[string]any
}

// NewRepoContext creates a context with initialized collections.
func NewRepoContext(workspace provider.WorkspaceID, repo provider.Repository, localPath string) *RepoContext {
	return &RepoContext{
		WorkspaceID:        workspace,
		Repository:         repo,
		LocalPath:          localPath,
		DetectedExtensions: make(map[string]struct{}),
		Metadata:           make(map[string]any),
	}
}

// SortedExtensions returns the detected extensions in lexical order.
func (rc *RepoContext) SortedExtensions() []string {
	out := make([]string, 0, len(rc.DetectedExtensions))
	for ext := range rc.DetectedExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ActionResult is the outcome of one action for one repository. Expected
// failures are reported with Success=false rather than an error; only
// programming errors panic, and the scanner contains those at the repository
// boundary.
type ActionResult struct {
	ActionName string
	Success    bool
	Message    string
	Metadata   map[string]any
}

// Action is one pluggable per-repository operation.
type Action interface {
	// Name is the stable action identifier used in results and GIT_ACTIONS.
	Name() string

	// Execute runs the action against the shared context. Implementations
	// must not retain rc beyond the call.
	Execute(ctx context.Context, rc *RepoContext) ActionResult
}

// Pipeline is an ordered, immutable sequence of actions.
type Pipeline struct {
	actions []Action
}

// New creates a pipeline over the given actions. The slice is copied.
func New(actions ...Action) *Pipeline {
	return &Pipeline{actions: append([]Action(nil), actions...)}
}

// ActionNames returns the declared names in execution order.
func (p *Pipeline) ActionNames() []string {
	names := make([]string, len(p.actions))
	for i, a := range p.actions {
		names[i] = a.Name()
	}
	return names
}

// Len returns the number of actions.
func (p *Pipeline) Len() int { return len(p.actions) }

// Run executes every action in order against rc, collecting results. A blank
// ActionName is filled with the action's declared name. When failFast is set,
// a failing action stops the remaining ones.
func (p *Pipeline) Run(ctx context.Context, rc *RepoContext, failFast bool) []ActionResult {
	results := make([]ActionResult, 0, len(p.actions))
	for _, action := range p.actions {
		result := action.Execute(ctx, rc)
		if result.ActionName == "" {
			result.ActionName = action.Name()
		}
		results = append(results, result)
		if failFast && !result.Success {
			break
		}
	}
	return results
}
