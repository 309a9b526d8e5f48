package scanner

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
	"git.home.luguber.info/inful/gitoteko/internal/provider"
)

type fakeProvider struct {
	repos []provider.Repository
	err   error
	calls int
}

func (f *fakeProvider) ListRepositories(_ context.Context, _ provider.WorkspaceID) ([]provider.Repository, error) {
	f.calls++
	return f.repos, f.err
}

func (f *fakeProvider) CloneURL(repo provider.Repository) string { return repo.CloneURL }

type fakeGit struct {
	cloned   []string
	pulled   []string
	cloneErr error
	pullErr  error
}

func (g *fakeGit) Clone(_ context.Context, _, localPath string) error {
	g.cloned = append(g.cloned, localPath)
	return g.cloneErr
}

func (g *fakeGit) Pull(_ context.Context, localPath string) error {
	g.pulled = append(g.pulled, localPath)
	return g.pullErr
}

type fakeFS struct {
	existing map[string]bool
	ensured  []string
}

func (f *fakeFS) EnsureDirectory(path string) error {
	f.ensured = append(f.ensured, path)
	return nil
}

func (f *fakeFS) PathExists(path string) bool { return f.existing[path] }

func (f *fakeFS) ListFilesRecursive(string, func(string, fs.DirEntry) error) error { return nil }

type fakeAction struct {
	name    string
	success bool
	calls   int
}

func (a *fakeAction) Name() string { return a.name }

func (a *fakeAction) Execute(_ context.Context, _ *pipeline.RepoContext) pipeline.ActionResult {
	a.calls++
	return pipeline.ActionResult{ActionName: a.name, Success: a.success, Message: "stub"}
}

func repos(slugs ...string) []provider.Repository {
	out := make([]provider.Repository, 0, len(slugs))
	for _, slug := range slugs {
		out = append(out, provider.Repository{
			Name:     slug,
			Slug:     slug,
			CloneURL: "git@example.org:acme/" + slug + ".git",
		})
	}
	return out
}

func newTestScanner(p *fakeProvider, g *fakeGit, f *fakeFS, actions ...pipeline.Action) *WorkspaceScanner {
	return New(p, g, f, pipeline.New(actions...))
}

func baseOptions() Options {
	return Options{Workspace: "acme", BaseDir: "/work"}
}

func TestExecute_ClonesNewAndPullsExisting(t *testing.T) {
	p := &fakeProvider{repos: repos("new", "existing")}
	g := &fakeGit{}
	f := &fakeFS{existing: map[string]bool{"/work/existing": true}}
	action := &fakeAction{name: "noop", success: true}

	summary, err := newTestScanner(p, g, f, action).Execute(context.Background(), baseOptions())
	require.NoError(t, err)

	require.Equal(t, 1, p.calls)
	require.Equal(t, []string{"/work/new"}, g.cloned)
	require.Equal(t, []string{"/work/existing"}, g.pulled)
	require.Equal(t, []string{"/work"}, f.ensured)
	require.Equal(t, 2, action.calls)

	require.Len(t, summary.Repositories, 2)
	require.Equal(t, 2, summary.SuccessfulRepositories)
	require.Equal(t, 0, summary.FailedRepositories)
	require.Equal(t, "clone", summary.Repositories[0].SyncOperation)
	require.Equal(t, "pull", summary.Repositories[1].SyncOperation)
	require.NotEmpty(t, summary.RunID)
}

func TestExecute_DryRunTouchesNothing(t *testing.T) {
	p := &fakeProvider{repos: repos("a", "b")}
	g := &fakeGit{}
	f := &fakeFS{}
	action := &fakeAction{name: "detect-languages", success: true}

	opts := baseOptions()
	opts.DryRun = true
	summary, err := newTestScanner(p, g, f, action).Execute(context.Background(), opts)
	require.NoError(t, err)

	require.Empty(t, g.cloned)
	require.Empty(t, g.pulled)
	require.Empty(t, f.ensured)
	require.Equal(t, 0, action.calls)

	require.Len(t, summary.Repositories, 2)
	require.Equal(t, 2, summary.SuccessfulRepositories)
	for _, repo := range summary.Repositories {
		require.True(t, repo.DryRun)
		require.True(t, repo.Success)
		require.Empty(t, repo.ActionResults)
		require.Equal(t, []string{"detect-languages"}, repo.PlannedActions)
	}
}

func TestExecute_OnlyRepoSlugFilters(t *testing.T) {
	p := &fakeProvider{repos: repos("a", "b", "c")}
	g := &fakeGit{}
	f := &fakeFS{}

	opts := baseOptions()
	opts.OnlyRepoSlug = "b"
	summary, err := newTestScanner(p, g, f, &fakeAction{name: "noop", success: true}).Execute(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, summary.Repositories, 1)
	require.Equal(t, "b", summary.Repositories[0].Repository.Slug)
}

func TestExecute_MaxReposFirstPreservesOrder(t *testing.T) {
	p := &fakeProvider{repos: repos("a", "b", "c", "d")}

	opts := baseOptions()
	opts.MaxRepos = 2
	opts.RepoSelection = "first"
	summary, err := newTestScanner(p, &fakeGit{}, &fakeFS{}, &fakeAction{name: "noop", success: true}).
		Execute(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, summary.Repositories, 2)
	require.Equal(t, "a", summary.Repositories[0].Repository.Slug)
	require.Equal(t, "b", summary.Repositories[1].Repository.Slug)
}

func TestExecute_MaxReposRandomIsSeedReproducible(t *testing.T) {
	seed := int64(42)

	run := func() []string {
		p := &fakeProvider{repos: repos("a", "b", "c", "d", "e")}
		opts := baseOptions()
		opts.MaxRepos = 3
		opts.RepoSelection = "random"
		opts.RandomSeed = &seed
		summary, err := newTestScanner(p, &fakeGit{}, &fakeFS{}, &fakeAction{name: "noop", success: true}).
			Execute(context.Background(), opts)
		require.NoError(t, err)

		var slugs []string
		for _, repo := range summary.Repositories {
			slugs = append(slugs, repo.Repository.Slug)
		}
		return slugs
	}

	first := run()
	require.Len(t, first, 3)
	require.Equal(t, first, run())
}

func TestExecute_InvalidSelectionRejected(t *testing.T) {
	opts := baseOptions()
	opts.MaxRepos = 1
	opts.RepoSelection = "alphabetical"

	_, err := newTestScanner(&fakeProvider{repos: repos("a", "b")}, &fakeGit{}, &fakeFS{}).
		Execute(context.Background(), opts)
	require.Error(t, err)
}

func TestExecute_SyncFailureRecordedAndRunContinues(t *testing.T) {
	p := &fakeProvider{repos: repos("bad", "good")}
	g := &fakeGit{cloneErr: errors.New("network down")}
	action := &fakeAction{name: "noop", success: true}

	summary, err := newTestScanner(p, g, &fakeFS{}, action).Execute(context.Background(), baseOptions())
	require.NoError(t, err)

	require.Equal(t, 1, summary.FailedRepositories)
	require.Equal(t, 1, summary.SuccessfulRepositories)
	require.Contains(t, summary.Repositories[0].FailureReason, "clone failed")
	require.Len(t, summary.Repositories, 2)
}

func TestExecute_StopOnErrorBreaks(t *testing.T) {
	p := &fakeProvider{repos: repos("bad", "never")}
	g := &fakeGit{cloneErr: errors.New("network down")}

	opts := baseOptions()
	opts.StopOnError = true
	summary, err := newTestScanner(p, g, &fakeFS{}, &fakeAction{name: "noop", success: true}).
		Execute(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, summary.Repositories, 1)
	require.Equal(t, 1, summary.FailedRepositories)
	require.Len(t, g.cloned, 1)
}

func TestExecute_ActionFailureFailsRepository(t *testing.T) {
	p := &fakeProvider{repos: repos("repo")}
	failing := &fakeAction{name: "broken", success: false}

	summary, err := newTestScanner(p, &fakeGit{}, &fakeFS{}, failing).Execute(context.Background(), baseOptions())
	require.NoError(t, err)

	require.Equal(t, 1, summary.FailedRepositories)
	require.True(t, summary.HasFailures())
	require.Contains(t, summary.Repositories[0].FailureReason, "broken")
	require.Len(t, summary.Repositories[0].ActionResults, 1)
}

func TestExecute_ProviderErrorIsFatal(t *testing.T) {
	p := &fakeProvider{err: errors.New("listing blew up")}

	_, err := newTestScanner(p, &fakeGit{}, &fakeFS{}).Execute(context.Background(), baseOptions())
	require.Error(t, err)
	require.Contains(t, err.Error(), "listing blew up")
}

func TestExecute_SummaryCountsAlwaysAddUp(t *testing.T) {
	p := &fakeProvider{repos: repos("a", "b", "c")}
	g := &fakeGit{pullErr: errors.New("diverged")}
	f := &fakeFS{existing: map[string]bool{"/work/b": true}}

	summary, err := newTestScanner(p, g, f, &fakeAction{name: "noop", success: true}).
		Execute(context.Background(), baseOptions())
	require.NoError(t, err)

	require.Equal(t, len(summary.Repositories), summary.SuccessfulRepositories+summary.FailedRepositories)
}

type panickyAction struct{}

func (panickyAction) Name() string { return "panicky" }

func (panickyAction) Execute(context.Context, *pipeline.RepoContext) pipeline.ActionResult {
	panic("unexpected nil")
}

func TestExecute_PanicContainedToRepository(t *testing.T) {
	p := &fakeProvider{repos: repos("boom", "fine")}

	summary, err := newTestScanner(p, &fakeGit{}, &fakeFS{}, panickyAction{}).
		Execute(context.Background(), baseOptions())
	require.NoError(t, err)

	require.Len(t, summary.Repositories, 2)
	require.Equal(t, 2, summary.FailedRepositories)
	require.Contains(t, summary.Repositories[0].FailureReason, "panic")
}
