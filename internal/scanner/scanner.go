// Package scanner orchestrates one workspace run: repository listing,
// clone-or-pull sync, and the per-repository action pipeline, aggregated into
// an execution summary.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/gitoteko/internal/fsys"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
	"git.home.luguber.info/inful/gitoteko/internal/provider"
)

// GitClient is the sync surface the scanner needs from the git layer.
type GitClient interface {
	Clone(ctx context.Context, url, localPath string) error
	Pull(ctx context.Context, localPath string) error
}

// Options selects and orders the repositories of one run.
type Options struct {
	Workspace    provider.WorkspaceID
	BaseDir      string
	DryRun       bool
	OnlyRepoSlug string

	// MaxRepos caps the run when positive. Selection is "first" (provider
	// order) or "random" (reproducible when RandomSeed is set).
	MaxRepos      int
	RepoSelection string
	RandomSeed    *int64

	StopOnError bool
}

// RepositoryExecutionSummary is the immutable outcome for one repository.
type RepositoryExecutionSummary struct {
	Repository     provider.Repository
	LocalPath      string
	SyncOperation  string
	DryRun         bool
	Success        bool
	FailureReason  string
	PlannedActions []string
	ActionResults  []pipeline.ActionResult
}

// ScanExecutionSummary aggregates one full run. SuccessfulRepositories plus
// FailedRepositories always equals len(Repositories).
type ScanExecutionSummary struct {
	RunID                  string
	Workspace              provider.WorkspaceID
	DryRun                 bool
	Repositories           []RepositoryExecutionSummary
	SuccessfulRepositories int
	FailedRepositories     int
	StartedAt              time.Time
	FinishedAt             time.Time
}

// HasFailures reports whether any repository failed.
func (s *ScanExecutionSummary) HasFailures() bool { return s.FailedRepositories > 0 }

// WorkspaceScanner runs repositories strictly sequentially; the shared CSV
// report and per-repo state files rely on that.
type WorkspaceScanner struct {
	provider provider.Client
	git      GitClient
	fs       fsys.FileSystem
	pipeline *pipeline.Pipeline

	now func() time.Time
}

// New creates a scanner over the given collaborators.
func New(providerClient provider.Client, gitClient GitClient, fs fsys.FileSystem, p *pipeline.Pipeline) *WorkspaceScanner {
	return &WorkspaceScanner{
		provider: providerClient,
		git:      gitClient,
		fs:       fs,
		pipeline: p,
		now:      time.Now,
	}
}

// Execute performs one workspace run. Listing failures are fatal; per
// repository failures are recorded in the summary instead.
func (s *WorkspaceScanner) Execute(ctx context.Context, opts Options) (*ScanExecutionSummary, error) {
	summary := &ScanExecutionSummary{
		RunID:     uuid.NewString(),
		Workspace: opts.Workspace,
		DryRun:    opts.DryRun,
		StartedAt: s.now(),
	}
	log := slog.With("run_id", summary.RunID, "workspace", string(opts.Workspace))

	repos, err := s.provider.ListRepositories(ctx, opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("list repositories for workspace %s: %w", opts.Workspace, err)
	}
	log.Info("Workspace listed", "repositories", len(repos))

	repos = filterBySlug(repos, opts.OnlyRepoSlug)
	repos, err = limitRepos(repos, opts)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		if err := s.fs.EnsureDirectory(opts.BaseDir); err != nil {
			return nil, fmt.Errorf("ensure base directory %s: %w", opts.BaseDir, err)
		}
	}

	for _, repo := range repos {
		repoSummary := s.runRepository(ctx, log, opts, repo)
		summary.Repositories = append(summary.Repositories, repoSummary)
		if repoSummary.Success {
			summary.SuccessfulRepositories++
		} else {
			summary.FailedRepositories++
			if opts.StopOnError {
				log.Warn("Stopping run after failed repository", "repo", repo.Slug)
				break
			}
		}
	}

	summary.FinishedAt = s.now()
	log.Info("Workspace run finished",
		"repositories", len(summary.Repositories),
		"successful", summary.SuccessfulRepositories,
		"failed", summary.FailedRepositories,
		"dry_run", summary.DryRun)
	return summary, nil
}

func (s *WorkspaceScanner) runRepository(ctx context.Context, log *slog.Logger, opts Options, repo provider.Repository) (out RepositoryExecutionSummary) {
	localPath := filepath.Join(opts.BaseDir, repo.Slug)
	alreadyExists := s.fs.PathExists(localPath)

	syncOp := "clone"
	if alreadyExists {
		syncOp = "pull"
	}

	out = RepositoryExecutionSummary{
		Repository:    repo,
		LocalPath:     localPath,
		SyncOperation: syncOp,
		DryRun:        opts.DryRun,
	}

	if opts.DryRun {
		out.Success = true
		out.PlannedActions = s.pipeline.ActionNames()
		log.Info("Dry run", "repo", repo.Slug, "sync_op", syncOp, "planned_actions", out.PlannedActions)
		return out
	}

	// An action that panics fails its repository, not the run.
	defer func() {
		if r := recover(); r != nil {
			out.Success = false
			out.FailureReason = fmt.Sprintf("panic while processing repository: %v", r)
			log.Error("Repository processing panicked", "repo", repo.Slug, "panic", r)
		}
	}()

	if alreadyExists {
		err := s.git.Pull(ctx, localPath)
		if err != nil {
			out.FailureReason = fmt.Sprintf("pull failed: %v", err)
			log.Error("Pull failed", "repo", repo.Slug, "error", err)
			return out
		}
	} else {
		err := s.git.Clone(ctx, s.provider.CloneURL(repo), localPath)
		if err != nil {
			out.FailureReason = fmt.Sprintf("clone failed: %v", err)
			log.Error("Clone failed", "repo", repo.Slug, "error", err)
			return out
		}
	}

	rc := pipeline.NewRepoContext(opts.Workspace, repo, localPath)
	out.ActionResults = s.pipeline.Run(ctx, rc, opts.StopOnError)

	out.Success = true
	for _, result := range out.ActionResults {
		log.Info("Action finished", "repo", repo.Slug, "action", result.ActionName, "success", result.Success, "message", result.Message)
		if !result.Success {
			out.Success = false
			out.FailureReason = fmt.Sprintf("action %s failed: %s", result.ActionName, result.Message)
		}
	}
	return out
}

func filterBySlug(repos []provider.Repository, slug string) []provider.Repository {
	if slug == "" {
		return repos
	}
	var out []provider.Repository
	for _, repo := range repos {
		if repo.Slug == slug {
			out = append(out, repo)
		}
	}
	return out
}

// limitRepos applies MaxRepos. "first" keeps provider order; "random" draws a
// reproducible sample when a seed is given.
func limitRepos(repos []provider.Repository, opts Options) ([]provider.Repository, error) {
	selection := opts.RepoSelection
	if selection == "" {
		selection = "first"
	}
	if selection != "first" && selection != "random" {
		return nil, fmt.Errorf("repo selection must be first or random; got %q", selection)
	}
	if opts.MaxRepos <= 0 || len(repos) <= opts.MaxRepos {
		return repos, nil
	}

	if selection == "first" {
		return repos[:opts.MaxRepos], nil
	}

	seed := time.Now().UnixNano()
	if opts.RandomSeed != nil {
		seed = *opts.RandomSeed
	}
	rng := rand.New(rand.NewSource(seed))

	shuffled := append([]provider.Repository(nil), repos...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:opts.MaxRepos], nil
}
