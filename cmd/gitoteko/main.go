package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/gitoteko/internal/config"
	"git.home.luguber.info/inful/gitoteko/internal/fsys"
	"git.home.luguber.info/inful/gitoteko/internal/git"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
	"git.home.luguber.info/inful/gitoteko/internal/provider"
	"git.home.luguber.info/inful/gitoteko/internal/rules"
	"git.home.luguber.info/inful/gitoteko/internal/scanner"
)

var version = "dev"

const (
	exitFailure = 1
	exitUsage   = 2
)

var CLI struct {
	Config    string `short:"c" help:"Optional YAML pipeline configuration file"`
	LogLevel  string `help:"Log level (debug, info, warn, error)" env:"LOG_LEVEL" default:"info"`
	LogFormat string `help:"Log format (json, text)" env:"LOG_FORMAT" default:"json"`

	Scan struct {
		Provider      string `help:"Git provider (bitbucket, github, gitlab)" env:"GIT_PROVIDER" required:""`
		Workspace     string `help:"Workspace or organization to scan" env:"GIT_WORKSPACE" required:""`
		BaseDir       string `help:"Directory holding the local working copies" env:"BASE_DIR" required:""`
		RepoSlug      string `help:"Process only this repository slug" env:"GIT_REPO_SLUG"`
		MaxRepos      *int   `help:"Process at most N repositories" env:"GIT_MAX_REPOS"`
		RepoSelection string `help:"Subset selection when --max-repos applies (first, random)" env:"GIT_REPO_SELECTION" default:"first"`
		RandomSeed    *int64 `help:"Seed for reproducible random selection" env:"GIT_RANDOM_SEED"`
		DryRun        bool   `help:"List planned work without touching git or the network"`
	} `cmd:"" help:"Scan a workspace: sync every repository and run the action pipeline"`

	Version struct{} `cmd:"" help:"Print the gitoteko version"`
}

func main() {
	config.LoadDotEnv()

	parser := newParser(kong.Exit(func(code int) { os.Exit(usageExitCode(code)) }))
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	config.SetupLogging(config.NormalizeLogLevel(CLI.LogLevel), config.NormalizeLogFormat(CLI.LogFormat))

	switch kctx.Command() {
	case "scan":
		os.Exit(runScan())
	case "version":
		fmt.Println("gitoteko", version)
	}
}

func newParser(options ...kong.Option) *kong.Kong {
	options = append([]kong.Option{
		kong.Name("gitoteko"),
		kong.Description("Git workspace scanner with per-repository actions"),
	}, options...)
	parser, err := kong.New(&CLI, options...)
	if err != nil {
		panic(err)
	}
	return parser
}

// usageExitCode maps kong's parse-failure codes onto the usage exit code.
// Help and other clean exits stay at zero.
func usageExitCode(code int) int {
	if code == 0 {
		return 0
	}
	return exitUsage
}

// maxReposValue validates the optional --max-repos flag. Unset means no
// limit; an explicit value must be positive.
func maxReposValue(flag *int) (int, error) {
	if flag == nil {
		return 0, nil
	}
	if *flag <= 0 {
		return 0, fmt.Errorf("--max-repos must be positive; got %d", *flag)
	}
	return *flag, nil
}

func runScan() int {
	env := config.EnvFromOS()

	var file *config.File
	if CLI.Config != "" {
		loaded, err := config.LoadFile(CLI.Config)
		if err != nil {
			slog.Error("Failed to load configuration file", "path", CLI.Config, "error", err)
			return exitUsage
		}
		file = loaded
	}

	settings, err := config.Resolve(env, file)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitUsage
	}

	maxRepos, err := maxReposValue(CLI.Scan.MaxRepos)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitUsage
	}
	switch CLI.Scan.RepoSelection {
	case "first", "random":
	default:
		slog.Error("Invalid configuration", "error", fmt.Sprintf("--repo-selection must be first or random; got %q", CLI.Scan.RepoSelection))
		return exitUsage
	}

	providerClient, err := provider.New(CLI.Scan.Provider, settings.Bitbucket)
	if err != nil {
		slog.Error("Provider unavailable", "provider", CLI.Scan.Provider, "error", err)
		return exitUsage
	}

	actions, err := buildActions(settings, env)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		return exitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ws := scanner.New(providerClient, git.NewClient(git.DefaultTimeout), fsys.NewLocal(), pipeline.New(actions...))
	summary, err := ws.Execute(ctx, scanner.Options{
		Workspace:     provider.WorkspaceID(CLI.Scan.Workspace),
		BaseDir:       CLI.Scan.BaseDir,
		DryRun:        CLI.Scan.DryRun,
		OnlyRepoSlug:  CLI.Scan.RepoSlug,
		MaxRepos:      maxRepos,
		RepoSelection: CLI.Scan.RepoSelection,
		RandomSeed:    CLI.Scan.RandomSeed,
		StopOnError:   settings.StopOnError,
	})
	if err != nil {
		slog.Error("Workspace scan failed", "error", err)
		return exitFailure
	}

	if summary.HasFailures() {
		for _, repo := range summary.Repositories {
			if !repo.Success {
				slog.Error("Repository failed", "repo", repo.Repository.Slug, "reason", repo.FailureReason)
			}
		}
		return exitFailure
	}
	return 0
}

// buildActions instantiates the configured pipeline in GIT_ACTIONS order.
func buildActions(settings *config.Settings, env config.Environment) ([]pipeline.Action, error) {
	fs := fsys.NewLocal()

	var runner rules.ScannerRunner
	if settings.Sonar.ExecutionMode == "local" {
		runner = rules.NewShellScannerRunner(
			settings.Scanner.Executable,
			time.Duration(settings.Scanner.TimeoutSeconds*float64(time.Second)))
	}

	actions := make([]pipeline.Action, 0, len(settings.Actions))
	for _, name := range settings.Actions {
		switch name {
		case config.ActionDetectLanguages:
			actions = append(actions, rules.NewDetectLanguagesAction(fs, settings.Language.Extensions))
		case config.ActionWriteLanguageCSV:
			actions = append(actions, rules.NewWriteLanguageCSVAction(
				settings.Language.ReportCSV,
				settings.Language.RegenerateReport,
				settings.Language.ExtensionsDelimiter))
		case config.ActionSonarProperties:
			actions = append(actions, rules.NewGenerateSonarPropertiesAction(
				settings.Properties.Overwrite,
				settings.Properties.JavaBinariesPath))
		case config.ActionRunSonarScan:
			actions = append(actions, rules.NewRunSonarScanAction(settings.Sonar, settings.Bitbucket, env, runner))
		default:
			return nil, fmt.Errorf("unknown action %q", name)
		}
	}
	return actions, nil
}
