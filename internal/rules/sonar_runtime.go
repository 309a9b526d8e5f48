package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ScannerRunner executes SonarScanner against one working copy and returns
// the exit code plus captured stdio. Required by the scan action in local
// execution mode only.
type ScannerRunner interface {
	Run(ctx context.Context, repoPath, sonarURL, token, branchName string) (exitCode int, stdout, stderr string, err error)
}

// ShellScannerRunner runs the sonar-scanner executable as a subprocess.
type ShellScannerRunner struct {
	executable string
	timeout    time.Duration
}

// NewShellScannerRunner creates a runner for the given executable. A zero
// timeout falls back to 30 minutes.
func NewShellScannerRunner(executable string, timeout time.Duration) *ShellScannerRunner {
	if executable == "" {
		executable = "sonar-scanner"
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &ShellScannerRunner{executable: executable, timeout: timeout}
}

// Run invokes sonar-scanner in repoPath. The branch property is passed only
// for non-main branches since main is the server-side default.
func (r *ShellScannerRunner) Run(ctx context.Context, repoPath, sonarURL, token, branchName string) (int, string, string, error) {
	args := []string{
		"-Dsonar.host.url=" + sonarURL,
		"-Dsonar.token=" + token,
	}
	if branchName != "" && branchName != "main" {
		args = append(args, "-Dsonar.branch.name="+branchName)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.executable, args...)
	cmd.Dir = repoPath

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("sonar-scanner timed out after %s in %s", r.timeout, repoPath)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
		}
		return -1, stdout.String(), stderr.String(),
			fmt.Errorf("sonar-scanner executable %q could not be started: %w", r.executable, err)
	}
	return 0, stdout.String(), stderr.String(), nil
}
