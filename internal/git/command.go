package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandError captures a failed git invocation with enough context to
// diagnose it from logs alone.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Detail   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("git %s (cwd %s) exited %d: %s", strings.Join(e.Args, " "), e.Dir, e.ExitCode, e.Detail)
}

// NotARepositoryError marks a pull target that is missing or has no .git
// directory. Unrecoverable for that repository.
type NotARepositoryError struct {
	Path string
}

func (e *NotARepositoryError) Error() string {
	return fmt.Sprintf("%s is not a git working copy", e.Path)
}

// run executes git with the given arguments in dir, bounded by the client
// timeout, and returns trimmed stdout. Non-zero exits become *CommandError
// whose Detail is stderr, falling back to stdout, falling back to a
// placeholder so the detail is never empty.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return strings.TrimSpace(stdout.String()), nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return "", &CommandError{
			Args:     args,
			Dir:      dir,
			ExitCode: -1,
			Detail:   fmt.Sprintf("timed out after %s", c.timeout),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &CommandError{
			Args:     args,
			Dir:      dir,
			ExitCode: exitErr.ExitCode(),
			Detail:   commandDetail(stderr.String(), stdout.String()),
		}
	}

	// Start failures (git not installed, bad working directory).
	return "", fmt.Errorf("run git %s: %w", strings.Join(args, " "), err)
}

func commandDetail(stderr, stdout string) string {
	if d := strings.TrimSpace(stderr); d != "" {
		return d
	}
	if d := strings.TrimSpace(stdout); d != "" {
		return d
	}
	return "no output captured"
}

// DefaultTimeout bounds a single git subprocess unless configured otherwise.
const DefaultTimeout = 10 * time.Minute
