package rules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"git.home.luguber.info/inful/gitoteko/internal/config"
	"git.home.luguber.info/inful/gitoteko/internal/git"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
)

var (
	analysisURLPattern = regexp.MustCompile(`https?://[^\s]*dashboard\?id=[^\s]+`)
	ceTaskURLPattern   = regexp.MustCompile(`https?://[^\s]*/api/ce/task\?id=([A-Za-z0-9\-]+)`)
)

// Terminal CE task states. Anything else keeps the sync wait polling.
var terminalCEStatuses = map[string]bool{
	"SUCCESS":  true,
	"FAILED":   true,
	"CANCELED": true,
}

// RunSonarScanAction drives a Sonar analysis for one repository. Cloud mode
// only checks the server-side quality gate, local mode runs sonar-scanner and
// optionally waits for CE processing, ci mode triggers a Bitbucket pipeline.
// Successful outcomes are recorded in a per-repo state file so unchanged
// repositories are skipped on later runs.
type RunSonarScanAction struct {
	sonar     config.SonarSettings
	bitbucket config.BitbucketSettings
	env       config.Environment
	runner    ScannerRunner

	httpClient *http.Client

	// Hooks below default to the real implementations and are replaced in
	// tests.
	resolveRevision func(string) string
	resolveBranch   func(string) string
	now             func() time.Time
	sleep           func(time.Duration)

	lastSubmission time.Time
}

// NewRunSonarScanAction creates the action. The runner may be nil unless
// execution mode is local.
func NewRunSonarScanAction(sonar config.SonarSettings, bitbucket config.BitbucketSettings, env config.Environment, runner ScannerRunner) *RunSonarScanAction {
	return &RunSonarScanAction{
		sonar:     sonar,
		bitbucket: bitbucket,
		env:       env,
		runner:    runner,
		httpClient: &http.Client{
			Timeout: time.Duration(sonar.PollIntervalSeconds*float64(time.Second)) + 10*time.Second,
		},
		resolveRevision: git.ResolveRevision,
		resolveBranch:   git.ResolveBranch,
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

func (*RunSonarScanAction) Name() string { return config.ActionRunSonarScan }

func (a *RunSonarScanAction) Execute(ctx context.Context, rc *pipeline.RepoContext) pipeline.ActionResult {
	sonarURL := strings.TrimRight(strings.TrimSpace(a.sonar.URL), "/")
	if sonarURL == "" {
		return a.failure("Missing Sonar URL (SONARQUBE_URL or SONAR_HOST_URL)")
	}
	token := strings.TrimSpace(a.sonar.Token)
	if token == "" {
		return a.failure("Missing Sonar token (SONARQUBE_TOKEN or SONAR_TOKEN)")
	}

	projectKey := SanitizeProjectKey(fmt.Sprintf("%s_%s", rc.WorkspaceID, rc.Repository.Slug))
	branchName := a.resolveBranch(rc.LocalPath)
	scannerBranch := ""
	if a.sonar.EnableBranchAnalysis {
		scannerBranch = branchName
	}
	revision := a.resolveRevision(rc.LocalPath)
	statePath := filepath.Join(rc.LocalPath, a.sonar.StateFileRelativePath)

	if a.sonar.SkipUnchanged && !a.sonar.ForceScan && revision != "" {
		entry, ok := loadStateEntry(statePath, stateKey(sonarURL, projectKey, scannerBranch))
		if ok && entry.Revision == revision && entry.Status == "SUCCESS" {
			return pipeline.ActionResult{
				ActionName: a.Name(),
				Success:    true,
				Message:    "Sonar scan skipped (repository unchanged)",
				Metadata: map[string]any{
					"repo_slug":               rc.Repository.Slug,
					"project_key":             projectKey,
					"branch_name":             branchName,
					"branch_analysis_enabled": a.sonar.EnableBranchAnalysis,
					"revision":                revision,
					"reason":                  "unchanged",
					"wait_mode":               a.sonar.WaitMode,
				},
			}
		}
	}

	a.throttleSubmission()

	var (
		success     bool
		message     string
		finalStatus string
		metadata    map[string]any
	)
	switch a.sonar.ExecutionMode {
	case "cloud":
		success, message, finalStatus, metadata = a.executeCloudStatusCheck(ctx, rc, sonarURL, token, projectKey)
	case "ci":
		success, message, finalStatus, metadata = a.executeCITrigger(ctx, rc, sonarURL, token, projectKey)
	default:
		success, message, finalStatus, metadata = a.executeLocal(ctx, rc, sonarURL, token, branchName, scannerBranch)
	}

	metadata["project_key"] = projectKey
	metadata["revision"] = revision
	metadata["skip_unchanged"] = a.sonar.SkipUnchanged
	metadata["force_scan"] = a.sonar.ForceScan
	metadata["final_status"] = finalStatus

	if success && revision != "" {
		analysisURL, _ := metadata["analysis_url"].(string)
		ceTaskID, _ := metadata["ce_task_id"].(string)
		saveStateEntry(statePath, stateKey(sonarURL, projectKey, scannerBranch), scanStateEntry{
			AnalysisURL:    analysisURL,
			CETaskID:       ceTaskID,
			Revision:       revision,
			Status:         finalStatus,
			UpdatedAtEpoch: a.now().Unix(),
		})
	}

	return pipeline.ActionResult{
		ActionName: a.Name(),
		Success:    success,
		Message:    message,
		Metadata:   metadata,
	}
}

func (a *RunSonarScanAction) failure(message string) pipeline.ActionResult {
	return pipeline.ActionResult{ActionName: a.Name(), Success: false, Message: message}
}

// executeCloudStatusCheck fetches the server-side quality gate. OK and NONE
// are passing outcomes; a missing endpoint skips the check rather than
// failing the repository.
func (a *RunSonarScanAction) executeCloudStatusCheck(ctx context.Context, rc *pipeline.RepoContext, sonarURL, token, projectKey string) (bool, string, string, map[string]any) {
	a.lastSubmission = a.now()

	metadata := map[string]any{
		"repo_slug":        rc.Repository.Slug,
		"execution_mode":   a.sonar.ExecutionMode,
		"wait_mode":        a.sonar.WaitMode,
		"project_key":      projectKey,
		"quality_gate_url": fmt.Sprintf("%s/api/qualitygates/project_status?projectKey=%s", sonarURL, url.QueryEscape(projectKey)),
		"analysis_url":     fmt.Sprintf("%s/dashboard?id=%s", sonarURL, url.QueryEscape(projectKey)),
	}

	gate, err := fetchQualityGateStatus(ctx, a.httpClient, sonarURL, token, projectKey)
	if err != nil {
		metadata["quality_gate_status"] = "UNKNOWN"
		return false, err.Error(), "FAILED", metadata
	}

	status := gate.Status
	if status == "" {
		status = "UNKNOWN"
	}
	metadata["quality_gate_status"] = status
	metadata["quality_gate_conditions"] = gate.Conditions
	metadata["quality_gate_endpoint_error"] = gate.endpointError

	success := status == "OK" || status == "NONE"
	message := "Sonar cloud status fetched"
	finalStatus := "SUCCESS"
	switch {
	case status == "ERROR":
		message = "Sonar cloud quality gate failed"
		finalStatus = status
	case status == "UNKNOWN" && gate.endpointError != "":
		success = true
		message = "Sonar quality gate endpoint unavailable; status check skipped"
		finalStatus = "SKIPPED_STATUS_CHECK"
	case !success:
		finalStatus = status
	}
	return success, message, finalStatus, metadata
}

// executeLocal runs sonar-scanner in the working copy and, in sync wait mode,
// polls the resulting CE task until it reaches a terminal state.
func (a *RunSonarScanAction) executeLocal(ctx context.Context, rc *pipeline.RepoContext, sonarURL, token, branchName, scannerBranch string) (bool, string, string, map[string]any) {
	metadata := map[string]any{
		"repo_slug":               rc.Repository.Slug,
		"execution_mode":          a.sonar.ExecutionMode,
		"branch_name":             branchName,
		"branch_analysis_enabled": a.sonar.EnableBranchAnalysis,
		"wait_mode":               a.sonar.WaitMode,
	}

	if a.runner == nil {
		return false, "Local Sonar execution requires a scanner runner", "FAILED", metadata
	}

	exitCode, stdout, stderr, err := a.runner.Run(ctx, rc.LocalPath, sonarURL, token, scannerBranch)
	a.lastSubmission = a.now()
	if err != nil {
		metadata["exit_code"] = exitCode
		return false, err.Error(), "FAILED", metadata
	}

	analysisURL := analysisURLPattern.FindString(stdout)
	if analysisURL == "" {
		analysisURL = analysisURLPattern.FindString(stderr)
	}
	ceTaskID := extractCETaskID(stdout)
	if ceTaskID == "" {
		ceTaskID = extractCETaskID(stderr)
	}

	success := exitCode == 0
	metadata["exit_code"] = exitCode
	metadata["analysis_url"] = analysisURL
	metadata["ce_task_id"] = ceTaskID
	metadata["stdout"] = stdout
	metadata["stderr"] = stderr

	message := "Sonar scan failed"
	finalStatus := "FAILED"
	if success {
		message = "Sonar scan completed"
	}

	switch {
	case success && a.sonar.WaitMode == "sync":
		if ceTaskID == "" {
			success = false
			message = "Sonar scan submitted but CE task id was not found"
			break
		}
		waitResult := a.waitForCETask(ctx, sonarURL, token, ceTaskID)
		for k, v := range waitResult {
			metadata[k] = v
		}
		ceStatus, _ := waitResult["ce_task_status"].(string)
		switch ceStatus {
		case "SUCCESS":
			message = "Sonar scan completed and processed"
			finalStatus = "SUCCESS"
		case "TIMEOUT":
			success = false
			message = "Sonar scan submitted but CE processing wait timed out"
			finalStatus = "TIMEOUT"
		default:
			success = false
			if ceStatus == "" {
				ceStatus = "UNKNOWN"
			}
			message = fmt.Sprintf("Sonar scan submitted but CE processing ended with status %s", ceStatus)
			finalStatus = ceStatus
		}
	case success:
		finalStatus = "SUBMITTED"
	}

	return success, message, finalStatus, metadata
}

// waitForCETask polls /api/ce/task until the task reaches a terminal state or
// the wait timeout expires. Transient fetch errors are retried.
func (a *RunSonarScanAction) waitForCETask(ctx context.Context, sonarURL, token, ceTaskID string) map[string]any {
	pollInterval := time.Duration(a.sonar.PollIntervalSeconds * float64(time.Second))
	deadline := a.now().Add(time.Duration(a.sonar.WaitTimeoutSeconds * float64(time.Second)))
	taskURL := fmt.Sprintf("%s/api/ce/task?id=%s", sonarURL, ceTaskID)

	var lastError string
	for a.now().Before(deadline) {
		task, err := fetchCETask(ctx, a.httpClient, sonarURL, token, ceTaskID)
		if err != nil {
			lastError = err.Error()
			a.sleep(pollInterval)
			continue
		}

		if terminalCEStatuses[task.Status] {
			return map[string]any{
				"ce_task_status":   task.Status,
				"ce_task_url":      taskURL,
				"ce_analysis_id":   task.AnalysisID,
				"ce_component_key": task.ComponentKey,
				"ce_error_message": task.ErrorMessage,
			}
		}
		a.sleep(pollInterval)
	}

	return map[string]any{
		"ce_task_status": "TIMEOUT",
		"ce_task_url":    taskURL,
		"ce_poll_error":  lastError,
	}
}

// throttleSubmission enforces the minimum delay between submissions across
// repositories within one run.
func (a *RunSonarScanAction) throttleSubmission() {
	delay := time.Duration(a.sonar.SubmissionDelaySeconds * float64(time.Second))
	if delay <= 0 || a.lastSubmission.IsZero() {
		return
	}
	if remaining := delay - a.now().Sub(a.lastSubmission); remaining > 0 {
		a.sleep(remaining)
	}
}

func extractCETaskID(text string) string {
	match := ceTaskURLPattern.FindStringSubmatch(text)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}
