package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
)

type ciPipeline struct {
	UUID        string
	BuildNumber int
	State       string
	URL         string
	Selector    string
}

// executeCITrigger starts a Bitbucket pipeline that is expected to contain a
// Sonar step. When verification is enabled and the triggered pipeline has no
// such step, one retry with the fallback selector is attempted before
// failing the repository.
func (a *RunSonarScanAction) executeCITrigger(ctx context.Context, rc *pipeline.RepoContext, sonarURL, token, projectKey string) (bool, string, string, map[string]any) {
	a.lastSubmission = a.now()

	metadata := map[string]any{
		"repo_slug":      rc.Repository.Slug,
		"execution_mode": a.sonar.ExecutionMode,
	}

	provider := strings.ToLower(strings.TrimSpace(a.env.GetDefault("SONAR_CI_PROVIDER", "bitbucket")))
	metadata["ci_provider"] = provider
	if provider != "bitbucket" {
		return false, "SONAR_CI_PROVIDER must be 'bitbucket' for CI execution mode", "FAILED", metadata
	}

	pipelineData, err := a.triggerBitbucketPipeline(ctx, rc, projectKey, sonarURL, token, "")
	if err != nil {
		return false, err.Error(), "FAILED", metadata
	}

	verify := true
	if _, ok := a.env["SONAR_CI_VERIFY_SONAR_STEP"]; ok {
		verify = a.env.Truthy("SONAR_CI_VERIFY_SONAR_STEP")
	}
	fallbackSelector := strings.TrimSpace(a.env.GetDefault("SONAR_CI_SONAR_SELECTOR", "sonar-scan"))

	var sonarStepDetected *bool
	fallbackTriggered := false
	if verify {
		sonarStepDetected = a.pipelineHasSonarStep(ctx, rc, pipelineData.UUID)

		if sonarStepDetected != nil && !*sonarStepDetected &&
			fallbackSelector != "" && fallbackSelector != pipelineData.Selector {
			fallbackTriggered = true
			pipelineData, err = a.triggerBitbucketPipeline(ctx, rc, projectKey, sonarURL, token, fallbackSelector)
			if err != nil {
				return false, err.Error(), "FAILED", metadata
			}
			sonarStepDetected = a.pipelineHasSonarStep(ctx, rc, pipelineData.UUID)
		}

		if sonarStepDetected != nil && !*sonarStepDetected {
			msg := "Triggered CI pipeline did not include a Sonar step. " +
				"Configure SONAR_CI_PIPELINE_SELECTOR/SONAR_CI_SONAR_SELECTOR to a Sonar pipeline."
			return false, msg, "FAILED", metadata
		}
	}

	metadata["ci_pipeline_uuid"] = pipelineData.UUID
	metadata["ci_pipeline_build_number"] = pipelineData.BuildNumber
	metadata["ci_pipeline_state"] = pipelineData.State
	metadata["ci_pipeline_url"] = pipelineData.URL
	metadata["ci_pipeline_selector"] = pipelineData.Selector
	metadata["ci_sonar_step_detected"] = sonarStepDetected
	metadata["ci_fallback_triggered"] = fallbackTriggered
	metadata["analysis_url"] = fmt.Sprintf("%s/dashboard?id=%s", sonarURL, url.QueryEscape(projectKey))

	return true, "Sonar CI pipeline triggered", "SUBMITTED", metadata
}

func (a *RunSonarScanAction) triggerBitbucketPipeline(ctx context.Context, rc *pipeline.RepoContext, projectKey, sonarURL, sonarToken, selectorOverride string) (ciPipeline, error) {
	repositoryURL := fmt.Sprintf("%s/repositories/%s/%s",
		strings.TrimRight(a.bitbucket.APIBaseURL, "/"),
		url.PathEscape(string(rc.WorkspaceID)),
		url.PathEscape(rc.Repository.Slug))

	refName := strings.TrimSpace(a.env.Get("SONAR_CI_REF_NAME"))
	if refName == "" {
		var err error
		if refName, err = a.fetchBitbucketMainBranch(ctx, repositoryURL); err != nil {
			return ciPipeline{}, err
		}
	}

	selector := selectorOverride
	if selector == "" {
		selector = strings.TrimSpace(a.env.Get("SONAR_CI_PIPELINE_SELECTOR"))
	}

	target := map[string]any{
		"type":     "pipeline_ref_target",
		"ref_type": "branch",
		"ref_name": refName,
	}
	if selector != "" {
		target["selector"] = map[string]any{"type": "custom", "pattern": selector}
	}

	variables := []map[string]any{
		{"key": "SONAR_PROJECT_KEY", "value": projectKey, "secured": false},
	}
	if a.env.Truthy("SONAR_CI_FORWARD_SONAR_ENV") {
		variables = append(variables,
			map[string]any{"key": "SONAR_HOST_URL", "value": sonarURL, "secured": false},
			map[string]any{"key": "SONAR_TOKEN", "value": sonarToken, "secured": true},
		)
	}
	payload := map[string]any{"target": target, "variables": variables}

	body, err := json.Marshal(payload)
	if err != nil {
		return ciPipeline{}, fmt.Errorf("encode bitbucket pipeline payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, repositoryURL+"/pipelines/", bytes.NewReader(body))
	if err != nil {
		return ciPipeline{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if err := a.applyBitbucketAuth(req); err != nil {
		return ciPipeline{}, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return ciPipeline{}, fmt.Errorf("unable to trigger Bitbucket pipeline: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ciPipeline{}, fmt.Errorf("unable to trigger Bitbucket pipeline for %s/%s: HTTP %d %s",
			rc.WorkspaceID, rc.Repository.Slug, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var decoded struct {
		UUID        string `json:"uuid"`
		BuildNumber int    `json:"build_number"`
		State       struct {
			Name string `json:"name"`
		} `json:"state"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return ciPipeline{}, fmt.Errorf("invalid JSON response from Bitbucket pipelines API: %w", err)
	}

	return ciPipeline{
		UUID:        decoded.UUID,
		BuildNumber: decoded.BuildNumber,
		State:       decoded.State.Name,
		URL:         decoded.Links.HTML.Href,
		Selector:    selector,
	}, nil
}

// pipelineHasSonarStep inspects the triggered pipeline's steps for anything
// sonar-related. A nil result means the check was inconclusive and is not
// held against the pipeline.
func (a *RunSonarScanAction) pipelineHasSonarStep(ctx context.Context, rc *pipeline.RepoContext, pipelineUUID string) *bool {
	pipelineUUID = strings.TrimSpace(pipelineUUID)
	if pipelineUUID == "" {
		return nil
	}

	stepsURL := fmt.Sprintf("%s/repositories/%s/%s/pipelines/%s/steps/",
		strings.TrimRight(a.bitbucket.APIBaseURL, "/"),
		url.PathEscape(string(rc.WorkspaceID)),
		url.PathEscape(rc.Repository.Slug),
		literalBraces(url.PathEscape(pipelineUUID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stepsURL, http.NoBody)
	if err != nil {
		return nil
	}
	// net/url percent-encodes braces when writing the request line; Bitbucket
	// pipeline UUIDs keep theirs literal, so pin the path as built.
	req.URL.Opaque = literalBraces(req.URL.EscapedPath())
	req.Header.Set("Accept", "application/json")
	if err := a.applyBitbucketAuth(req); err != nil {
		return nil
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	var decoded struct {
		Values []json.RawMessage `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil
	}
	if decoded.Values == nil {
		return nil
	}

	detected := false
	for _, step := range decoded.Values {
		if strings.Contains(strings.ToLower(string(step)), "sonar") {
			detected = true
			break
		}
	}
	return &detected
}

// literalBraces undoes percent-encoding of braces in an escaped path.
func literalBraces(escaped string) string {
	escaped = strings.ReplaceAll(escaped, "%7B", "{")
	return strings.ReplaceAll(escaped, "%7D", "}")
}

// fetchBitbucketMainBranch resolves the repository's configured main branch,
// falling back to "main" when the API does not report one.
func (a *RunSonarScanAction) fetchBitbucketMainBranch(ctx context.Context, repositoryURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, repositoryURL, http.NoBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if err := a.applyBitbucketAuth(req); err != nil {
		return "", err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to resolve repository main branch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("unable to resolve repository main branch: HTTP %d", resp.StatusCode)
	}

	var decoded struct {
		MainBranch struct {
			Name string `json:"name"`
		} `json:"mainbranch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("invalid JSON response from Bitbucket repository API: %w", err)
	}

	if name := strings.TrimSpace(decoded.MainBranch.Name); name != "" {
		return name, nil
	}
	return "main", nil
}

func (a *RunSonarScanAction) applyBitbucketAuth(req *http.Request) error {
	if token := strings.TrimSpace(a.bitbucket.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	username := strings.TrimSpace(a.bitbucket.Username)
	appPassword := strings.TrimSpace(a.bitbucket.AppPassword)
	if username != "" && appPassword != "" {
		req.SetBasicAuth(username, appPassword)
		return nil
	}
	return fmt.Errorf("missing Bitbucket authentication for CI trigger: set BITBUCKET_TOKEN or BITBUCKET_USERNAME/BITBUCKET_APP_PASSWORD")
}
