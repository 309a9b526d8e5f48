package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

type ceTask struct {
	Status       string `json:"status"`
	AnalysisID   string `json:"analysisId"`
	ComponentKey string `json:"componentKey"`
	ErrorMessage string `json:"errorMessage"`
}

type qualityGateStatus struct {
	Status        string `json:"status"`
	Conditions    []any  `json:"conditions"`
	endpointError string
}

// fetchCETask queries /api/ce/task for one background task. Errors are
// returned to the caller, which treats them as transient during polling.
func fetchCETask(ctx context.Context, client *http.Client, sonarURL, token, taskID string) (ceTask, error) {
	endpoint := fmt.Sprintf("%s/api/ce/task?id=%s", sonarURL, url.QueryEscape(taskID))

	var payload struct {
		Task *ceTask `json:"task"`
	}
	if err := sonarGet(ctx, client, endpoint, token, &payload); err != nil {
		return ceTask{}, fmt.Errorf("unable to query Sonar CE task: %w", err)
	}
	if payload.Task == nil {
		return ceTask{}, fmt.Errorf("unexpected Sonar CE task response: missing task object")
	}
	return *payload.Task, nil
}

// fetchQualityGateStatus queries the project quality gate. A 404 means the
// server has no quality gate endpoint for the project and is reported as an
// UNKNOWN status with an endpoint error instead of failing.
func fetchQualityGateStatus(ctx context.Context, client *http.Client, sonarURL, token, projectKey string) (qualityGateStatus, error) {
	endpoint := fmt.Sprintf("%s/api/qualitygates/project_status?projectKey=%s", sonarURL, url.QueryEscape(projectKey))

	var payload struct {
		ProjectStatus *qualityGateStatus `json:"projectStatus"`
	}
	err := sonarGet(ctx, client, endpoint, token, &payload)
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
			return qualityGateStatus{Status: "UNKNOWN", endpointError: "HTTP 404"}, nil
		}
		return qualityGateStatus{}, fmt.Errorf("unable to query Sonar quality gate status: %w", err)
	}
	if payload.ProjectStatus == nil {
		return qualityGateStatus{}, fmt.Errorf("unexpected Sonar quality gate response: missing projectStatus object")
	}
	return *payload.ProjectStatus, nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.status, e.url)
}

// sonarGet performs an authenticated GET and decodes the JSON body into out.
// Sonar token auth is HTTP basic with the token as username.
func sonarGet(ctx context.Context, client *http.Client, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(token, "")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, url: endpoint}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid JSON response from %s: %w", endpoint, err)
	}
	return nil
}
