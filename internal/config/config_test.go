package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_Defaults(t *testing.T) {
	s, err := Resolve(Environment{}, nil)
	require.NoError(t, err)

	require.Equal(t, DefaultActions, s.Actions)
	require.False(t, s.StopOnError)
	require.Equal(t, []string{".java", ".ts", ".js", ".py"}, s.Language.Extensions)
	require.Equal(t, "language_report.csv", s.Language.ReportCSV)
	require.Equal(t, "cloud", s.Sonar.ExecutionMode)
	require.Equal(t, "sync", s.Sonar.WaitMode)
	require.Equal(t, 5.0, s.Sonar.PollIntervalSeconds)
	require.Equal(t, 1800.0, s.Sonar.WaitTimeoutSeconds)
	require.True(t, s.Sonar.SkipUnchanged)
	require.Equal(t, DefaultSonarStateFile, s.Sonar.StateFileRelativePath)
	require.Equal(t, DefaultBitbucketAPIBase, s.Bitbucket.APIBaseURL)
	require.Equal(t, 30.0, s.Bitbucket.TimeoutSeconds)
}

func TestResolve_EnvOverrides(t *testing.T) {
	env := Environment{
		"GIT_ACTIONS":                      "detect-languages, run-sonar-scan",
		"GIT_STOP_ON_ERROR":                "yes",
		"LANGUAGE_DETECTION_EXTENSIONS":    "go,rs",
		"SONAR_EXECUTION_MODE":             "LOCAL",
		"SONAR_WAIT_MODE":                  "async",
		"SONAR_SYNC_POLL_INTERVAL_SECONDS": "0.5",
		"SONAR_SKIP_UNCHANGED":             "0",
		"BITBUCKET_API_BASE_URL":           "https://bb.example/2.0/",
	}

	s, err := Resolve(env, nil)
	require.NoError(t, err)

	require.Equal(t, []string{ActionDetectLanguages, ActionRunSonarScan}, s.Actions)
	require.True(t, s.StopOnError)
	require.Equal(t, []string{"go", "rs"}, s.Language.Extensions)
	require.Equal(t, "local", s.Sonar.ExecutionMode)
	require.Equal(t, "async", s.Sonar.WaitMode)
	require.Equal(t, 0.5, s.Sonar.PollIntervalSeconds)
	require.False(t, s.Sonar.SkipUnchanged)
	require.Equal(t, "https://bb.example/2.0", s.Bitbucket.APIBaseURL)
}

func TestResolve_SonarURLAndTokenPrecedence(t *testing.T) {
	env := Environment{
		"SONARQUBE_URL":   "https://primary.example",
		"SONAR_HOST_URL":  "https://secondary.example",
		"SONAR_TOKEN":     "secondary-token",
		"SONARQUBE_TOKEN": "primary-token",
	}

	s, err := Resolve(env, nil)
	require.NoError(t, err)
	require.Equal(t, "https://primary.example", s.Sonar.URL)
	require.Equal(t, "primary-token", s.Sonar.Token)

	s, err = Resolve(Environment{"SONAR_HOST_URL": "https://secondary.example", "SONAR_TOKEN": "secondary-token"}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://secondary.example", s.Sonar.URL)
	require.Equal(t, "secondary-token", s.Sonar.Token)
}

func TestResolve_ClampsPollAndTimeout(t *testing.T) {
	env := Environment{
		"SONAR_SYNC_POLL_INTERVAL_SECONDS": "0.01",
		"SONAR_SYNC_TIMEOUT_SECONDS":       "0",
		"SONAR_SUBMISSION_DELAY_SECONDS":   "-5",
	}

	s, err := Resolve(env, nil)
	require.NoError(t, err)
	require.Equal(t, 0.1, s.Sonar.PollIntervalSeconds)
	require.Equal(t, 1.0, s.Sonar.WaitTimeoutSeconds)
	require.Equal(t, 0.0, s.Sonar.SubmissionDelaySeconds)
}

func TestResolve_RejectsUnknownAction(t *testing.T) {
	_, err := Resolve(Environment{"GIT_ACTIONS": "detect-languages,frobnicate"}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "frobnicate")
}

func TestResolve_RejectsInvalidModes(t *testing.T) {
	_, err := Resolve(Environment{"SONAR_EXECUTION_MODE": "hybrid"}, nil)
	require.Error(t, err)

	_, err = Resolve(Environment{"SONAR_WAIT_MODE": "eventually"}, nil)
	require.Error(t, err)
}

func TestResolve_RejectsEmptyActionList(t *testing.T) {
	_, err := Resolve(Environment{"GIT_ACTIONS": " , "}, nil)
	require.Error(t, err)
}

func TestResolve_FileLayeringAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := `
actions:
  - detect-languages
  - write-language-csv
stop_on_error: true
language:
  report_csv: from_file.csv
sonar:
  execution_mode: local
  poll_interval_seconds: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	file, err := LoadFile(path)
	require.NoError(t, err)

	env := Environment{"SONAR_EXECUTION_MODE": "ci"}
	s, err := Resolve(env, file)
	require.NoError(t, err)

	require.Equal(t, []string{ActionDetectLanguages, ActionWriteLanguageCSV}, s.Actions)
	require.True(t, s.StopOnError)
	require.Equal(t, "from_file.csv", s.Language.ReportCSV)
	require.Equal(t, 2.0, s.Sonar.PollIntervalSeconds)
	// env wins over the file
	require.Equal(t, "ci", s.Sonar.ExecutionMode)
}

func TestLoadFile_MissingPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
