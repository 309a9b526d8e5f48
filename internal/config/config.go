// Package config resolves gitoteko runtime settings from the environment and
// an optional YAML pipeline file. Flag handling lives in the CLI; everything
// here is env-driven with file values as the lower-precedence layer.
package config

import (
	"fmt"
	"strings"
)

// Canonical action names accepted in GIT_ACTIONS.
const (
	ActionDetectLanguages    = "detect-languages"
	ActionWriteLanguageCSV   = "write-language-csv"
	ActionSonarProperties    = "generate-sonar-properties"
	ActionRunSonarScan       = "run-sonar-scan"
	DefaultSonarStateFile    = ".git/gitoteko_sonar_state.json"
	DefaultBitbucketAPIBase  = "https://api.bitbucket.org/2.0"
	DefaultScannerExecutable = "sonar-scanner"
)

var knownActions = map[string]bool{
	ActionDetectLanguages:  true,
	ActionWriteLanguageCSV: true,
	ActionSonarProperties:  true,
	ActionRunSonarScan:     true,
}

// DefaultActions is the pipeline order when GIT_ACTIONS is unset.
var DefaultActions = []string{
	ActionDetectLanguages,
	ActionWriteLanguageCSV,
	ActionSonarProperties,
	ActionRunSonarScan,
}

// LanguageSettings configures the detection and CSV report actions.
type LanguageSettings struct {
	Extensions          []string
	ReportCSV           string
	RegenerateReport    bool
	ExtensionsDelimiter string
}

// PropertiesSettings configures the sonar-project.properties action.
type PropertiesSettings struct {
	Overwrite        bool
	JavaBinariesPath string
}

// ScannerSettings configures the local sonar-scanner invocation.
type ScannerSettings struct {
	Executable     string
	TimeoutSeconds float64
}

// SonarSettings configures the Sonar scan action.
type SonarSettings struct {
	URL                    string
	Token                  string
	ExecutionMode          string
	WaitMode               string
	SubmissionDelaySeconds float64
	PollIntervalSeconds    float64
	WaitTimeoutSeconds     float64
	SkipUnchanged          bool
	ForceScan              bool
	StateFileRelativePath  string
	EnableBranchAnalysis   bool
}

// BitbucketSettings configures the Bitbucket Cloud REST client.
type BitbucketSettings struct {
	Token          string
	Username       string
	AppPassword    string
	APIBaseURL     string
	TimeoutSeconds float64
}

// Settings is the resolved, validated runtime configuration for one run.
type Settings struct {
	Actions     []string
	StopOnError bool
	Language    LanguageSettings
	Properties  PropertiesSettings
	Scanner     ScannerSettings
	Sonar       SonarSettings
	Bitbucket   BitbucketSettings
}

// Resolve layers defaults, the optional pipeline file, and the environment
// (highest precedence) into a validated Settings value.
func Resolve(env Environment, file *File) (*Settings, error) {
	s := defaults()
	if file != nil {
		applyFile(s, file)
	}
	if err := applyEnv(s, env); err != nil {
		return nil, err
	}
	if err := validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

func defaults() *Settings {
	return &Settings{
		Actions: append([]string(nil), DefaultActions...),
		Language: LanguageSettings{
			Extensions:          []string{".java", ".ts", ".js", ".py"},
			ReportCSV:           "language_report.csv",
			ExtensionsDelimiter: ";",
		},
		Properties: PropertiesSettings{
			JavaBinariesPath: "target/classes",
		},
		Scanner: ScannerSettings{
			Executable:     DefaultScannerExecutable,
			TimeoutSeconds: 1800,
		},
		Sonar: SonarSettings{
			ExecutionMode:          "cloud",
			WaitMode:               "sync",
			PollIntervalSeconds:    5,
			WaitTimeoutSeconds:     1800,
			SkipUnchanged:          true,
			StateFileRelativePath:  DefaultSonarStateFile,
			SubmissionDelaySeconds: 0,
		},
		Bitbucket: BitbucketSettings{
			APIBaseURL:     DefaultBitbucketAPIBase,
			TimeoutSeconds: 30,
		},
	}
}

func applyEnv(s *Settings, env Environment) error {
	if raw := env.Get("GIT_ACTIONS"); raw != "" {
		s.Actions = splitList(raw)
	}
	s.StopOnError = envBool(env, "GIT_STOP_ON_ERROR", s.StopOnError)

	if raw := env.Get("LANGUAGE_DETECTION_EXTENSIONS"); raw != "" {
		s.Language.Extensions = splitList(raw)
	}
	s.Language.ReportCSV = env.GetDefault("LANGUAGE_REPORT_CSV", s.Language.ReportCSV)
	s.Language.RegenerateReport = envBool(env, "LANGUAGE_REPORT_REGENERATE", s.Language.RegenerateReport)

	s.Properties.Overwrite = envBool(env, "SONAR_PROPERTIES_OVERWRITE", s.Properties.Overwrite)
	s.Properties.JavaBinariesPath = env.GetDefault("SONAR_JAVA_BINARIES_PATH", s.Properties.JavaBinariesPath)

	s.Scanner.Executable = env.GetDefault("SONAR_SCANNER_EXECUTABLE", s.Scanner.Executable)

	var err error
	if s.Scanner.TimeoutSeconds, err = env.Float("SONAR_SCANNER_TIMEOUT_SECONDS", s.Scanner.TimeoutSeconds); err != nil {
		return err
	}

	s.Sonar.URL = env.GetDefault("SONARQUBE_URL", env.GetDefault("SONAR_HOST_URL", s.Sonar.URL))
	s.Sonar.Token = env.GetDefault("SONARQUBE_TOKEN", env.GetDefault("SONAR_TOKEN", s.Sonar.Token))
	s.Sonar.ExecutionMode = strings.ToLower(env.GetDefault("SONAR_EXECUTION_MODE", s.Sonar.ExecutionMode))
	s.Sonar.WaitMode = strings.ToLower(env.GetDefault("SONAR_WAIT_MODE", s.Sonar.WaitMode))
	if s.Sonar.SubmissionDelaySeconds, err = env.Float("SONAR_SUBMISSION_DELAY_SECONDS", s.Sonar.SubmissionDelaySeconds); err != nil {
		return err
	}
	if s.Sonar.PollIntervalSeconds, err = env.Float("SONAR_SYNC_POLL_INTERVAL_SECONDS", s.Sonar.PollIntervalSeconds); err != nil {
		return err
	}
	if s.Sonar.WaitTimeoutSeconds, err = env.Float("SONAR_SYNC_TIMEOUT_SECONDS", s.Sonar.WaitTimeoutSeconds); err != nil {
		return err
	}
	s.Sonar.SkipUnchanged = envBool(env, "SONAR_SKIP_UNCHANGED", s.Sonar.SkipUnchanged)
	s.Sonar.ForceScan = envBool(env, "SONAR_FORCE_SCAN", s.Sonar.ForceScan)
	s.Sonar.StateFileRelativePath = env.GetDefault("SONAR_STATE_FILE", s.Sonar.StateFileRelativePath)
	s.Sonar.EnableBranchAnalysis = envBool(env, "SONAR_ENABLE_BRANCH_ANALYSIS", s.Sonar.EnableBranchAnalysis)

	s.Bitbucket.Token = env.GetDefault("BITBUCKET_TOKEN", s.Bitbucket.Token)
	s.Bitbucket.Username = env.GetDefault("BITBUCKET_USERNAME", s.Bitbucket.Username)
	s.Bitbucket.AppPassword = env.GetDefault("BITBUCKET_APP_PASSWORD", s.Bitbucket.AppPassword)
	s.Bitbucket.APIBaseURL = strings.TrimRight(env.GetDefault("BITBUCKET_API_BASE_URL", s.Bitbucket.APIBaseURL), "/")
	if s.Bitbucket.TimeoutSeconds, err = env.Float("BITBUCKET_TIMEOUT_SECONDS", s.Bitbucket.TimeoutSeconds); err != nil {
		return err
	}

	return nil
}

func validate(s *Settings) error {
	if len(s.Actions) == 0 {
		return fmt.Errorf("GIT_ACTIONS resolved to an empty action list")
	}
	for _, name := range s.Actions {
		if !knownActions[name] {
			return fmt.Errorf("unknown action %q in GIT_ACTIONS", name)
		}
	}
	switch s.Sonar.ExecutionMode {
	case "cloud", "local", "ci":
	default:
		return fmt.Errorf("SONAR_EXECUTION_MODE must be one of cloud, local, ci; got %q", s.Sonar.ExecutionMode)
	}
	switch s.Sonar.WaitMode {
	case "sync", "async":
	default:
		return fmt.Errorf("SONAR_WAIT_MODE must be sync or async; got %q", s.Sonar.WaitMode)
	}
	if s.Sonar.SubmissionDelaySeconds < 0 {
		s.Sonar.SubmissionDelaySeconds = 0
	}
	if s.Sonar.PollIntervalSeconds < 0.1 {
		s.Sonar.PollIntervalSeconds = 0.1
	}
	if s.Sonar.WaitTimeoutSeconds < 1 {
		s.Sonar.WaitTimeoutSeconds = 1
	}
	if strings.TrimSpace(s.Sonar.StateFileRelativePath) == "" {
		s.Sonar.StateFileRelativePath = DefaultSonarStateFile
	}
	if s.Bitbucket.TimeoutSeconds <= 0 {
		s.Bitbucket.TimeoutSeconds = 30
	}
	return nil
}

// envBool parses a truthy env var, keeping fallback when the variable is unset.
func envBool(env Environment, key string, fallback bool) bool {
	if _, ok := env[key]; !ok {
		return fallback
	}
	return env.Truthy(key)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
