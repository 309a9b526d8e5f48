package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML pipeline configuration. Every field is optional;
// set fields override the built-in defaults but lose to environment variables.
type File struct {
	Actions     []string `yaml:"actions"`
	StopOnError *bool    `yaml:"stop_on_error"`

	Language struct {
		Extensions []string `yaml:"extensions"`
		ReportCSV  string   `yaml:"report_csv"`
		Regenerate *bool    `yaml:"regenerate"`
	} `yaml:"language"`

	Properties struct {
		Overwrite    *bool  `yaml:"overwrite"`
		JavaBinaries string `yaml:"java_binaries"`
	} `yaml:"properties"`

	Sonar struct {
		URL                    string   `yaml:"url"`
		ExecutionMode          string   `yaml:"execution_mode"`
		WaitMode               string   `yaml:"wait_mode"`
		SubmissionDelaySeconds *float64 `yaml:"submission_delay_seconds"`
		PollIntervalSeconds    *float64 `yaml:"poll_interval_seconds"`
		WaitTimeoutSeconds     *float64 `yaml:"wait_timeout_seconds"`
		SkipUnchanged          *bool    `yaml:"skip_unchanged"`
		ScannerExecutable      string   `yaml:"scanner_executable"`
	} `yaml:"sonar"`
}

// LoadFile parses a pipeline configuration file. A missing path is an error;
// callers skip the call when no --config flag was given.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &f, nil
}

func applyFile(s *Settings, f *File) {
	if len(f.Actions) > 0 {
		s.Actions = append([]string(nil), f.Actions...)
	}
	if f.StopOnError != nil {
		s.StopOnError = *f.StopOnError
	}
	if len(f.Language.Extensions) > 0 {
		s.Language.Extensions = append([]string(nil), f.Language.Extensions...)
	}
	if f.Language.ReportCSV != "" {
		s.Language.ReportCSV = f.Language.ReportCSV
	}
	if f.Language.Regenerate != nil {
		s.Language.RegenerateReport = *f.Language.Regenerate
	}
	if f.Properties.Overwrite != nil {
		s.Properties.Overwrite = *f.Properties.Overwrite
	}
	if f.Properties.JavaBinaries != "" {
		s.Properties.JavaBinariesPath = f.Properties.JavaBinaries
	}
	if f.Sonar.URL != "" {
		s.Sonar.URL = f.Sonar.URL
	}
	if f.Sonar.ExecutionMode != "" {
		s.Sonar.ExecutionMode = f.Sonar.ExecutionMode
	}
	if f.Sonar.WaitMode != "" {
		s.Sonar.WaitMode = f.Sonar.WaitMode
	}
	if f.Sonar.SubmissionDelaySeconds != nil {
		s.Sonar.SubmissionDelaySeconds = *f.Sonar.SubmissionDelaySeconds
	}
	if f.Sonar.PollIntervalSeconds != nil {
		s.Sonar.PollIntervalSeconds = *f.Sonar.PollIntervalSeconds
	}
	if f.Sonar.WaitTimeoutSeconds != nil {
		s.Sonar.WaitTimeoutSeconds = *f.Sonar.WaitTimeoutSeconds
	}
	if f.Sonar.SkipUnchanged != nil {
		s.Sonar.SkipUnchanged = *f.Sonar.SkipUnchanged
	}
	if f.Sonar.ScannerExecutable != "" {
		s.Scanner.Executable = f.Sonar.ScannerExecutable
	}
}
