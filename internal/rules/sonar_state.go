package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// scanStateEntry records the last scan outcome for one (url, key, branch)
// tuple. Field names stay lexically ordered so the marshaled file keeps
// sorted keys.
type scanStateEntry struct {
	AnalysisURL    string `json:"analysis_url"`
	CETaskID       string `json:"ce_task_id"`
	Revision       string `json:"revision"`
	Status         string `json:"status"`
	UpdatedAtEpoch int64  `json:"updated_at_epoch"`
}

type scanState struct {
	Scans map[string]scanStateEntry `json:"scans"`
}

// stateKey identifies one scan target. An empty branch maps to "default" so
// branchless and branch-aware runs never share an entry.
func stateKey(sonarURL, projectKey, branchName string) string {
	if branchName == "" {
		branchName = "default"
	}
	return fmt.Sprintf("%s|%s|%s", sonarURL, projectKey, branchName)
}

// loadStateEntry reads the per-repo state file and returns the entry for the
// given key. A missing or corrupt file reads as no entry.
func loadStateEntry(statePath, key string) (scanStateEntry, bool) {
	payload, err := os.ReadFile(statePath)
	if err != nil {
		return scanStateEntry{}, false
	}
	var state scanState
	if err := json.Unmarshal(payload, &state); err != nil {
		return scanStateEntry{}, false
	}
	entry, ok := state.Scans[key]
	return entry, ok
}

// saveStateEntry upserts one entry, preserving entries for other targets.
// Write failures are logged and swallowed so the scan result still reaches
// the caller.
func saveStateEntry(statePath, key string, entry scanStateEntry) {
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		slog.Debug("Could not create sonar state directory", "path", statePath, "error", err)
		return
	}

	state := scanState{Scans: map[string]scanStateEntry{}}
	if payload, err := os.ReadFile(statePath); err == nil {
		var existing scanState
		if err := json.Unmarshal(payload, &existing); err == nil && existing.Scans != nil {
			state.Scans = existing.Scans
		}
	}

	state.Scans[key] = entry

	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		slog.Debug("Could not encode sonar state", "path", statePath, "error", err)
		return
	}
	if err := os.WriteFile(statePath, encoded, 0o644); err != nil {
		slog.Debug("Could not write sonar state", "path", statePath, "error", err)
	}
}
