package rules

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateKey_BranchDefaulting(t *testing.T) {
	require.Equal(t, "https://sonar.example|key|default", stateKey("https://sonar.example", "key", ""))
	require.Equal(t, "https://sonar.example|key|develop", stateKey("https://sonar.example", "key", "develop"))
}

func TestSaveAndLoadStateEntry_RoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), ".git", "gitoteko_sonar_state.json")
	key := stateKey("https://sonar.example", "acme_repo", "")

	saveStateEntry(statePath, key, scanStateEntry{
		Revision:       "abc123",
		Status:         "SUCCESS",
		AnalysisURL:    "https://sonar.example/dashboard?id=acme_repo",
		UpdatedAtEpoch: 1700000000,
	})

	entry, ok := loadStateEntry(statePath, key)
	require.True(t, ok)
	require.Equal(t, "abc123", entry.Revision)
	require.Equal(t, "SUCCESS", entry.Status)
}

func TestSaveStateEntry_PreservesOtherTargets(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	keyA := stateKey("https://sonar.example", "acme_a", "")
	keyB := stateKey("https://sonar.example", "acme_b", "develop")

	saveStateEntry(statePath, keyA, scanStateEntry{Revision: "aaa", Status: "SUCCESS"})
	saveStateEntry(statePath, keyB, scanStateEntry{Revision: "bbb", Status: "SUBMITTED"})

	entryA, ok := loadStateEntry(statePath, keyA)
	require.True(t, ok)
	require.Equal(t, "aaa", entryA.Revision)

	entryB, ok := loadStateEntry(statePath, keyB)
	require.True(t, ok)
	require.Equal(t, "SUBMITTED", entryB.Status)
}

func TestLoadStateEntry_MissingOrCorruptFile(t *testing.T) {
	dir := t.TempDir()

	_, ok := loadStateEntry(filepath.Join(dir, "missing.json"), "any")
	require.False(t, ok)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0o644))
	_, ok = loadStateEntry(corrupt, "any")
	require.False(t, ok)
}

func TestSaveStateEntry_ReplacesCorruptFile(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("garbage"), 0o644))

	key := stateKey("https://sonar.example", "acme_repo", "")
	saveStateEntry(statePath, key, scanStateEntry{Revision: "abc", Status: "SUCCESS"})

	entry, ok := loadStateEntry(statePath, key)
	require.True(t, ok)
	require.Equal(t, "abc", entry.Revision)
}

func TestSaveStateEntry_WritesIndentedJSON(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	saveStateEntry(statePath, stateKey("u", "k", ""), scanStateEntry{Revision: "abc", Status: "SUCCESS"})

	payload, err := os.ReadFile(statePath)
	require.NoError(t, err)
	require.Contains(t, string(payload), "\n  \"scans\"")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
}
