package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
)

func propsContext(t *testing.T, extensions ...string) (*pipeline.RepoContext, string) {
	t.Helper()
	rc := newRepoContext(t)
	for _, ext := range extensions {
		rc.DetectedExtensions[ext] = struct{}{}
	}
	return rc, filepath.Join(rc.LocalPath, sonarPropertiesFilename)
}

func TestGenerateSonarProperties_JavaTemplate(t *testing.T) {
	rc, path := propsContext(t, ".java", ".py")

	action := NewGenerateSonarPropertiesAction(false, "build/classes")
	result := action.Execute(context.Background(), rc)
	require.True(t, result.Success)
	require.Equal(t, "java", result.Metadata["language_template"])

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	expected := "sonar.projectKey=acme_repo\n" +
		"sonar.projectName=Repo\n" +
		"sonar.sources=.\n" +
		"sonar.sourceEncoding=UTF-8\n" +
		"sonar.java.binaries=build/classes\n"
	require.Equal(t, expected, string(content))
}

func TestGenerateSonarProperties_TemplatePriority(t *testing.T) {
	cases := []struct {
		extensions []string
		template   string
	}{
		{[]string{".ts", ".js", ".py"}, "typescript"},
		{[]string{".js", ".py"}, "javascript"},
		{[]string{".py"}, "python"},
		{nil, "generic"},
	}
	for _, tc := range cases {
		rc, path := propsContext(t, tc.extensions...)
		result := NewGenerateSonarPropertiesAction(false, "").Execute(context.Background(), rc)
		require.True(t, result.Success)
		require.Equal(t, tc.template, result.Metadata["language_template"], "extensions %v", tc.extensions)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NotContains(t, string(content), "sonar.java.binaries")
	}
}

func TestGenerateSonarProperties_SkipsExistingFile(t *testing.T) {
	rc, path := propsContext(t, ".java")
	require.NoError(t, os.WriteFile(path, []byte("keep me\n"), 0o644))

	result := NewGenerateSonarPropertiesAction(false, "").Execute(context.Background(), rc)
	require.True(t, result.Success)
	require.Equal(t, false, result.Metadata["written"])

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "keep me\n", string(content))
}

func TestGenerateSonarProperties_OverwriteReplacesFile(t *testing.T) {
	rc, path := propsContext(t, ".py")
	require.NoError(t, os.WriteFile(path, []byte("stale\n"), 0o644))

	result := NewGenerateSonarPropertiesAction(true, "").Execute(context.Background(), rc)
	require.True(t, result.Success)
	require.Equal(t, true, result.Metadata["written"])

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(content), "sonar.projectKey=acme_repo")
}

func TestSanitizeProjectKey(t *testing.T) {
	require.Equal(t, "acme_my-repo.v2", SanitizeProjectKey("acme_my-repo.v2"))
	require.Equal(t, "ws_repo_with_space", SanitizeProjectKey("ws_repo with space"))
	require.Equal(t, "a_b_c:d", SanitizeProjectKey("a/b@c:d"))
}
