package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/gitoteko/internal/config"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
	"git.home.luguber.info/inful/gitoteko/internal/provider"
)

const sonarPropertiesFilename = "sonar-project.properties"

// GenerateSonarPropertiesAction writes sonar-project.properties at the
// working-copy root, choosing a language template from the detected
// extensions in strict priority: Java, TypeScript, JavaScript, Python,
// generic.
type GenerateSonarPropertiesAction struct {
	overwrite        bool
	javaBinariesPath string
}

// NewGenerateSonarPropertiesAction creates the action.
func NewGenerateSonarPropertiesAction(overwrite bool, javaBinariesPath string) *GenerateSonarPropertiesAction {
	if javaBinariesPath == "" {
		javaBinariesPath = "target/classes"
	}
	return &GenerateSonarPropertiesAction{overwrite: overwrite, javaBinariesPath: javaBinariesPath}
}

func (*GenerateSonarPropertiesAction) Name() string { return config.ActionSonarProperties }

func (a *GenerateSonarPropertiesAction) Execute(_ context.Context, rc *pipeline.RepoContext) pipeline.ActionResult {
	targetPath := filepath.Join(rc.LocalPath, sonarPropertiesFilename)

	if _, err := os.Stat(targetPath); err == nil && !a.overwrite {
		return pipeline.ActionResult{
			ActionName: a.Name(),
			Success:    true,
			Message:    "sonar-project.properties already exists, skipped",
			Metadata:   map[string]any{"path": targetPath, "written": false, "reason": "exists"},
		}
	}

	language := selectLanguageTemplate(rc.DetectedExtensions)
	content := a.buildContent(rc.WorkspaceID, rc.Repository, language)

	if err := os.WriteFile(targetPath, []byte(content), 0o644); err != nil {
		return pipeline.ActionResult{
			ActionName: a.Name(),
			Success:    false,
			Message:    fmt.Sprintf("Failed to write %s: %v", targetPath, err),
		}
	}

	return pipeline.ActionResult{
		ActionName: a.Name(),
		Success:    true,
		Message:    "sonar-project.properties written",
		Metadata:   map[string]any{"path": targetPath, "written": true, "language_template": language},
	}
}

func selectLanguageTemplate(extensions map[string]struct{}) string {
	has := func(ext string) bool {
		_, ok := extensions[ext]
		return ok
	}
	switch {
	case has(".java"):
		return "java"
	case has(".ts"):
		return "typescript"
	case has(".js"):
		return "javascript"
	case has(".py"):
		return "python"
	default:
		return "generic"
	}
}

func (a *GenerateSonarPropertiesAction) buildContent(workspace provider.WorkspaceID, repo provider.Repository, language string) string {
	lines := []string{
		"sonar.projectKey=" + SanitizeProjectKey(fmt.Sprintf("%s_%s", workspace, repo.Slug)),
		"sonar.projectName=" + repo.Name,
		"sonar.sources=.",
		"sonar.sourceEncoding=UTF-8",
	}
	if language == "java" {
		lines = append(lines, "sonar.java.binaries="+a.javaBinariesPath)
	}
	return strings.Join(lines, "\n") + "\n"
}

// SanitizeProjectKey replaces every character outside [A-Za-z0-9_\-.:] with
// an underscore. The same key derivation is used by the scan action.
func SanitizeProjectKey(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.' || r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
