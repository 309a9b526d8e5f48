// Package rules contains the pluggable per-repository actions: language
// detection, the language CSV report, sonar-project.properties generation,
// and the Sonar scan engine.
package rules

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/gitoteko/internal/config"
	"git.home.luguber.info/inful/gitoteko/internal/fsys"
	"git.home.luguber.info/inful/gitoteko/internal/pipeline"
)

// DetectLanguagesAction scans a working copy for configured file extensions
// and records the detected set on the repository context.
type DetectLanguagesAction struct {
	fs         fsys.FileSystem
	extensions map[string]struct{}
}

// NewDetectLanguagesAction creates the action. Extensions are normalized to
// lowercase with a leading dot; duplicates and blanks are dropped.
func NewDetectLanguagesAction(fs fsys.FileSystem, extensions []string) *DetectLanguagesAction {
	normalized := make(map[string]struct{})
	for _, ext := range extensions {
		e := strings.ToLower(strings.TrimSpace(ext))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		normalized[e] = struct{}{}
	}
	return &DetectLanguagesAction{fs: fs, extensions: normalized}
}

func (*DetectLanguagesAction) Name() string { return config.ActionDetectLanguages }

// Execute walks the working copy, skipping anything under a .git segment, and
// stores the union of matching suffixes on the context.
func (a *DetectLanguagesAction) Execute(_ context.Context, rc *pipeline.RepoContext) pipeline.ActionResult {
	if len(a.extensions) == 0 {
		return pipeline.ActionResult{
			ActionName: a.Name(),
			Success:    false,
			Message:    "No extensions configured for language detection",
		}
	}

	detected := make(map[string]struct{})
	err := a.fs.ListFilesRecursive(rc.LocalPath, func(path string, d fs.DirEntry) error {
		if !d.Type().IsRegular() {
			return nil
		}
		if containsGitSegment(path) {
			return nil
		}
		suffix := strings.ToLower(filepath.Ext(path))
		if _, ok := a.extensions[suffix]; ok {
			detected[suffix] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return pipeline.ActionResult{
			ActionName: a.Name(),
			Success:    false,
			Message:    fmt.Sprintf("Failed to scan %s: %v", rc.LocalPath, err),
		}
	}

	rc.DetectedExtensions = detected

	return pipeline.ActionResult{
		ActionName: a.Name(),
		Success:    true,
		Message:    fmt.Sprintf("Detected %d extensions", len(detected)),
		Metadata:   map[string]any{"extensions": rc.SortedExtensions()},
	}
}

func containsGitSegment(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".git" {
			return true
		}
	}
	return false
}
