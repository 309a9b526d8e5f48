// Package provider lists repositories from hosted Git workspaces. Only
// Bitbucket Cloud is implemented; github and gitlab are recognized names that
// fail fast until their clients exist.
package provider

import (
	"context"
	"fmt"
)

// WorkspaceID identifies a provider workspace scope (for example a Bitbucket
// workspace slug). Must be non-empty.
type WorkspaceID string

// Repository is one repository discovered in a workspace. Slug is the stable,
// path-safe local directory identifier; CloneURL is the preferred remote
// (SSH when the provider exposes it).
type Repository struct {
	Name     string
	Slug     string
	CloneURL string
}

// Client is the contract a Git provider fulfils for the workspace scanner.
type Client interface {
	// ListRepositories returns every repository of the workspace, following
	// server-side pagination until exhausted.
	ListRepositories(ctx context.Context, workspace WorkspaceID) ([]Repository, error)

	// CloneURL returns the remote URL to clone the repository from.
	CloneURL(repo Repository) string
}

// APIError is a non-2xx provider response. Fatal for the run.
type APIError struct {
	Status int
	URL    string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API error: status %d from %s: %s", e.Status, e.URL, e.Body)
}
