package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"git.home.luguber.info/inful/gitoteko/internal/config"
)

const defaultPageLen = 100

// BitbucketClient lists repositories through the Bitbucket Cloud REST 2.0 API.
type BitbucketClient struct {
	httpClient *http.Client
	apiBaseURL string
	settings   config.BitbucketSettings
}

// NewBitbucketClient creates a Bitbucket Cloud client from resolved settings.
func NewBitbucketClient(settings config.BitbucketSettings) *BitbucketClient {
	timeout := time.Duration(settings.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BitbucketClient{
		httpClient: &http.Client{Timeout: timeout},
		apiBaseURL: strings.TrimRight(settings.APIBaseURL, "/"),
		settings:   settings,
	}
}

type bitbucketCloneLink struct {
	Name string `json:"name"`
	Href string `json:"href"`
}

type bitbucketRepo struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	FullName string `json:"full_name"`
	Links    struct {
		Clone []bitbucketCloneLink `json:"clone"`
	} `json:"links"`
}

type bitbucketPage struct {
	Values json.RawMessage `json:"values"`
	Next   string          `json:"next"`
}

// ListRepositories pages through /repositories/{workspace} following the
// `next` cursor until the server stops returning one.
func (c *BitbucketClient) ListRepositories(ctx context.Context, workspace WorkspaceID) ([]Repository, error) {
	if strings.TrimSpace(string(workspace)) == "" {
		return nil, fmt.Errorf("workspace must not be empty")
	}

	pageURL := fmt.Sprintf("%s/repositories/%s?pagelen=%d", c.apiBaseURL, url.PathEscape(string(workspace)), defaultPageLen)

	var repos []Repository
	for pageURL != "" {
		page, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}

		entries, err := decodeValues(page.Values)
		if err != nil {
			return nil, fmt.Errorf("bitbucket repository listing: %w", err)
		}

		for _, entry := range entries {
			repo, ok := c.convertRepo(workspace, entry)
			if !ok {
				continue
			}
			repos = append(repos, repo)
		}

		pageURL = page.Next
	}

	slog.Debug("Bitbucket listing complete", "workspace", string(workspace), "repositories", len(repos))
	return repos, nil
}

// CloneURL returns the URL chosen during listing.
func (c *BitbucketClient) CloneURL(repo Repository) string {
	return repo.CloneURL
}

func (c *BitbucketClient) fetchPage(ctx context.Context, pageURL string) (*bitbucketPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build bitbucket request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bitbucket request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{
			Status: resp.StatusCode,
			URL:    pageURL,
			Body:   strings.ReplaceAll(string(limited), "\n", " "),
		}
	}

	var page bitbucketPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode bitbucket response from %s: %w", pageURL, err)
	}
	return &page, nil
}

// applyAuth prefers a bearer token, then basic username/app-password, then
// anonymous access.
func (c *BitbucketClient) applyAuth(req *http.Request) {
	if c.settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.settings.Token)
		return
	}
	if c.settings.Username != "" && c.settings.AppPassword != "" {
		req.SetBasicAuth(c.settings.Username, c.settings.AppPassword)
	}
}

// decodeValues splits the `values` array into raw entries. A missing or
// non-array `values` is a protocol error; non-object entries are returned as
// nil slots for the caller to skip.
func decodeValues(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("response has no values array")
	}
	// json.Unmarshal turns a JSON null into a nil slice without an error.
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("values is not a list: got null")
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, fmt.Errorf("values is not a list: %w", err)
	}
	return entries, nil
}

// convertRepo extracts a Repository from one listing entry. Entries that are
// not JSON objects, have no usable slug, or yield no clone URL are skipped.
func (c *BitbucketClient) convertRepo(workspace WorkspaceID, entry json.RawMessage) (Repository, bool) {
	trimmed := bytes.TrimSpace(entry)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Repository{}, false
	}

	var br bitbucketRepo
	if err := json.Unmarshal(trimmed, &br); err != nil {
		return Repository{}, false
	}
	if strings.TrimSpace(br.Slug) == "" {
		return Repository{}, false
	}

	name := br.Name
	if name == "" {
		name = br.Slug
	}

	cloneURL := sshCloneLink(br.Links.Clone)
	if cloneURL == "" {
		cloneURL = synthesizeSSHURL(workspace, br)
	}
	if cloneURL == "" {
		return Repository{}, false
	}

	return Repository{Name: name, Slug: br.Slug, CloneURL: cloneURL}, true
}

func sshCloneLink(links []bitbucketCloneLink) string {
	for _, link := range links {
		if strings.EqualFold(link.Name, "ssh") && link.Href != "" {
			return link.Href
		}
	}
	return ""
}

func synthesizeSSHURL(workspace WorkspaceID, br bitbucketRepo) string {
	fullName := br.FullName
	if fullName == "" {
		fullName = fmt.Sprintf("%s/%s", workspace, br.Slug)
	}
	return fmt.Sprintf("git@bitbucket.org:%s.git", fullName)
}
