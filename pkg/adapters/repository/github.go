// Package repository reads and updates files in a project's linked GitHub repository.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v68/github"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-agent/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-agent/pkg/models"
)

// Repo identifies a repository branch and the token used to access it.
type Repo struct {
	Owner  string
	Name   string
	Branch string
	Token  string
}

// FullName returns "owner/name".
func (r Repo) FullName() string {
	return r.Owner + "/" + r.Name
}

// Host is the repository operations the agent needs.
type Host interface {
	// ListFiles returns blob paths on the branch, optionally under pathPrefix,
	// keeping at most limit entries.
	ListFiles(ctx context.Context, repo Repo, pathPrefix string, limit int) (*models.RepositoryFileList, error)

	// ReadFile returns a file's content and its blob SHA.
	ReadFile(ctx context.Context, repo Repo, path string) (*models.RepositoryFileContent, error)

	// UpdateFile commits content to path only if the blob is still at sha.
	// A concurrent change returns an error wrapping apperrors.ErrStaleFile.
	UpdateFile(ctx context.Context, repo Repo, path string, content []byte, sha, message string) (*models.FileEditResult, error)
}

// StatusError is an upstream failure carrying the host's HTTP status.
type StatusError struct {
	Status  int
	Message string
	cause   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("repository host returned %d: %s", e.Status, e.Message)
}

func (e *StatusError) Unwrap() error { return e.cause }

// HTTPStatus lets retry decide whether the failure is transient.
func (e *StatusError) HTTPStatus() int { return e.Status }

// GitHubHost implements Host with the GitHub REST API.
type GitHubHost struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// NewGitHubHost creates a host. An empty baseURL targets api.github.com.
func NewGitHubHost(baseURL string, httpClient *http.Client, logger *zap.Logger) (*GitHubHost, error) {
	h := &GitHubHost{httpClient: httpClient, logger: logger.Named("repository")}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		h.baseURL = u
	}
	return h, nil
}

func (h *GitHubHost) client(repo Repo) (*github.Client, error) {
	if repo.Token == "" {
		return nil, apperrors.ErrCredentialsMissing
	}
	c := github.NewClient(h.httpClient).WithAuthToken(repo.Token)
	if h.baseURL != nil {
		c.BaseURL = h.baseURL
	}
	return c, nil
}

// underPrefix reports whether p is the prefix itself or lies below it as a directory.
func underPrefix(p, prefix string) bool {
	return prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/")
}

// ListFiles reads the recursive tree of the branch.
func (h *GitHubHost) ListFiles(ctx context.Context, repo Repo, pathPrefix string, limit int) (*models.RepositoryFileList, error) {
	c, err := h.client(repo)
	if err != nil {
		return nil, err
	}

	tree, _, err := c.Git.GetTree(ctx, repo.Owner, repo.Name, repo.Branch, true)
	if err != nil {
		return nil, h.translate(err, repo, "")
	}

	prefix := strings.Trim(pathPrefix, "/")
	var files []models.RepositoryFile
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		if !underPrefix(entry.GetPath(), prefix) {
			continue
		}
		files = append(files, models.RepositoryFile{
			Path: entry.GetPath(),
			Size: entry.GetSize(),
			SHA:  entry.GetSHA(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	result := &models.RepositoryFileList{
		Repository: repo.FullName(),
		Branch:     repo.Branch,
		TotalFiles: len(files),
		Truncated:  tree.GetTruncated(),
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
		result.Truncated = true
	}
	if files == nil {
		files = []models.RepositoryFile{}
	}
	result.Files = files

	if tree.GetTruncated() {
		h.logger.Warn("Repository tree truncated by host",
			zap.String("repository", repo.FullName()),
			zap.Int("entries", len(tree.Entries)))
	}
	return result, nil
}

// ReadFile fetches a file at the head of the branch.
func (h *GitHubHost) ReadFile(ctx context.Context, repo Repo, path string) (*models.RepositoryFileContent, error) {
	c, err := h.client(repo)
	if err != nil {
		return nil, err
	}

	file, dir, _, err := c.Repositories.GetContents(ctx, repo.Owner, repo.Name, path,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	if err != nil {
		return nil, h.translate(err, repo, path)
	}
	if file == nil || dir != nil {
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &models.RepositoryFileContent{Path: path, Content: content, SHA: file.GetSHA()}, nil
}

// UpdateFile commits new content conditioned on the blob SHA.
func (h *GitHubHost) UpdateFile(ctx context.Context, repo Repo, path string, content []byte, sha, message string) (*models.FileEditResult, error) {
	c, err := h.client(repo)
	if err != nil {
		return nil, err
	}

	resp, _, err := c.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		Content: content,
		SHA:     github.Ptr(sha),
		Branch:  github.Ptr(repo.Branch),
	})
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil {
			switch ghErr.Response.StatusCode {
			case http.StatusConflict, http.StatusUnprocessableEntity:
				return nil, fmt.Errorf("update %s: %w", path, apperrors.ErrStaleFile)
			}
		}
		return nil, h.translate(err, repo, path)
	}

	result := &models.FileEditResult{
		Path:      path,
		Branch:    repo.Branch,
		CommitSHA: resp.Commit.GetSHA(),
	}
	if resp.Content != nil {
		result.BlobSHA = resp.Content.GetSHA()
	}
	return result, nil
}

// translate converts go-github errors into StatusError with a readable message.
func (h *GitHubHost) translate(err error, repo Repo, path string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &StatusError{Status: http.StatusTooManyRequests, Message: "rate limit exceeded", cause: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &StatusError{Status: http.StatusTooManyRequests, Message: "secondary rate limit exceeded", cause: err}
	}

	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return fmt.Errorf("repository request failed: %w", err)
	}

	status := ghErr.Response.StatusCode
	msg := ghErr.Message
	switch status {
	case http.StatusUnauthorized:
		msg = "repository token is invalid or expired"
	case http.StatusForbidden:
		msg = "repository token lacks access to " + repo.FullName()
	case http.StatusNotFound:
		if path != "" {
			msg = fmt.Sprintf("%s not found on branch %s", path, repo.Branch)
		} else {
			msg = fmt.Sprintf("repository %s or branch %s not found", repo.FullName(), repo.Branch)
		}
	}
	return &StatusError{Status: status, Message: msg, cause: err}
}

var _ Host = (*GitHubHost)(nil)
