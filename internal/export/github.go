package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// ErrGitHubNotConfigured is returned when no repository or token is set.
var ErrGitHubNotConfigured = errors.New("github sync is not configured")

// CreatedIssue identifies an issue opened on GitHub. IssueID is the local
// issue it was opened for; GitHub's response leaves it empty.
type CreatedIssue struct {
	IssueID string `json:"issueId,omitempty"`
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

type githubError struct {
	Message string `json:"message"`
}

// GitHubClient opens issues in one repository.
type GitHubClient struct {
	http   *resty.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewGitHubClient targets repo ("owner/name") at baseURL, which defaults to
// DefaultGitHubAPI.
func NewGitHubClient(baseURL, repo, token string) (*GitHubClient, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || token == "" {
		return nil, ErrGitHubNotConfigured
	}
	if baseURL == "" {
		baseURL = DefaultGitHubAPI
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetHeader("Accept", "application/vnd.github+json").
		SetHeader("X-GitHub-Api-Version", "2022-11-28").
		SetTimeout(15 * time.Second)
	return &GitHubClient{
		http:   c,
		owner:  owner,
		repo:   name,
		logger: slog.Default().With("component", "github"),
	}, nil
}

// CreateIssue opens one issue.
func (g *GitHubClient) CreateIssue(ctx context.Context, p IssuePayload) (CreatedIssue, error) {
	var created CreatedIssue
	var apiErr githubError
	resp, err := g.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"owner": g.owner, "repo": g.repo}).
		SetBody(p).
		SetResult(&created).
		SetError(&apiErr).
		Post("/repos/{owner}/{repo}/issues")
	if err != nil {
		return CreatedIssue{}, fmt.Errorf("creating github issue: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return CreatedIssue{}, fmt.Errorf("creating github issue: %s: %s", resp.Status(), msg)
	}
	return created, nil
}

// Sync opens one GitHub issue per captured issue that has not been synced
// yet, stopping at the first failure. Issues created before the failure are
// returned with the error. Callers record the returned numbers on the
// issues; otherwise a second Sync opens them again.
func (g *GitHubClient) Sync(ctx context.Context, r Report) ([]CreatedIssue, error) {
	var out []CreatedIssue
	for i, issue := range r.Session.Issues {
		if issue.GitHubIssue != 0 {
			continue
		}
		created, err := g.CreateIssue(ctx, githubPayload(r, i+1, issue))
		if err != nil {
			return out, err
		}
		created.IssueID = issue.ID
		g.logger.Info("github issue created", "session", r.Session.ID, "issue", issue.ID, "number", created.Number)
		out = append(out, created)
	}
	return out, nil
}
