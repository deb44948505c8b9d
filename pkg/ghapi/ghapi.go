// Package ghapi talks to the GitHub REST API. Client implements the Git object
// model used by the publisher and the comment store used to upsert PR comments.
package ghapi

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/root4loot/prshot/pkg/comment"
	"github.com/root4loot/prshot/pkg/publish"
)

// DefaultAPIURL is the public GitHub API.
const DefaultAPIURL = "https://api.github.com/"

// Client is scoped to a single repository.
type Client struct {
	Owner string
	Repo  string
	gh    *github.Client
}

var (
	_ publish.Backend = (*Client)(nil)
	_ comment.Store   = (*Client)(nil)
)

// New returns a Client for owner/repo authenticated with token. An empty apiURL
// means DefaultAPIURL; other values are treated as a GitHub Enterprise endpoint.
func New(token, owner, repo, apiURL string) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, errors.New("repository owner and name are required")
	}

	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if apiURL != "" && strings.TrimSuffix(apiURL, "/") != strings.TrimSuffix(DefaultAPIURL, "/") {
		var err error
		if gh, err = gh.WithEnterpriseURLs(apiURL, apiURL); err != nil {
			return nil, fmt.Errorf("invalid API URL %q: %w", apiURL, err)
		}
	}

	return NewWithClient(gh, owner, repo), nil
}

// NewWithClient wraps an already configured go-github client.
func NewWithClient(gh *github.Client, owner, repo string) *Client {
	return &Client{Owner: owner, Repo: repo, gh: gh}
}

// SplitRepository splits "owner/repo" as found in GITHUB_REPOSITORY.
func SplitRepository(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/repo", s)
	}
	return owner, repo, nil
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, c.Owner, c.Repo)
	if err != nil {
		return "", wrap(resp, err)
	}
	if r.GetDefaultBranch() == "" {
		return "", errors.New("repository has no default branch")
	}
	return r.GetDefaultBranch(), nil
}

// GetBranch returns the commit at the tip of branch.
func (c *Client) GetBranch(ctx context.Context, branch string) (string, error) {
	b, resp, err := c.gh.Repositories.GetBranch(ctx, c.Owner, c.Repo, branch, 0)
	if err != nil {
		return "", wrap(resp, err)
	}
	return b.GetCommit().GetSHA(), nil
}

// GetRef returns the object a full ref points at.
func (c *Client) GetRef(ctx context.Context, ref string) (string, error) {
	r, resp, err := c.gh.Git.GetRef(ctx, c.Owner, c.Repo, ref)
	if err != nil {
		return "", wrap(resp, err)
	}
	return r.GetObject().GetSHA(), nil
}

func (c *Client) CreateRef(ctx context.Context, ref, sha string) error {
	_, resp, err := c.gh.Git.CreateRef(ctx, c.Owner, c.Repo, &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	return wrap(resp, err)
}

// UpdateRef moves ref to sha. GitHub answers a rejected non-force update with
// 422, which is reported as publish.ErrNotFastForward.
func (c *Client) UpdateRef(ctx context.Context, ref, sha string, force bool) error {
	_, resp, err := c.gh.Git.UpdateRef(ctx, c.Owner, c.Repo, &github.Reference{
		Ref:    github.String(ref),
		Object: &github.GitObject{SHA: github.String(sha)},
	}, force)
	if err != nil && !force && statusCode(resp) == http.StatusUnprocessableEntity {
		return fmt.Errorf("%s: %w: %v", ref, publish.ErrNotFastForward, err)
	}
	return wrap(resp, err)
}

// CreateBlob uploads content base64 encoded, so binary data survives.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	b, resp, err := c.gh.Git.CreateBlob(ctx, c.Owner, c.Repo, &github.Blob{
		Content:  github.String(base64.StdEncoding.EncodeToString(content)),
		Encoding: github.String("base64"),
	})
	if err != nil {
		return "", wrap(resp, err)
	}
	return b.GetSHA(), nil
}

func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []publish.TreeEntry) (string, error) {
	ghEntries := make([]*github.TreeEntry, 0, len(entries))
	for _, e := range entries {
		ghEntries = append(ghEntries, &github.TreeEntry{
			Path: github.String(e.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  github.String(e.SHA),
		})
	}

	t, resp, err := c.gh.Git.CreateTree(ctx, c.Owner, c.Repo, baseTree, ghEntries)
	if err != nil {
		return "", wrap(resp, err)
	}
	return t.GetSHA(), nil
}

func (c *Client) CreateCommit(ctx context.Context, message, tree string, parents []string) (string, error) {
	commit := &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: github.String(tree)},
	}
	for _, p := range parents {
		commit.Parents = append(commit.Parents, &github.Commit{SHA: github.String(p)})
	}

	created, resp, err := c.gh.Git.CreateCommit(ctx, c.Owner, c.Repo, commit, nil)
	if err != nil {
		return "", wrap(resp, err)
	}
	return created.GetSHA(), nil
}

func (c *Client) GetCommit(ctx context.Context, sha string) (*publish.Commit, error) {
	commit, resp, err := c.gh.Git.GetCommit(ctx, c.Owner, c.Repo, sha)
	if err != nil {
		return nil, wrap(resp, err)
	}

	out := &publish.Commit{
		SHA:     commit.GetSHA(),
		Tree:    commit.GetTree().GetSHA(),
		Message: commit.GetMessage(),
	}
	for _, p := range commit.Parents {
		out.Parents = append(out.Parents, p.GetSHA())
	}
	return out, nil
}

// ListComments returns every comment on the pull request, following pagination.
func (c *Client) ListComments(ctx context.Context, number int) ([]comment.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("created"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var out []comment.Comment
	for {
		page, resp, err := c.gh.Issues.ListComments(ctx, c.Owner, c.Repo, number, opts)
		if err != nil {
			return nil, wrap(resp, err)
		}
		for _, ic := range page {
			out = append(out, comment.Comment{ID: ic.GetID(), Body: ic.GetBody()})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) CreateComment(ctx context.Context, number int, body string) (int64, error) {
	ic, resp, err := c.gh.Issues.CreateComment(ctx, c.Owner, c.Repo, number, &github.IssueComment{Body: github.String(body)})
	if err != nil {
		return 0, wrap(resp, err)
	}
	return ic.GetID(), nil
}

func (c *Client) UpdateComment(ctx context.Context, id int64, body string) error {
	_, resp, err := c.gh.Issues.EditComment(ctx, c.Owner, c.Repo, id, &github.IssueComment{Body: github.String(body)})
	return wrap(resp, err)
}

func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	resp, err := c.gh.Issues.DeleteComment(ctx, c.Owner, c.Repo, id)
	return wrap(resp, err)
}

// wrap maps a 404 to publish.ErrNotFound and keeps the API error in the chain.
func wrap(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if statusCode(resp) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", publish.ErrNotFound, err)
	}
	return err
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
