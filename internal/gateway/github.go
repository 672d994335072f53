package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"workflow-provisioner/pkg/models"
)

// GitHubFactory creates gateways backed by the GitHub REST API.
type GitHubFactory struct {
	// BaseURL targets a GitHub Enterprise API root when set.
	BaseURL string
	// Transport is used beneath the OAuth2 transport; nil means the default.
	Transport http.RoundTripper
}

// NewGitHubFactory creates a GitHubFactory. An empty baseURL means github.com.
func NewGitHubFactory(baseURL string) *GitHubFactory {
	return &GitHubFactory{BaseURL: baseURL}
}

// ForCredential returns a Gateway that authenticates every call with token.
func (f *GitHubFactory) ForCredential(ctx context.Context, token string) (Gateway, error) {
	if token == "" {
		return nil, errors.New("empty credential")
	}
	if f.Transport != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: f.Transport})
	}
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	client := github.NewClient(httpClient)
	if f.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(f.BaseURL, f.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}
	return &GitHubGateway{client: client}, nil
}

// GitHubGateway implements Gateway over go-github.
type GitHubGateway struct {
	client *github.Client
}

// NewGitHubGateway wraps an existing client.
func NewGitHubGateway(client *github.Client) *GitHubGateway {
	return &GitHubGateway{client: client}
}

// AuthenticatedIdentity calls GET /user.
func (g *GitHubGateway) AuthenticatedIdentity(ctx context.Context) (*models.Identity, error) {
	user, resp, err := g.client.Users.Get(ctx, "")
	if err != nil {
		return nil, mapError("get authenticated user", err)
	}
	id := &models.Identity{Login: user.GetLogin(), Email: user.GetEmail()}
	if resp != nil {
		id.Scopes = parseScopes(resp.Header.Get("X-OAuth-Scopes"))
	}
	return id, nil
}

// PermissionLevel calls GET /repos/{owner}/{repo}/collaborators/{login}/permission.
func (g *GitHubGateway) PermissionLevel(ctx context.Context, owner, repo, login string) (models.Permission, error) {
	level, _, err := g.client.Repositories.GetPermissionLevel(ctx, owner, repo, login)
	if err != nil {
		return "", mapError("get permission level", err)
	}
	return models.Permission(level.GetPermission()), nil
}

// ReadPath calls GET /repos/{owner}/{repo}/contents/{path}.
func (g *GitHubGateway) ReadPath(ctx context.Context, owner, repo, path, ref string) (*Contents, error) {
	file, dir, _, err := g.client.Repositories.GetContents(ctx, owner, repo, path, refOptions(ref))
	if err != nil {
		return nil, mapError("read "+path, err)
	}
	if file != nil {
		e := toEntry(file)
		return &Contents{File: &e}, nil
	}
	out := &Contents{IsDir: true, Entries: make([]Entry, 0, len(dir))}
	for _, c := range dir {
		out.Entries = append(out.Entries, toEntry(c))
	}
	return out, nil
}

// WriteFile calls PUT /repos/{owner}/{repo}/contents/{path}. The API needs
// the current sha to overwrite, so an existing file is looked up first.
func (g *GitHubGateway) WriteFile(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(req.Message),
		Content: req.Content,
	}
	if req.Branch != "" {
		opts.Branch = github.Ptr(req.Branch)
	}

	existing, _, _, err := g.client.Repositories.GetContents(ctx, req.Owner, req.Repo, req.Path, refOptions(req.Branch))
	switch {
	case err == nil && existing != nil:
		opts.SHA = github.Ptr(existing.GetSHA())
	case err != nil && !isNotFound(err):
		return nil, mapError("look up "+req.Path, err)
	}

	var res *github.RepositoryContentResponse
	if opts.SHA != nil {
		res, _, err = g.client.Repositories.UpdateFile(ctx, req.Owner, req.Repo, req.Path, opts)
	} else {
		res, _, err = g.client.Repositories.CreateFile(ctx, req.Owner, req.Repo, req.Path, opts)
	}
	if err != nil {
		return nil, mapError("write "+req.Path, err)
	}
	out := &WriteResult{Created: opts.SHA == nil}
	if res != nil && res.Content != nil {
		out.SHA = res.Content.GetSHA()
	}
	return out, nil
}

// DeleteFile calls DELETE /repos/{owner}/{repo}/contents/{path}.
func (g *GitHubGateway) DeleteFile(ctx context.Context, owner, repo, path, sha, message, branch string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(message),
		SHA:     github.Ptr(sha),
	}
	if branch != "" {
		opts.Branch = github.Ptr(branch)
	}
	_, _, err := g.client.Repositories.DeleteFile(ctx, owner, repo, path, opts)
	if err != nil {
		return mapError("delete "+path, err)
	}
	return nil
}

// ListWorkflowRuns calls GET /repos/{owner}/{repo}/actions/runs.
func (g *GitHubGateway) ListWorkflowRuns(ctx context.Context, owner, repo string, pageSize int) ([]models.WorkflowRun, error) {
	runs, _, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: pageSize},
	})
	if err != nil {
		return nil, mapError("list workflow runs", err)
	}
	out := make([]models.WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, models.WorkflowRun{
			ID:         r.GetID(),
			Name:       r.GetName(),
			RunNumber:  r.GetRunNumber(),
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
			Branch:     r.GetHeadBranch(),
			Event:      r.GetEvent(),
			HTMLURL:    r.GetHTMLURL(),
			CreatedAt:  r.GetCreatedAt().Time,
			UpdatedAt:  r.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

// ListRepositories calls GET /user/repos sorted by last update.
func (g *GitHubGateway) ListRepositories(ctx context.Context, pageSize int) ([]models.Repository, error) {
	repos, _, err := g.client.Repositories.ListByAuthenticatedUser(ctx, &github.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: pageSize},
	})
	if err != nil {
		return nil, mapError("list repositories", err)
	}
	out := make([]models.Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, models.Repository{
			Owner:         r.GetOwner().GetLogin(),
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			DefaultBranch: r.GetDefaultBranch(),
			Private:       r.GetPrivate(),
			HTMLURL:       r.GetHTMLURL(),
			UpdatedAt:     r.GetUpdatedAt().Time,
		})
	}
	return out, nil
}

func refOptions(ref string) *github.RepositoryContentGetOptions {
	if ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: ref}
}

func toEntry(c *github.RepositoryContent) Entry {
	return Entry{
		Type:        c.GetType(),
		Name:        c.GetName(),
		Path:        c.GetPath(),
		SHA:         c.GetSHA(),
		Size:        c.GetSize(),
		HTMLURL:     c.GetHTMLURL(),
		DownloadURL: c.GetDownloadURL(),
	}
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// mapError folds a 404 into ErrNotFound so callers can use errors.Is.
func mapError(op string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func parseScopes(header string) []string {
	if header == "" {
		return nil
	}
	var scopes []string
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}
