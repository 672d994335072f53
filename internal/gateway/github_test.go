package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-provisioner/pkg/models"
)

func newTestGateway(t *testing.T, mux *http.ServeMux) *GitHubGateway {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := github.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return NewGitHubGateway(client)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func TestAuthenticatedIdentity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "repo, workflow,read:user")
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat", "email": "octo@example.com"})
	})
	g := newTestGateway(t, mux)

	id, err := g.AuthenticatedIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", id.Login)
	assert.Equal(t, []string{"repo", "workflow", "read:user"}, id.Scopes)
	assert.True(t, id.HasScope("workflow"))
}

func TestAuthenticatedIdentity_Rejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
	})
	g := newTestGateway(t, mux)

	_, err := g.AuthenticatedIdentity(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestPermissionLevel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/collaborators/octocat/permission", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"permission": "write"})
	})
	g := newTestGateway(t, mux)

	perm, err := g.PermissionLevel(context.Background(), "octo", "demo", "octocat")
	require.NoError(t, err)
	assert.Equal(t, models.PermissionWrite, perm)
}

func TestReadPath(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/contents/.github/workflows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"type": "file", "name": "nightly.yml", "path": ".github/workflows/nightly.yml", "sha": "s1", "size": 42,
				"html_url": "https://github.com/octo/demo/blob/main/.github/workflows/nightly.yml",
				"download_url": "https://raw.githubusercontent.com/octo/demo/main/.github/workflows/nightly.yml"},
		})
	})
	mux.HandleFunc("GET /repos/octo/demo/contents/.github/workflows/nightly.yml", func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("ref"))
		writeJSON(w, http.StatusOK, map[string]any{"type": "file", "name": "nightly.yml", "path": ".github/workflows/nightly.yml", "sha": "s1", "size": 42})
	})
	mux.HandleFunc("GET /repos/octo/empty/contents/.github/workflows", notFound)
	g := newTestGateway(t, mux)
	ctx := context.Background()

	dir, err := g.ReadPath(ctx, "octo", "demo", ".github/workflows", "")
	require.NoError(t, err)
	require.True(t, dir.IsDir)
	require.Len(t, dir.Entries, 1)
	assert.Equal(t, "s1", dir.Entries[0].SHA)
	assert.Equal(t, 42, dir.Entries[0].Size)

	file, err := g.ReadPath(ctx, "octo", "demo", ".github/workflows/nightly.yml", "")
	require.NoError(t, err)
	require.NotNil(t, file.File)
	assert.False(t, file.IsDir)
	assert.Equal(t, "nightly.yml", file.File.Name)

	_, err = g.ReadPath(ctx, "octo", "empty", ".github/workflows", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReadPath_SendsRef(t *testing.T) {
	var refs []string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/contents/.github/workflows/nightly.yml", func(w http.ResponseWriter, r *http.Request) {
		refs = append(refs, r.URL.Query().Get("ref"))
		writeJSON(w, http.StatusOK, map[string]any{"type": "file", "name": "nightly.yml", "path": ".github/workflows/nightly.yml", "sha": "s1"})
	})
	g := newTestGateway(t, mux)

	_, err := g.ReadPath(context.Background(), "octo", "demo", ".github/workflows/nightly.yml", "develop")
	require.NoError(t, err)
	assert.Equal(t, []string{"develop"}, refs)
}

func TestWriteFile_CreatesWhenAbsent(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/contents/.github/workflows/new.yml", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		notFound(w, r)
	})
	mux.HandleFunc("PUT /repos/octo/demo/contents/.github/workflows/new.yml", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]any{"content": map[string]any{"sha": "fresh"}})
	})
	g := newTestGateway(t, mux)

	res, err := g.WriteFile(context.Background(), WriteRequest{
		Owner: "octo", Repo: "demo", Path: ".github/workflows/new.yml",
		Content: []byte("name: x\n"), Message: "Add x", Branch: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.SHA)
	assert.True(t, res.Created)
	assert.Equal(t, "Add x", body["message"])
	assert.Equal(t, "main", body["branch"])
	assert.Equal(t, "bmFtZTogeAo=", body["content"])
	_, hasSHA := body["sha"]
	assert.False(t, hasSHA)
}

func TestWriteFile_OverwritesWithCurrentSHA(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/contents/.github/workflows/old.yml", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"type": "file", "name": "old.yml", "path": ".github/workflows/old.yml", "sha": "current"})
	})
	mux.HandleFunc("PUT /repos/octo/demo/contents/.github/workflows/old.yml", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"content": map[string]any{"sha": "next"}})
	})
	g := newTestGateway(t, mux)

	res, err := g.WriteFile(context.Background(), WriteRequest{
		Owner: "octo", Repo: "demo", Path: ".github/workflows/old.yml", Content: []byte("x"), Message: "m",
	})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "next", res.SHA)
	assert.Equal(t, "current", body["sha"])
}

func TestWriteFile_LookupFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/contents/a.yml", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Resource not accessible"})
	})
	g := newTestGateway(t, mux)

	_, err := g.WriteFile(context.Background(), WriteRequest{Owner: "octo", Repo: "demo", Path: "a.yml", Message: "m"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestDeleteFile(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /repos/octo/demo/contents/.github/workflows/nightly.yml", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"content": nil, "commit": map[string]any{"sha": "c"}})
	})
	mux.HandleFunc("DELETE /repos/octo/demo/contents/.github/workflows/gone.yml", notFound)
	g := newTestGateway(t, mux)
	ctx := context.Background()

	require.NoError(t, g.DeleteFile(ctx, "octo", "demo", ".github/workflows/nightly.yml", "s1", "Remove nightly.yml", "develop"))
	assert.Equal(t, "s1", body["sha"])
	assert.Equal(t, "Remove nightly.yml", body["message"])
	assert.Equal(t, "develop", body["branch"])

	err := g.DeleteFile(ctx, "octo", "demo", ".github/workflows/gone.yml", "s1", "m", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListWorkflowRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/octo/demo/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": 1,
			"workflow_runs": []map[string]any{{
				"id": 99, "name": "Nightly", "run_number": 7, "status": "completed", "conclusion": "success",
				"head_branch": "main", "event": "schedule", "html_url": "https://github.com/octo/demo/actions/runs/99",
				"created_at": "2024-01-01T00:00:00Z", "updated_at": "2024-01-01T00:05:00Z",
			}},
		})
	})
	g := newTestGateway(t, mux)

	runs, err := g.ListWorkflowRuns(context.Background(), "octo", "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(99), runs[0].ID)
	assert.Equal(t, "schedule", runs[0].Event)
	assert.Equal(t, 7, runs[0].RunNumber)
	assert.Equal(t, 2024, runs[0].CreatedAt.Year())
}

func TestListRepositories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		writeJSON(w, http.StatusOK, []map[string]any{{
			"name": "demo", "full_name": "octo/demo", "owner": map[string]any{"login": "octo"},
			"default_branch": "main", "private": true, "html_url": "https://github.com/octo/demo",
		}})
	})
	g := newTestGateway(t, mux)

	repos, err := g.ListRepositories(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "octo", repos[0].Owner)
	assert.Equal(t, "octo/demo", repos[0].FullName)
	assert.True(t, repos[0].Private)
}

func TestFactory_SendsBearerToken(t *testing.T) {
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, map[string]any{"login": "octocat"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := &GitHubFactory{BaseURL: srv.URL, Transport: srv.Client().Transport}
	g, err := f.ForCredential(context.Background(), "gho_secret")
	require.NoError(t, err)

	id, err := g.AuthenticatedIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", id.Login)
	assert.Equal(t, "Bearer gho_secret", auth)

	_, err = f.ForCredential(context.Background(), "")
	assert.Error(t, err)
}
