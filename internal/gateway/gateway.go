// Package gateway is the capability boundary between the provisioning
// pipeline and the remote source-control host.
package gateway

import (
	"context"
	"errors"

	"workflow-provisioner/pkg/models"
)

// ErrNotFound is returned when a path or resource does not exist remotely.
var ErrNotFound = errors.New("not found")

// Entry is one file or directory returned by ReadPath.
type Entry struct {
	Type        string // "file" or "dir"
	Name        string
	Path        string
	SHA         string
	Size        int
	HTMLURL     string
	DownloadURL string
}

// Contents is the result of ReadPath: either a single file (File set) or a
// directory listing (Entries set, IsDir true).
type Contents struct {
	IsDir   bool
	File    *Entry
	Entries []Entry
}

// WriteRequest is a create-or-update of one file.
type WriteRequest struct {
	Owner   string
	Repo    string
	Path    string
	Content []byte
	Message string
	Branch  string
}

// WriteResult reports the content hash the remote assigned to the write.
type WriteResult struct {
	SHA     string
	Created bool
}

// Gateway is bound to a single delegated credential.
type Gateway interface {
	// AuthenticatedIdentity resolves the account behind the credential.
	AuthenticatedIdentity(ctx context.Context) (*models.Identity, error)
	// PermissionLevel returns login's collaborator permission on owner/repo.
	PermissionLevel(ctx context.Context, owner, repo, login string) (models.Permission, error)
	// ReadPath reads a file or lists a directory at ref. An empty ref reads
	// the repository's default branch. Missing paths yield ErrNotFound.
	ReadPath(ctx context.Context, owner, repo, path, ref string) (*Contents, error)
	// WriteFile creates or overwrites a file. No content hash is required.
	WriteFile(ctx context.Context, req WriteRequest) (*WriteResult, error)
	// DeleteFile removes a file from branch; sha must be the file's current
	// content hash.
	DeleteFile(ctx context.Context, owner, repo, path, sha, message, branch string) error
	// ListWorkflowRuns returns the most recent runs, newest first.
	ListWorkflowRuns(ctx context.Context, owner, repo string, pageSize int) ([]models.WorkflowRun, error)
	// ListRepositories returns repositories visible to the identity, most
	// recently updated first.
	ListRepositories(ctx context.Context, pageSize int) ([]models.Repository, error)
}

// Factory builds a Gateway for a delegated credential.
type Factory interface {
	ForCredential(ctx context.Context, token string) (Gateway, error)
}
