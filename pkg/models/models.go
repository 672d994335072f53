// Package models defines the domain models for the workflow provisioning service
package models

import (
	"time"
)

// Permission is a collaborator permission level on a repository.
type Permission string

const (
	PermissionAdmin Permission = "admin"
	PermissionWrite Permission = "write"
	PermissionRead  Permission = "read"
	PermissionNone  Permission = "none"
)

// Identity is the account a delegated credential resolves to.
type Identity struct {
	Login  string   `json:"login"`
	Email  string   `json:"email,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the credential was granted scope.
func (i *Identity) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Repository is a repository visible to the authenticated identity.
type Repository struct {
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	HTMLURL       string    `json:"html_url"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ScheduledJobSpec is the transient input for an ad-hoc cron workflow.
type ScheduledJobSpec struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Command  string `json:"command"`
	Owner    string `json:"owner"`
	Repo     string `json:"repo"`
}

// TemplateWorkflowSpec is the input for provisioning a catalog template.
// RepoName is an "owner/repo" coordinate.
type TemplateWorkflowSpec struct {
	TemplateID string         `json:"templateId"`
	Variables  map[string]any `json:"variables"`
	RepoName   string         `json:"repoName"`
}

// ProvisionResult describes a workflow file written by the pipeline.
type ProvisionResult struct {
	Repository string `json:"repository"`
	Path       string `json:"workflowPath"`
	URL        string `json:"workflowUrl"`
	SHA        string `json:"sha,omitempty"`
	Created    bool   `json:"created"`
}

// ScheduledJob is a workflow file found in the workflow directory.
type ScheduledJob struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	SHA         string `json:"sha"`
	Size        int    `json:"size"`
	DownloadURL string `json:"download_url"`
}

// WorkflowRun summarises one execution of a workflow.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	RunNumber  int       `json:"run_number"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion,omitempty"`
	Branch     string    `json:"head_branch"`
	Event      string    `json:"event"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
