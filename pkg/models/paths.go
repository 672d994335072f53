package models

import (
	"path"
	"strings"
)

const (
	// WorkflowDir is where the hosting service discovers workflow files.
	WorkflowDir = ".github/workflows"
	// MarkerFile keeps WorkflowDir alive in a store without directories.
	MarkerFile = WorkflowDir + "/.gitkeep"
	// WorkflowExt is the extension given to every provisioned workflow.
	WorkflowExt = ".yml"
)

// ScheduledJobPath derives the workflow path for a scheduled job name:
// lower-cased, whitespace runs collapsed to a single hyphen.
func ScheduledJobPath(name string) string {
	slug := strings.Join(strings.Fields(strings.ToLower(name)), "-")
	return WorkflowDir + "/" + slug + WorkflowExt
}

// TemplatePath derives the workflow path for a catalog template.
func TemplatePath(templateID string) string {
	return WorkflowDir + "/" + templateID + WorkflowExt
}

// BrowseURL links to a file on the hosting service's web UI. An empty branch
// links through HEAD, which follows the repository's default branch.
func BrowseURL(webURL, owner, repo, branch, filePath string) string {
	if branch == "" {
		branch = "HEAD"
	}
	return strings.TrimRight(webURL, "/") + "/" + owner + "/" + repo + "/blob/" + branch + "/" + filePath
}

// FileName returns the last element of a repository path.
func FileName(p string) string {
	return path.Base(p)
}

// ParseRepoName splits an "owner/repo" coordinate. It reports false unless
// there are exactly two non-empty segments.
func ParseRepoName(full string) (owner, repo string, ok bool) {
	parts := strings.Split(strings.TrimSpace(full), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
