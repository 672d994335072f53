package models

import "time"

// AuditAction is the kind of change an audit event records.
type AuditAction string

const (
	AuditActionCreate AuditAction = "create"
	AuditActionUpdate AuditAction = "update"
	AuditActionDelete AuditAction = "delete"
)

// ResourceType is the kind of resource an audit event refers to.
type ResourceType string

const (
	ResourceWorkflow ResourceType = "workflow"
	ResourceTemplate ResourceType = "template"
	ResourceCron     ResourceType = "cron"
)

// AuditEvent is an append-only record of a successful operation.
type AuditEvent struct {
	ID           string         `json:"id"`
	Actor        string         `json:"actor"`
	Action       AuditAction    `json:"action"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Details      map[string]any `json:"details"`
	CreatedAt    time.Time      `json:"created_at"`
}

// WorkflowConfig records the inputs a workflow was provisioned with.
type WorkflowConfig struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	RepoName   string         `json:"repo_name"`
	TemplateID string         `json:"template_id"`
	Variables  map[string]any `json:"variables"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
