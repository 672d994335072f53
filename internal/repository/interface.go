package repository

import (
	"context"

	"workflow-provisioner/pkg/models"
)

// Sink persists provisioning side records. Writers are best-effort from the
// pipeline's point of view; callers log and discard their errors.
type Sink interface {
	// SaveWorkflowConfig stores the inputs a workflow was provisioned with.
	SaveWorkflowConfig(ctx context.Context, cfg *models.WorkflowConfig) error
	// LogAuditEvent appends an audit event.
	LogAuditEvent(ctx context.Context, event *models.AuditEvent) error
	// ListWorkflowConfigs returns an actor's saved configs, newest first.
	ListWorkflowConfigs(ctx context.Context, actor string) ([]*models.WorkflowConfig, error)
	// ListAuditEvents returns an actor's most recent audit events.
	ListAuditEvents(ctx context.Context, actor string, limit int) ([]*models.AuditEvent, error)
	// Ping checks the store is reachable.
	Ping(ctx context.Context) error
}
