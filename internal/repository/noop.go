package repository

import (
	"context"

	"workflow-provisioner/pkg/models"
)

// NoopSink discards writes and returns empty reads. It stands in when no
// database is configured.
type NoopSink struct{}

func (NoopSink) SaveWorkflowConfig(context.Context, *models.WorkflowConfig) error { return nil }
func (NoopSink) LogAuditEvent(context.Context, *models.AuditEvent) error         { return nil }
func (NoopSink) ListWorkflowConfigs(context.Context, string) ([]*models.WorkflowConfig, error) {
	return []*models.WorkflowConfig{}, nil
}
func (NoopSink) ListAuditEvents(context.Context, string, int) ([]*models.AuditEvent, error) {
	return []*models.AuditEvent{}, nil
}
func (NoopSink) Ping(context.Context) error { return nil }
