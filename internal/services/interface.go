package services

import (
	"workflow-provisioner/pkg/models"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// TemplateSource is the read-only template catalog the pipeline renders from.
type TemplateSource interface {
	Get(id string) (models.WorkflowTemplate, error)
	List() []models.WorkflowTemplate
}
