package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"workflow-provisioner/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Sink interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// SaveWorkflowConfig inserts a config record, assigning id and timestamps
// when they are unset.
func (s *PostgresStore) SaveWorkflowConfig(ctx context.Context, cfg *models.WorkflowConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	vars := cfg.Variables
	if vars == nil {
		vars = map[string]any{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_configs (id, actor, repo_name, template_id, variables, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cfg.ID, cfg.Actor, cfg.RepoName, cfg.TemplateID, vars, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save workflow config: %w", err)
	}
	return nil
}

// LogAuditEvent inserts an audit row.
func (s *PostgresStore) LogAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	details := event.Details
	if details == nil {
		details = map[string]any{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_logs (id, actor, action, resource_type, resource_id, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Actor, string(event.Action), string(event.ResourceType), event.ResourceID, details, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("log audit event: %w", err)
	}
	return nil
}

// ListWorkflowConfigs returns an actor's configs, newest first.
func (s *PostgresStore) ListWorkflowConfigs(ctx context.Context, actor string) ([]*models.WorkflowConfig, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, actor, repo_name, template_id, variables, created_at, updated_at
		 FROM workflow_configs WHERE actor = $1 ORDER BY created_at DESC`, actor)
	if err != nil {
		return nil, fmt.Errorf("list workflow configs: %w", err)
	}
	defer rows.Close()

	configs := []*models.WorkflowConfig{}
	for rows.Next() {
		var c models.WorkflowConfig
		if err := rows.Scan(&c.ID, &c.Actor, &c.RepoName, &c.TemplateID, &c.Variables, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow config: %w", err)
		}
		configs = append(configs, &c)
	}
	return configs, rows.Err()
}

// ListAuditEvents returns up to limit events for an actor, newest first.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, actor string, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, actor, action, resource_type, resource_id, details, created_at
		 FROM audit_logs WHERE actor = $1 ORDER BY created_at DESC LIMIT $2`, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	events := []*models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		var action, resourceType string
		if err := rows.Scan(&e.ID, &e.Actor, &action, &resourceType, &e.ResourceID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = models.AuditAction(action)
		e.ResourceType = models.ResourceType(resourceType)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
