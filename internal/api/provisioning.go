// Package api contains the HTTP handlers for the workflow provisioner
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"

	"workflow-provisioner/internal/auth"
	"workflow-provisioner/pkg/models"
)

const defaultAuditLimit = 50

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Provisioner is the pipeline the REST surface drives.
type Provisioner interface {
	CreateScheduledJob(ctx context.Context, p auth.Principal, spec models.ScheduledJobSpec) (*models.ProvisionResult, error)
	CreateFromTemplate(ctx context.Context, p auth.Principal, spec models.TemplateWorkflowSpec) (*models.ProvisionResult, error)
	ListScheduledJobs(ctx context.Context, p auth.Principal, owner, repo string) ([]models.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, p auth.Principal, owner, repo, path string) error
	ListWorkflowRuns(ctx context.Context, p auth.Principal, owner, repo string) ([]models.WorkflowRun, error)
	ListRepositories(ctx context.Context, p auth.Principal) ([]models.Repository, error)
	ListTemplates() []models.WorkflowTemplate
	GetTemplate(id string) (models.WorkflowTemplate, error)
	ListWorkflowConfigs(ctx context.Context, p auth.Principal) ([]*models.WorkflowConfig, error)
	ListAuditEvents(ctx context.Context, p auth.Principal, limit int) ([]*models.AuditEvent, error)
}

// Server holds the dependencies for the API server.
type Server struct {
	svc    Provisioner
	logger Logger
}

// NewServer creates a new Server.
func NewServer(svc Provisioner, logger Logger) *Server {
	return &Server{svc: svc, logger: logger}
}

// ProvisionResponse wraps a successful write.
type ProvisionResponse struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message"`
	Details *models.ProvisionResult `json:"details"`
}

// MessageResponse is returned by operations without a payload.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Register mounts the API routes on g.
func (s *Server) Register(g *echo.Group) {
	g.POST("/cron", s.CreateScheduledJob)
	g.GET("/cron", s.ListScheduledJobs)
	g.DELETE("/cron", s.DeleteScheduledJob)
	g.POST("/workflows", s.CreateFromTemplate)
	g.GET("/templates", s.ListTemplates)
	g.GET("/templates/:id", s.GetTemplate)
	g.GET("/runs", s.ListWorkflowRuns)
	g.GET("/repos", s.ListRepositories)
	g.GET("/configs", s.ListWorkflowConfigs)
	g.GET("/audit", s.ListAuditEvents)
}

func principal(c echo.Context) auth.Principal {
	p, _ := auth.FromContext(c.Request().Context())
	return p
}

// CreateScheduledJob provisions a cron workflow
// (POST /api/v1/cron)
func (s *Server) CreateScheduledJob(c echo.Context) error {
	var spec models.ScheduledJobSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	res, err := s.svc.CreateScheduledJob(c.Request().Context(), principal(c), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProvisionResponse{
		Success: true,
		Message: fmt.Sprintf("Cron job created successfully in %s", res.Repository),
		Details: res,
	})
}

// ListScheduledJobs lists workflow files in a repository
// (GET /api/v1/cron?owner=&repo=)
func (s *Server) ListScheduledJobs(c echo.Context) error {
	var owner, repo string
	if err := bindRepoParams(c, &owner, &repo); err != nil {
		return err
	}

	jobs, err := s.svc.ListScheduledJobs(c.Request().Context(), principal(c), owner, repo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, jobs)
}

// DeleteScheduledJob removes a workflow file
// (DELETE /api/v1/cron?owner=&repo=&path=)
func (s *Server) DeleteScheduledJob(c echo.Context) error {
	var owner, repo, path string
	if err := bindRepoParams(c, &owner, &repo); err != nil {
		return err
	}
	if err := runtime.BindQueryParameter("form", true, true, "path", c.QueryParams(), &path); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.svc.DeleteScheduledJob(c.Request().Context(), principal(c), owner, repo, path); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Success: true, Message: "Cron job deleted successfully"})
}

// CreateFromTemplate provisions a catalog template
// (POST /api/v1/workflows)
func (s *Server) CreateFromTemplate(c echo.Context) error {
	var spec models.TemplateWorkflowSpec
	if err := c.Bind(&spec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	res, err := s.svc.CreateFromTemplate(c.Request().Context(), principal(c), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProvisionResponse{
		Success: true,
		Message: fmt.Sprintf("Workflow created successfully in %s", res.Repository),
		Details: res,
	})
}

// ListTemplates returns the template catalog
// (GET /api/v1/templates)
func (s *Server) ListTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.ListTemplates())
}

// GetTemplate returns one template
// (GET /api/v1/templates/:id)
func (s *Server) GetTemplate(c echo.Context) error {
	tpl, err := s.svc.GetTemplate(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

// ListWorkflowRuns returns recent workflow runs
// (GET /api/v1/runs?owner=&repo=)
func (s *Server) ListWorkflowRuns(c echo.Context) error {
	var owner, repo string
	if err := bindRepoParams(c, &owner, &repo); err != nil {
		return err
	}

	runs, err := s.svc.ListWorkflowRuns(c.Request().Context(), principal(c), owner, repo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// ListRepositories returns repositories visible to the caller
// (GET /api/v1/repos)
func (s *Server) ListRepositories(c echo.Context) error {
	repos, err := s.svc.ListRepositories(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, repos)
}

// ListWorkflowConfigs returns the caller's saved configs
// (GET /api/v1/configs)
func (s *Server) ListWorkflowConfigs(c echo.Context) error {
	configs, err := s.svc.ListWorkflowConfigs(c.Request().Context(), principal(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, configs)
}

// ListAuditEvents returns the caller's audit trail
// (GET /api/v1/audit?limit=)
func (s *Server) ListAuditEvents(c echo.Context) error {
	limit := defaultAuditLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", c.QueryParams(), &limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if limit <= 0 || limit > 500 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
	}

	events, err := s.svc.ListAuditEvents(c.Request().Context(), principal(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

func bindRepoParams(c echo.Context, owner, repo *string) error {
	if err := runtime.BindQueryParameter("form", true, true, "owner", c.QueryParams(), owner); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := runtime.BindQueryParameter("form", true, true, "repo", c.QueryParams(), repo); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
