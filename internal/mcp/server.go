package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"workflow-provisioner/internal/auth"
	"workflow-provisioner/pkg/models"
)

// Provisioner is the subset of the pipeline exposed as MCP tools.
type Provisioner interface {
	CreateScheduledJob(ctx context.Context, p auth.Principal, spec models.ScheduledJobSpec) (*models.ProvisionResult, error)
	CreateFromTemplate(ctx context.Context, p auth.Principal, spec models.TemplateWorkflowSpec) (*models.ProvisionResult, error)
	ListScheduledJobs(ctx context.Context, p auth.Principal, owner, repo string) ([]models.ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, p auth.Principal, owner, repo, path string) error
	ListWorkflowRuns(ctx context.Context, p auth.Principal, owner, repo string) ([]models.WorkflowRun, error)
	ListTemplates() []models.WorkflowTemplate
}

type Server struct {
	mcpServer   *server.MCPServer
	provisioner Provisioner
}

func NewServer(provisioner Provisioner, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Provisioner",
			version,
			server.WithToolCapabilities(true),
		),
		provisioner: provisioner,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_scheduled_job",
			mcp.WithDescription("Create or overwrite a cron-scheduled GitHub Actions workflow in a repository"),
			mcp.WithString("name", mcp.Required(), mcp.Description("Job name; also determines the workflow file name")),
			mcp.WithString("schedule", mcp.Required(), mcp.Description("Five-field cron expression, e.g. '0 0 * * *'")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Shell command the job runs")),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		),
		s.handleCreateScheduledJob,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_scheduled_jobs",
			mcp.WithDescription("List workflow files in a repository"),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		),
		s.handleListScheduledJobs,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"delete_scheduled_job",
			mcp.WithDescription("Delete a workflow file from a repository"),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Workflow path, e.g. .github/workflows/daily-backup.yml")),
		),
		s.handleDeleteScheduledJob,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"create_workflow_from_template",
			mcp.WithDescription("Render a catalog template and write it to a repository"),
			mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id, see list_templates")),
			mcp.WithString("repo_name", mcp.Required(), mcp.Description("Target repository as owner/repo")),
			mcp.WithObject("variables", mcp.Description("Template variables by name")),
		),
		s.handleCreateFromTemplate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_templates",
			mcp.WithDescription("List the workflow template catalog"),
		),
		s.handleListTemplates,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflow_runs",
			mcp.WithDescription("List the most recent workflow runs of a repository"),
			mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
			mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		),
		s.handleListWorkflowRuns,
	)
}

func (s *Server) handleCreateScheduledJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	spec := models.ScheduledJobSpec{}
	for name, dest := range map[string]*string{
		"name":     &spec.Name,
		"schedule": &spec.Schedule,
		"command":  &spec.Command,
		"owner":    &spec.Owner,
		"repo":     &spec.Repo,
	} {
		v, ok := args[name].(string)
		if !ok || v == "" {
			return mcp.NewToolResultError("Missing required parameter: " + name), nil
		}
		*dest = v
	}

	res, err := s.provisioner.CreateScheduledJob(ctx, principal(ctx), spec)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create scheduled job: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleListScheduledJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	owner, repo, missing := repoArgs(args)
	if missing != "" {
		return mcp.NewToolResultError("Missing required parameter: " + missing), nil
	}

	jobs, err := s.provisioner.ListScheduledJobs(ctx, principal(ctx), owner, repo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list scheduled jobs: %v", err)), nil
	}
	return jsonResult(jobs)
}

func (s *Server) handleDeleteScheduledJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	owner, repo, missing := repoArgs(args)
	if missing != "" {
		return mcp.NewToolResultError("Missing required parameter: " + missing), nil
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return mcp.NewToolResultError("Missing required parameter: path"), nil
	}

	if err := s.provisioner.DeleteScheduledJob(ctx, principal(ctx), owner, repo, path); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete scheduled job: %v", err)), nil
	}
	return mcp.NewToolResultText("Deleted " + path), nil
}

func (s *Server) handleCreateFromTemplate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	templateID, ok := args["template_id"].(string)
	if !ok || templateID == "" {
		return mcp.NewToolResultError("Missing required parameter: template_id"), nil
	}
	repoName, ok := args["repo_name"].(string)
	if !ok || repoName == "" {
		return mcp.NewToolResultError("Missing required parameter: repo_name"), nil
	}
	variables := map[string]any{}
	if raw, present := args["variables"]; present && raw != nil {
		v, ok := raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError("Parameter variables must be an object"), nil
		}
		variables = v
	}

	res, err := s.provisioner.CreateFromTemplate(ctx, principal(ctx), models.TemplateWorkflowSpec{
		TemplateID: templateID,
		Variables:  variables,
		RepoName:   repoName,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}
	return jsonResult(res)
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.provisioner.ListTemplates())
}

func (s *Server) handleListWorkflowRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	owner, repo, missing := repoArgs(args)
	if missing != "" {
		return mcp.NewToolResultError("Missing required parameter: " + missing), nil
	}

	runs, err := s.provisioner.ListWorkflowRuns(ctx, principal(ctx), owner, repo)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflow runs: %v", err)), nil
	}
	return jsonResult(runs)
}

func principal(ctx context.Context) auth.Principal {
	p, _ := auth.FromContext(ctx)
	return p
}

func repoArgs(args map[string]interface{}) (owner, repo, missing string) {
	owner, ok := args["owner"].(string)
	if !ok || owner == "" {
		return "", "", "owner"
	}
	repo, ok = args["repo"].(string)
	if !ok || repo == "" {
		return "", "", "repo"
	}
	return owner, repo, ""
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp. contextFunc
// attaches the caller's principal to every tool call.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer, contextFunc server.SSEContextFunc) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(contextFunc),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
