package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"workflow-provisioner/internal/auth"
	"workflow-provisioner/internal/gateway"
	"workflow-provisioner/internal/render"
	"workflow-provisioner/internal/repository"
	"workflow-provisioner/internal/templates"
	"workflow-provisioner/pkg/models"
)

const (
	defaultSideEffectTimeout = 10 * time.Second
	directoryMessage         = "Create workflows directory"
	scheduledTemplateID      = "cron"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Options tune the pipeline. Zero values fall back to sane defaults.
type Options struct {
	// Branch every read and write targets. Empty means the repository's
	// default branch.
	Branch            string
	WebURL            string
	SettleDelay       time.Duration
	RunPageSize       int
	RepoPageSize      int
	SideEffectTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.WebURL == "" {
		o.WebURL = "https://github.com"
	}
	if o.RunPageSize <= 0 {
		o.RunPageSize = 10
	}
	if o.RepoPageSize <= 0 {
		o.RepoPageSize = 100
	}
	if o.SideEffectTimeout <= 0 {
		o.SideEffectTimeout = defaultSideEffectTimeout
	}
	return o
}

// ProvisioningService writes, lists and removes workflow files in a caller's
// repository on the caller's behalf.
type ProvisioningService struct {
	factory   gateway.Factory
	templates TemplateSource
	sink      repository.Sink
	logger    Logger
	opts      Options
	metrics   *metrics

	pending sync.WaitGroup
}

// NewProvisioningService creates a new ProvisioningService.
func NewProvisioningService(factory gateway.Factory, tpls TemplateSource, sink repository.Sink, logger Logger, opts Options) *ProvisioningService {
	if sink == nil {
		sink = repository.NoopSink{}
	}
	return &ProvisioningService{
		factory:   factory,
		templates: tpls,
		sink:      sink,
		logger:    logger,
		opts:      opts.withDefaults(),
		metrics:   newMetrics(),
	}
}

// session is a gateway bound to an authenticated caller.
type session struct {
	gw       gateway.Gateway
	actor    string
	identity *models.Identity
}

// CreateScheduledJob provisions a cron-triggered workflow that runs
// spec.Command. Re-running with the same name overwrites the same file.
func (s *ProvisioningService) CreateScheduledJob(ctx context.Context, p auth.Principal, spec models.ScheduledJobSpec) (res *models.ProvisionResult, err error) {
	defer func() { s.metrics.record(ctx, "create_scheduled_job", err) }()

	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	spec = trimJobSpec(spec)
	content, err := validateScheduledJob(spec)
	if err != nil {
		return nil, err
	}
	path := models.ScheduledJobPath(spec.Name)

	sess, err := s.authorize(ctx, p, spec.Owner, spec.Repo)
	if err != nil {
		return nil, err
	}
	res, err = s.provision(ctx, sess, spec.Owner, spec.Repo, path, content, fmt.Sprintf("Add %s cron job", spec.Name))
	if err != nil {
		return nil, err
	}

	repoName := spec.Owner + "/" + spec.Repo
	s.afterSuccess(ctx, "create_scheduled_job",
		&models.WorkflowConfig{
			Actor:      sess.actor,
			RepoName:   repoName,
			TemplateID: scheduledTemplateID,
			Variables:  map[string]any{"name": spec.Name, "schedule": spec.Schedule, "command": spec.Command},
		},
		&models.AuditEvent{
			Actor:        sess.actor,
			Action:       writeAction(res.Created),
			ResourceType: models.ResourceCron,
			ResourceID:   path,
			Details:      map[string]any{"name": spec.Name, "schedule": spec.Schedule, "command": spec.Command, "repo": repoName},
		})
	return res, nil
}

// CreateFromTemplate renders a catalog template and provisions it at a path
// derived from the template id.
func (s *ProvisioningService) CreateFromTemplate(ctx context.Context, p auth.Principal, spec models.TemplateWorkflowSpec) (res *models.ProvisionResult, err error) {
	defer func() { s.metrics.record(ctx, "create_workflow_from_template", err) }()

	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(spec.TemplateID) == "" {
		return nil, newError(KindBadRequest, "templateId is required", nil)
	}
	if strings.TrimSpace(spec.RepoName) == "" {
		return nil, newError(KindBadRequest, "repoName is required", nil)
	}
	owner, repo, ok := models.ParseRepoName(spec.RepoName)
	if !ok {
		return nil, newError(KindBadRequest, "repoName must have the form owner/repo", nil)
	}
	tpl, err := s.templates.Get(spec.TemplateID)
	if err != nil {
		return nil, newError(KindTemplateNotFound, fmt.Sprintf("template %q not found", spec.TemplateID), err)
	}
	content, err := render.Render(tpl, spec.Variables)
	if err != nil {
		return nil, newError(KindBadRequest, err.Error(), err)
	}
	if err := checkYAML(content); err != nil {
		return nil, err
	}
	path := models.TemplatePath(tpl.ID)

	sess, err := s.authorize(ctx, p, owner, repo)
	if err != nil {
		return nil, err
	}
	res, err = s.provision(ctx, sess, owner, repo, path, content, fmt.Sprintf("Add %s workflow", tpl.Name))
	if err != nil {
		return nil, err
	}

	repoName := owner + "/" + repo
	s.afterSuccess(ctx, "create_workflow_from_template",
		&models.WorkflowConfig{
			Actor:      sess.actor,
			RepoName:   repoName,
			TemplateID: tpl.ID,
			Variables:  copyVariables(spec.Variables),
		},
		&models.AuditEvent{
			Actor:        sess.actor,
			Action:       writeAction(res.Created),
			ResourceType: models.ResourceWorkflow,
			ResourceID:   path,
			Details:      map[string]any{"template": tpl.ID, "repo": repoName},
		})
	return res, nil
}

// ListScheduledJobs lists the workflow files in owner/repo. A repository
// without a workflow directory has no jobs.
func (s *ProvisioningService) ListScheduledJobs(ctx context.Context, p auth.Principal, owner, repo string) (jobs []models.ScheduledJob, err error) {
	defer func() { s.metrics.record(ctx, "list_scheduled_jobs", err) }()

	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return nil, newError(KindBadRequest, "owner and repo are required", nil)
	}
	gw, err := s.gateway(ctx, p)
	if err != nil {
		return nil, err
	}

	contents, err := gw.ReadPath(ctx, owner, repo, models.WorkflowDir, s.opts.Branch)
	if errors.Is(err, gateway.ErrNotFound) {
		s.logger.Debug("no workflow directory", "owner", owner, "repo", repo)
		return []models.ScheduledJob{}, nil
	}
	if err != nil {
		return nil, newError(KindRemoteError, "failed to list workflows", err)
	}

	jobs = []models.ScheduledJob{}
	if !contents.IsDir {
		return jobs, nil
	}
	for _, e := range contents.Entries {
		if e.Type != "file" || e.Path == models.MarkerFile || !strings.HasSuffix(e.Name, models.WorkflowExt) {
			continue
		}
		url := e.HTMLURL
		if url == "" {
			url = models.BrowseURL(s.opts.WebURL, owner, repo, s.opts.Branch, e.Path)
		}
		jobs = append(jobs, models.ScheduledJob{
			Name:        strings.TrimSuffix(e.Name, models.WorkflowExt),
			Path:        e.Path,
			URL:         url,
			SHA:         e.SHA,
			Size:        e.Size,
			DownloadURL: e.DownloadURL,
		})
	}
	return jobs, nil
}

// DeleteScheduledJob removes a workflow file. The file is always re-read
// first so the delete carries its current content hash.
func (s *ProvisioningService) DeleteScheduledJob(ctx context.Context, p auth.Principal, owner, repo, path string) (err error) {
	defer func() { s.metrics.record(ctx, "delete_scheduled_job", err) }()

	if err := checkPrincipal(p); err != nil {
		return err
	}
	owner, repo, path = strings.TrimSpace(owner), strings.TrimSpace(repo), strings.TrimSpace(path)
	if owner == "" || repo == "" || path == "" {
		return newError(KindBadRequest, "owner, repo and path are required", nil)
	}
	if !strings.HasPrefix(path, models.WorkflowDir+"/") || strings.Contains(path, "..") {
		return newError(KindBadRequest, fmt.Sprintf("path must be inside %s", models.WorkflowDir), nil)
	}
	gw, err := s.gateway(ctx, p)
	if err != nil {
		return err
	}

	contents, err := gw.ReadPath(ctx, owner, repo, path, s.opts.Branch)
	if err != nil {
		return newError(KindRemoteError, fmt.Sprintf("failed to read %s", path), err)
	}
	if contents.IsDir || contents.File == nil {
		return newError(KindBadRequest, fmt.Sprintf("%s is not a file", path), nil)
	}

	msg := "Remove " + models.FileName(path)
	if err := gw.DeleteFile(ctx, owner, repo, path, contents.File.SHA, msg, s.opts.Branch); err != nil {
		return newError(KindRemoteError, fmt.Sprintf("failed to delete %s", path), err)
	}
	s.logger.Info("workflow deleted", "owner", owner, "repo", repo, "path", path)

	s.afterSuccess(ctx, "delete_scheduled_job", nil, &models.AuditEvent{
		Actor:        p.Actor,
		Action:       models.AuditActionDelete,
		ResourceType: models.ResourceCron,
		ResourceID:   path,
		Details:      map[string]any{"repo": owner + "/" + repo},
	})
	return nil
}

// ListWorkflowRuns returns the most recent workflow runs of owner/repo.
func (s *ProvisioningService) ListWorkflowRuns(ctx context.Context, p auth.Principal, owner, repo string) (runs []models.WorkflowRun, err error) {
	defer func() { s.metrics.record(ctx, "list_workflow_runs", err) }()

	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	owner, repo = strings.TrimSpace(owner), strings.TrimSpace(repo)
	if owner == "" || repo == "" {
		return nil, newError(KindBadRequest, "owner and repo are required", nil)
	}
	gw, err := s.gateway(ctx, p)
	if err != nil {
		return nil, err
	}
	runs, err = gw.ListWorkflowRuns(ctx, owner, repo, s.opts.RunPageSize)
	if err != nil {
		return nil, newError(KindRemoteError, "failed to list workflow runs", err)
	}
	return runs, nil
}

// ListRepositories returns the repositories the caller can see.
func (s *ProvisioningService) ListRepositories(ctx context.Context, p auth.Principal) (repos []models.Repository, err error) {
	defer func() { s.metrics.record(ctx, "list_repositories", err) }()

	if err := checkPrincipal(p); err != nil {
		return nil, err
	}
	gw, err := s.gateway(ctx, p)
	if err != nil {
		return nil, err
	}
	repos, err = gw.ListRepositories(ctx, s.opts.RepoPageSize)
	if err != nil {
		return nil, newError(KindRemoteError, "failed to list repositories", err)
	}
	return repos, nil
}

// ListTemplates returns the template catalog.
func (s *ProvisioningService) ListTemplates() []models.WorkflowTemplate {
	return s.templates.List()
}

// GetTemplate returns one catalog template.
func (s *ProvisioningService) GetTemplate(id string) (models.WorkflowTemplate, error) {
	tpl, err := s.templates.Get(id)
	if err != nil {
		return models.WorkflowTemplate{}, newError(KindTemplateNotFound, fmt.Sprintf("template %q not found", id), err)
	}
	return tpl, nil
}

// ListWorkflowConfigs returns the configs the caller provisioned.
func (s *ProvisioningService) ListWorkflowConfigs(ctx context.Context, p auth.Principal) ([]*models.WorkflowConfig, error) {
	if p.Actor == "" {
		return nil, newError(KindUnauthorized, "no caller identity", nil)
	}
	configs, err := s.sink.ListWorkflowConfigs(ctx, p.Actor)
	if err != nil {
		return nil, newError(KindRemoteError, "failed to list workflow configs", err)
	}
	return configs, nil
}

// ListAuditEvents returns the caller's most recent audit events.
func (s *ProvisioningService) ListAuditEvents(ctx context.Context, p auth.Principal, limit int) ([]*models.AuditEvent, error) {
	if p.Actor == "" {
		return nil, newError(KindUnauthorized, "no caller identity", nil)
	}
	events, err := s.sink.ListAuditEvents(ctx, p.Actor, limit)
	if err != nil {
		return nil, newError(KindRemoteError, "failed to list audit events", err)
	}
	return events, nil
}

// Drain blocks until every in-flight side effect has finished.
func (s *ProvisioningService) Drain() {
	s.pending.Wait()
}

func checkPrincipal(p auth.Principal) error {
	if strings.TrimSpace(p.Actor) == "" {
		return newError(KindUnauthorized, "no caller identity", nil)
	}
	if p.AccessToken() == "" {
		return newError(KindNoCredential, "no delegated access token", nil)
	}
	return nil
}

func (s *ProvisioningService) gateway(ctx context.Context, p auth.Principal) (gateway.Gateway, error) {
	gw, err := s.factory.ForCredential(ctx, p.AccessToken())
	if err != nil {
		return nil, newError(KindInvalidCredential, "failed to use access token", err)
	}
	return gw, nil
}

// authorize resolves the credential's identity and requires admin permission
// on owner/repo.
func (s *ProvisioningService) authorize(ctx context.Context, p auth.Principal, owner, repo string) (*session, error) {
	gw, err := s.gateway(ctx, p)
	if err != nil {
		return nil, err
	}

	identity, err := gw.AuthenticatedIdentity(ctx)
	if err != nil {
		s.logger.Error("identity lookup failed", "actor", p.Actor, "error", err)
		return nil, newError(KindInvalidCredential, "access token was rejected", err)
	}
	if len(identity.Scopes) > 0 && !identity.HasScope(auth.ScopeWorkflow) {
		s.logger.Warn("token lacks workflow scope", "login", identity.Login, "scopes", identity.Scopes, "required", auth.RequiredScopes)
	}

	perm, err := gw.PermissionLevel(ctx, owner, repo, identity.Login)
	if err != nil {
		s.logger.Error("permission check failed", "owner", owner, "repo", repo, "error", err)
		return nil, newError(KindPermissionCheckFailed, "failed to check repository permissions", err)
	}
	if perm != models.PermissionAdmin {
		return nil, newError(KindForbidden, fmt.Sprintf("admin access to %s/%s required, have %s", owner, repo, perm), nil)
	}
	s.logger.Debug("caller authorized", "login", identity.Login, "owner", owner, "repo", repo)
	return &session{gw: gw, actor: p.Actor, identity: identity}, nil
}

// provision runs the remote half of both pipeline variants: ensure the
// workflow directory, write, then confirm the write is visible.
func (s *ProvisioningService) provision(ctx context.Context, sess *session, owner, repo, path, content, message string) (*models.ProvisionResult, error) {
	if err := s.ensureDirectory(ctx, sess.gw, owner, repo); err != nil {
		return nil, err
	}

	wr, err := sess.gw.WriteFile(ctx, gateway.WriteRequest{
		Owner:   owner,
		Repo:    repo,
		Path:    path,
		Content: []byte(content),
		Message: message,
		Branch:  s.opts.Branch,
	})
	if err != nil {
		s.logger.Error("workflow write failed", "owner", owner, "repo", repo, "path", path, "error", err)
		return nil, newError(KindWriteFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	s.logger.Debug("workflow written", "path", path, "sha", wr.SHA, "created", wr.Created)

	if err := s.confirmWrite(ctx, sess.gw, owner, repo, path); err != nil {
		return nil, err
	}

	s.logger.Info("workflow provisioned", "owner", owner, "repo", repo, "path", path)
	return &models.ProvisionResult{
		Repository: owner + "/" + repo,
		Path:       path,
		URL:        models.BrowseURL(s.opts.WebURL, owner, repo, s.opts.Branch, path),
		SHA:        wr.SHA,
		Created:    wr.Created,
	}, nil
}

// ensureDirectory writes an empty marker when the workflow directory cannot
// be read. Any read error counts as absence.
func (s *ProvisioningService) ensureDirectory(ctx context.Context, gw gateway.Gateway, owner, repo string) error {
	_, err := gw.ReadPath(ctx, owner, repo, models.WorkflowDir, s.opts.Branch)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		s.logger.Warn("workflow directory read failed, creating marker", "owner", owner, "repo", repo, "error", err)
	}

	_, err = gw.WriteFile(ctx, gateway.WriteRequest{
		Owner:   owner,
		Repo:    repo,
		Path:    models.MarkerFile,
		Content: []byte{},
		Message: directoryMessage,
		Branch:  s.opts.Branch,
	})
	if err != nil {
		return newError(KindDirectoryEnsureFailed, "failed to create workflows directory", err)
	}
	s.logger.Debug("workflow directory created", "owner", owner, "repo", repo)
	return nil
}

// confirmWrite waits out the settle delay and re-reads path.
func (s *ProvisioningService) confirmWrite(ctx context.Context, gw gateway.Gateway, owner, repo, path string) error {
	if s.opts.SettleDelay > 0 {
		timer := time.NewTimer(s.opts.SettleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return newError(KindVerificationFailed, fmt.Sprintf("interrupted before verifying %s", path), ctx.Err())
		case <-timer.C:
		}
	}

	contents, err := gw.ReadPath(ctx, owner, repo, path, s.opts.Branch)
	if errors.Is(err, gateway.ErrNotFound) {
		return newError(KindVerificationFailed, fmt.Sprintf("%s not visible after write", path), err)
	}
	if err != nil {
		return newError(KindVerificationFailed, fmt.Sprintf("failed to re-read %s", path), err)
	}
	if contents.IsDir || contents.File == nil {
		return newError(KindVerificationFailed, fmt.Sprintf("%s is not a file after write", path), nil)
	}
	return nil
}

// afterSuccess records the operation in the sink without blocking the
// caller. Failures are logged and dropped.
func (s *ProvisioningService) afterSuccess(ctx context.Context, operation string, cfg *models.WorkflowConfig, event *models.AuditEvent) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SideEffectTimeout)
		defer cancel()

		if cfg != nil {
			if err := s.sink.SaveWorkflowConfig(ctx, cfg); err != nil {
				s.logger.Warn("failed to save workflow config", "operation", operation, "error", err)
			}
		}
		if event != nil {
			if err := s.sink.LogAuditEvent(ctx, event); err != nil {
				s.logger.Warn("failed to log audit event", "operation", operation, "error", err)
			}
		}
	}()
}

func writeAction(created bool) models.AuditAction {
	if created {
		return models.AuditActionCreate
	}
	return models.AuditActionUpdate
}

func trimJobSpec(spec models.ScheduledJobSpec) models.ScheduledJobSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Schedule = strings.TrimSpace(spec.Schedule)
	spec.Command = strings.TrimSpace(spec.Command)
	spec.Owner = strings.TrimSpace(spec.Owner)
	spec.Repo = strings.TrimSpace(spec.Repo)
	return spec
}

func validateScheduledJob(spec models.ScheduledJobSpec) (string, error) {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", spec.Name},
		{"schedule", spec.Schedule},
		{"command", spec.Command},
		{"owner", spec.Owner},
		{"repo", spec.Repo},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return "", newError(KindBadRequest, "missing required fields: "+strings.Join(missing, ", "), nil)
	}
	if strings.ContainsAny(spec.Name, `/\`) || strings.Contains(spec.Name, "..") {
		return "", newError(KindBadRequest, fmt.Sprintf("name %q must not contain path separators or '..'", spec.Name), nil)
	}
	if _, err := cronParser.Parse(spec.Schedule); err != nil {
		return "", newError(KindBadRequest, fmt.Sprintf("invalid cron schedule %q", spec.Schedule), err)
	}
	content := ScheduledJobContent(spec.Name, spec.Schedule, spec.Command)
	if err := checkYAML(content); err != nil {
		return "", err
	}
	return content, nil
}

// ScheduledJobContent renders the fixed cron workflow: a schedule trigger,
// manual dispatch, and one job that checks out the repository and runs
// command.
func ScheduledJobContent(name, schedule, command string) string {
	return fmt.Sprintf(`name: %s

on:
  schedule:
    - cron: '%s'
  workflow_dispatch:

jobs:
  cron:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - name: Run cron job
        run: %s
`, yamlScalar(name), schedule, command)
}

// yamlScalar encodes s as a single YAML value, quoting it only when a plain
// scalar would not round-trip.
func yamlScalar(s string) string {
	out, err := yaml.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return strings.TrimSuffix(string(out), "\n")
}

func checkYAML(content string) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return newError(KindBadRequest, "rendered workflow is not valid YAML", err)
	}
	return nil
}

func copyVariables(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

var _ TemplateSource = (*templates.Registry)(nil)
