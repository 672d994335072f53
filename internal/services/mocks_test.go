package services

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"workflow-provisioner/internal/gateway"
	"workflow-provisioner/pkg/models"
)

// testLogger records warnings so swallowed failures can be asserted on.
type testLogger struct {
	mu       sync.Mutex
	warns    []string
	warnArgs [][]any
}

func (l *testLogger) Debug(msg string, args ...any) {}
func (l *testLogger) Info(msg string, args ...any)  {}
func (l *testLogger) Error(msg string, args ...any) {}
func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
	l.warnArgs = append(l.warnArgs, args)
}

// WarnArg returns the value logged under key by the first warning msg.
func (l *testLogger) WarnArg(msg, key string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.warns {
		if w != msg {
			continue
		}
		args := l.warnArgs[i]
		for j := 0; j+1 < len(args); j += 2 {
			if args[j] == key {
				return args[j+1]
			}
		}
	}
	return nil
}

func (l *testLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.warns...)
}

// MockFactory satisfies gateway.Factory
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) ForCredential(ctx context.Context, token string) (gateway.Gateway, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(gateway.Gateway), args.Error(1)
}

// MockGateway satisfies gateway.Gateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) AuthenticatedIdentity(ctx context.Context) (*models.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Identity), args.Error(1)
}

func (m *MockGateway) PermissionLevel(ctx context.Context, owner, repo, login string) (models.Permission, error) {
	args := m.Called(ctx, owner, repo, login)
	return args.Get(0).(models.Permission), args.Error(1)
}

func (m *MockGateway) ReadPath(ctx context.Context, owner, repo, path, ref string) (*gateway.Contents, error) {
	args := m.Called(ctx, owner, repo, path, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Contents), args.Error(1)
}

func (m *MockGateway) WriteFile(ctx context.Context, req gateway.WriteRequest) (*gateway.WriteResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.WriteResult), args.Error(1)
}

func (m *MockGateway) DeleteFile(ctx context.Context, owner, repo, path, sha, message, branch string) error {
	args := m.Called(ctx, owner, repo, path, sha, message, branch)
	return args.Error(0)
}

func (m *MockGateway) ListWorkflowRuns(ctx context.Context, owner, repo string, pageSize int) ([]models.WorkflowRun, error) {
	args := m.Called(ctx, owner, repo, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WorkflowRun), args.Error(1)
}

func (m *MockGateway) ListRepositories(ctx context.Context, pageSize int) ([]models.Repository, error) {
	args := m.Called(ctx, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Repository), args.Error(1)
}

// MockSink satisfies repository.Sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveWorkflowConfig(ctx context.Context, cfg *models.WorkflowConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *MockSink) LogAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockSink) ListWorkflowConfigs(ctx context.Context, actor string) ([]*models.WorkflowConfig, error) {
	args := m.Called(ctx, actor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.WorkflowConfig), args.Error(1)
}

func (m *MockSink) ListAuditEvents(ctx context.Context, actor string, limit int) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, actor, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockSink) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
