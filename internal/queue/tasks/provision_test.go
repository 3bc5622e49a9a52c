package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

// Mock implementations

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, userID uuid.UUID, provider, token string) (string, error) {
	args := m.Called(ctx, userID, provider, token)
	return args.String(0), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateRepository(ctx context.Context, provider, token string, opts gitprovider.CreateRepositoryOptions) (*gitprovider.RepositoryInfo, error) {
	args := m.Called(ctx, provider, token, opts)
	if v := args.Get(0); v != nil {
		return v.(*gitprovider.RepositoryInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) PushFiles(ctx context.Context, provider, token, fullName string, files []gitprovider.File, branch string) (*gitprovider.PushResult, error) {
	args := m.Called(ctx, provider, token, fullName, files, branch)
	if v := args.Get(0); v != nil {
		return v.(*gitprovider.PushResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) ValidateRepository(ctx context.Context, provider, token, fullName string) gitprovider.Validation {
	args := m.Called(ctx, provider, token, fullName)
	return args.Get(0).(gitprovider.Validation)
}

func (m *mockGateway) GetUser(ctx context.Context, provider, token string) (string, error) {
	args := m.Called(ctx, provider, token)
	return args.String(0), args.Error(1)
}

type mockProjectRepository struct {
	mock.Mock
}

func (m *mockProjectRepository) Create(ctx context.Context, obj *models.Project) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockProjectRepository) GetByID(ctx context.Context, id any, dest *models.Project) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Project)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockProjectRepository) Update(ctx context.Context, obj *models.Project) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockProjectRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockProjectRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Project, error) {
	args := m.Called(ctx, orgID)
	if v := args.Get(0); v != nil {
		return v.([]models.Project), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProjectRepository) UpdateStatus(ctx context.Context, projectID uuid.UUID, status string, init models.InitializationStatus) error {
	args := m.Called(ctx, projectID, status, init)
	return args.Error(0)
}

func (m *mockProjectRepository) Archive(ctx context.Context, projectID uuid.UUID) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

type mockRepoRepository struct {
	mock.Mock
}

func (m *mockRepoRepository) Create(ctx context.Context, obj *models.Repository) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockRepoRepository) GetByID(ctx context.Context, id any, dest *models.Repository) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Repository)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockRepoRepository) Update(ctx context.Context, obj *models.Repository) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockRepoRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockRepoRepository) GetByProject(ctx context.Context, projectID uuid.UUID, dest *models.Repository) error {
	args := m.Called(ctx, projectID, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Repository)
		*dest = *src
	}
	return args.Error(0)
}

type mockEnvironmentRepository struct {
	mock.Mock
}

func (m *mockEnvironmentRepository) Create(ctx context.Context, obj *models.Environment) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockEnvironmentRepository) GetByID(ctx context.Context, id any, dest *models.Environment) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.Environment)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockEnvironmentRepository) Update(ctx context.Context, obj *models.Environment) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockEnvironmentRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockEnvironmentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Environment, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.Environment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEnvironmentRepository) SetPermission(ctx context.Context, environmentID, userID uuid.UUID, perm models.EnvironmentPermission) error {
	args := m.Called(ctx, environmentID, userID, perm)
	return args.Error(0)
}

type mockGitOpsRepository struct {
	mock.Mock
}

func (m *mockGitOpsRepository) Create(ctx context.Context, obj *models.GitOpsResource) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockGitOpsRepository) GetByID(ctx context.Context, id any, dest *models.GitOpsResource) error {
	args := m.Called(ctx, id, dest)
	if args.Error(0) == nil && args.Get(1) != nil {
		src := args.Get(1).(*models.GitOpsResource)
		*dest = *src
	}
	return args.Error(0)
}

func (m *mockGitOpsRepository) Update(ctx context.Context, obj *models.GitOpsResource) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

func (m *mockGitOpsRepository) Delete(ctx context.Context, id any) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockGitOpsRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.GitOpsResource, error) {
	args := m.Called(ctx, projectID)
	if v := args.Get(0); v != nil {
		return v.([]models.GitOpsResource), args.Error(1)
	}
	return nil, args.Error(1)
}

type handlerMocks struct {
	resolver    *mockResolver
	gateway     *mockGateway
	projectRepo *mockProjectRepository
	repoRepo    *mockRepoRepository
	envRepo     *mockEnvironmentRepository
	gitopsRepo  *mockGitOpsRepository
}

func newHandler(inflight *InflightRegistry) (*ProvisionTaskHandler, *handlerMocks) {
	m := &handlerMocks{
		resolver:    &mockResolver{},
		gateway:     &mockGateway{},
		projectRepo: &mockProjectRepository{},
		repoRepo:    &mockRepoRepository{},
		envRepo:     &mockEnvironmentRepository{},
		gitopsRepo:  &mockGitOpsRepository{},
	}
	h := NewProvisionTaskHandler(m.resolver, m.gateway, m.projectRepo, m.repoRepo,
		m.envRepo, m.gitopsRepo, inflight, nil)
	return h, m
}

func provisionTask(t *testing.T, p ProvisionPayload) *asynq.Task {
	t.Helper()
	task, err := NewProvisionTask(p)
	require.NoError(t, err)
	return task
}

func TestHandleProvision_Success(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()

	h, m := newHandler(nil)

	payload := ProvisionPayload{
		ProjectID: projectID.String(),
		UserID:    userID.String(),
		Repository: RepositoryPayload{
			Provider:    "gitlab",
			Name:        "My Cool App",
			Visibility:  "private",
			AccessToken: "__USE_OAUTH__",
		},
	}

	m.resolver.On("Resolve", mock.Anything, userID, "gitlab", "__USE_OAUTH__").
		Return("glpat-resolved", nil).Once()

	repoInfo := &gitprovider.RepositoryInfo{
		ID:            "42",
		Name:          "My Cool App",
		FullName:      "group/my-cool-app",
		CloneURL:      "https://gitlab.com/group/my-cool-app.git",
		DefaultBranch: "main",
	}
	m.gateway.On("CreateRepository", mock.Anything, "gitlab", "glpat-resolved",
		mock.MatchedBy(func(opts gitprovider.CreateRepositoryOptions) bool {
			return opts.Name == "My Cool App" && opts.Visibility == "private"
		})).Return(repoInfo, nil).Once()

	m.gateway.On("PushFiles", mock.Anything, "gitlab", "glpat-resolved", "group/my-cool-app",
		mock.Anything, "main").
		Return(&gitprovider.PushResult{Mode: gitprovider.PushAtomic}, nil).Once()

	m.repoRepo.On("Create", mock.Anything, mock.MatchedBy(func(r *models.Repository) bool {
		return r.ProjectID == projectID && r.FullName == "group/my-cool-app" &&
			r.SyncStatus == models.SyncStatusSuccess
	})).Return(nil).Once()

	envs := []models.Environment{
		{ID: uuid.New(), ProjectID: projectID, Type: models.EnvDevelopment},
		{ID: uuid.New(), ProjectID: projectID, Type: models.EnvStaging},
		{ID: uuid.New(), ProjectID: projectID, Type: models.EnvProduction},
	}
	m.envRepo.On("ListByProject", mock.Anything, projectID).Return(envs, nil).Once()
	m.gitopsRepo.On("Create", mock.Anything, mock.MatchedBy(func(g *models.GitOpsResource) bool {
		return g.ProjectID == projectID && g.Status == models.GitOpsStatusPending
	})).Return(nil).Times(3)

	// intermediate progress writes
	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusInitializing, mock.Anything).
		Return(nil)
	// finalize
	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusActive,
		mock.MatchedBy(func(init models.InitializationStatus) bool {
			return init.Step == "completed" && init.Progress == 100 &&
				len(init.CompletedSteps) == 6 &&
				init.CompletedSteps[3] == "create_repository" &&
				init.CompletedSteps[4] == "push_code" &&
				init.CompletedSteps[5] == "create_gitops_resources"
		})).Return(nil).Once()

	err := h.HandleProvision(context.Background(), provisionTask(t, payload))
	require.NoError(t, err)

	mock.AssertExpectationsForObjects(t, m.resolver, m.gateway, m.projectRepo,
		m.repoRepo, m.envRepo, m.gitopsRepo)
}

func TestHandleProvision_RepositoryCreateFailure(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()

	h, m := newHandler(nil)

	payload := ProvisionPayload{
		ProjectID: projectID.String(),
		UserID:    userID.String(),
		Repository: RepositoryPayload{
			Provider:    "github",
			Name:        "taken",
			AccessToken: "ghp_tok",
		},
	}

	m.resolver.On("Resolve", mock.Anything, userID, "github", "ghp_tok").
		Return("ghp_tok", nil).Once()
	cause := appErr.New(appErr.CodeProviderConflict, "name already exists")
	m.gateway.On("CreateRepository", mock.Anything, "github", "ghp_tok", mock.Anything).
		Return(nil, cause).Once()

	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusInitializing, mock.Anything).
		Return(nil)
	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusFailed,
		mock.MatchedBy(func(init models.InitializationStatus) bool {
			return init.Step == "failed" && init.Progress == 0 &&
				init.Error != "" &&
				len(init.CompletedSteps) == 3
		})).Return(nil).Once()

	err := h.HandleProvision(context.Background(), provisionTask(t, payload))
	require.Error(t, err)
	require.Equal(t, appErr.CodeProviderConflict, appErr.CodeOf(err))

	mock.AssertExpectationsForObjects(t, m.resolver, m.gateway, m.projectRepo)
	m.repoRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleProvision_PushFailureRecordsCommittedPrefix(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()

	h, m := newHandler(nil)

	payload := ProvisionPayload{
		ProjectID: projectID.String(),
		UserID:    userID.String(),
		Repository: RepositoryPayload{
			Provider:    "github",
			Name:        "app",
			AccessToken: "ghp_tok",
		},
	}

	m.resolver.On("Resolve", mock.Anything, userID, "github", "ghp_tok").
		Return("ghp_tok", nil).Once()
	repoInfo := &gitprovider.RepositoryInfo{
		FullName:      "acme/app",
		CloneURL:      "https://github.com/acme/app.git",
		DefaultBranch: "main",
	}
	m.gateway.On("CreateRepository", mock.Anything, "github", "ghp_tok", mock.Anything).
		Return(repoInfo, nil).Once()

	partial := &gitprovider.PushResult{
		Mode:      gitprovider.PushPerFile,
		Committed: []string{".gitignore", "README.md"},
	}
	m.gateway.On("PushFiles", mock.Anything, "github", "ghp_tok", "acme/app", mock.Anything, "main").
		Return(partial, appErr.New(appErr.CodeProviderUnavailable, "push failed")).Once()

	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusInitializing, mock.Anything).
		Return(nil)
	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusFailed, mock.Anything).
		Return(nil).Once()

	err := h.HandleProvision(context.Background(), provisionTask(t, payload))
	require.Error(t, err)

	mock.AssertExpectationsForObjects(t, m.resolver, m.gateway, m.projectRepo)
	m.repoRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestHandleProvision_GitOpsFailureIsBestEffort(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()

	h, m := newHandler(nil)

	payload := ProvisionPayload{
		ProjectID: projectID.String(),
		UserID:    userID.String(),
		Repository: RepositoryPayload{
			Provider:    "gitlab",
			Name:        "app",
			AccessToken: "glpat-tok",
		},
	}

	m.resolver.On("Resolve", mock.Anything, userID, "gitlab", "glpat-tok").
		Return("glpat-tok", nil).Once()
	repoInfo := &gitprovider.RepositoryInfo{
		FullName:      "group/app",
		CloneURL:      "https://gitlab.com/group/app.git",
		DefaultBranch: "main",
	}
	m.gateway.On("CreateRepository", mock.Anything, "gitlab", "glpat-tok", mock.Anything).
		Return(repoInfo, nil).Once()
	m.gateway.On("PushFiles", mock.Anything, "gitlab", "glpat-tok", "group/app", mock.Anything, "main").
		Return(&gitprovider.PushResult{Mode: gitprovider.PushAtomic}, nil).Once()
	m.repoRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()

	m.envRepo.On("ListByProject", mock.Anything, projectID).
		Return(nil, errors.New("db unavailable")).Once()

	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusInitializing, mock.Anything).
		Return(nil)
	m.projectRepo.On("UpdateStatus", mock.Anything, projectID, models.ProjectStatusActive, mock.Anything).
		Return(nil).Once()

	err := h.HandleProvision(context.Background(), provisionTask(t, payload))
	require.NoError(t, err, "gitops failures must not fail the pipeline")

	mock.AssertExpectationsForObjects(t, m.resolver, m.gateway, m.projectRepo, m.repoRepo, m.envRepo)
}

func TestHandleProvision_RejectsConcurrentJobForSameProject(t *testing.T) {
	projectID := uuid.New()
	userID := uuid.New()

	inflight := NewInflightRegistry()
	require.True(t, inflight.Acquire(projectID.String()))

	h, _ := newHandler(inflight)

	payload := ProvisionPayload{
		ProjectID:  projectID.String(),
		UserID:     userID.String(),
		Repository: RepositoryPayload{Provider: "github", Name: "app", AccessToken: "x"},
	}

	err := h.HandleProvision(context.Background(), provisionTask(t, payload))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)

	// released registry admits the project again
	inflight.Release(projectID.String())
	require.True(t, inflight.Acquire(projectID.String()))
}

func TestNewProvisionTaskUsesProjectIDAsTaskID(t *testing.T) {
	projectID := uuid.New()
	p := ProvisionPayload{ProjectID: projectID.String(), UserID: uuid.New().String()}
	task, err := NewProvisionTask(p)
	require.NoError(t, err)
	require.Equal(t, TypeProjectProvision, task.Type())

	var decoded ProvisionPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, projectID.String(), decoded.ProjectID)
}
