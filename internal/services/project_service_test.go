package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	appErr "github.com/forgeops/engine/pkg/errors"
)

type mockProvisioning struct {
	mock.Mock
}

func (m *mockProvisioning) EnqueueProvisioning(ctx context.Context, req *ProvisionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type projectFixture struct {
	svc          ProjectService
	db           *gorm.DB
	provisioning *mockProvisioning

	org    models.Organization
	owner  models.User
	member models.User
}

func setupProject(t *testing.T) *projectFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Organization{}, &models.OrganizationMember{},
		&models.Project{}, &models.Environment{},
	))
	t.Cleanup(func() {
		for _, table := range []string{
			"environments", "projects", "organization_members", "organizations", "users",
		} {
			db.Exec("DELETE FROM " + table)
		}
	})

	f := &projectFixture{db: db, provisioning: &mockProvisioning{}}

	f.owner = models.User{Email: "owner@corp.test", PasswordHash: "x", Name: "Owner"}
	f.member = models.User{Email: "member@corp.test", PasswordHash: "x", Name: "Member"}
	require.NoError(t, db.Create(&f.owner).Error)
	require.NoError(t, db.Create(&f.member).Error)

	f.org = models.Organization{Name: "Corp", Slug: "corp"}
	require.NoError(t, db.Create(&f.org).Error)
	for _, m := range []models.OrganizationMember{
		{OrganizationID: f.org.ID, UserID: f.owner.ID, Role: models.RoleOwner},
		{OrganizationID: f.org.ID, UserID: f.member.ID, Role: models.RoleMember},
	} {
		require.NoError(t, db.Create(&m).Error)
	}

	f.svc = NewProjectService(db,
		repository.NewProjectRepository(db),
		repository.NewEnvironmentRepository(db),
		repository.NewMemberRepository(db),
		f.provisioning,
	)
	return f
}

func TestCreateProjectBuildsEnvironmentsAndEnqueues(t *testing.T) {
	f := setupProject(t)
	ctx := context.Background()

	f.provisioning.On("EnqueueProvisioning", mock.Anything, mock.MatchedBy(func(req *ProvisionRequest) bool {
		return req.OrganizationID == f.org.ID &&
			req.UserID == f.owner.ID &&
			req.Repository.Provider == "github" &&
			req.Repository.Name == "Order Service" &&
			len(req.EnvironmentIDs) == 3
	})).Return("task-1", nil).Once()

	p, err := f.svc.CreateProject(ctx, f.owner.ID, &CreateProjectInput{
		OrganizationID: f.org.ID,
		Name:           "Order Service",
		Description:    "order management",
		Repository:     RepositoryRequest{Provider: "github"},
	})
	require.NoError(t, err)
	require.Equal(t, "order-service", p.Slug)
	require.Equal(t, models.ProjectStatusInitializing, p.Status)

	init := p.InitStatus()
	require.Equal(t, "queued", init.Step)
	require.Equal(t, []string{"create_project", "load_template", "create_environments"}, init.CompletedSteps)

	var envs []models.Environment
	require.NoError(t, f.db.Where("project_id = ?", p.ID).Order("type").Find(&envs).Error)
	require.Len(t, envs, 3)

	f.provisioning.AssertExpectations(t)
}

func TestCreateProjectRequiresMembership(t *testing.T) {
	f := setupProject(t)

	outsider := models.User{Email: "out@corp.test", PasswordHash: "x", Name: "Out"}
	require.NoError(t, f.db.Create(&outsider).Error)

	_, err := f.svc.CreateProject(context.Background(), outsider.ID, &CreateProjectInput{
		OrganizationID: f.org.ID,
		Name:           "Nope",
		Repository:     RepositoryRequest{Provider: "github"},
	})
	require.Error(t, err)
	require.Equal(t, appErr.CodeForbidden, appErr.CodeOf(err))
}

func TestRetryProvisioningOnlyForFailedProjects(t *testing.T) {
	f := setupProject(t)
	ctx := context.Background()

	p := models.Project{OrganizationID: f.org.ID, Name: "Broken", Slug: "broken", Status: models.ProjectStatusActive}
	require.NoError(t, f.db.Create(&p).Error)

	_, err := f.svc.RetryProvisioning(ctx, p.ID, f.owner.ID, RepositoryRequest{Provider: "gitlab"})
	require.Error(t, err)
	require.Equal(t, appErr.CodeConflict, appErr.CodeOf(err))

	require.NoError(t, f.db.Model(&models.Project{}).Where("id = ?", p.ID).
		Update("status", models.ProjectStatusFailed).Error)

	f.provisioning.On("EnqueueProvisioning", mock.Anything, mock.Anything).Return("task-2", nil).Once()

	got, err := f.svc.RetryProvisioning(ctx, p.ID, f.owner.ID, RepositoryRequest{Provider: "gitlab"})
	require.NoError(t, err)
	require.Equal(t, models.ProjectStatusInitializing, got.Status)
	f.provisioning.AssertExpectations(t)
}

func TestArchiveProjectAdminOnly(t *testing.T) {
	f := setupProject(t)
	ctx := context.Background()

	p := models.Project{OrganizationID: f.org.ID, Name: "Old", Slug: "old", Status: models.ProjectStatusActive}
	require.NoError(t, f.db.Create(&p).Error)

	err := f.svc.ArchiveProject(ctx, p.ID, f.member.ID)
	require.Error(t, err)
	require.Equal(t, appErr.CodeForbidden, appErr.CodeOf(err))

	require.NoError(t, f.svc.ArchiveProject(ctx, p.ID, f.owner.ID))

	var got models.Project
	require.NoError(t, f.db.First(&got, "id = ?", p.ID).Error)
	require.Equal(t, models.ProjectStatusArchived, got.Status)
}

func TestSetEnvironmentPermissionAdminOnly(t *testing.T) {
	f := setupProject(t)
	ctx := context.Background()

	p := models.Project{OrganizationID: f.org.ID, Name: "Svc", Slug: "svc", Status: models.ProjectStatusActive}
	require.NoError(t, f.db.Create(&p).Error)
	env := models.Environment{ProjectID: p.ID, Name: "development", Type: models.EnvDevelopment}
	require.NoError(t, f.db.Create(&env).Error)

	perm := models.EnvironmentPermission{CanDeploy: true}
	err := f.svc.SetEnvironmentPermission(ctx, env.ID, f.member.ID, f.member.ID, perm)
	require.Error(t, err)
	require.Equal(t, appErr.CodeForbidden, appErr.CodeOf(err))

	require.NoError(t, f.svc.SetEnvironmentPermission(ctx, env.ID, f.owner.ID, f.member.ID, perm))

	var got models.Environment
	require.NoError(t, f.db.First(&got, "id = ?", env.ID).Error)
	require.True(t, got.PermissionMap()[f.member.ID.String()].CanDeploy)
}
