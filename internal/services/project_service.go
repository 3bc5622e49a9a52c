package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

// ProjectService owns the project lifecycle up to the point where the
// background pipeline takes over. Creating a project also creates its three
// standard environments and enqueues provisioning.
type ProjectService interface {
	CreateProject(ctx context.Context, userID uuid.UUID, input *CreateProjectInput) (*models.Project, error)
	GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error)
	// RetryProvisioning re-enqueues a failed project with fresh repository
	// settings. Only failed projects are eligible.
	RetryProvisioning(ctx context.Context, projectID, userID uuid.UUID, repo RepositoryRequest) (*models.Project, error)
	ListProjects(ctx context.Context, orgID, userID uuid.UUID) ([]models.Project, error)
	ArchiveProject(ctx context.Context, projectID, userID uuid.UUID) error

	ListEnvironments(ctx context.Context, projectID, userID uuid.UUID) ([]models.Environment, error)
	SetEnvironmentPermission(ctx context.Context, environmentID, userID, targetUserID uuid.UUID, perm models.EnvironmentPermission) error
}

type CreateProjectInput struct {
	OrganizationID uuid.UUID         `json:"organization_id" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	Description    string            `json:"description"`
	TemplateID     string            `json:"template_id"`
	Repository     RepositoryRequest `json:"repository"`
}

type projectService struct {
	db           *gorm.DB
	projectRepo  repository.ProjectRepository
	envRepo      repository.EnvironmentRepository
	members      repository.MemberRepository
	provisioning ProvisioningService
}

var _ ProjectService = (*projectService)(nil)

func NewProjectService(
	db *gorm.DB,
	projectRepo repository.ProjectRepository,
	envRepo repository.EnvironmentRepository,
	members repository.MemberRepository,
	provisioning ProvisioningService,
) ProjectService {
	return &projectService{
		db:           db,
		projectRepo:  projectRepo,
		envRepo:      envRepo,
		members:      members,
		provisioning: provisioning,
	}
}

// CreateProject persists the project and its environments, then hands off to
// the provisioning queue. The steps done here form the completed-steps
// baseline the pipeline reports progress against.
func (s *projectService) CreateProject(ctx context.Context, userID uuid.UUID, input *CreateProjectInput) (*models.Project, error) {
	logger.L().Info("create project",
		zap.String("organization_id", input.OrganizationID.String()),
		zap.String("user_id", userID.String()),
		zap.String("name", input.Name))

	if _, err := s.requireMember(ctx, input.OrganizationID, userID); err != nil {
		return nil, err
	}

	slug := gitprovider.SanitizeName(input.Name)
	if slug == "" {
		return nil, appErr.New(appErr.CodeInvalid, "project name yields an empty slug")
	}

	init, err := json.Marshal(models.InitializationStatus{
		Step:           "queued",
		Progress:       0,
		CompletedSteps: []string{"create_project", "load_template", "create_environments"},
	})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal initialization status failed")
	}

	p := &models.Project{
		OrganizationID:       input.OrganizationID,
		Name:                 input.Name,
		Slug:                 slug,
		Description:          input.Description,
		Status:               models.ProjectStatusInitializing,
		InitializationStatus: datatypes.JSON(init),
	}
	if err := s.projectRepo.Create(ctx, p); err != nil {
		return nil, err
	}

	envIDs := make([]uuid.UUID, 0, 3)
	for _, envType := range []string{models.EnvDevelopment, models.EnvStaging, models.EnvProduction} {
		env := &models.Environment{
			ProjectID: p.ID,
			Name:      envType,
			Type:      envType,
			Namespace: "default",
		}
		if err := s.envRepo.Create(ctx, env); err != nil {
			return nil, err
		}
		envIDs = append(envIDs, env.ID)
	}

	repoName := input.Repository.Name
	if repoName == "" {
		repoName = input.Name
	}
	_, err = s.provisioning.EnqueueProvisioning(ctx, &ProvisionRequest{
		ProjectID:      p.ID,
		UserID:         userID,
		OrganizationID: input.OrganizationID,
		Repository: RepositoryRequest{
			Provider:    input.Repository.Provider,
			Name:        repoName,
			Visibility:  input.Repository.Visibility,
			AccessToken: input.Repository.AccessToken,
		},
		TemplateID:     input.TemplateID,
		EnvironmentIDs: envIDs,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *projectService) RetryProvisioning(ctx context.Context, projectID, userID uuid.UUID, repo RepositoryRequest) (*models.Project, error) {
	logger.L().Info("retry provisioning",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID.String()))

	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, p.OrganizationID, userID); err != nil {
		return nil, err
	}
	if p.Status != models.ProjectStatusFailed {
		return nil, appErr.New(appErr.CodeConflict, "only failed projects can be re-provisioned")
	}

	envs, err := s.envRepo.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	envIDs := make([]uuid.UUID, 0, len(envs))
	for i := range envs {
		envIDs = append(envIDs, envs[i].ID)
	}

	if err := s.projectRepo.UpdateStatus(ctx, projectID, models.ProjectStatusInitializing, models.InitializationStatus{
		Step:           "queued",
		Progress:       0,
		CompletedSteps: []string{"create_project", "load_template", "create_environments"},
	}); err != nil {
		return nil, err
	}

	repoName := repo.Name
	if repoName == "" {
		repoName = p.Name
	}
	_, err = s.provisioning.EnqueueProvisioning(ctx, &ProvisionRequest{
		ProjectID:      p.ID,
		UserID:         userID,
		OrganizationID: p.OrganizationID,
		Repository: RepositoryRequest{
			Provider:    repo.Provider,
			Name:        repoName,
			Visibility:  repo.Visibility,
			AccessToken: repo.AccessToken,
		},
		EnvironmentIDs: envIDs,
	})
	if err != nil {
		return nil, err
	}

	p.Status = models.ProjectStatusInitializing
	return &p, nil
}

func (s *projectService) GetProject(ctx context.Context, projectID, userID uuid.UUID) (*models.Project, error) {
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(ctx, p.OrganizationID, userID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *projectService) ListProjects(ctx context.Context, orgID, userID uuid.UUID) ([]models.Project, error) {
	if _, err := s.requireMember(ctx, orgID, userID); err != nil {
		return nil, err
	}
	return s.projectRepo.ListByOrganization(ctx, orgID)
}

// ArchiveProject tombstones the project. Admin or owner only; archived
// projects keep their deployment history.
func (s *projectService) ArchiveProject(ctx context.Context, projectID, userID uuid.UUID) error {
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return err
	}
	m, err := s.requireMember(ctx, p.OrganizationID, userID)
	if err != nil {
		return err
	}
	if m.Role != models.RoleOwner && m.Role != models.RoleAdmin {
		return appErr.New(appErr.CodeForbidden, "only organization admins can archive projects")
	}
	logger.L().Info("archive project",
		zap.String("project_id", projectID.String()),
		zap.String("user_id", userID.String()))
	return s.projectRepo.Archive(ctx, projectID)
}

func (s *projectService) ListEnvironments(ctx context.Context, projectID, userID uuid.UUID) ([]models.Environment, error) {
	if _, err := s.GetProject(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.envRepo.ListByProject(ctx, projectID)
}

// SetEnvironmentPermission grants or revokes a user's per-environment
// deploy/approve flags. Admin or owner only.
func (s *projectService) SetEnvironmentPermission(ctx context.Context, environmentID, userID, targetUserID uuid.UUID, perm models.EnvironmentPermission) error {
	var env models.Environment
	if err := s.envRepo.GetByID(ctx, environmentID, &env); err != nil {
		return err
	}
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, env.ProjectID, &p); err != nil {
		return err
	}
	m, err := s.requireMember(ctx, p.OrganizationID, userID)
	if err != nil {
		return err
	}
	if m.Role != models.RoleOwner && m.Role != models.RoleAdmin {
		return appErr.New(appErr.CodeForbidden, "only organization admins can change environment permissions")
	}
	logger.L().Info("set environment permission",
		zap.String("environment_id", environmentID.String()),
		zap.String("target_user_id", targetUserID.String()),
		zap.Bool("can_deploy", perm.CanDeploy),
		zap.Bool("can_approve", perm.CanApprove))
	return s.envRepo.SetPermission(ctx, environmentID, targetUserID, perm)
}

func (s *projectService) requireMember(ctx context.Context, orgID, userID uuid.UUID) (*models.OrganizationMember, error) {
	var m models.OrganizationMember
	if err := s.members.Get(ctx, orgID, userID, &m); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, appErr.New(appErr.CodeForbidden, "user is not a member of the organization")
		}
		return nil, err
	}
	return &m, nil
}
