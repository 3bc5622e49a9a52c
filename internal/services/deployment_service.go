package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/forgeops/engine/internal/cluster"
	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	"github.com/forgeops/engine/internal/scaffold"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

// DeploymentService drives the deployment state machine:
// pending -> running -> success/failed, with rolled_back applied by inserting
// a new deployment rather than mutating history. Production environments gate
// the pending -> running transition behind unanimous approval.
type DeploymentService interface {
	Create(ctx context.Context, userID uuid.UUID, input *CreateDeploymentInput) (*models.Deployment, error)
	Get(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error)
	List(ctx context.Context, userID uuid.UUID, filters repository.DeploymentFilters) ([]models.Deployment, error)
	ListApprovals(ctx context.Context, deploymentID, userID uuid.UUID) ([]models.DeploymentApproval, error)

	Approve(ctx context.Context, deploymentID, approverID uuid.UUID, comments string) error
	Reject(ctx context.Context, deploymentID, approverID uuid.UUID, comments string) error
	Rollback(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error)

	// ExecuteDeploy transitions a pending deployment to running and completes
	// it asynchronously. Safe to call more than once for the same id; only
	// the first call wins the pending -> running transition.
	ExecuteDeploy(ctx context.Context, deploymentID uuid.UUID) error
}

type CreateDeploymentInput struct {
	ProjectID     uuid.UUID `json:"project_id" validate:"required"`
	EnvironmentID uuid.UUID `json:"environment_id" validate:"required"`
	Version       string    `json:"version" validate:"required"`
	CommitHash    string    `json:"commit_hash"`
	Branch        string    `json:"branch"`
	Strategy      string    `json:"strategy"`
}

type deploymentService struct {
	db          *gorm.DB
	projectRepo repository.ProjectRepository
	envRepo     repository.EnvironmentRepository
	deployRepo  repository.DeploymentRepository
	approvals   repository.ApprovalRepository
	members     repository.MemberRepository
	repoRepo    repository.RepoRepository
	gitopsRepo  repository.GitOpsRepository
	applier     cluster.Applier
}

var _ DeploymentService = (*deploymentService)(nil)

func NewDeploymentService(
	db *gorm.DB,
	projectRepo repository.ProjectRepository,
	envRepo repository.EnvironmentRepository,
	deployRepo repository.DeploymentRepository,
	approvals repository.ApprovalRepository,
	members repository.MemberRepository,
	repoRepo repository.RepoRepository,
	gitopsRepo repository.GitOpsRepository,
	applier cluster.Applier,
) DeploymentService {
	if applier == nil {
		applier = cluster.NewNoop()
	}
	return &deploymentService{
		db:          db,
		projectRepo: projectRepo,
		envRepo:     envRepo,
		deployRepo:  deployRepo,
		approvals:   approvals,
		members:     members,
		repoRepo:    repoRepo,
		gitopsRepo:  gitopsRepo,
		applier:     applier,
	}
}

func (s *deploymentService) Create(ctx context.Context, userID uuid.UUID, input *CreateDeploymentInput) (*models.Deployment, error) {
	logger.L().Info("create deployment",
		zap.String("project_id", input.ProjectID.String()),
		zap.String("environment_id", input.EnvironmentID.String()),
		zap.String("user_id", userID.String()))

	var p models.Project
	if err := s.projectRepo.GetByID(ctx, input.ProjectID, &p); err != nil {
		return nil, err
	}

	// a tombstoned environment drops out of GetByID via the soft-delete
	// clause, which is exactly the "no new deployments" behavior wanted
	var env models.Environment
	if err := s.envRepo.GetByID(ctx, input.EnvironmentID, &env); err != nil {
		return nil, err
	}
	if env.ProjectID != input.ProjectID {
		return nil, appErr.New(appErr.CodeInvalid, "environment does not belong to project")
	}

	ok, err := s.canDeploy(ctx, userID, &p, &env)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErr.New(appErr.CodeForbidden, "user cannot deploy to this environment")
	}

	branch := input.Branch
	if branch == "" {
		branch = "main"
	}
	strategy := input.Strategy
	if strategy == "" {
		strategy = "rolling"
	}

	d := &models.Deployment{
		ProjectID:     input.ProjectID,
		EnvironmentID: input.EnvironmentID,
		Version:       input.Version,
		CommitHash:    input.CommitHash,
		Branch:        branch,
		Strategy:      strategy,
		Status:        models.DeployStatusPending,
		DeployedBy:    &userID,
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}

	if err := s.enterApprovalGate(ctx, d, &p, &env); err != nil {
		return nil, err
	}
	return d, nil
}

// enterApprovalGate opens the approval ledger for gated environments or
// starts execution directly for everything else.
func (s *deploymentService) enterApprovalGate(ctx context.Context, d *models.Deployment, p *models.Project, env *models.Environment) error {
	if !env.RequiresApproval() {
		return s.ExecuteDeploy(ctx, d.ID)
	}

	admins, err := s.members.ListAdmins(ctx, p.OrganizationID)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		logger.L().Warn("production deployment has no eligible approvers, staying pending",
			zap.String("deployment_id", d.ID.String()))
		return nil
	}
	for _, admin := range admins {
		approval := &models.DeploymentApproval{
			DeploymentID: d.ID,
			ApproverID:   admin.UserID,
			Status:       models.ApprovalStatusPending,
		}
		if err := s.approvals.Create(ctx, approval); err != nil {
			return err
		}
	}
	logger.L().Info("approval requests created",
		zap.String("deployment_id", d.ID.String()),
		zap.Int("approvers", len(admins)))
	return nil
}

func (s *deploymentService) Get(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	if err := s.requireProjectAccess(ctx, userID, d.ProjectID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) List(ctx context.Context, userID uuid.UUID, filters repository.DeploymentFilters) ([]models.Deployment, error) {
	if filters.ProjectID != uuid.Nil {
		if err := s.requireProjectAccess(ctx, userID, filters.ProjectID); err != nil {
			return nil, err
		}
	}
	return s.deployRepo.List(ctx, filters)
}

func (s *deploymentService) ListApprovals(ctx context.Context, deploymentID, userID uuid.UUID) ([]models.DeploymentApproval, error) {
	if _, err := s.Get(ctx, deploymentID, userID); err != nil {
		return nil, err
	}
	return s.approvals.ListByDeployment(ctx, deploymentID)
}

func (s *deploymentService) Approve(ctx context.Context, deploymentID, approverID uuid.UUID, comments string) error {
	logger.L().Info("approve deployment",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("approver_id", approverID.String()))

	if _, err := s.Get(ctx, deploymentID, approverID); err != nil {
		return err
	}

	// decide-and-check runs in one transaction so two racing final approvals
	// cannot both observe an undecided ledger
	var allApproved bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.DeploymentApproval{}).
			Where("deployment_id = ? AND approver_id = ? AND status = ?",
				deploymentID, approverID, models.ApprovalStatusPending).
			Updates(map[string]any{
				"status":     models.ApprovalStatusApproved,
				"comments":   comments,
				"decided_at": &now,
			})
		if res.Error != nil {
			return appErr.Wrap(res.Error, appErr.CodeInternal, "approve failed")
		}
		if res.RowsAffected == 0 {
			return appErr.New(appErr.CodeApprovalNotPending, "no pending approval for this approver")
		}

		var remaining int64
		if err := tx.Model(&models.DeploymentApproval{}).
			Where("deployment_id = ? AND status <> ?", deploymentID, models.ApprovalStatusApproved).
			Count(&remaining).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "count undecided approvals failed")
		}
		allApproved = remaining == 0
		return nil
	})
	if err != nil {
		return err
	}

	if allApproved {
		logger.L().Info("all approvals granted, executing",
			zap.String("deployment_id", deploymentID.String()))
		return s.ExecuteDeploy(ctx, deploymentID)
	}
	return nil
}

func (s *deploymentService) Reject(ctx context.Context, deploymentID, approverID uuid.UUID, comments string) error {
	logger.L().Info("reject deployment",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("approver_id", approverID.String()),
		zap.String("reason", comments))

	if _, err := s.Get(ctx, deploymentID, approverID); err != nil {
		return err
	}

	var approval models.DeploymentApproval
	if err := s.approvals.GetPending(ctx, deploymentID, approverID, &approval); err != nil {
		return err
	}
	if err := s.approvals.Decide(ctx, approval.ID, models.ApprovalStatusRejected, comments); err != nil {
		return err
	}

	// a single rejection is terminal, remaining pending approvals are moot
	now := time.Now()
	return s.deployRepo.UpdateStatus(ctx, deploymentID, models.DeployStatusFailed, nil, &now)
}

func (s *deploymentService) Rollback(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error) {
	logger.L().Info("rollback deployment",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("user_id", userID.String()))

	d, err := s.Get(ctx, deploymentID, userID)
	if err != nil {
		return nil, err
	}

	var p models.Project
	if err := s.projectRepo.GetByID(ctx, d.ProjectID, &p); err != nil {
		return nil, err
	}
	var env models.Environment
	if err := s.envRepo.GetByID(ctx, d.EnvironmentID, &env); err != nil {
		return nil, err
	}
	ok, err := s.canDeploy(ctx, userID, &p, &env)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErr.New(appErr.CodeForbidden, "user cannot roll back this environment")
	}

	var previous models.Deployment
	if err := s.deployRepo.LatestSuccess(ctx, d.ProjectID, d.EnvironmentID, d.ID, &previous); err != nil {
		return nil, err
	}

	// history stays append-only: the rollback is a fresh deployment carrying
	// the prior version, and it re-enters the approval gate like any other
	rb := &models.Deployment{
		ProjectID:     d.ProjectID,
		EnvironmentID: d.EnvironmentID,
		Version:       previous.Version,
		CommitHash:    previous.CommitHash,
		Branch:        previous.Branch,
		Strategy:      d.Strategy,
		Status:        models.DeployStatusPending,
		DeployedBy:    &userID,
	}
	if err := s.deployRepo.Create(ctx, rb); err != nil {
		return nil, err
	}

	if err := s.deployRepo.UpdateStatus(ctx, d.ID, models.DeployStatusRolledBack, nil, nil); err != nil {
		return nil, err
	}

	if err := s.enterApprovalGate(ctx, rb, &p, &env); err != nil {
		return nil, err
	}
	return rb, nil
}

func (s *deploymentService) ExecuteDeploy(ctx context.Context, deploymentID uuid.UUID) error {
	now := time.Now()
	won, err := s.deployRepo.TransitionStatus(ctx, deploymentID, models.DeployStatusPending, models.DeployStatusRunning, &now)
	if err != nil {
		return err
	}
	if !won {
		logger.L().Info("deployment not pending, skipping execute",
			zap.String("deployment_id", deploymentID.String()))
		return nil
	}

	logger.L().Info("deployment running", zap.String("deployment_id", deploymentID.String()))

	// completion is asynchronous: the caller observes running immediately,
	// the cluster apply settles success/failed afterwards
	go s.completeDeploy(context.Background(), deploymentID)
	return nil
}

func (s *deploymentService) completeDeploy(ctx context.Context, deploymentID uuid.UUID) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		logger.L().Error("load running deployment failed", zap.Error(err),
			zap.String("deployment_id", deploymentID.String()))
		return
	}

	err := s.applier.Apply(ctx, s.applyRequest(ctx, &d))
	now := time.Now()
	status := models.DeployStatusSuccess
	if err != nil {
		status = models.DeployStatusFailed
		logger.L().Error("deployment execution failed", zap.Error(err),
			zap.String("deployment_id", deploymentID.String()))
	}
	if updErr := s.deployRepo.UpdateStatus(ctx, deploymentID, status, nil, &now); updErr != nil {
		logger.L().Error("finalize deployment failed", zap.Error(updErr),
			zap.String("deployment_id", deploymentID.String()))
		return
	}
	logger.L().Info("deployment finished",
		zap.String("deployment_id", deploymentID.String()),
		zap.String("status", status))
}

// applyRequest assembles the cluster-side intent for a deployment from the
// project's repository and the environment's GitOps resource record, with
// overlay-path defaults when no record exists.
func (s *deploymentService) applyRequest(ctx context.Context, d *models.Deployment) cluster.ApplyRequest {
	req := cluster.ApplyRequest{
		Namespace: "default",
		Name:      d.ProjectID.String(),
		Branch:    d.Branch,
		Interval:  "5m",
		Prune:     true,
		Timeout:   "2m",
	}

	var env models.Environment
	if err := s.envRepo.GetByID(ctx, d.EnvironmentID, &env); err == nil {
		req.Name = d.ProjectID.String() + "-" + env.Type
		req.Path = scaffold.OverlayPath(env.Type)
		if env.Namespace != "" {
			req.Namespace = env.Namespace
		}
	}

	var repo models.Repository
	if err := s.repoRepo.GetByProject(ctx, d.ProjectID, &repo); err == nil {
		req.RepoURL = repo.CloneURL
	}

	if resources, err := s.gitopsRepo.ListByProject(ctx, d.ProjectID); err == nil {
		for i := range resources {
			if resources[i].EnvironmentID != d.EnvironmentID {
				continue
			}
			req.Name = resources[i].Name
			if resources[i].Namespace != "" {
				req.Namespace = resources[i].Namespace
			}
			var cfg models.GitOpsResourceConfig
			if len(resources[i].Config) > 0 {
				if err := json.Unmarshal(resources[i].Config, &cfg); err == nil {
					if cfg.Path != "" {
						req.Path = cfg.Path
					}
					if cfg.Interval != "" {
						req.Interval = cfg.Interval
					}
					if cfg.Timeout != "" {
						req.Timeout = cfg.Timeout
					}
					req.Prune = cfg.Prune
				}
			}
			break
		}
	}
	return req
}

func (s *deploymentService) requireProjectAccess(ctx context.Context, userID, projectID uuid.UUID) error {
	var p models.Project
	if err := s.projectRepo.GetByID(ctx, projectID, &p); err != nil {
		return err
	}
	var member models.OrganizationMember
	if err := s.members.Get(ctx, p.OrganizationID, userID, &member); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return appErr.New(appErr.CodeForbidden, "user is not a member of the owning organization")
		}
		return err
	}
	return nil
}

// canDeploy grants deployment rights to organization owners/admins and to
// users with an explicit canDeploy entry on the environment.
func (s *deploymentService) canDeploy(ctx context.Context, userID uuid.UUID, p *models.Project, env *models.Environment) (bool, error) {
	var member models.OrganizationMember
	err := s.members.Get(ctx, p.OrganizationID, userID, &member)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	if member.Role == models.RoleOwner || member.Role == models.RoleAdmin {
		return true, nil
	}
	perm, ok := env.PermissionMap()[userID.String()]
	return ok && perm.CanDeploy, nil
}
