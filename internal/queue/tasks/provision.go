package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	"github.com/forgeops/engine/internal/credentials"
	"github.com/forgeops/engine/internal/gitprovider"
	"github.com/forgeops/engine/internal/models"
	"github.com/forgeops/engine/internal/repository"
	"github.com/forgeops/engine/internal/scaffold"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/forgeops/engine/pkg/logger"
)

// TypeProjectProvision is the asynq task type for project provisioning.
const TypeProjectProvision = "project:provision"

// Steps assumed done by the caller before the job is enqueued. On failure the
// completed list is frozen back to this baseline.
var baselineSteps = []string{"create_project", "load_template", "create_environments"}

// ProvisionPayload is the task payload for project provisioning.
type ProvisionPayload struct {
	ProjectID      string            `json:"project_id"`
	UserID         string            `json:"user_id"`
	OrganizationID string            `json:"organization_id"`
	Repository     RepositoryPayload `json:"repository"`
	TemplateID     string            `json:"template_id"`
	EnvironmentIDs []string          `json:"environment_ids"`
}

// RepositoryPayload describes the remote repository to create. AccessToken
// may be the OAuth sentinel, resolved at job start.
type RepositoryPayload struct {
	Provider      string `json:"provider"`
	Name          string `json:"name"`
	Visibility    string `json:"visibility"`
	AccessToken   string `json:"access_token"`
	DefaultBranch string `json:"default_branch"`
}

// NewProvisionTask builds the provisioning task. The project id doubles as
// the queue-level idempotency key, so double-enqueueing the same project is
// rejected by asynq before a worker ever sees it.
func NewProvisionTask(p ProvisionPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal provision payload failed")
	}
	return asynq.NewTask(TypeProjectProvision, b, asynq.TaskID(p.ProjectID)), nil
}

// ProvisionTaskHandler runs the provisioning pipeline: resolve credentials,
// create the remote repository, push the scaffold, record the repository,
// create GitOps resource rows, finalize the project.
type ProvisionTaskHandler struct {
	resolver    credentials.Resolver
	gateway     gitprovider.Gateway
	projectRepo repository.ProjectRepository
	repoRepo    repository.RepoRepository
	envRepo     repository.EnvironmentRepository
	gitopsRepo  repository.GitOpsRepository
	inflight    *InflightRegistry
	limiter     *rate.Limiter
}

func NewProvisionTaskHandler(
	resolver credentials.Resolver,
	gateway gitprovider.Gateway,
	projectRepo repository.ProjectRepository,
	repoRepo repository.RepoRepository,
	envRepo repository.EnvironmentRepository,
	gitopsRepo repository.GitOpsRepository,
	inflight *InflightRegistry,
	limiter *rate.Limiter,
) *ProvisionTaskHandler {
	if inflight == nil {
		inflight = NewInflightRegistry()
	}
	return &ProvisionTaskHandler{
		resolver:    resolver,
		gateway:     gateway,
		projectRepo: projectRepo,
		repoRepo:    repoRepo,
		envRepo:     envRepo,
		gitopsRepo:  gitopsRepo,
		inflight:    inflight,
		limiter:     limiter,
	}
}

func (h *ProvisionTaskHandler) HandleProvision(ctx context.Context, t *asynq.Task) error {
	var p ProvisionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid provision task payload", zap.Error(err))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	projectID, err := uuid.Parse(p.ProjectID)
	if err != nil {
		logger.L().Error("invalid project id in task", zap.Error(err))
		return fmt.Errorf("invalid project id: %v: %w", err, asynq.SkipRetry)
	}
	userID, err := uuid.Parse(p.UserID)
	if err != nil {
		logger.L().Error("invalid user id in task", zap.Error(err))
		return fmt.Errorf("invalid user id: %v: %w", err, asynq.SkipRetry)
	}

	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if !h.inflight.Acquire(p.ProjectID) {
		logger.L().Warn("provisioning already running for project",
			zap.String("project_id", p.ProjectID))
		return fmt.Errorf("project %s provisioning already in flight: %w", p.ProjectID, asynq.SkipRetry)
	}
	defer h.inflight.Release(p.ProjectID)

	logger.L().Info("handling provision task", zap.String("project_id", p.ProjectID))

	steps := append([]string{}, baselineSteps...)

	// stage 1: resolve credentials
	h.progress(ctx, projectID, "resolve_credentials", 5, steps, "Resolving provider credentials")
	token, err := h.resolver.Resolve(ctx, userID, p.Repository.Provider, p.Repository.AccessToken)
	if err != nil {
		return h.fail(ctx, projectID, err)
	}

	// stage 2: create remote repository
	h.progress(ctx, projectID, "create_repository", 5, steps, "Creating Git repository")
	repoInfo, err := h.gateway.CreateRepository(ctx, p.Repository.Provider, token, gitprovider.CreateRepositoryOptions{
		Name:          p.Repository.Name,
		Visibility:    p.Repository.Visibility,
		DefaultBranch: p.Repository.DefaultBranch,
	})
	if err != nil {
		return h.fail(ctx, projectID, err)
	}
	steps = append(steps, "create_repository")
	h.progress(ctx, projectID, "push_code", 40, steps,
		fmt.Sprintf("Repository created: %s", repoInfo.FullName))

	// stage 3: push scaffold
	result, err := h.gateway.PushFiles(ctx, p.Repository.Provider, token, repoInfo.FullName,
		scaffold.Files(), repoInfo.DefaultBranch)
	if err != nil {
		if result != nil && result.Mode == gitprovider.PushPerFile {
			logger.L().Error("scaffold push failed part-way",
				zap.String("project_id", p.ProjectID),
				zap.Strings("committed", result.Committed))
		}
		return h.fail(ctx, projectID, err)
	}
	steps = append(steps, "push_code")
	h.progress(ctx, projectID, "create_repository_record", 60, steps, "Initial scaffold pushed")

	// stage 4: persist repository row
	now := time.Now()
	repoRow := &models.Repository{
		ProjectID:     projectID,
		Provider:      p.Repository.Provider,
		FullName:      repoInfo.FullName,
		CloneURL:      repoInfo.CloneURL,
		DefaultBranch: repoInfo.DefaultBranch,
		SyncStatus:    models.SyncStatusSuccess,
		LastSyncAt:    &now,
	}
	if err := h.repoRepo.Create(ctx, repoRow); err != nil {
		return h.fail(ctx, projectID, err)
	}
	h.progress(ctx, projectID, "create_gitops_resources", 70, steps, "Repository record created")

	// stage 5: gitops resource rows, best-effort
	gitopsCreated := h.createGitOpsResources(ctx, projectID, repoRow.ID, repoInfo.FullName)
	if gitopsCreated {
		h.progress(ctx, projectID, "finalize", 90, steps, "GitOps resources created")
	} else {
		h.progress(ctx, projectID, "finalize", 90, steps, "GitOps resources skipped")
	}

	// stage 6: finalize
	steps = append(steps, "create_gitops_resources")
	err = h.projectRepo.UpdateStatus(ctx, projectID, models.ProjectStatusActive, models.InitializationStatus{
		Step:           "completed",
		Progress:       100,
		CompletedSteps: steps,
	})
	if err != nil {
		return h.fail(ctx, projectID, err)
	}

	logger.L().Info("project provisioning completed",
		zap.String("project_id", p.ProjectID),
		zap.String("repository", repoInfo.FullName))
	return nil
}

// createGitOpsResources inserts one intent row per environment. Failures are
// logged and swallowed; the project stays valid without them.
func (h *ProvisionTaskHandler) createGitOpsResources(ctx context.Context, projectID, repositoryID uuid.UUID, fullName string) bool {
	envs, err := h.envRepo.ListByProject(ctx, projectID)
	if err != nil {
		logger.L().Error("list environments for gitops failed", zap.Error(err),
			zap.String("project_id", projectID.String()))
		return false
	}

	for i := range envs {
		cfg := models.GitOpsResourceConfig{
			GitRepositoryName: fullName,
			Path:              scaffold.OverlayPath(envs[i].Type),
			Interval:          "5m",
			Prune:             true,
			Timeout:           "2m",
		}
		b, err := json.Marshal(cfg)
		if err != nil {
			logger.L().Error("marshal gitops config failed", zap.Error(err))
			return false
		}
		res := &models.GitOpsResource{
			ProjectID:     projectID,
			EnvironmentID: envs[i].ID,
			RepositoryID:  repositoryID,
			Type:          "kustomization",
			Name:          projectID.String() + "-" + envs[i].Type,
			Namespace:     "default",
			Config:        datatypes.JSON(b),
			Status:        models.GitOpsStatusPending,
		}
		if err := h.gitopsRepo.Create(ctx, res); err != nil {
			logger.L().Error("create gitops resource failed", zap.Error(err),
				zap.String("environment", envs[i].Type))
			return false
		}
		logger.L().Info("gitops resource created",
			zap.String("project_id", projectID.String()),
			zap.String("environment", envs[i].Type))
	}
	return true
}

// progress persists a stage transition. Progress updates are advisory; a
// write failure must not abort a pipeline that is otherwise succeeding.
func (h *ProvisionTaskHandler) progress(ctx context.Context, projectID uuid.UUID, step string, pct int, steps []string, msg string) {
	logger.L().Info(msg,
		zap.String("project_id", projectID.String()),
		zap.String("step", step),
		zap.Int("progress", pct))
	err := h.projectRepo.UpdateStatus(ctx, projectID, models.ProjectStatusInitializing, models.InitializationStatus{
		Step:           step,
		Progress:       pct,
		CompletedSteps: append([]string{}, steps...),
	})
	if err != nil {
		logger.L().Warn("persist provisioning progress failed", zap.Error(err),
			zap.String("project_id", projectID.String()))
	}
}

// fail records the failure on the project with the completed steps frozen at
// the pre-enqueue baseline, then rethrows so the queue's retry policy owns
// the decision to re-attempt.
func (h *ProvisionTaskHandler) fail(ctx context.Context, projectID uuid.UUID, cause error) error {
	logger.L().Error("project provisioning failed", zap.Error(cause),
		zap.String("project_id", projectID.String()))
	err := h.projectRepo.UpdateStatus(ctx, projectID, models.ProjectStatusFailed, models.InitializationStatus{
		Step:           "failed",
		Progress:       0,
		Error:          cause.Error(),
		CompletedSteps: append([]string{}, baselineSteps...),
	})
	if err != nil {
		logger.L().Error("record provisioning failure failed", zap.Error(err),
			zap.String("project_id", projectID.String()))
	}
	return cause
}
