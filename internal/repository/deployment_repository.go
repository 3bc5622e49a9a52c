package repository

import (
	"context"
	"time"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeploymentFilters narrows List queries. Zero values are ignored.
type DeploymentFilters struct {
	ProjectID     uuid.UUID
	EnvironmentID uuid.UUID
	Status        string
	Limit         int
}

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	List(ctx context.Context, filters DeploymentFilters) ([]models.Deployment, error)
	UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string, startedAt, finishedAt *time.Time) error
	// TransitionStatus updates status only when the row is currently in the
	// expected state and reports whether the transition happened. Used as the
	// idempotent execute guard.
	TransitionStatus(ctx context.Context, deploymentID uuid.UUID, from, to string, startedAt *time.Time) (bool, error)
	// LatestSuccess returns the most recent successful deployment for the
	// (project, environment) pair, excluding the given deployment id.
	LatestSuccess(ctx context.Context, projectID, environmentID, exclude uuid.UUID, dest *models.Deployment) error
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) List(ctx context.Context, filters DeploymentFilters) ([]models.Deployment, error) {
	q := r.db.WithContext(ctx)
	if filters.ProjectID != uuid.Nil {
		q = q.Where("project_id = ?", filters.ProjectID)
	}
	if filters.EnvironmentID != uuid.Nil {
		q = q.Where("environment_id = ?", filters.EnvironmentID)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	limit := filters.Limit
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	var out []models.Deployment
	if err := q.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string, startedAt, finishedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if finishedAt != nil {
		updates["finished_at"] = finishedAt
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update deployment status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}

func (r *deploymentRepository) TransitionStatus(ctx context.Context, deploymentID uuid.UUID, from, to string, startedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).
		Where("id = ? AND status = ?", deploymentID, from).
		Updates(updates)
	if res.Error != nil {
		return false, appErr.Wrap(res.Error, appErr.CodeInternal, "transition deployment status failed")
	}
	return res.RowsAffected > 0, nil
}

func (r *deploymentRepository) LatestSuccess(ctx context.Context, projectID, environmentID, exclude uuid.UUID, dest *models.Deployment) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND environment_id = ? AND status = ? AND id <> ?",
			projectID, environmentID, models.DeployStatusSuccess, exclude).
		Order("created_at DESC").
		First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNoRollbackTarget, "no successful deployment to roll back to")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest successful deployment failed")
	}
	return nil
}
