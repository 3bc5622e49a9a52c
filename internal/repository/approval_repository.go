package repository

import (
	"context"
	"time"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ApprovalRepository interface {
	BaseRepository[models.DeploymentApproval]
	ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentApproval, error)
	GetPending(ctx context.Context, deploymentID, approverID uuid.UUID, dest *models.DeploymentApproval) error
	// Decide marks a pending row approved or rejected. Decided rows are
	// immutable; the WHERE clause enforces that at the database level.
	Decide(ctx context.Context, approvalID uuid.UUID, status, comments string) error
}

type approvalRepository struct {
	BaseRepository[models.DeploymentApproval]
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{BaseRepository: NewBaseRepository[models.DeploymentApproval](db), db: db}
}

func (r *approvalRepository) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.DeploymentApproval, error) {
	var out []models.DeploymentApproval
	if err := r.db.WithContext(ctx).Where("deployment_id = ?", deploymentID).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list approvals failed")
	}
	return out, nil
}

func (r *approvalRepository) GetPending(ctx context.Context, deploymentID, approverID uuid.UUID, dest *models.DeploymentApproval) error {
	err := r.db.WithContext(ctx).
		Where("deployment_id = ? AND approver_id = ? AND status = ?",
			deploymentID, approverID, models.ApprovalStatusPending).
		First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeApprovalNotPending, "no pending approval for this approver")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get pending approval failed")
	}
	return nil
}

func (r *approvalRepository) Decide(ctx context.Context, approvalID uuid.UUID, status, comments string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.DeploymentApproval{}).
		Where("id = ? AND status = ?", approvalID, models.ApprovalStatusPending).
		Updates(map[string]any{
			"status":     status,
			"comments":   comments,
			"decided_at": &now,
		})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "decide approval failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeApprovalNotPending, "approval already decided")
	}
	return nil
}
