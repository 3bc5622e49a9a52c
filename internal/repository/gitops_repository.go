package repository

import (
	"context"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GitOpsRepository interface {
	BaseRepository[models.GitOpsResource]
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.GitOpsResource, error)
}

type gitOpsRepository struct {
	BaseRepository[models.GitOpsResource]
	db *gorm.DB
}

func NewGitOpsRepository(db *gorm.DB) GitOpsRepository {
	return &gitOpsRepository{BaseRepository: NewBaseRepository[models.GitOpsResource](db), db: db}
}

func (r *gitOpsRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.GitOpsResource, error) {
	var out []models.GitOpsResource
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list gitops resources failed")
	}
	return out, nil
}
