package repository

import (
	"context"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RepoRepository interface {
	BaseRepository[models.Repository]
	GetByProject(ctx context.Context, projectID uuid.UUID, dest *models.Repository) error
}

type repoRepository struct {
	BaseRepository[models.Repository]
	db *gorm.DB
}

func NewRepoRepository(db *gorm.DB) RepoRepository {
	return &repoRepository{BaseRepository: NewBaseRepository[models.Repository](db), db: db}
}

func (r *repoRepository) GetByProject(ctx context.Context, projectID uuid.UUID, dest *models.Repository) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "repository not found for project")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get repository by project failed")
	}
	return nil
}
