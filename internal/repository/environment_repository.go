package repository

import (
	"context"
	"encoding/json"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EnvironmentRepository interface {
	BaseRepository[models.Environment]
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Environment, error)
	SetPermission(ctx context.Context, environmentID, userID uuid.UUID, perm models.EnvironmentPermission) error
}

type environmentRepository struct {
	BaseRepository[models.Environment]
	db *gorm.DB
}

func NewEnvironmentRepository(db *gorm.DB) EnvironmentRepository {
	return &environmentRepository{BaseRepository: NewBaseRepository[models.Environment](db), db: db}
}

func (r *environmentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Environment, error) {
	var out []models.Environment
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list environments failed")
	}
	return out, nil
}

// SetPermission merges one user's entry into the environment permission map.
func (r *environmentRepository) SetPermission(ctx context.Context, environmentID, userID uuid.UUID, perm models.EnvironmentPermission) error {
	var env models.Environment
	if err := r.GetByID(ctx, environmentID, &env); err != nil {
		return err
	}

	perms := env.PermissionMap()
	perms[userID.String()] = perm

	b, err := json.Marshal(perms)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal permissions failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Environment{}).Where("id = ?", environmentID).Update("permissions", datatypes.JSON(b))
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update permissions failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "environment not found")
	}
	return nil
}
