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

type ProjectRepository interface {
	BaseRepository[models.Project]
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Project, error)
	UpdateStatus(ctx context.Context, projectID uuid.UUID, status string, init models.InitializationStatus) error
	Archive(ctx context.Context, projectID uuid.UUID) error
}

type projectRepository struct {
	BaseRepository[models.Project]
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{BaseRepository: NewBaseRepository[models.Project](db), db: db}
}

func (r *projectRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]models.Project, error) {
	var out []models.Project
	if err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list projects by organization failed")
	}
	return out, nil
}

// UpdateStatus writes the project status together with the initialization
// status JSON in one statement.
func (r *projectRepository) UpdateStatus(ctx context.Context, projectID uuid.UUID, status string, init models.InitializationStatus) error {
	b, err := json.Marshal(init)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "marshal initialization status failed")
	}
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Updates(map[string]any{
		"status":                status,
		"initialization_status": datatypes.JSON(b),
	})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update project status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}

func (r *projectRepository) Archive(ctx context.Context, projectID uuid.UUID) error {
	res := r.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", projectID).Update("status", models.ProjectStatusArchived)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "archive project failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "project not found")
	}
	return nil
}
