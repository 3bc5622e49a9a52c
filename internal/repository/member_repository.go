package repository

import (
	"context"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MemberRepository interface {
	BaseRepository[models.OrganizationMember]
	Get(ctx context.Context, orgID, userID uuid.UUID, dest *models.OrganizationMember) error
	// ListAdmins returns members holding the admin or owner role; these form
	// the approver pool for production deployments.
	ListAdmins(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationMember, error)
}

type memberRepository struct {
	BaseRepository[models.OrganizationMember]
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{BaseRepository: NewBaseRepository[models.OrganizationMember](db), db: db}
}

func (r *memberRepository) Get(ctx context.Context, orgID, userID uuid.UUID, dest *models.OrganizationMember) error {
	err := r.db.WithContext(ctx).Where("organization_id = ? AND user_id = ?", orgID, userID).First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "organization member not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get organization member failed")
	}
	return nil
}

func (r *memberRepository) ListAdmins(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationMember, error) {
	var out []models.OrganizationMember
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND role IN ?", orgID, []string{models.RoleOwner, models.RoleAdmin}).
		Find(&out).Error
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list organization admins failed")
	}
	return out, nil
}
