package repository

import (
	"context"

	"github.com/forgeops/engine/internal/models"
	appErr "github.com/forgeops/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OAuthAccountRepository interface {
	BaseRepository[models.OAuthAccount]
	GetByUserProvider(ctx context.Context, userID uuid.UUID, provider string, dest *models.OAuthAccount) error
}

type oauthAccountRepository struct {
	BaseRepository[models.OAuthAccount]
	db *gorm.DB
}

func NewOAuthAccountRepository(db *gorm.DB) OAuthAccountRepository {
	return &oauthAccountRepository{BaseRepository: NewBaseRepository[models.OAuthAccount](db), db: db}
}

func (r *oauthAccountRepository) GetByUserProvider(ctx context.Context, userID uuid.UUID, provider string, dest *models.OAuthAccount) error {
	err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "oauth account not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get oauth account failed")
	}
	return nil
}
