package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OAuth account statuses.
const (
	OAuthStatusActive  = "active"
	OAuthStatusRevoked = "revoked"
	OAuthStatusExpired = "expired"
)

// OAuthAccount stores a user's connection to a Git hosting provider.
type OAuthAccount struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID      `gorm:"type:uuid;index:idx_oauth_user_provider,unique;not null" json:"user_id" validate:"required"`
	Provider    string         `gorm:"type:varchar(16);index:idx_oauth_user_provider,unique;not null" json:"provider" validate:"required,oneof=github gitlab"`
	AccessToken string         `gorm:"type:text" json:"-"`
	Status      string         `gorm:"type:varchar(16);not null;default:active" json:"status" validate:"required,oneof=active revoked expired"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (a *OAuthAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
