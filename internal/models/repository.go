package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Git hosting providers.
const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// Repository sync statuses.
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Repository is the remote Git repository backing a project. Exactly one row
// per successful provisioning run; FullName is immutable after creation.
type Repository struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     uuid.UUID      `gorm:"type:uuid;index:idx_repositories_project,unique;not null" json:"project_id" validate:"required"`
	Provider      string         `gorm:"type:varchar(16);not null" json:"provider" validate:"required,oneof=github gitlab"`
	FullName      string         `gorm:"not null" json:"full_name" validate:"required"`
	CloneURL      string         `gorm:"not null" json:"clone_url" validate:"required,url"`
	DefaultBranch string         `gorm:"not null;default:main" json:"default_branch"`
	SyncStatus    string         `gorm:"type:varchar(16);not null;default:pending" json:"sync_status" validate:"oneof=pending success error"`
	LastSyncAt    *time.Time     `json:"last_sync_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (r *Repository) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
