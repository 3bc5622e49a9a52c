package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GitOps resource statuses.
const (
	GitOpsStatusPending = "pending"
	GitOpsStatusSynced  = "synced"
	GitOpsStatusError   = "error"
)

// GitOpsResourceConfig is the persisted reconciliation intent for one
// environment: which path of the repository to sync, how often, and whether
// removed objects are pruned.
type GitOpsResourceConfig struct {
	GitRepositoryName string `json:"gitRepositoryName"`
	Path              string `json:"path"`
	Interval          string `json:"interval"`
	Prune             bool   `json:"prune"`
	Timeout           string `json:"timeout"`
}

// GitOpsResource is the database-side intent record for cluster
// reconciliation, created best-effort, one per (project, environment) pair.
// Absence does not invalidate the project.
type GitOpsResource struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	EnvironmentID uuid.UUID      `gorm:"type:uuid;index;not null" json:"environment_id" validate:"required"`
	RepositoryID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"repository_id" validate:"required"`
	Type          string         `gorm:"type:varchar(32);not null;default:kustomization" json:"type"`
	Name          string         `gorm:"not null" json:"name" validate:"required"`
	Namespace     string         `gorm:"not null;default:default" json:"namespace"`
	Config        datatypes.JSON `gorm:"type:jsonb" json:"config"`
	Status        string         `gorm:"type:varchar(16);not null;default:pending" json:"status" validate:"oneof=pending synced error"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (g *GitOpsResource) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}
