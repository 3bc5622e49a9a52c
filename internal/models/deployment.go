package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Deployment statuses. failed and rolled_back are terminal; rolled_back is
// applied by inserting a new deployment, never by a self-transition.
const (
	DeployStatusPending    = "pending"
	DeployStatusRunning    = "running"
	DeployStatusSuccess    = "success"
	DeployStatusFailed     = "failed"
	DeployStatusRolledBack = "rolled_back"
)

// Deployment is one attempt to move a version into an environment. History is
// append-only: version, commit hash and branch are never mutated after insert.
type Deployment struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	EnvironmentID uuid.UUID      `gorm:"type:uuid;index;not null" json:"environment_id" validate:"required"`
	Version       string         `gorm:"not null" json:"version" validate:"required"`
	CommitHash    string         `json:"commit_hash"`
	Branch        string         `gorm:"not null;default:main" json:"branch"`
	Strategy      string         `gorm:"type:varchar(32);default:rolling" json:"strategy"`
	Status        string         `gorm:"type:varchar(16);index;not null;default:pending" json:"status" validate:"required,oneof=pending running success failed rolled_back"`
	DeployedBy    *uuid.UUID     `gorm:"type:uuid" json:"deployed_by"`
	StartedAt     *time.Time     `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (d *Deployment) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
