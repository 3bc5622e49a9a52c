package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project statuses.
const (
	ProjectStatusInitializing = "initializing"
	ProjectStatusActive       = "active"
	ProjectStatusFailed       = "failed"
	ProjectStatusArchived     = "archived"
)

// InitializationStatus is the persisted JSON shape tracking provisioning
// progress. CompletedSteps is append-only; Error is set only on failure.
type InitializationStatus struct {
	Step           string   `json:"step"`
	Progress       int      `json:"progress"`
	CompletedSteps []string `json:"completedSteps"`
	Error          string   `json:"error,omitempty"`
}

// Project represents a software project owned by an organization. Status is
// mutated only by the provisioning pipeline and explicit archival.
type Project struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID       uuid.UUID      `gorm:"type:uuid;index;not null" json:"organization_id" validate:"required"`
	Name                 string         `gorm:"not null" json:"name" validate:"required"`
	Slug                 string         `gorm:"not null;index:idx_projects_org_slug,unique" json:"slug" validate:"required"`
	Description          string         `gorm:"type:text" json:"description"`
	Status               string         `gorm:"type:varchar(16);index;not null;default:initializing" json:"status" validate:"required,oneof=initializing active failed archived"`
	InitializationStatus datatypes.JSON `gorm:"type:jsonb" json:"initialization_status"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// InitStatus decodes the initialization status column. A missing or corrupt
// column yields a zero value rather than an error.
func (p *Project) InitStatus() InitializationStatus {
	var st InitializationStatus
	if len(p.InitializationStatus) > 0 {
		_ = json.Unmarshal(p.InitializationStatus, &st)
	}
	return st
}
