package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Environment types.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// EnvironmentPermission is the per-user entry in an environment's
// permission map.
type EnvironmentPermission struct {
	CanDeploy  bool `json:"canDeploy"`
	CanApprove bool `json:"canApprove"`
}

// Environment is a deployment target of a project. Deletion is soft; a
// tombstoned environment blocks new deployments.
type Environment struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	Name        string         `gorm:"not null" json:"name" validate:"required"`
	Type        string         `gorm:"type:varchar(16);index;not null" json:"type" validate:"required,oneof=development staging production"`
	Namespace   string         `json:"namespace"`
	Permissions datatypes.JSON `gorm:"type:jsonb" json:"permissions"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (e *Environment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// PermissionMap decodes the permissions column into userID -> permission.
func (e *Environment) PermissionMap() map[string]EnvironmentPermission {
	out := map[string]EnvironmentPermission{}
	if len(e.Permissions) > 0 {
		_ = json.Unmarshal(e.Permissions, &out)
	}
	return out
}

// RequiresApproval reports whether deployments to this environment are gated
// by the approval ledger.
func (e *Environment) RequiresApproval() bool {
	return e.Type == EnvProduction
}
